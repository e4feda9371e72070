package call

import (
	"fmt"
	"sync"

	golog "github.com/ipfs/go-log/v2"
	"github.com/pion/logging"
)

// LoggerFactory routes pion's internal loggers through go-log so their
// levels are controlled in one place. Each pion scope becomes the go-log
// subsystem "pion/<scope>".
type LoggerFactory struct {
	level string

	mu     sync.Mutex
	scopes map[string]*pionLogger
}

var (
	factoryOnce sync.Once
	factory     *LoggerFactory
)

// NewLoggerFactory returns the process-wide factory, applying level to every
// scope created so far and later. An empty level keeps the current one.
func NewLoggerFactory(level string) *LoggerFactory {
	factoryOnce.Do(func() {
		factory = &LoggerFactory{level: "warn", scopes: make(map[string]*pionLogger)}
	})
	if level != "" {
		factory.SetLevel(level)
	}
	return factory
}

// SetLevel changes the level of all pion subsystems.
func (f *LoggerFactory) SetLevel(level string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = level
	for name := range f.scopes {
		_ = golog.SetLogLevel(name, level)
	}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	name := "pion/" + scope
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.scopes[name]; ok {
		return l
	}
	l := &pionLogger{z: golog.Logger(name)}
	f.scopes[name] = l
	_ = golog.SetLogLevel(name, f.level)
	return l
}

// pionLogger adapts a go-log logger to pion's LeveledLogger. go-log has no
// trace level; trace goes to debug.
type pionLogger struct {
	z *golog.ZapEventLogger
}

func (l *pionLogger) Trace(msg string)                          { l.z.Debug(msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) { l.z.Debug(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Debug(msg string)                          { l.z.Debug(msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) { l.z.Debugf(format, args...) }
func (l *pionLogger) Info(msg string)                           { l.z.Info(msg) }
func (l *pionLogger) Infof(format string, args ...interface{})  { l.z.Infof(format, args...) }
func (l *pionLogger) Warn(msg string)                           { l.z.Warn(msg) }
func (l *pionLogger) Warnf(format string, args ...interface{})  { l.z.Warnf(format, args...) }
func (l *pionLogger) Error(msg string)                          { l.z.Error(msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) { l.z.Errorf(format, args...) }
