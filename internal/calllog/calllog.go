// Package calllog persists call lifecycle events to SQLite. Only who called
// whom and what happened is stored; offers, candidates and transcripts never
// reach the database.
package calllog

import (
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/petervdpas/parley/internal/relay"

	_ "modernc.org/sqlite"
)

const queueSize = 256

// Log is a relay.Recorder backed by SQLite. Record never blocks on disk: a
// single writer goroutine drains a bounded queue, and events that do not fit
// are dropped with a log line.
type Log struct {
	db *sql.DB
	mu sync.Mutex // serializes reads with the writer

	queue   chan item
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

type item struct {
	ev    relay.CallEvent
	flush chan struct{}
}

// Open opens (or creates) the call log at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS call_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT NOT NULL,
		session_id TEXT NOT NULL,
		peer_id    TEXT DEFAULT '',
		from_lang  TEXT DEFAULT '',
		to_lang    TEXT DEFAULT '',
		ts         INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS call_events_ts ON call_events(ts)`); err != nil {
		db.Close()
		return nil, err
	}

	l := &Log{
		db:    db,
		queue:   make(chan item, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.writer()
	return l, nil
}

// Record implements relay.Recorder.
func (l *Log) Record(ev relay.CallEvent) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.queue <- item{ev: ev}:
	default:
		log.Printf("CALLLOG: queue full, %s event for %s dropped", ev.Kind, ev.SessionID)
	}
}

// Flush blocks until every event recorded before the call is written.
func (l *Log) Flush() {
	ch := make(chan struct{})
	select {
	case l.queue <- item{flush: ch}:
		select {
		case <-ch:
		case <-l.stopped:
		}
	case <-l.done:
	}
}

func (l *Log) writer() {
	defer close(l.stopped)
	for {
		select {
		case it := <-l.queue:
			l.handle(it)
		case <-l.done:
			for {
				select {
				case it := <-l.queue:
					l.handle(it)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) handle(it item) {
	if it.flush != nil {
		close(it.flush)
		return
	}
	ev := it.ev
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}
	l.mu.Lock()
	_, err := l.db.Exec(`INSERT INTO call_events (kind, session_id, peer_id, from_lang, to_lang, ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.SessionID, ev.PeerID, ev.FromLang, ev.ToLang, ev.TS)
	l.mu.Unlock()
	if err != nil {
		log.Printf("CALLLOG: insert error: %v", err)
	}
}

// Recent returns up to n events, newest first.
func (l *Log) Recent(n int) ([]relay.CallEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`SELECT kind, session_id, peer_id, from_lang, to_lang, ts
		FROM call_events ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]relay.CallEvent, 0, n)
	for rows.Next() {
		var ev relay.CallEvent
		var kind string
		if err := rows.Scan(&kind, &ev.SessionID, &ev.PeerID, &ev.FromLang, &ev.ToLang, &ev.TS); err != nil {
			return nil, err
		}
		ev.Kind = relay.EventKind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes events older than before and returns how many were removed.
func (l *Log) Prune(before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, err := l.db.Exec(`DELETE FROM call_events WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close writes what is queued and closes the database.
func (l *Log) Close() error {
	closed := false
	l.once.Do(func() {
		close(l.done)
		closed = true
	})
	if !closed {
		return errors.New("call log already closed")
	}
	<-l.stopped
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
