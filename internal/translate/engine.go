// Package translate wraps external text-translation engines behind a narrow
// interface and applies the primary/fallback/original-text policy.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/petervdpas/parley/internal/proto"
)

// Engine performs one text translation. Implementations must honor ctx.
type Engine interface {
	Name() string
	Translate(ctx context.Context, text, fromLang, toLang string) (string, error)
}

// Chain tries Primary, then Fallback, and as a last resort returns the
// original text. It never fails the caller.
type Chain struct {
	Primary  Engine
	Fallback Engine
}

// Outcome reports which step of the chain produced the text.
type Outcome int

const (
	OutcomePrimary Outcome = iota
	OutcomeFallback
	OutcomeOriginal
)

func (o Outcome) String() string {
	switch o {
	case OutcomePrimary:
		return "primary"
	case OutcomeFallback:
		return "fallback"
	case OutcomeOriginal:
		return "original"
	}
	return "unknown"
}

// Translate runs the chain. err is non-nil only when every engine failed, in
// which case text is the input unchanged and err wraps
// proto.ErrTranslationEngineFailure for logging.
func (c *Chain) Translate(ctx context.Context, text, fromLang, toLang string) (string, Outcome, error) {
	var errs []error
	if c.Primary != nil {
		out, err := c.Primary.Translate(ctx, text, fromLang, toLang)
		if err == nil && strings.TrimSpace(out) != "" {
			return out, OutcomePrimary, nil
		}
		errs = append(errs, engineErr(c.Primary, err))
	}
	if c.Fallback != nil {
		out, err := c.Fallback.Translate(ctx, text, fromLang, toLang)
		if err == nil && strings.TrimSpace(out) != "" {
			if len(errs) > 0 {
				log.Printf("TRANSLATE: primary failed, fallback %s used: %v", c.Fallback.Name(), errs[0])
			}
			return out, OutcomeFallback, nil
		}
		errs = append(errs, engineErr(c.Fallback, err))
	}
	if len(errs) == 0 {
		return text, OutcomeOriginal, fmt.Errorf("%w: no translation engine configured", proto.ErrTranslationEngineFailure)
	}
	return text, OutcomeOriginal, fmt.Errorf("%w: %w", proto.ErrTranslationEngineFailure, errors.Join(errs...))
}

func engineErr(e Engine, err error) error {
	if err == nil {
		err = errors.New("empty translation")
	}
	return fmt.Errorf("%s: %w", e.Name(), err)
}

// Swappable holds a Chain that can be replaced while translations are in
// flight, used for config hot reload.
type Swappable struct {
	v atomic.Pointer[Chain]
}

func NewSwappable(c *Chain) *Swappable {
	s := &Swappable{}
	s.v.Store(c)
	return s
}

func (s *Swappable) Load() *Chain { return s.v.Load() }

func (s *Swappable) Store(c *Chain) { s.v.Store(c) }

// New builds an engine from its configured kind. An empty kind yields nil so
// a chain can run without a fallback.
func New(kind, baseURL, apiKey string, timeout time.Duration) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "":
		return nil, nil
	case "stub":
		return &StubEngine{}, nil
	case "libre":
		if baseURL == "" {
			return nil, errors.New("libre engine requires a url")
		}
		return NewLibreEngine(baseURL, apiKey, timeout), nil
	case "mymemory":
		return NewMyMemoryEngine(baseURL, apiKey, timeout), nil
	default:
		return nil, fmt.Errorf("unknown translation engine %q", kind)
	}
}
