package translate

import (
	"context"
	"time"
)

// StubEngine returns deterministic translations: a dictionary hit when one
// exists, otherwise the text prefixed with the target language tag.
type StubEngine struct {
	Delay      time.Duration
	Dictionary map[string]map[string]string // [toLang][text]translated
}

func (s *StubEngine) Name() string { return "stub" }

func (s *StubEngine) Translate(ctx context.Context, text, _, toLang string) (string, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if d, ok := s.Dictionary[toLang]; ok {
		if out, ok := d[text]; ok {
			return out, nil
		}
	}
	return "[" + toLang + "] " + text, nil
}
