package translate

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheKey struct {
	from, to, text string
}

// Cached remembers successful translations of an Engine. Callers repeat
// themselves a lot ("yes", "can you hear me?") and engines are metered.
type Cached struct {
	Engine
	lru *lru.Cache[cacheKey, string]
}

// NewCached wraps e with an LRU of size entries. size <= 0 returns e as is.
func NewCached(e Engine, size int) (Engine, error) {
	if e == nil || size <= 0 {
		return e, nil
	}
	c, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, err
	}
	return &Cached{Engine: e, lru: c}, nil
}

func (c *Cached) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	k := cacheKey{strings.ToLower(fromLang), strings.ToLower(toLang), text}
	if out, ok := c.lru.Get(k); ok {
		return out, nil
	}
	out, err := c.Engine.Translate(ctx, text, fromLang, toLang)
	if err == nil && strings.TrimSpace(out) != "" {
		c.lru.Add(k, out)
	}
	return out, err
}

// Len is the number of cached entries.
func (c *Cached) Len() int { return c.lru.Len() }
