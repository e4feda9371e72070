package app

import (
	"fmt"
	"log"
	"time"

	"github.com/petervdpas/parley/internal/config"
	"github.com/petervdpas/parley/internal/translate"
)

// BuildChain turns the translation config into a chain. Each configured
// engine gets its own LRU.
func BuildChain(c config.Translation) (*translate.Chain, error) {
	timeout := time.Duration(c.TimeoutMs) * time.Millisecond

	primary, err := buildEngine(c.Primary, timeout, c.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}
	fallback, err := buildEngine(c.Fallback, timeout, c.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	return &translate.Chain{Primary: primary, Fallback: fallback}, nil
}

func buildEngine(e config.Engine, timeout time.Duration, cache int) (translate.Engine, error) {
	eng, err := translate.New(e.Kind, e.URL, e.APIKey, timeout)
	if err != nil || eng == nil {
		return nil, err
	}
	return translate.NewCached(eng, cache)
}

func engineName(e translate.Engine) string {
	if e == nil {
		return "none"
	}
	return e.Name()
}

func logBanner(mode, dir, cfgPath string) {
	log.Println("────────────────────────────────────────")
	log.Printf("Parley %s", mode)
	log.Printf(" Folder      : %s", dir)
	log.Printf(" Config file : %s", cfgPath)
	log.Println("")
	log.Println(" This process represents ONE " + mode + ".")
	log.Println(" Different folder/config = different " + mode + ".")
	log.Println("────────────────────────────────────────")
}
