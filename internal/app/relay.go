// Package app runs the relay and the participant client as processes:
// config, logging, storage and the long-lived goroutines around them.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/petervdpas/parley/internal/calllog"
	"github.com/petervdpas/parley/internal/config"
	"github.com/petervdpas/parley/internal/logbuf"
	"github.com/petervdpas/parley/internal/relay"
	"github.com/petervdpas/parley/internal/translate"
	"github.com/petervdpas/parley/internal/util"
)

const pruneInterval = time.Hour

type Options struct {
	Dir     string
	CfgPath string
	Cfg     config.Config

	// Ready, when set, receives the relay's base URL once it is listening.
	Ready func(url string)
}

// RunRelay serves the relay until ctx is done.
func RunRelay(ctx context.Context, o Options) error {
	cfg := o.Cfg

	logs := logbuf.New(cfg.Log.BufferLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))
	logBanner("relay", o.Dir, o.CfgPath)

	chain, err := BuildChain(cfg.Translation)
	if err != nil {
		return fmt.Errorf("translation: %w", err)
	}
	log.Printf("TRANSLATE: primary=%s fallback=%s", engineName(chain.Primary), engineName(chain.Fallback))
	sw := translate.NewSwappable(chain)

	var (
		rec  relay.Recorder
		hist relay.CallHistory
	)
	if cfg.Relay.CallLogPath != "" {
		path := util.ResolvePath(o.Dir, cfg.Relay.CallLogPath)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		cl, err := calllog.Open(path)
		if err != nil {
			return fmt.Errorf("open call log: %w", err)
		}
		defer cl.Close()
		rec, hist = cl, cl
		log.Printf("CALLLOG: recording to %s", path)
		go pruneLoop(ctx, cl, cfg.Relay.CallLogRetentionDays)
	}

	timeout := time.Duration(cfg.Translation.TimeoutMs) * time.Millisecond
	hub := relay.NewHub(sw, rec, timeout)
	defer hub.Close()

	srv := relay.NewServer(hub, relay.Options{
		Addr:            net.JoinHostPort(cfg.Relay.Bind, strconv.Itoa(cfg.Relay.Port)),
		ExternalURL:     cfg.Relay.ExternalURL,
		AdminPassword:   cfg.Relay.AdminPassword,
		MaxClients:      cfg.Relay.MaxClients,
		MaxClientsPerIP: cfg.Relay.MaxClientsPerIP,
		OutboundBuffer:  cfg.Relay.OutboundBuffer,
		Logs:            logs.ServeJSON,
		Calls:           hist,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Printf("RELAY: participants connect to %s/ws", srv.URL())
	if o.Ready != nil {
		o.Ready(srv.URL())
	}

	if o.CfgPath != "" {
		last := cfg.Translation
		err := config.Watch(ctx, o.CfgPath, func(next config.Config) {
			if next.Translation == last {
				return
			}
			c, err := BuildChain(next.Translation)
			if err != nil {
				log.Printf("CONFIG: translation change ignored: %v", err)
				return
			}
			sw.Store(c)
			last = next.Translation
			log.Printf("CONFIG: translation reloaded, primary=%s fallback=%s", engineName(c.Primary), engineName(c.Fallback))
		})
		if err != nil {
			log.Printf("CONFIG: hot reload disabled: %v", err)
		}
	}

	<-ctx.Done()
	return nil
}

type pruner interface {
	Prune(before time.Time) (int64, error)
}

func pruneLoop(ctx context.Context, p pruner, days int) {
	if days <= 0 {
		return
	}
	prune := func() {
		n, err := p.Prune(time.Now().AddDate(0, 0, -days))
		if err != nil {
			log.Printf("CALLLOG: prune failed: %v", err)
		} else if n > 0 {
			log.Printf("CALLLOG: pruned %d events older than %d days", n, days)
		}
	}
	prune()

	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prune()
		}
	}
}
