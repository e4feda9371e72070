package app

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"time"

	"github.com/petervdpas/parley/internal/call"
	"github.com/petervdpas/parley/internal/client"
	"github.com/petervdpas/parley/internal/config"
	"github.com/petervdpas/parley/internal/speech"
)

type ClientOptions struct {
	Dir     string
	CfgPath string
	Cfg     config.Config

	// CallTarget is invited as soon as the participant is online.
	CallTarget string

	// In carries console commands and, on every other line, what the user
	// says. Out receives the event feed. They default to stdin and stdout.
	In  io.Reader
	Out io.Writer
}

// ParticipantConfig maps the client section of the config file.
func ParticipantConfig(c config.Client) client.Config {
	return client.Config{
		RelayURL:      c.RelayURL,
		Name:          c.Name,
		FromLang:      c.FromLang,
		ToLang:        c.ToLang,
		AutoAnswer:    c.AutoAnswer,
		Heartbeat:     time.Duration(c.HeartbeatSec) * time.Second,
		MaxReconnect:  c.MaxReconnectAttempts,
		ReconnectBase: time.Duration(c.ReconnectBaseMs) * time.Millisecond,
	}
}

// MediaFactory opens pion sessions with the configured capture and ICE
// servers.
func MediaFactory(cfg config.Config) client.MediaFactory {
	capture := call.CaptureAudio
	if cfg.Client.Video {
		capture = call.CaptureAudioVideo
	}
	return func(id string) (client.MediaSession, error) {
		s, err := call.New(call.Options{
			ID:         id,
			ICEServers: cfg.Client.ICEServers,
			Capture:    capture,
			PionLevel:  cfg.Log.PionLevel,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// RunClient runs one participant with the console front end until ctx is
// done or the participant gives up.
func RunClient(ctx context.Context, o ClientOptions) error {
	cfg := o.Cfg
	in, out := o.In, o.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	logBanner("participant", o.Dir, o.CfgPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pion := call.NewLoggerFactory(cfg.Log.PionLevel)
	if o.CfgPath != "" {
		err := config.Watch(ctx, o.CfgPath, func(next config.Config) {
			pion.SetLevel(next.Log.PionLevel)
			log.Printf("CONFIG: pion log level %s", next.Log.PionLevel)
		})
		if err != nil {
			log.Printf("CONFIG: hot reload disabled: %v", err)
		}
	}

	queue := speech.NewPlaybackQueue(&speech.LogPlayer{}, 0)
	go func() { _ = queue.Run(ctx) }()
	voice := speech.NewVoice(&speech.ToneSynthesizer{}, queue, cfg.Client.FromLang)

	p := client.NewParticipant(ParticipantConfig(cfg.Client), MediaFactory(cfg), voice)

	speechR, speechW := io.Pipe()
	defer speechW.Close()
	capture := &speech.Capture{
		Recognizer: &speech.LineRecognizer{R: speechR},
		Lang:       cfg.Client.FromLang,
		Sink:       p,
		Active:     p.InCall,
	}
	go func() {
		if err := capture.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("SPEECH: capture stopped: %v", err)
		}
	}()

	con := &console{p: p, out: out, speech: speechW, quit: cancel}
	go con.read(ctx, in)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		con.print(ctx, p.Events(), queue, o.CallTarget)
	}()

	err := p.Run(ctx)
	<-printed
	return err
}
