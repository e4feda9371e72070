package speech

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"
)

// Voice speaks translated text through a synthesizer into a playback queue.
type Voice struct {
	synth Synthesizer
	queue *PlaybackQueue
	lang  string
}

// NewVoice speaks in lang.
func NewVoice(s Synthesizer, q *PlaybackQueue, lang string) *Voice {
	return &Voice{synth: s, queue: q, lang: lang}
}

// Say queues text for playback and returns its utterance id. Synthesis
// runs in the background; the queue keeps arrival order regardless of how
// long each utterance takes to render.
func (v *Voice) Say(ctx context.Context, text string) (string, error) {
	id := uuid.NewString()
	if err := v.queue.Enqueue(id, v.synth.SampleRate()); err != nil {
		return "", err
	}

	ch, err := v.synth.Synthesize(ctx, id, text, v.lang)
	if err != nil {
		v.queue.Feed(Chunk{UtteranceID: id, Err: err})
		return id, err
	}

	go func() {
		for c := range ch {
			if c.UtteranceID == "" {
				c.UtteranceID = id
			}
			v.queue.Feed(c)
		}
		// Streams that close without an End still finish the utterance.
		v.queue.Feed(Chunk{UtteranceID: id, End: true})
	}()
	return id, nil
}

// Sink receives recognized speech for translation.
type Sink interface {
	SubmitTranscript(ctx context.Context, text string, interim bool) error
}

// Capture forwards recognizer output to a sink while a call is active.
type Capture struct {
	Recognizer Recognizer
	Lang       string
	Sink       Sink
	// Active gates forwarding; nil means always active.
	Active func() bool
}

// Run listens until ctx is done or the recognizer ends.
func (c *Capture) Run(ctx context.Context) error {
	ch, err := c.Recognizer.Listen(ctx, c.Lang)
	if err != nil {
		return err
	}

	var lastInterim string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ch:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			if c.Active != nil && !c.Active() {
				lastInterim = ""
				continue
			}
			if !t.Final {
				if text == lastInterim {
					continue
				}
				lastInterim = text
			} else {
				lastInterim = ""
			}
			if err := c.Sink.SubmitTranscript(ctx, text, !t.Final); err != nil {
				log.Printf("SPEECH: transcript not sent: %v", err)
			}
		}
	}
}
