package speech

import (
	"bufio"
	"context"
	"io"
	"log"
	"math"
	"strings"
	"time"
)

// LineRecognizer treats each input line as one spoken phrase. Lines of four
// or more words first produce an interim hypothesis of the leading half.
//
// A blocked Read on the underlying reader cannot be interrupted; the
// scanning goroutine exits at the next line or EOF.
type LineRecognizer struct {
	R io.Reader
}

func (l *LineRecognizer) Listen(ctx context.Context, lang string) (<-chan Transcript, error) {
	out := make(chan Transcript, 4)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(l.R)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			var hyps []Transcript
			if words := strings.Fields(line); len(words) >= 4 {
				hyps = append(hyps, Transcript{Text: strings.Join(words[:len(words)/2], " ")})
			}
			hyps = append(hyps, Transcript{Text: line, Final: true})
			for _, h := range hyps {
				select {
				case out <- h:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			log.Printf("SPEECH: recognizer input: %v", err)
		}
	}()
	return out, nil
}

// ToneSynthesizer renders text as a sine tone whose length follows the text
// length. Useful where no speech engine is installed.
type ToneSynthesizer struct {
	Rate    int
	PerRune time.Duration
	Delay   time.Duration
}

const (
	toneFrame  = 20 * time.Millisecond
	toneMax    = 10 * time.Second
	toneFreqHz = 440.0
)

func (s *ToneSynthesizer) SampleRate() int {
	if s.Rate <= 0 {
		return 22050
	}
	return s.Rate
}

func (s *ToneSynthesizer) Synthesize(ctx context.Context, id, text, lang string) (<-chan Chunk, error) {
	per := s.PerRune
	if per <= 0 {
		per = 60 * time.Millisecond
	}
	total := time.Duration(len([]rune(strings.TrimSpace(text)))) * per
	if total > toneMax {
		total = toneMax
	}
	rate := s.SampleRate()
	samples := int(total.Seconds() * float64(rate))
	perFrame := int(toneFrame.Seconds() * float64(rate))

	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		if s.Delay > 0 {
			select {
			case <-time.After(s.Delay):
			case <-ctx.Done():
				out <- Chunk{UtteranceID: id, Err: ctx.Err()}
				return
			}
		}
		for off := 0; off < samples; off += perFrame {
			n := perFrame
			if off+n > samples {
				n = samples - off
			}
			frame := make([]byte, n*2)
			for i := 0; i < n; i++ {
				v := int16(0.2 * 32767 * math.Sin(2*math.Pi*toneFreqHz*float64(off+i)/float64(rate)))
				frame[i*2] = byte(v)
				frame[i*2+1] = byte(v >> 8)
			}
			select {
			case out <- Chunk{UtteranceID: id, PCM: frame}:
			case <-ctx.Done():
				return
			}
		}
		out <- Chunk{UtteranceID: id, End: true}
	}()
	return out, nil
}

// LogPlayer logs each utterance and waits for its duration, scaled by
// Speed. Speed 0 returns immediately.
type LogPlayer struct {
	Rate  int
	Speed float64
}

func (p *LogPlayer) SampleRate() int {
	if p.Rate <= 0 {
		return 48000
	}
	return p.Rate
}

func (p *LogPlayer) Play(ctx context.Context, id string, pcm []byte) error {
	d := time.Duration(float64(len(pcm)/2) / float64(p.SampleRate()) * float64(time.Second))
	log.Printf("SPEECH: playing %s (%s)", id, d.Round(time.Millisecond))
	if p.Speed <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(float64(d) / p.Speed)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
