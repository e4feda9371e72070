package speech

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultStallTimeout bounds how long the queue waits for an utterance's
// audio to finish arriving before skipping it.
const DefaultStallTimeout = 15 * time.Second

type utterance struct {
	id     string
	rate   int
	buf    bytes.Buffer
	closed bool
	err    error
	done   chan struct{}
}

// PlaybackQueue plays utterances strictly in the order they were enqueued,
// never more than one at a time. Audio for an utterance may arrive while an
// earlier one is still playing; it is held until its turn.
type PlaybackQueue struct {
	player Player
	stall  time.Duration

	// OnDone, when set, is called after each utterance leaves the queue,
	// with the playback error (nil on success or skip).
	OnDone func(id string, err error)

	mu      sync.Mutex
	pending []*utterance
	byID    map[string]*utterance
	wake    chan struct{}
}

// NewPlaybackQueue returns a queue that renders through p. stall <= 0 uses
// DefaultStallTimeout.
func NewPlaybackQueue(p Player, stall time.Duration) *PlaybackQueue {
	if stall <= 0 {
		stall = DefaultStallTimeout
	}
	return &PlaybackQueue{
		player: p,
		stall:  stall,
		byID:   make(map[string]*utterance),
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue reserves the next playback slot for id. rate is the sample rate
// of the audio that will be fed for it.
func (q *PlaybackQueue) Enqueue(id string, rate int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[id]; ok {
		return fmt.Errorf("utterance %s already queued", id)
	}
	u := &utterance{id: id, rate: rate, done: make(chan struct{})}
	q.pending = append(q.pending, u)
	q.byID[id] = u
	q.signal()
	return nil
}

// Feed appends a chunk to its utterance. Chunks for unknown or already
// completed utterances are dropped and Feed reports false.
func (q *PlaybackQueue) Feed(c Chunk) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	u, ok := q.byID[c.UtteranceID]
	if !ok {
		log.Printf("SPEECH: dropping chunk for unknown utterance %s", c.UtteranceID)
		return false
	}
	if u.closed {
		return false
	}
	if c.Err != nil {
		u.err = c.Err
		u.closed = true
		close(u.done)
		return true
	}
	u.buf.Write(c.PCM)
	if c.End {
		u.closed = true
		close(u.done)
	}
	return true
}

// Len reports how many utterances are waiting or playing.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear discards every utterance that has not started playing.
func (q *PlaybackQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, u := range q.pending {
		delete(q.byID, u.id)
		if !u.closed {
			u.closed = true
			u.err = context.Canceled
			close(u.done)
		}
	}
	q.pending = nil
}

func (q *PlaybackQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *PlaybackQueue) head() *utterance {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	return q.pending[0]
}

func (q *PlaybackQueue) pop(u *utterance) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) > 0 && q.pending[0] == u {
		q.pending = q.pending[1:]
	}
	delete(q.byID, u.id)
	if !u.closed {
		u.closed = true
		close(u.done)
	}
}

// Run is the single consumer. It blocks until ctx is done.
func (q *PlaybackQueue) Run(ctx context.Context) error {
	for {
		u := q.head()
		if u == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}

		timer := time.NewTimer(q.stall)
		var err error
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-u.done:
			timer.Stop()
		case <-timer.C:
			err = fmt.Errorf("utterance %s stalled after %s", u.id, q.stall)
		}

		q.mu.Lock()
		if err == nil {
			err = u.err
		}
		pcm := append([]byte(nil), u.buf.Bytes()...)
		q.mu.Unlock()

		if err == nil {
			err = q.play(ctx, u, pcm)
		}
		q.pop(u)
		if err != nil {
			log.Printf("SPEECH: utterance %s skipped: %v", u.id, err)
		}
		if q.OnDone != nil {
			q.OnDone(u.id, err)
		}
	}
}

func (q *PlaybackQueue) play(ctx context.Context, u *utterance, pcm []byte) error {
	if len(pcm) == 0 {
		log.Printf("SPEECH: utterance %s has no audio", u.id)
		return nil
	}
	out, err := Resample(pcm, u.rate, q.player.SampleRate())
	if err != nil {
		return err
	}
	return q.player.Play(ctx, u.id, out)
}
