package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/parley/internal/call"
	"github.com/petervdpas/parley/internal/relay"
	"github.com/petervdpas/parley/internal/translate"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	events chan call.Event

	mu         sync.Mutex
	closed     bool
	remote     []json.RawMessage
	accepted   json.RawMessage
	accepts    int
	restarts   int
	restartErr error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{events: make(chan call.Event, 32)}
}

func (f *fakeMedia) Events() <-chan call.Event { return f.events }

func (f *fakeMedia) Offer() (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"v=0 offer"}`), nil
}

func (f *fakeMedia) RestartOffer() (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	if f.restartErr != nil {
		return nil, f.restartErr
	}
	return json.RawMessage(`{"type":"offer","sdp":"v=0 restart"}`), nil
}

func (f *fakeMedia) Answer(offer json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer","sdp":"v=0 answer"}`), nil
}

func (f *fakeMedia) Accept(answer json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = answer
	f.accepts++
	return nil
}

func (f *fakeMedia) Renegotiate(desc json.RawMessage) (json.RawMessage, error) {
	if strings.Contains(string(desc), `"offer"`) {
		return f.Answer(desc)
	}
	return nil, f.Accept(desc)
}

func (f *fakeMedia) AddCandidate(c json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, c)
	return nil
}

func (f *fakeMedia) Stats() []call.TrackStats {
	return []call.TrackStats{{StreamID: "fake", Kind: "audio", Packets: 3, Bytes: 480, LastSeq: 2}}
}

func (f *fakeMedia) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeMedia) push(e call.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.events <- e
	}
}

func (f *fakeMedia) candidates() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.remote...)
}

func (f *fakeMedia) stats() (accepts, restarts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepts, f.restarts
}

func (f *fakeMedia) setRestartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartErr = err
}

func (f *fakeMedia) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSpeaker struct {
	mu   sync.Mutex
	said []string
}

func (s *fakeSpeaker) Say(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, text)
	return "u", nil
}

func (s *fakeSpeaker) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

type harness struct {
	t   *testing.T
	srv *relay.Server
	url string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hub := relay.NewHub(translate.NewSwappable(&translate.Chain{Primary: &translate.StubEngine{}}), nil, time.Second)
	t.Cleanup(hub.Close)
	srv := relay.NewServer(hub, relay.Options{AdminPassword: "secret"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{t: t, srv: srv, url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

type tester struct {
	*Participant
	media    chan *fakeMedia
	speaker  *fakeSpeaker
	finished chan struct{}
	err      error

	mu  sync.Mutex
	got []Event
}

func (h *harness) join(name, from, to string, auto bool, opts ...func(*Config)) *tester {
	h.t.Helper()
	tp := &tester{media: make(chan *fakeMedia, 4), speaker: &fakeSpeaker{}, finished: make(chan struct{})}
	factory := func(id string) (MediaSession, error) {
		m := newFakeMedia()
		tp.media <- m
		return m, nil
	}
	cfg := Config{
		RelayURL:      h.url,
		Name:          name,
		FromLang:      from,
		ToLang:        to,
		AutoAnswer:    auto,
		Heartbeat:     time.Hour,
		MaxReconnect:  5,
		ReconnectBase: time.Millisecond,
	}
	for _, o := range opts {
		o(&cfg)
	}
	tp.Participant = NewParticipant(cfg, factory, tp.speaker)

	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(func() {
		cancel()
		<-tp.finished
	})
	go func() {
		tp.err = tp.Run(ctx)
		close(tp.finished)
	}()
	go func() {
		for e := range tp.Events() {
			tp.mu.Lock()
			tp.got = append(tp.got, e)
			tp.mu.Unlock()
		}
	}()

	require.Eventually(h.t, func() bool { return tp.count(EventOnline) == 1 }, 2*time.Second, 5*time.Millisecond)
	return tp
}

func (tp *tester) count(kind EventKind) int {
	return len(tp.of(kind))
}

func (tp *tester) of(kind EventKind) []Event {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	var out []Event
	for _, e := range tp.got {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (tp *tester) nextMedia(t *testing.T) *fakeMedia {
	t.Helper()
	select {
	case m := <-tp.media:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no media session opened")
		return nil
	}
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// linkPair calls b from a with b auto-answering and waits for both sides.
func linkPair(t *testing.T, a, b *tester) (ma, mb *fakeMedia) {
	t.Helper()
	require.NoError(t, a.Call(context.Background(), b.ID()))
	ma = a.nextMedia(t)
	mb = b.nextMedia(t)
	require.Eventually(t, func() bool { return a.count(EventLinked) == 1 && b.count(EventLinked) == 1 }, waitFor, tick)
	return ma, mb
}
