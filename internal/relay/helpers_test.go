package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petervdpas/parley/internal/proto"
	"github.com/petervdpas/parley/internal/translate"
	"github.com/stretchr/testify/require"
)

// fakeOut records everything delivered to a session.
type fakeOut struct {
	mu   sync.Mutex
	msgs []proto.Message
}

func (f *fakeOut) Deliver(m proto.Message) bool {
	f.mu.Lock()
	f.msgs = append(f.msgs, m)
	f.mu.Unlock()
	return true
}

func (f *fakeOut) all() []proto.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proto.Message(nil), f.msgs...)
}

func (f *fakeOut) ofType(typ string) []proto.Message {
	var out []proto.Message
	for _, m := range f.all() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeOut) reset() {
	f.mu.Lock()
	f.msgs = nil
	f.mu.Unlock()
}

// countingEngine counts calls and optionally blocks until released.
type countingEngine struct {
	calls   atomic.Int32
	out     string
	err     error
	release chan struct{}
}

func (e *countingEngine) Name() string { return "counting" }

func (e *countingEngine) Translate(ctx context.Context, text, _, to string) (string, error) {
	e.calls.Add(1)
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e.err != nil {
		return "", e.err
	}
	if e.out != "" {
		return e.out, nil
	}
	return "[" + to + "] " + text, nil
}

type peer struct {
	s   *Session
	out *fakeOut
}

func newTestHub(t *testing.T, primary translate.Engine) *Hub {
	t.Helper()
	h := NewHub(translate.NewSwappable(&translate.Chain{Primary: primary}), nil, time.Second)
	t.Cleanup(h.Close)
	return h
}

func connect(h *Hub) peer {
	out := &fakeOut{}
	return peer{s: h.Connect(out), out: out}
}

var (
	rawOffer  = json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	rawAnswer = json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	rawCand   = json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`)
)

func invite(target string) proto.Message {
	return proto.Message{Type: proto.TypeInvite, TargetID: target, Offer: rawOffer, Name: "A", FromLang: "en", ToLang: "ur"}
}

func answer(caller string) proto.Message {
	return proto.Message{Type: proto.TypeAnswer, TargetID: caller, Answer: rawAnswer}
}

// link puts a and b in a call, a as caller, and clears their inboxes.
func link(t *testing.T, h *Hub, a, b peer) {
	t.Helper()
	h.Dispatch(a.s, invite(b.s.ID))
	h.Dispatch(b.s, answer(a.s.ID))
	require.Equal(t, StateLinked, a.s.State())
	require.Equal(t, StateLinked, b.s.State())
	a.out.reset()
	b.out.reset()
}

func lastError(t *testing.T, p peer) proto.Message {
	t.Helper()
	errs := p.out.ofType(proto.TypeError)
	require.NotEmpty(t, errs, "expected an error frame")
	return errs[len(errs)-1]
}
