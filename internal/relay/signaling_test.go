package relay

import (
	"testing"
	"time"

	"github.com/petervdpas/parley/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWelcomeOnConnect(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(h)
	msgs := a.out.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, proto.TypeWelcome, msgs[0].Type)
	assert.Equal(t, a.s.ID, msgs[0].ID)
}

func TestInviteAnswerLinks(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)

	h.Dispatch(a.s, invite(b.s.ID))
	assert.Equal(t, StateRingingOut, a.s.State())
	assert.Equal(t, StateRingingIn, b.s.State())

	in := b.out.ofType(proto.TypeIncomingCall)
	require.Len(t, in, 1)
	assert.Equal(t, a.s.ID, in[0].From)
	assert.Equal(t, "A", in[0].Name)
	assert.JSONEq(t, string(rawOffer), string(in[0].Signal))
	assert.Equal(t, "en", in[0].FromLang)
	assert.Equal(t, "ur", in[0].ToLang)

	h.Dispatch(b.s, answer(a.s.ID))
	assert.Equal(t, b.s.ID, a.s.PairedWith())
	assert.Equal(t, a.s.ID, b.s.PairedWith())
	assert.Equal(t, StateLinked, a.s.State())
	assert.Equal(t, StateLinked, b.s.State())

	acc := a.out.ofType(proto.TypeCallAccepted)
	require.Len(t, acc, 1)
	assert.Equal(t, b.s.ID, acc[0].From)
	assert.JSONEq(t, string(rawAnswer), string(acc[0].Answer))

	// The callee hears the reverse pair by default.
	assert.Equal(t, LanguagePair{From: "ur", To: "en"}, b.s.Info().Languages)
	assert.Empty(t, a.out.ofType(proto.TypeError))
	assert.Empty(t, b.out.ofType(proto.TypeError))
}

func TestSelfInviteRejected(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(h)
	before := a.s.Info()

	h.Dispatch(a.s, invite(a.s.ID))

	assert.Equal(t, string(proto.CodeSelfCallRejected), lastError(t, a).Code)
	assert.Equal(t, before, a.s.Info())
}

func TestInviteUnknownTarget(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(h)
	h.Dispatch(a.s, invite("nobody"))
	assert.Equal(t, string(proto.CodeTargetNotFound), lastError(t, a).Code)
	assert.Equal(t, StateIdle, a.s.State())
}

func TestInviteTargetGoneWhileWaitingForLock(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)

	b.s.mu.Lock()
	done := make(chan struct{})
	go func() {
		h.Dispatch(a.s, invite(b.s.ID))
		close(done)
	}()
	// Give the invite time to pass the lookup and queue on b's lock.
	time.Sleep(50 * time.Millisecond)
	b.s.gone.Store(true)
	b.s.mu.Unlock()
	<-done

	assert.Equal(t, string(proto.CodeTargetNotFound), lastError(t, a).Code)
	assert.Equal(t, StateIdle, a.s.State())
	assert.Empty(t, a.s.Info().RingPeer)
	assert.Empty(t, b.out.ofType(proto.TypeIncomingCall))
}

func TestInviteMissingFields(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)

	m := invite(b.s.ID)
	m.ToLang = ""
	h.Dispatch(a.s, m)

	assert.Equal(t, string(proto.CodeInvalidMessage), lastError(t, a).Code)
	assert.Equal(t, StateIdle, a.s.State())
	assert.Equal(t, StateIdle, b.s.State())
	assert.Empty(t, b.out.ofType(proto.TypeIncomingCall))
}

func TestInviteBusyTarget(t *testing.T) {
	h := newTestHub(t, nil)
	a, b, c := connect(h), connect(h), connect(h)
	link(t, h, a, b)

	h.Dispatch(c.s, invite(a.s.ID))
	assert.Equal(t, string(proto.CodeAlreadyPaired), lastError(t, c).Code)
	assert.Empty(t, a.out.ofType(proto.TypeIncomingCall))
	assert.Equal(t, b.s.ID, a.s.PairedWith())

	h.Dispatch(a.s, invite(c.s.ID))
	assert.Equal(t, string(proto.CodeAlreadyPaired), lastError(t, a).Code)
}

func TestStaleAnswer(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)

	// No invite at all.
	h.Dispatch(b.s, answer(a.s.ID))
	assert.Equal(t, string(proto.CodeStaleAnswer), lastError(t, b).Code)

	// Caller cancelled before the answer arrived.
	h.Dispatch(a.s, invite(b.s.ID))
	h.Dispatch(a.s, proto.Message{Type: proto.TypeEnd})
	b.out.reset()
	h.Dispatch(b.s, answer(a.s.ID))
	assert.Equal(t, string(proto.CodeStaleAnswer), lastError(t, b).Code)
	assert.Empty(t, a.s.PairedWith())
	assert.Empty(t, a.out.ofType(proto.TypeCallAccepted))

	// Caller gone.
	c := connect(h)
	h.Dispatch(c.s, invite(b.s.ID))
	h.Disconnect(c.s.ID)
	b.out.reset()
	h.Dispatch(b.s, answer(c.s.ID))
	assert.Equal(t, string(proto.CodeStaleAnswer), lastError(t, b).Code)
}

func TestAnswerFromWrongResponder(t *testing.T) {
	h := newTestHub(t, nil)
	a, b, c := connect(h), connect(h), connect(h)
	h.Dispatch(a.s, invite(b.s.ID))

	h.Dispatch(c.s, answer(a.s.ID))
	assert.Equal(t, string(proto.CodeStaleAnswer), lastError(t, c).Code)
	assert.Equal(t, StateRingingOut, a.s.State())
}

func TestReject(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)
	h.Dispatch(a.s, invite(b.s.ID))

	h.Dispatch(b.s, proto.Message{Type: proto.TypeReject, TargetID: a.s.ID})

	rej := a.out.ofType(proto.TypeCallRejected)
	require.Len(t, rej, 1)
	assert.Equal(t, b.s.ID, rej[0].From)
	assert.Equal(t, StateIdle, a.s.State())
	assert.Equal(t, StateIdle, b.s.State())

	// Both can call again.
	h.Dispatch(b.s, invite(a.s.ID))
	assert.Equal(t, StateRingingOut, b.s.State())
}

func TestRejectWithoutPendingCall(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)
	h.Dispatch(b.s, proto.Message{Type: proto.TypeReject, TargetID: a.s.ID})
	assert.Equal(t, string(proto.CodeNotInCall), lastError(t, b).Code)
	assert.Empty(t, a.out.ofType(proto.TypeCallRejected))
}

func TestCandidateDroppedWhenUnpaired(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)
	h.Dispatch(a.s, invite(b.s.ID))
	a.out.reset()
	b.out.reset()

	h.Dispatch(a.s, proto.Message{Type: proto.TypeCandidate, Candidate: rawCand})

	assert.Empty(t, a.out.all())
	assert.Empty(t, b.out.all())
}

func TestCandidateRelayedWhenLinked(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)
	link(t, h, a, b)

	h.Dispatch(a.s, proto.Message{Type: proto.TypeCandidate, Candidate: rawCand})

	got := b.out.ofType(proto.TypeCandidate)
	require.Len(t, got, 1)
	assert.JSONEq(t, string(rawCand), string(got[0].Candidate))
	assert.Equal(t, a.s.ID, got[0].From)
	assert.Empty(t, a.out.all())
}

func TestEndNotifiesPartnerOnceAndIsIdempotent(t *testing.T) {
	for _, fromCaller := range []bool{true, false} {
		h := newTestHub(t, nil)
		a, b := connect(h), connect(h)
		link(t, h, a, b)

		ender, other := a, b
		if !fromCaller {
			ender, other = b, a
		}
		h.Dispatch(ender.s, proto.Message{Type: proto.TypeEnd})
		h.Dispatch(ender.s, proto.Message{Type: proto.TypeEnd})

		ended := other.out.ofType(proto.TypeCallEnded)
		require.Len(t, ended, 1)
		assert.Equal(t, ender.s.ID, ended[0].From)
		assert.Empty(t, ender.out.ofType(proto.TypeCallEnded))
		assert.Empty(t, ender.out.ofType(proto.TypeError))
		assert.Empty(t, a.s.PairedWith())
		assert.Empty(t, b.s.PairedWith())
		assert.Equal(t, StateIdle, a.s.State())
		assert.Equal(t, StateIdle, b.s.State())
	}
}

func TestEndWhileRingingCancels(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)
	h.Dispatch(a.s, invite(b.s.ID))

	h.Dispatch(a.s, proto.Message{Type: proto.TypeEnd})

	require.Len(t, b.out.ofType(proto.TypeCallEnded), 1)
	assert.Equal(t, StateIdle, a.s.State())
	assert.Equal(t, StateIdle, b.s.State())
}

func TestDisconnectMatchesEnd(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)
	link(t, h, a, b)

	h.Disconnect(a.s.ID)
	h.Disconnect(a.s.ID)

	ended := b.out.ofType(proto.TypeCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, a.s.ID, ended[0].From)
	assert.Empty(t, b.s.PairedWith())
	assert.Equal(t, StateIdle, b.s.State())
	_, ok := h.Registry.Lookup(a.s.ID)
	assert.False(t, ok)
}

func TestHeartbeatOnlyWhenLinked(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)
	b.out.reset()

	h.Dispatch(a.s, proto.Message{Type: proto.TypeHeartbeat})
	assert.Empty(t, b.out.all())
	assert.Empty(t, a.out.ofType(proto.TypeError))

	link(t, h, a, b)
	h.Dispatch(a.s, proto.Message{Type: proto.TypeHeartbeat})
	hb := b.out.ofType(proto.TypeHeartbeat)
	require.Len(t, hb, 1)
	assert.Equal(t, a.s.ID, hb[0].From)
	assert.Equal(t, StateLinked, b.s.State())
}

func TestRenegotiateRequiresLink(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)
	m := proto.Message{Type: proto.TypeRenegotiate, Signal: rawOffer}

	h.Dispatch(a.s, m)
	assert.Equal(t, string(proto.CodeNotInCall), lastError(t, a).Code)

	link(t, h, a, b)
	h.Dispatch(a.s, m)
	got := b.out.ofType(proto.TypeRenegotiate)
	require.Len(t, got, 1)
	assert.JSONEq(t, string(rawOffer), string(got[0].Signal))
}

func TestRelayOnlyTypesRejected(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)
	link(t, h, a, b)

	h.Dispatch(a.s, proto.Message{Type: proto.TypeCallEnded})
	assert.Equal(t, string(proto.CodeInvalidMessage), lastError(t, a).Code)
	assert.Empty(t, b.out.all())
	assert.Equal(t, StateLinked, a.s.State())
}

func TestSignalingScenario(t *testing.T) {
	h := newTestHub(t, nil)
	a, b := connect(h), connect(h)

	h.Dispatch(a.s, invite(b.s.ID))
	h.Dispatch(b.s, answer(a.s.ID))
	h.Dispatch(a.s, proto.Message{Type: proto.TypeCandidate, Candidate: rawCand})
	require.Len(t, b.out.ofType(proto.TypeCandidate), 1)

	h.Dispatch(a.s, proto.Message{Type: proto.TypeEnd})
	require.Len(t, b.out.ofType(proto.TypeCallEnded), 1)

	h.Dispatch(a.s, proto.Message{Type: proto.TypeCandidate, Candidate: rawCand})
	h.Dispatch(b.s, proto.Message{Type: proto.TypeCandidate, Candidate: rawCand})
	assert.Len(t, b.out.ofType(proto.TypeCandidate), 1)
	assert.Empty(t, a.out.ofType(proto.TypeCandidate))
}

type memRecorder struct{ events []CallEvent }

func (m *memRecorder) Record(ev CallEvent) { m.events = append(m.events, ev) }

func TestRecorderSeesLifecycle(t *testing.T) {
	rec := &memRecorder{}
	h := NewHub(nil, rec, 0)
	t.Cleanup(h.Close)
	a, b := connect(h), connect(h)
	link(t, h, a, b)
	h.Disconnect(b.s.ID)

	var kinds []EventKind
	for _, ev := range rec.events {
		kinds = append(kinds, ev.Kind)
		assert.NotZero(t, ev.TS)
	}
	assert.Equal(t, []EventKind{EventInvite, EventAccepted, EventDisconnected}, kinds)
	assert.Equal(t, "en", rec.events[0].FromLang)
}
