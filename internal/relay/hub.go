package relay

import (
	"log"
	"time"

	"github.com/petervdpas/parley/internal/metrics"
	"github.com/petervdpas/parley/internal/proto"
	"github.com/petervdpas/parley/internal/translate"
)

// Hub wires the registry, pairing manager, signaling and translation relay
// together behind a connection-oriented API used by the transport.
type Hub struct {
	Registry    *Registry
	Pairing     *PairingManager
	Signaling   *Signaling
	Translation *TranslationRelay
}

// NewHub builds a hub. chain and rec may be nil; without a chain every
// translation falls through to the original text.
func NewHub(chain *translate.Swappable, rec Recorder, translateTimeout time.Duration) *Hub {
	if chain == nil {
		chain = translate.NewSwappable(&translate.Chain{})
	}
	h := &Hub{}
	h.Registry = NewRegistry(func(s *Session) { h.Signaling.Disconnect(s) })
	h.Pairing = NewPairingManager(h.Registry)
	h.Signaling = NewSignaling(h.Registry, h.Pairing, countingRecorder{rec})
	h.Translation = NewTranslationRelay(h.Pairing, chain, translateTimeout)
	return h
}

// Connect registers a new connection and greets it with its session id.
func (h *Hub) Connect(out Outbox) *Session {
	s := h.Registry.Register(out)
	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	s.deliver(proto.Message{Type: proto.TypeWelcome, ID: s.ID})
	return s
}

// Disconnect tears down the session behind id. Safe to call more than once.
func (h *Hub) Disconnect(id string) {
	if h.Registry.Unregister(id) {
		metrics.SessionsActive.Dec()
	}
}

// Dispatch handles one inbound frame from s. Errors go back to s only.
func (h *Hub) Dispatch(s *Session, m proto.Message) {
	if s.gone.Load() {
		return
	}
	h.Signaling.heal(s)

	if err := m.Validate(); err != nil {
		h.fail(s, m, err)
		return
	}

	var err error
	switch m.Type {
	case proto.TypeInvite:
		err = h.Signaling.Invite(s, m)
	case proto.TypeAnswer:
		err = h.Signaling.Answer(s, m)
	case proto.TypeReject:
		err = h.Signaling.Reject(s, m)
	case proto.TypeCandidate:
		err = h.Signaling.Candidate(s, m)
	case proto.TypeRenegotiate:
		err = h.Signaling.Renegotiate(s, m)
	case proto.TypeEnd:
		err = h.Signaling.End(s)
	case proto.TypeHeartbeat:
		err = h.Signaling.Heartbeat(s)
	case proto.TypeTranslate:
		err = h.Translation.Submit(s, m)
	default:
		err = proto.Errorf(proto.CodeInvalidMessage, "type "+m.Type+" is not accepted from participants")
	}
	if err != nil {
		h.fail(s, m, err)
	}
}

func (h *Hub) fail(s *Session, m proto.Message, err error) {
	log.Printf("SIGNAL [%s]: %s rejected: %v", s.ID, m.Type, err)
	code := "unknown"
	if pe, ok := err.(*proto.Error); ok {
		code = string(pe.Code)
	}
	metrics.SignalingErrors.WithLabelValues(code).Inc()
	s.deliver(proto.ErrorMessage(err))
}

// Close stops background translation work.
func (h *Hub) Close() {
	h.Translation.Close()
}

// countingRecorder counts call events before handing them on.
type countingRecorder struct{ next Recorder }

func (c countingRecorder) Record(ev CallEvent) {
	metrics.CallEvents.WithLabelValues(string(ev.Kind)).Inc()
	if c.next != nil {
		c.next.Record(ev)
	}
}
