package relay

import (
	"log"

	"github.com/petervdpas/parley/internal/proto"
)

// Signaling validates call-control messages, drives the per-session call
// state machine and forwards payloads between the two sides of a call.
type Signaling struct {
	reg *Registry
	pm  *PairingManager
	rec Recorder
}

func NewSignaling(reg *Registry, pm *PairingManager, rec Recorder) *Signaling {
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Signaling{reg: reg, pm: pm, rec: rec}
}

// Invite rings target on behalf of s.
func (sg *Signaling) Invite(s *Session, m proto.Message) error {
	if m.TargetID == s.ID {
		return proto.ErrSelfCallRejected
	}
	t, ok := sg.reg.Lookup(m.TargetID)
	if !ok {
		return proto.ErrTargetNotFound
	}

	err := sg.pm.Do(s, t, func() error {
		// t may have started teardown after the lookup.
		if t.gone.Load() {
			return proto.ErrTargetNotFound
		}
		if s.state != StateIdle || s.pairedWith != "" {
			return proto.Errorf(proto.CodeAlreadyPaired, "you are already in a call")
		}
		if t.state != StateIdle || t.pairedWith != "" {
			return proto.Errorf(proto.CodeAlreadyPaired, "target is busy")
		}
		s.state, s.ringPeer = StateRingingOut, t.ID
		s.langs = LanguagePair{From: m.FromLang, To: m.ToLang}
		s.name = m.Name
		t.state, t.ringPeer = StateRingingIn, s.ID
		return nil
	})
	if err != nil {
		return err
	}

	t.deliver(proto.Message{
		Type:     proto.TypeIncomingCall,
		Signal:   m.Offer,
		From:     s.ID,
		Name:     m.Name,
		FromLang: m.FromLang,
		ToLang:   m.ToLang,
	})
	log.Printf("SIGNAL [%s]: invite → %s (%s→%s)", s.ID, t.ID, m.FromLang, m.ToLang)
	sg.rec.Record(stamp(CallEvent{Kind: EventInvite, SessionID: s.ID, PeerID: t.ID, FromLang: m.FromLang, ToLang: m.ToLang}))
	return nil
}

// Answer accepts the call from m.TargetID (the original caller) and links
// the two sessions.
func (sg *Signaling) Answer(s *Session, m proto.Message) error {
	c, ok := sg.reg.Lookup(m.TargetID)
	if !ok || c == s {
		return proto.ErrStaleAnswer
	}

	err := sg.pm.Do(c, s, func() error {
		if c.state != StateRingingOut || c.ringPeer != s.ID || s.state != StateRingingIn || s.ringPeer != c.ID {
			return proto.ErrStaleAnswer
		}
		if err := sg.pm.pairLocked(c, s); err != nil {
			return err
		}
		if s.langs == (LanguagePair{}) {
			s.langs = LanguagePair{From: c.langs.To, To: c.langs.From}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.deliver(proto.Message{Type: proto.TypeCallAccepted, Answer: m.Answer, From: s.ID})
	log.Printf("SIGNAL [%s]: answered %s, linked", s.ID, c.ID)
	sg.rec.Record(stamp(CallEvent{Kind: EventAccepted, SessionID: s.ID, PeerID: c.ID}))
	return nil
}

// Reject declines the pending call with m.TargetID.
func (sg *Signaling) Reject(s *Session, m proto.Message) error {
	t, ok := sg.reg.Lookup(m.TargetID)
	if !ok {
		return proto.ErrTargetNotFound
	}

	err := sg.pm.Do(s, t, func() error {
		ringing := s.ringPeer == t.ID && t.ringPeer == s.ID &&
			(s.state == StateRingingIn || s.state == StateRingingOut)
		if !ringing {
			return proto.Errorf(proto.CodeNotInCall, "no pending call with target")
		}
		s.state, s.ringPeer = StateIdle, ""
		t.state, t.ringPeer = StateIdle, ""
		return nil
	})
	if err != nil {
		return err
	}

	t.deliver(proto.Message{Type: proto.TypeCallRejected, From: s.ID})
	log.Printf("SIGNAL [%s]: rejected call with %s", s.ID, t.ID)
	sg.rec.Record(stamp(CallEvent{Kind: EventRejected, SessionID: s.ID, PeerID: t.ID}))
	return nil
}

// Candidate relays a path candidate to the partner. Candidates from a
// session that is not linked are dropped without an error.
func (sg *Signaling) Candidate(s *Session, m proto.Message) error {
	p, ok := sg.pm.Partner(s)
	if !ok {
		log.Printf("SIGNAL [%s]: candidate dropped, not linked", s.ID)
		return nil
	}
	p.deliver(proto.Message{Type: proto.TypeCandidate, Candidate: m.Candidate, From: s.ID})
	return nil
}

// Renegotiate relays a session description used for ICE restarts.
func (sg *Signaling) Renegotiate(s *Session, m proto.Message) error {
	p, ok := sg.pm.Partner(s)
	if !ok {
		return proto.ErrNotInCall
	}
	p.deliver(proto.Message{Type: proto.TypeRenegotiate, Signal: m.Signal, From: s.ID})
	return nil
}

// Heartbeat is relayed to the partner only while linked.
func (sg *Signaling) Heartbeat(s *Session) error {
	if p, ok := sg.pm.Partner(s); ok {
		p.deliver(proto.Message{Type: proto.TypeHeartbeat, From: s.ID})
	}
	return nil
}

// End finishes whatever call s is part of, linked or ringing. The former
// partner receives exactly one CallEnded. Calling End while idle is a no-op.
func (sg *Signaling) End(s *Session) error {
	sg.finish(s, false)
	return nil
}

// Disconnect is End for a session whose connection went away.
func (sg *Signaling) Disconnect(s *Session) {
	sg.finish(s, true)
}

func (sg *Signaling) finish(s *Session, disconnected bool) {
	notify, kind := sg.end(s)
	if notify == "" {
		return
	}
	if p := sg.reg.get(notify); p != nil {
		p.deliver(proto.Message{Type: proto.TypeCallEnded, From: s.ID})
	}
	if disconnected {
		kind = EventDisconnected
	}
	log.Printf("SIGNAL [%s]: call with %s ended (%s)", s.ID, notify, kind)
	sg.rec.Record(stamp(CallEvent{Kind: kind, SessionID: s.ID, PeerID: notify}))
}

func (sg *Signaling) end(s *Session) (string, EventKind) {
	for {
		s.mu.Lock()
		state, ring := s.state, s.ringPeer
		s.mu.Unlock()

		switch state {
		case StateLinked:
			if pid, ok := sg.pm.Unpair(s); ok {
				return pid, EventEnded
			}
			return "", ""

		case StateRingingOut, StateRingingIn:
			peer := sg.reg.get(ring)
			var notify string
			retry := false
			_ = sg.pm.Do(s, peer, func() error {
				if s.state != state || s.ringPeer != ring {
					retry = true
					return nil
				}
				s.state, s.ringPeer = StateIdle, ""
				if peer != nil && peer.ringPeer == s.ID {
					peer.state, peer.ringPeer = StateIdle, ""
					notify = peer.ID
				}
				return nil
			})
			if retry {
				continue
			}
			return notify, EventCancelled

		default:
			return "", ""
		}
	}
}

// heal clears references to sessions that have disappeared without a
// teardown reaching s.
func (sg *Signaling) heal(s *Session) {
	s.mu.Lock()
	pid, ring := s.pairedWith, s.ringPeer
	s.mu.Unlock()

	if pid != "" && sg.reg.get(pid) == nil {
		sg.pm.Unpair(s)
		log.Printf("SIGNAL [%s]: cleared dangling partner %s", s.ID, pid)
	}
	if ring != "" && sg.reg.get(ring) == nil {
		s.mu.Lock()
		if s.ringPeer == ring {
			s.state, s.ringPeer = StateIdle, ""
		}
		s.mu.Unlock()
	}
}
