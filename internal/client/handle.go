package client

import (
	"context"
	"log"
	"time"

	"github.com/petervdpas/parley/internal/call"
	"github.com/petervdpas/parley/internal/proto"
)

// handle applies one relay frame to the call state.
func (p *Participant) handle(ctx context.Context, m proto.Message) {
	c := p.cur
	switch m.Type {
	case proto.TypeIncomingCall:
		if c != nil || p.incoming != nil {
			log.Printf("CLIENT: busy, rejecting call from %s", m.From)
			_ = p.send(proto.Message{Type: proto.TypeReject, TargetID: m.From})
			return
		}
		inv := m
		p.incoming = &inv
		log.Printf("CLIENT: incoming call from %s (%s, %s→%s)", m.From, m.Name, m.FromLang, m.ToLang)
		p.emit(Event{Kind: EventIncoming, Peer: m.From, Name: m.Name, Message: m})
		if p.cfg.AutoAnswer {
			if err := p.accept(); err != nil {
				log.Printf("CLIENT: auto-answer failed: %v", err)
			}
		}

	case proto.TypeCallAccepted:
		if c == nil || c.linked || c.peer != m.From {
			log.Printf("CLIENT: ignoring accept from %s", m.From)
			return
		}
		if err := c.media.Accept(m.Answer); err != nil {
			log.Printf("CLIENT: bad answer from %s: %v", m.From, err)
			_ = p.send(proto.Message{Type: proto.TypeEnd})
			p.dropCall(err)
			return
		}
		p.link()

	case proto.TypeCallRejected:
		if c != nil && !c.linked && c.peer == m.From {
			p.cur = nil
			closeMedia(c.media)
			log.Printf("CLIENT: %s rejected the call", m.From)
			p.emit(Event{Kind: EventRejected, Peer: m.From})
			return
		}
		// The caller withdrew before we answered.
		if p.incoming != nil && p.incoming.From == m.From {
			log.Printf("CLIENT: %s withdrew the call", m.From)
			p.incoming = nil
			p.emit(Event{Kind: EventEnded, Peer: m.From})
		}

	case proto.TypeCandidate:
		if c == nil {
			return
		}
		if err := c.media.AddCandidate(m.Candidate); err != nil {
			log.Printf("CLIENT: candidate from %s rejected: %v", m.From, err)
		}

	case proto.TypeRenegotiate:
		if c == nil {
			return
		}
		answer, err := c.media.Renegotiate(m.Signal)
		if err != nil {
			log.Printf("CLIENT: renegotiation with %s failed: %v", m.From, err)
			return
		}
		if answer != nil {
			_ = p.send(proto.Message{Type: proto.TypeRenegotiate, Signal: answer})
		}

	case proto.TypeCallEnded:
		if p.incoming != nil && p.incoming.From == m.From {
			p.incoming = nil
			p.emit(Event{Kind: EventEnded, Peer: m.From})
			return
		}
		if c != nil && c.peer == m.From {
			p.dropCall(nil)
		}

	case proto.TypeHeartbeat:
		if c != nil && c.peer == m.From {
			c.lastBeat = time.Now()
			c.silent = false
		}

	case proto.TypeTranslation:
		p.emit(Event{Kind: EventTranslation, Peer: m.Speaker, Text: m.Translated, Message: m})
		if m.Speaker == p.ID() || m.IsInterim || p.speaker == nil {
			return
		}
		if _, err := p.speaker.Say(ctx, m.Translated); err != nil {
			log.Printf("CLIENT: speaking translation failed: %v", err)
		}

	case proto.TypeError:
		err := proto.Errorf(proto.Code(m.Code), m.Message)
		log.Printf("CLIENT: relay error: %v", err)
		p.emit(Event{Kind: EventError, Err: err})
		if c != nil && !c.linked && failsInvite(proto.Code(m.Code)) {
			p.cur = nil
			closeMedia(c.media)
			p.emit(Event{Kind: EventEnded, Peer: c.peer, Err: err})
		} else if c != nil && c.linked && proto.Code(m.Code) == proto.CodeStaleAnswer {
			p.dropCall(err)
		}

	default:
		log.Printf("CLIENT: unexpected frame %q", m.Type)
	}
}

func failsInvite(code proto.Code) bool {
	switch code {
	case proto.CodeInvalidMessage, proto.CodeSelfCallRejected, proto.CodeTargetNotFound,
		proto.CodeAlreadyPaired, proto.CodeStaleAnswer:
		return true
	}
	return false
}

// handleMedia applies one media session event.
func (p *Participant) handleMedia(e call.Event) {
	c := p.cur
	switch e.Kind {
	case call.EventCandidate:
		if c.linked {
			_ = p.send(proto.Message{Type: proto.TypeCandidate, Candidate: e.Candidate})
		} else {
			c.pendingLocal = append(c.pendingLocal, e.Candidate)
		}

	case call.EventState:
		p.active.Store(e.State == call.StateConnected)
		if c.states != nil {
			select {
			case c.states <- e.State:
			case <-p.runCtx.Done():
			}
		}
		p.emit(Event{Kind: EventMedia, Peer: c.peer, State: e.State})

	case call.EventStream:
		p.emit(Event{Kind: EventStream, Peer: c.peer, Stream: e.Stream})

	case call.EventNotice:
		p.emit(Event{Kind: EventNotice, Peer: c.peer, Text: e.Notice})
	}
}
