package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/petervdpas/parley/internal/proto"
)

// CallState is a session's call state as perceived by that session. ENDED is
// transient: a finished call drops straight back to StateIdle.
type CallState int

const (
	StateIdle CallState = iota
	StateRingingOut
	StateRingingIn
	StateLinked
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRingingOut:
		return "ringing-out"
	case StateRingingIn:
		return "ringing-in"
	case StateLinked:
		return "linked"
	default:
		return "unknown"
	}
}

// LanguagePair holds the source/target tags a participant speaks and hears.
type LanguagePair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Outbox is the delivery side of a live connection. Deliver must not block;
// it returns false when the message could not be queued.
type Outbox interface {
	Deliver(m proto.Message) bool
}

// Session is one live participant connection.
//
// pairedWith is a back-reference to the partner's id, never an ownership
// edge. It is written only by PairingManager while both sessions' locks are
// held; everything else reads it under mu.
type Session struct {
	ID        string
	CreatedAt time.Time

	out  Outbox
	gone atomic.Bool

	mu         sync.Mutex
	pairedWith string
	state      CallState
	ringPeer   string
	langs      LanguagePair
	name       string
	seq        int64
}

func newSession(id string, out Outbox) *Session {
	return &Session{ID: id, CreatedAt: time.Now(), out: out}
}

// deliver sends m to this session's connection. Messages to a session that is
// being torn down are discarded.
func (s *Session) deliver(m proto.Message) bool {
	if s == nil || s.out == nil {
		return false
	}
	return s.out.Deliver(m)
}

func (s *Session) nextSeq() int64 {
	s.mu.Lock()
	s.seq++
	n := s.seq
	s.mu.Unlock()
	return n
}

// SessionInfo is a point-in-time copy of a session for status endpoints.
type SessionInfo struct {
	ID         string       `json:"id"`
	State      string       `json:"state"`
	PairedWith string       `json:"paired_with,omitempty"`
	RingPeer   string       `json:"ring_peer,omitempty"`
	Languages  LanguagePair `json:"languages"`
	Name       string       `json:"name,omitempty"`
	CreatedAt  int64        `json:"created_at"`
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:         s.ID,
		State:      s.state.String(),
		PairedWith: s.pairedWith,
		RingPeer:   s.ringPeer,
		Languages:  s.langs,
		Name:       s.name,
		CreatedAt:  s.CreatedAt.UnixMilli(),
	}
}

// State returns the current call state.
func (s *Session) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PairedWith returns the partner id, or "" when unpaired.
func (s *Session) PairedWith() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairedWith
}
