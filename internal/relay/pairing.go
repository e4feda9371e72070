package relay

import (
	"github.com/petervdpas/parley/internal/proto"
)

// PairingManager is the only component that writes Session.pairedWith.
// Every pair/unpair holds both sessions' locks, taken in id order, so a
// half-paired state is never visible and disjoint pairs never contend.
type PairingManager struct {
	reg *Registry
}

func NewPairingManager(reg *Registry) *PairingManager {
	return &PairingManager{reg: reg}
}

// lockPair locks a and b in a global order. b may be nil or equal to a.
func lockPair(a, b *Session) func() {
	if b == nil || a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if second.ID < first.ID {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Do runs fn with both sessions locked. fn may call pairLocked/unpairLocked
// and read or write call state, nothing else.
func (m *PairingManager) Do(a, b *Session, fn func() error) error {
	unlock := lockPair(a, b)
	defer unlock()
	return fn()
}

// Pair links a and b. Fails with ErrAlreadyPaired when either side already
// has a partner.
func (m *PairingManager) Pair(a, b *Session) error {
	return m.Do(a, b, func() error { return m.pairLocked(a, b) })
}

func (m *PairingManager) pairLocked(a, b *Session) error {
	if a == b {
		return proto.ErrSelfCallRejected
	}
	if a.pairedWith != "" || b.pairedWith != "" {
		return proto.ErrAlreadyPaired
	}
	a.pairedWith = b.ID
	b.pairedWith = a.ID
	a.state, b.state = StateLinked, StateLinked
	a.ringPeer, b.ringPeer = "", ""
	return nil
}

// unpairLocked clears both sides and returns them to idle. b may be nil when
// the partner has already left the registry.
func (m *PairingManager) unpairLocked(a, b *Session) {
	if b != nil && b.pairedWith == a.ID {
		b.pairedWith = ""
		b.state = StateIdle
		b.ringPeer = ""
	}
	a.pairedWith = ""
	a.state = StateIdle
	a.ringPeer = ""
}

// Unpair tears down a's pairing. It returns the former partner's id and true
// when a was paired, so the caller can notify that partner. A partner that no
// longer exists is tolerated: only a's side is cleared.
func (m *PairingManager) Unpair(a *Session) (string, bool) {
	for {
		a.mu.Lock()
		pid := a.pairedWith
		a.mu.Unlock()
		if pid == "" {
			return "", false
		}

		p := m.reg.get(pid)
		unlock := lockPair(a, p)
		if a.pairedWith != pid {
			// Raced with another unpair; re-read.
			unlock()
			continue
		}
		m.unpairLocked(a, p)
		unlock()
		return pid, true
	}
}

// Partner returns a's partner when a is linked and the partner still exists.
// A dangling back-reference is cleared on the way.
func (m *PairingManager) Partner(a *Session) (*Session, bool) {
	a.mu.Lock()
	pid, state := a.pairedWith, a.state
	a.mu.Unlock()
	if state != StateLinked || pid == "" {
		return nil, false
	}
	p, ok := m.reg.Lookup(pid)
	if !ok {
		if m.reg.get(pid) == nil {
			m.Unpair(a)
		}
		return nil, false
	}
	return p, true
}
