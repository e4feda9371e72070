package relay

import (
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry maps ephemeral connection ids to sessions. It is the single owner
// of the session map; other components reach sessions only through it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// teardown runs on unregister while the session is still reachable by id,
	// so the partner can be found and notified.
	teardown func(*Session)
	newID    func() string
}

// NewRegistry creates an empty registry. teardown may be nil.
func NewRegistry(teardown func(*Session)) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		teardown: teardown,
		newID:    uuid.NewString,
	}
}

// Register creates a session with a fresh id, empty pairing and the default
// (empty) language pair.
func (r *Registry) Register(out Outbox) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = r.newID()
	}
	s := newSession(id, out)
	r.sessions[id] = s
	log.Printf("RELAY: session %s registered (%d live)", id, len(r.sessions))
	return s
}

// Unregister tears down and removes a session. Returns false when the id is
// unknown or already being removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || !s.gone.CompareAndSwap(false, true) {
		return false
	}

	if r.teardown != nil {
		r.teardown(s)
	}

	r.mu.Lock()
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	log.Printf("RELAY: session %s unregistered (%d live)", id, n)
	return true
}

// Lookup returns a live session. Sessions mid-teardown are not returned.
func (r *Registry) Lookup(id string) (*Session, bool) {
	s := r.get(id)
	if s == nil || s.gone.Load() {
		return nil, false
	}
	return s, true
}

// get returns the session even while it is being torn down.
func (r *Registry) get(id string) *Session {
	if id == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns info for every session, oldest first.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
