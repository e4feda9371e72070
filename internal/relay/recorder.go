package relay

import "github.com/petervdpas/parley/internal/proto"

// EventKind names a call lifecycle event worth recording.
type EventKind string

const (
	EventInvite       EventKind = "invite"
	EventAccepted     EventKind = "accepted"
	EventRejected     EventKind = "rejected"
	EventEnded        EventKind = "ended"
	EventCancelled    EventKind = "cancelled"
	EventDisconnected EventKind = "disconnected"
)

// CallEvent is one call lifecycle record. Payloads (offers, candidates,
// transcripts) are never part of it.
type CallEvent struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	PeerID    string    `json:"peer_id,omitempty"`
	FromLang  string    `json:"from_lang,omitempty"`
	ToLang    string    `json:"to_lang,omitempty"`
	TS        int64     `json:"ts"`
}

// Recorder is the persistence collaborator for call events. Record must not
// block the caller for long; implementations write asynchronously if needed.
type Recorder interface {
	Record(ev CallEvent)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) Record(CallEvent) {}

func stamp(ev CallEvent) CallEvent {
	if ev.TS == 0 {
		ev.TS = proto.NowMillis()
	}
	return ev
}
