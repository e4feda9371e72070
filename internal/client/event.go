package client

import (
	"github.com/petervdpas/parley/internal/call"
	"github.com/petervdpas/parley/internal/proto"
)

// EventKind tags an Event.
type EventKind string

const (
	EventOnline        EventKind = "online"
	EventOffline       EventKind = "offline"
	EventIncoming      EventKind = "incoming"
	EventRinging       EventKind = "ringing"
	EventLinked        EventKind = "linked"
	EventRejected      EventKind = "rejected"
	EventEnded         EventKind = "ended"
	EventMedia         EventKind = "media"
	EventStream        EventKind = "stream"
	EventNotice        EventKind = "notice"
	EventTranslation   EventKind = "translation"
	EventError         EventKind = "error"
	EventPartnerSilent EventKind = "partner-silent"
)

// Event is one thing the participant wants its user to know about.
type Event struct {
	Kind EventKind
	// Peer is the other session, or our own id for EventOnline.
	Peer    string
	Name    string
	State   call.State
	Stream  call.StreamInfo
	Text    string
	Message proto.Message
	Err     error
}
