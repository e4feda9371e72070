// Package call owns the participant's media session: local capture, the
// negotiated pion PeerConnection and its state, remote stream tracking and
// bounded ICE-restart supervision. It knows nothing about the relay; the
// caller moves descriptions and candidates over whatever signaling it has.
package call

import "encoding/json"

// State is the transport connection state surfaced to the caller.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Capture selects which local devices a session tries to open.
type Capture int

const (
	CaptureNone Capture = iota
	CaptureAudio
	CaptureAudioVideo
)

// EventKind tags an Event.
type EventKind int

const (
	EventState EventKind = iota
	EventCandidate
	EventStream
	EventNotice
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventCandidate:
		return "candidate"
	case EventStream:
		return "stream"
	case EventNotice:
		return "notice"
	}
	return "unknown"
}

// Event is one observation from a session, delivered in order on
// Session.Events. Only the field matching Kind is set.
type Event struct {
	Kind      EventKind
	State     State
	Candidate json.RawMessage
	Stream    StreamInfo
	Notice    string
}

// StreamInfo describes a remote stream. Updated is false the first time a
// stream identity is seen and true when a later track joins it.
type StreamInfo struct {
	ID      string
	Kinds   []string
	Updated bool
}

// TrackStats counts RTP received on one remote track.
type TrackStats struct {
	StreamID string `json:"stream_id"`
	Kind     string `json:"kind"`
	Packets  uint64 `json:"packets"`
	Bytes    uint64 `json:"bytes"`
	LastSeq  uint16 `json:"last_seq"`
	// Lost is estimated from forward sequence gaps; a late packet that
	// fills a gap takes its loss back.
	Lost uint64 `json:"lost"`
}

// Options configures a new Session.
type Options struct {
	// ID labels log lines; usually the local relay session id.
	ID         string
	ICEServers []string
	Capture    Capture
	// PionLevel is the go-log level for pion's internal loggers.
	PionLevel string
}
