// Package proto defines the control-plane wire format spoken between the relay
// and call participants. Every frame is one JSON object tagged by "type".
package proto

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Participant → relay.
const (
	TypeInvite      = "invite"
	TypeAnswer      = "answer"
	TypeReject      = "reject"
	TypeEnd         = "end"
	TypeTranslate   = "translate"
	TypeRenegotiate = "renegotiate"
)

// Relay → participant.
const (
	TypeWelcome      = "welcome"
	TypeIncomingCall = "incoming-call"
	TypeCallAccepted = "call-accepted"
	TypeCallRejected = "call-rejected"
	TypeCallEnded    = "call-ended"
	TypeTranslation  = "translation"
	TypeError        = "error"
)

// Both directions.
const (
	TypeCandidate = "candidate"
	TypeHeartbeat = "heartbeat"
)

// CloseKicked is the websocket close code the relay uses for a
// server-initiated disconnect. Clients must not reconnect after it.
const CloseKicked = 4000

// Message is the single envelope for every control-plane frame. Only the
// fields relevant to Type are populated.
type Message struct {
	Type string `json:"type"`

	// Invite / Answer / Reject
	TargetID string          `json:"targetId,omitempty"`
	Offer    json.RawMessage `json:"offer,omitempty"`
	Answer   json.RawMessage `json:"answer,omitempty"`

	// IncomingCall / Heartbeat / Welcome
	From   string          `json:"from,omitempty"`
	Name   string          `json:"name,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
	ID     string          `json:"id,omitempty"`

	// Invite / IncomingCall / Translate / Translation
	FromLang string `json:"fromLang,omitempty"`
	ToLang   string `json:"toLang,omitempty"`

	// Candidate
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// Translate
	Text      string `json:"text,omitempty"`
	IsInterim bool   `json:"isInterim,omitempty"`

	// Translation
	Original   string `json:"original,omitempty"`
	Translated string `json:"translated,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	Seq        int64  `json:"seq,omitempty"`

	// Error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Decode parses one frame. Unknown fields are ignored.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, &Error{Code: CodeInvalidMessage, Message: "bad json: " + err.Error()}
	}
	return m, nil
}

// Encode serializes one frame.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Validate checks that an inbound participant frame carries the fields its
// type requires. It never inspects relay state.
func (m Message) Validate() error {
	switch m.Type {
	case TypeInvite:
		if blank(m.TargetID) || emptyRaw(m.Offer) || blank(m.Name) || blank(m.FromLang) || blank(m.ToLang) {
			return invalid("invite requires targetId, offer, name, fromLang and toLang")
		}
	case TypeAnswer:
		if blank(m.TargetID) || emptyRaw(m.Answer) {
			return invalid("answer requires targetId and answer")
		}
	case TypeReject:
		if blank(m.TargetID) {
			return invalid("reject requires targetId")
		}
	case TypeCandidate:
		if emptyRaw(m.Candidate) {
			return invalid("candidate requires candidate")
		}
	case TypeRenegotiate:
		if emptyRaw(m.Signal) {
			return invalid("renegotiate requires signal")
		}
	case TypeTranslate:
		if blank(m.FromLang) || blank(m.ToLang) {
			return invalid("translate requires fromLang and toLang")
		}
	case TypeEnd, TypeHeartbeat:
	case "":
		return invalid("missing type")
	default:
		return invalid("unknown type " + m.Type)
	}
	return nil
}

// ErrorMessage builds the sender-only error frame for err.
func ErrorMessage(err error) Message {
	var pe *Error
	if errors.As(err, &pe) {
		return Message{Type: TypeError, Code: string(pe.Code), Message: pe.Message}
	}
	return Message{Type: TypeError, Message: err.Error()}
}

func NowMillis() int64 { return time.Now().UnixMilli() }

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func emptyRaw(r json.RawMessage) bool {
	s := strings.TrimSpace(string(r))
	return s == "" || s == "null" || s == `""` || s == "{}"
}

func invalid(msg string) error {
	return &Error{Code: CodeInvalidMessage, Message: msg}
}
