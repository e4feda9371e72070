package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// pliInterval is how often a keyframe is requested on remote video.
const pliInterval = 3 * time.Second

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("media session closed")

// Session is one negotiated media connection to the partner.
type Session struct {
	id      string
	pc      *webrtc.PeerConnection
	release func()
	events  chan Event
	done    chan struct{}
	streams *streamTracker

	mu            sync.Mutex
	state         State
	remoteSet     bool
	pendingRemote []webrtc.ICECandidateInit
	closed        bool
	stats         map[string]*TrackStats
	wg            sync.WaitGroup

	// emitMu keeps pion callbacks from sending on events after it closes.
	emitMu     sync.RWMutex
	eventsDone bool
}

// New opens local media per opts and creates the peer connection. The
// caller must drain Events until Close.
func New(opts Options) (*Session, error) {
	api, attach, err := openMedia(opts.ID, opts.Capture, opts.PionLevel)
	if err != nil {
		return nil, fmt.Errorf("media setup: %w", err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(opts.ICEServers)})
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}

	s := &Session{
		id:      opts.ID,
		pc:      pc,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		streams: newStreamTracker(),
		state:   StateNew,
		stats:   make(map[string]*TrackStats),
	}

	pc.OnICECandidate(s.onCandidate)
	pc.OnConnectionStateChange(s.onConnectionState)
	pc.OnTrack(s.onTrack)

	release, notice := attach(pc)
	s.release = release
	if notice != "" {
		log.Printf("CALL [%s]: %s", s.id, notice)
		s.emit(Event{Kind: EventNotice, Notice: notice})
	}
	return s, nil
}

// Events delivers state changes, local candidates, remote streams and
// notices in the order they happened. Closed after Close.
func (s *Session) Events() <-chan Event { return s.events }

// State is the latest connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) emit(e Event) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.eventsDone {
		return
	}
	select {
	case <-s.done:
	case s.events <- e:
	}
}

func (s *Session) onCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(c.ToJSON())
	if err != nil {
		log.Printf("CALL [%s]: candidate encode: %v", s.id, err)
		return
	}
	s.emit(Event{Kind: EventCandidate, Candidate: raw})
}

func (s *Session) onConnectionState(pcs webrtc.PeerConnectionState) {
	var st State
	switch pcs {
	case webrtc.PeerConnectionStateNew:
		st = StateNew
	case webrtc.PeerConnectionStateConnecting:
		st = StateConnecting
	case webrtc.PeerConnectionStateConnected:
		st = StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		st = StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		st = StateFailed
	case webrtc.PeerConnectionStateClosed:
		st = StateClosed
	default:
		return
	}
	s.setState(st)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	log.Printf("CALL [%s]: connection %s", s.id, st)
	s.emit(Event{Kind: EventState, State: st})
}

func (s *Session) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := track.Kind().String()
	info, ok := s.streams.add(track.StreamID(), kind)
	if ok {
		log.Printf("CALL [%s]: remote stream %s now has %v", s.id, info.ID, info.Kinds)
		s.emit(Event{Kind: EventStream, Stream: info})
	}

	st := &TrackStats{StreamID: track.StreamID(), Kind: kind}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stats[track.ID()] = st
	s.wg.Add(1)
	s.mu.Unlock()

	go s.readTrack(track, st)
}

// readTrack drains a remote track, counting what arrives. Remote video gets
// periodic keyframe requests so a late or recovering decoder can start.
func (s *Session) readTrack(track *webrtc.TrackRemote, st *TrackStats) {
	defer s.wg.Done()

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go func() {
			t := time.NewTicker(pliInterval)
			defer t.Stop()
			for {
				select {
				case <-s.done:
					return
				case <-t.C:
					pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
					if err := s.pc.WriteRTCP(pli); err != nil {
						return
					}
				}
			}
		}()
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.mu.Lock()
		st.count(pkt)
		s.mu.Unlock()
	}
}

// Stats snapshots the receive counters of every remote track.
func (s *Session) Stats() []TrackStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrackStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	return out
}

// Offer creates and applies a local offer.
func (s *Session) Offer() (json.RawMessage, error) {
	return s.offer(nil)
}

// RestartOffer creates an offer with fresh ICE credentials, used to recover
// a disconnected path without tearing down the call.
func (s *Session) RestartOffer() (json.RawMessage, error) {
	return s.offer(&webrtc.OfferOptions{ICERestart: true})
}

func (s *Session) offer(opts *webrtc.OfferOptions) (json.RawMessage, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	offer, err := s.pc.CreateOffer(opts)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return json.Marshal(s.pc.LocalDescription())
}

// Answer applies a remote offer and returns the local answer.
func (s *Session) Answer(offer json.RawMessage) (json.RawMessage, error) {
	if err := s.setRemote(offer, webrtc.SDPTypeOffer); err != nil {
		return nil, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return json.Marshal(s.pc.LocalDescription())
}

// Accept applies the partner's answer to our offer.
func (s *Session) Accept(answer json.RawMessage) error {
	return s.setRemote(answer, webrtc.SDPTypeAnswer)
}

// Renegotiate handles a description from a mid-call renegotiation. An offer
// yields the answer to send back; an answer is applied and yields nil.
func (s *Session) Renegotiate(raw json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("bad description: %w", err)
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		return s.Answer(raw)
	case webrtc.SDPTypeAnswer:
		return nil, s.Accept(raw)
	}
	return nil, fmt.Errorf("unexpected description type %s", desc.Type)
}

func (s *Session) setRemote(raw json.RawMessage, want webrtc.SDPType) error {
	if s.isClosed() {
		return ErrClosed
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("bad description: %w", err)
	}
	if desc.Type != want {
		return fmt.Errorf("expected %s, got %s", want, desc.Type)
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", want, err)
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pendingRemote
	s.pendingRemote = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			log.Printf("CALL [%s]: buffered candidate rejected: %v", s.id, err)
		}
	}
	return nil
}

// AddCandidate applies a partner candidate. Candidates that arrive before
// the remote description are held and applied once it is set.
func (s *Session) AddCandidate(raw json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("bad candidate: %w", err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.remoteSet {
		s.pendingRemote = append(s.pendingRemote, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.pc.AddICECandidate(c)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases devices and the connection. The closed state is emitted
// once, then Events is closed. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.pc.Close()
	if s.release != nil {
		s.release()
	}
	s.setState(StateClosed)

	close(s.done)
	s.wg.Wait()
	s.emitMu.Lock()
	s.eventsDone = true
	close(s.events)
	s.emitMu.Unlock()
	return err
}
