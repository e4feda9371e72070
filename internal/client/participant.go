// Package client is the participant side of a call: it keeps a signaling
// connection to the relay, drives a media session through invite, answer
// and teardown, streams recognized speech for translation and speaks the
// partner's translated lines.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/petervdpas/parley/internal/call"
	"github.com/petervdpas/parley/internal/proto"
	"github.com/petervdpas/parley/internal/util"
)

// silentBeats is how many heartbeat intervals may pass without hearing from
// the partner before a liveness warning.
const silentBeats = 3

// ErrOffline is returned by commands while no relay connection is up.
var ErrOffline = errors.New("not connected to relay")

var errMediaClosed = errors.New("media session closed")

// MediaSession is the part of call.Session the participant drives. Events
// must be closed after Close.
type MediaSession interface {
	Events() <-chan call.Event
	Offer() (json.RawMessage, error)
	RestartOffer() (json.RawMessage, error)
	Answer(offer json.RawMessage) (json.RawMessage, error)
	Accept(answer json.RawMessage) error
	Renegotiate(desc json.RawMessage) (json.RawMessage, error)
	AddCandidate(c json.RawMessage) error
	Stats() []call.TrackStats
	Close() error
}

// MediaFactory opens a media session for a call. id labels its logs.
type MediaFactory func(id string) (MediaSession, error)

// Speaker voices the partner's translated lines.
type Speaker interface {
	Say(ctx context.Context, text string) (string, error)
}

// Config is the participant's identity and timing.
type Config struct {
	RelayURL      string
	Name          string
	FromLang      string
	ToLang        string
	AutoAnswer    bool
	Heartbeat     time.Duration
	MaxReconnect  int
	ReconnectBase time.Duration
}

type activeCall struct {
	peer     string
	name     string
	peerLang string
	linked   bool
	media    MediaSession

	pendingLocal []json.RawMessage

	states   chan call.State
	cancel   context.CancelFunc
	supDone  chan error
	lastBeat time.Time
	silent   bool
}

// Participant runs one person's side of calls. All call state is owned by
// the goroutine inside Run; the exported methods hand work to it.
type Participant struct {
	cfg      Config
	newMedia MediaFactory
	speaker  Speaker

	events chan Event
	cmds   chan func()

	conn     atomic.Pointer[Conn]
	active   atomic.Bool
	peerLang atomic.Value

	// owned by the Run goroutine
	runCtx   context.Context
	cur      *activeCall
	incoming *proto.Message
}

// NewParticipant builds a participant. speaker may be nil.
func NewParticipant(cfg Config, media MediaFactory, speaker Speaker) *Participant {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 5 * time.Second
	}
	return &Participant{
		cfg:      cfg,
		newMedia: media,
		speaker:  speaker,
		events:   make(chan Event, 256),
		cmds:     make(chan func()),
	}
}

// Events delivers what happens to the participant, in order. Closed when
// Run returns.
func (p *Participant) Events() <-chan Event { return p.events }

// ID is the current relay session id, empty while offline.
func (p *Participant) ID() string {
	if c := p.conn.Load(); c != nil {
		return c.ID()
	}
	return ""
}

// InCall reports whether the media path of a call is connected.
func (p *Participant) InCall() bool { return p.active.Load() }

func (p *Participant) emit(e Event) {
	select {
	case p.events <- e:
	default:
		log.Printf("CLIENT: %s event dropped, consumer is slow", e.Kind)
	}
}

// Run keeps a relay connection up until ctx ends. A lost connection is
// redialled with backoff; a kick from the relay ends Run with ErrKicked.
func (p *Participant) Run(ctx context.Context) error {
	defer close(p.events)
	p.runCtx = ctx
	rc := util.NewReconnector(p.cfg.MaxReconnect, p.cfg.ReconnectBase)

	for {
		conn, err := Dial(ctx, p.cfg.RelayURL)
		if err == nil {
			rc.Reset()
			err = p.serve(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrKicked) {
				log.Printf("CLIENT: disconnected by relay, not reconnecting")
				p.emit(Event{Kind: EventOffline, Err: err})
				return err
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		d, ok := rc.Next()
		if !ok {
			err = fmt.Errorf("relay unreachable after %d attempts: %w", rc.Attempt(), proto.ErrTransportFailure)
			p.emit(Event{Kind: EventOffline, Err: err})
			return err
		}
		log.Printf("CLIENT: relay connection lost (%v), retry %d in %s", err, rc.Attempt(), d)
		p.emit(Event{Kind: EventOffline, Err: err})
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
	}
}

func (p *Participant) serve(ctx context.Context, conn *Conn) error {
	p.conn.Store(conn)
	defer p.conn.Store(nil)
	log.Printf("CLIENT: online as %s", conn.ID())
	p.emit(Event{Kind: EventOnline, Peer: conn.ID()})

	hb := time.NewTicker(p.cfg.Heartbeat)
	defer hb.Stop()

	for {
		var media <-chan call.Event
		var supDone <-chan error
		if p.cur != nil {
			media = p.cur.media.Events()
			supDone = p.cur.supDone
		}

		select {
		case <-ctx.Done():
			if p.cur != nil || p.incoming != nil {
				_ = conn.Send(proto.Message{Type: proto.TypeEnd})
			}
			p.dropCall(nil)
			return ctx.Err()

		case m, ok := <-conn.Messages():
			if !ok {
				err := conn.Err()
				p.dropCall(fmt.Errorf("relay connection lost: %w", proto.ErrTransportFailure))
				return err
			}
			p.handle(ctx, m)

		case e, ok := <-media:
			if !ok {
				_ = conn.Send(proto.Message{Type: proto.TypeEnd})
				p.dropCall(errMediaClosed)
				continue
			}
			p.handleMedia(e)

		case err := <-supDone:
			p.lost(err)

		case fn := <-p.cmds:
			fn()

		case <-hb.C:
			p.beat()
		}
	}
}

// do runs fn on the Run goroutine and returns its error.
func (p *Participant) do(ctx context.Context, fn func() error) error {
	if p.conn.Load() == nil {
		return ErrOffline
	}
	res := make(chan error, 1)
	select {
	case p.cmds <- func() { res <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Participant) send(m proto.Message) error {
	c := p.conn.Load()
	if c == nil {
		return ErrOffline
	}
	return c.Send(m)
}

// Call invites target.
func (p *Participant) Call(ctx context.Context, target string) error {
	return p.do(ctx, func() error {
		if p.cur != nil || p.incoming != nil {
			return proto.ErrAlreadyPaired
		}
		media, err := p.newMedia(p.ID())
		if err != nil {
			return fmt.Errorf("media: %w", err)
		}
		offer, err := media.Offer()
		if err != nil {
			closeMedia(media)
			return fmt.Errorf("offer: %w", err)
		}
		p.cur = &activeCall{peer: target, peerLang: p.cfg.ToLang, media: media}
		err = p.send(proto.Message{
			Type:     proto.TypeInvite,
			TargetID: target,
			Offer:    offer,
			Name:     p.displayName(),
			FromLang: p.cfg.FromLang,
			ToLang:   p.cfg.ToLang,
		})
		if err != nil {
			p.dropCall(nil)
			return err
		}
		log.Printf("CLIENT: calling %s", target)
		p.emit(Event{Kind: EventRinging, Peer: target})
		return nil
	})
}

// displayName is what the callee is shown. Without a configured name the
// session id stands in, since the relay requires one on every invite.
func (p *Participant) displayName() string {
	if name := strings.TrimSpace(p.cfg.Name); name != "" {
		return name
	}
	return p.ID()
}

// Accept answers the pending incoming call.
func (p *Participant) Accept(ctx context.Context) error {
	return p.do(ctx, p.accept)
}

func (p *Participant) accept() error {
	if p.incoming == nil {
		return proto.ErrNotInCall
	}
	inv := *p.incoming
	p.incoming = nil

	media, err := p.newMedia(p.ID())
	if err != nil {
		_ = p.send(proto.Message{Type: proto.TypeReject, TargetID: inv.From})
		return fmt.Errorf("media: %w", err)
	}
	answer, err := media.Answer(inv.Signal)
	if err != nil {
		closeMedia(media)
		_ = p.send(proto.Message{Type: proto.TypeReject, TargetID: inv.From})
		return fmt.Errorf("answer: %w", err)
	}

	lang := inv.FromLang
	if lang == "" {
		lang = p.cfg.ToLang
	}
	p.cur = &activeCall{peer: inv.From, name: inv.Name, peerLang: lang, media: media}
	if err := p.send(proto.Message{Type: proto.TypeAnswer, TargetID: inv.From, Answer: answer}); err != nil {
		p.dropCall(nil)
		return err
	}
	p.link()
	return nil
}

// Reject declines the pending incoming call.
func (p *Participant) Reject(ctx context.Context) error {
	return p.do(ctx, func() error {
		if p.incoming == nil {
			return proto.ErrNotInCall
		}
		from := p.incoming.From
		p.incoming = nil
		log.Printf("CLIENT: rejecting call from %s", from)
		return p.send(proto.Message{Type: proto.TypeReject, TargetID: from})
	})
}

// Hangup ends the current or pending call. Without one it does nothing.
func (p *Participant) Hangup(ctx context.Context) error {
	return p.do(ctx, func() error {
		if p.cur == nil && p.incoming == nil {
			return nil
		}
		err := p.send(proto.Message{Type: proto.TypeEnd})
		p.dropCall(nil)
		return err
	})
}

// Stats reports per-track receive counters for the current call.
func (p *Participant) Stats(ctx context.Context) ([]call.TrackStats, error) {
	var out []call.TrackStats
	err := p.do(ctx, func() error {
		if p.cur == nil || p.cur.media == nil {
			return proto.ErrNotInCall
		}
		out = p.cur.media.Stats()
		return nil
	})
	return out, err
}

// SubmitTranscript sends recognized speech for translation. It is refused
// unless the call's media path is connected.
func (p *Participant) SubmitTranscript(ctx context.Context, text string, interim bool) error {
	if !p.active.Load() {
		return proto.ErrNotInCall
	}
	lang, _ := p.peerLang.Load().(string)
	if lang == "" {
		lang = p.cfg.ToLang
	}
	return p.send(proto.Message{
		Type:      proto.TypeTranslate,
		Text:      text,
		FromLang:  p.cfg.FromLang,
		ToLang:    lang,
		IsInterim: interim,
	})
}

// link marks the call established with the relay and starts supervising
// the media path.
func (p *Participant) link() {
	c := p.cur
	c.linked = true
	c.lastBeat = time.Now()
	p.peerLang.Store(c.peerLang)

	for _, cand := range c.pendingLocal {
		_ = p.send(proto.Message{Type: proto.TypeCandidate, Candidate: cand})
	}
	c.pendingLocal = nil

	ctx, cancel := context.WithCancel(p.runCtx)
	c.cancel = cancel
	c.states = make(chan call.State, 16)
	c.supDone = make(chan error, 1)
	media := c.media
	sv := call.NewSupervisor(p.ID(), p.cfg.MaxReconnect, p.cfg.ReconnectBase, func(context.Context) error {
		offer, err := media.RestartOffer()
		if err != nil {
			return err
		}
		return p.send(proto.Message{Type: proto.TypeRenegotiate, Signal: offer})
	})
	go func() { c.supDone <- sv.Run(ctx, c.states) }()

	log.Printf("CLIENT: in call with %s", c.peer)
	p.emit(Event{Kind: EventLinked, Peer: c.peer, Name: c.name})
}

// dropCall tears down local call state without telling the relay. A
// non-nil reason is reported with the ended event.
func (p *Participant) dropCall(reason error) {
	if p.incoming != nil {
		p.emit(Event{Kind: EventEnded, Peer: p.incoming.From, Err: reason})
		p.incoming = nil
	}
	c := p.cur
	if c == nil {
		return
	}
	p.cur = nil
	p.active.Store(false)
	if c.cancel != nil {
		c.cancel()
	}
	closeMedia(c.media)
	log.Printf("CLIENT: call with %s over", c.peer)
	p.emit(Event{Kind: EventEnded, Peer: c.peer, Err: reason})
}

// lost handles the supervisor giving up on the media path.
func (p *Participant) lost(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	log.Printf("CLIENT: call lost: %v", err)
	_ = p.send(proto.Message{Type: proto.TypeEnd})
	p.dropCall(err)
}

func (p *Participant) beat() {
	c := p.cur
	if c == nil || !c.linked {
		return
	}
	_ = p.send(proto.Message{Type: proto.TypeHeartbeat})
	quiet := time.Since(c.lastBeat)
	if !c.silent && quiet > silentBeats*p.cfg.Heartbeat {
		c.silent = true
		log.Printf("CLIENT: no heartbeat from %s for %s", c.peer, quiet.Round(time.Second))
		p.emit(Event{Kind: EventPartnerSilent, Peer: c.peer})
	}
}

// closeMedia closes m while draining its events so a full event buffer
// cannot block the close.
func closeMedia(m MediaSession) {
	done := make(chan struct{})
	go func() {
		_ = m.Close()
		close(done)
	}()
	for range m.Events() {
	}
	<-done
}
