package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petervdpas/parley/internal/call"
	"github.com/petervdpas/parley/internal/client"
	"github.com/petervdpas/parley/internal/config"
	"github.com/petervdpas/parley/internal/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildChain(t *testing.T) {
	cfg := config.Default().Translation
	cfg.Primary = config.Engine{Kind: "stub"}
	cfg.Fallback = config.Engine{}

	c, err := BuildChain(cfg)
	require.NoError(t, err)
	require.NotNil(t, c.Primary)
	assert.Nil(t, c.Fallback)
	assert.IsType(t, &translate.Cached{}, c.Primary)

	out, outcome, err := c.Translate(context.Background(), "hello", "en", "ur")
	require.NoError(t, err)
	assert.Equal(t, translate.OutcomePrimary, outcome)
	assert.Equal(t, "[ur] hello", out)

	cfg.CacheSize = 0
	c, err = BuildChain(cfg)
	require.NoError(t, err)
	assert.IsType(t, &translate.StubEngine{}, c.Primary)

	cfg.Fallback = config.Engine{Kind: "bogus"}
	_, err = BuildChain(cfg)
	assert.ErrorContains(t, err, "fallback")
}

func TestParticipantConfig(t *testing.T) {
	c := config.Default().Client
	c.Name = "Ana"
	c.HeartbeatSec = 3
	c.ReconnectBaseMs = 250

	pc := ParticipantConfig(c)
	assert.Equal(t, "Ana", pc.Name)
	assert.Equal(t, c.RelayURL, pc.RelayURL)
	assert.Equal(t, 3*time.Second, pc.Heartbeat)
	assert.Equal(t, 250*time.Millisecond, pc.ReconnectBase)
	assert.Equal(t, c.MaxReconnectAttempts, pc.MaxReconnect)
}

func TestParseCommand(t *testing.T) {
	cmd, ok := parseCommand("  /CALL   abc  ")
	require.True(t, ok)
	assert.Equal(t, command{name: "call", arg: "abc"}, cmd)

	cmd, ok = parseCommand("/end")
	require.True(t, ok)
	assert.Equal(t, "end", cmd.name)
	assert.Empty(t, cmd.arg)

	_, ok = parseCommand("good morning / evening")
	assert.False(t, ok)
}

type fakeParticipant struct {
	mu    sync.Mutex
	calls []string
	err   error
	stats []call.TrackStats
}

func (f *fakeParticipant) record(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	return f.err
}

func (f *fakeParticipant) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeParticipant) ID() string                             { return "me" }
func (f *fakeParticipant) Call(_ context.Context, t string) error { return f.record("call " + t) }
func (f *fakeParticipant) Accept(context.Context) error           { return f.record("accept") }
func (f *fakeParticipant) Reject(context.Context) error           { return f.record("reject") }
func (f *fakeParticipant) Hangup(context.Context) error           { return f.record("hangup") }

func (f *fakeParticipant) Stats(context.Context) ([]call.TrackStats, error) {
	return f.stats, f.record("stats")
}

func TestConsoleRead(t *testing.T) {
	fp := &fakeParticipant{}
	var out, spoken bytes.Buffer
	quit := false
	c := &console{p: fp, out: &out, speech: &spoken, quit: func() { quit = true }}

	in := strings.NewReader("/call xyz\nhello there\n/answer\n/reject\n/end\n/id\n/call\n/nope\n/quit\nnot read\n")
	c.read(context.Background(), in)

	assert.Equal(t, []string{"call xyz", "accept", "reject", "hangup"}, fp.got())
	assert.Equal(t, "hello there\n", spoken.String())
	assert.True(t, quit)
	assert.Contains(t, out.String(), "* id me")
	assert.Contains(t, out.String(), "usage: /call <id>")
	assert.Contains(t, out.String(), "unknown command /nope")
}

func TestConsoleReportsCommandErrors(t *testing.T) {
	fp := &fakeParticipant{err: client.ErrOffline}
	var out bytes.Buffer
	c := &console{p: fp, out: &out}

	c.read(context.Background(), strings.NewReader("/end\n"))
	assert.Contains(t, out.String(), "! /end: "+client.ErrOffline.Error())
}

func TestConsoleStats(t *testing.T) {
	fp := &fakeParticipant{stats: []call.TrackStats{{StreamID: "s1", Kind: "audio", Packets: 10, Bytes: 1600, Lost: 2}}}
	var out bytes.Buffer
	c := &console{p: fp, out: &out}

	c.read(context.Background(), strings.NewReader("/stats\n"))
	assert.Equal(t, []string{"stats"}, fp.got())
	assert.Contains(t, out.String(), "* audio s1: 10 packets, 1600 bytes, 2 lost")

	out.Reset()
	fp.stats = nil
	c.read(context.Background(), strings.NewReader("/stats\n"))
	assert.Contains(t, out.String(), "* no media received yet")

	out.Reset()
	fp.err = client.ErrOffline
	c.read(context.Background(), strings.NewReader("/stats\n"))
	assert.Contains(t, out.String(), "! /stats: "+client.ErrOffline.Error())
	assert.NotContains(t, out.String(), "no media")
}

type countClear struct{ n atomic.Int32 }

func (c *countClear) Clear() { c.n.Add(1) }

func TestConsolePrintCallsTargetOnce(t *testing.T) {
	fp := &fakeParticipant{}
	var out bytes.Buffer
	c := &console{p: fp, out: &out}
	q := &countClear{}

	events := make(chan client.Event, 8)
	events <- client.Event{Kind: client.EventOnline, Peer: "me"}
	events <- client.Event{Kind: client.EventOffline, Err: errors.New("lost")}
	events <- client.Event{Kind: client.EventOnline, Peer: "me"}
	events <- client.Event{Kind: client.EventTranslation, Peer: "bob", Text: "hola"}
	events <- client.Event{Kind: client.EventEnded, Peer: "bob"}
	close(events)

	c.print(context.Background(), events, q, "bob")

	require.Eventually(t, func() bool { return len(fp.got()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"call bob"}, fp.got())
	assert.Equal(t, int32(2), q.n.Load())

	c.mu.Lock()
	text := out.String()
	c.mu.Unlock()
	assert.Contains(t, text, "* online as me")
	assert.Contains(t, text, "* offline: lost")
	assert.Contains(t, text, "> [bob] hola")
}

func TestFormatEvent(t *testing.T) {
	assert.Equal(t, "* incoming call from Ana (a1), /answer or /reject",
		formatEvent(client.Event{Kind: client.EventIncoming, Peer: "a1", Name: "Ana"}))
	assert.Equal(t, "* call ended", formatEvent(client.Event{Kind: client.EventEnded}))
	assert.Equal(t, "* no heartbeat from b2", formatEvent(client.Event{Kind: client.EventPartnerSilent, Peer: "b2"}))
}

type fakePruner struct{ n atomic.Int32 }

func (f *fakePruner) Prune(before time.Time) (int64, error) {
	f.n.Add(1)
	return 0, nil
}

func TestPruneLoop(t *testing.T) {
	p := &fakePruner{}
	pruneLoop(context.Background(), p, 0)
	assert.Equal(t, int32(0), p.n.Load())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pruneLoop(ctx, p, 7)
		close(done)
	}()
	require.Eventually(t, func() bool { return p.n.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRunRelay(t *testing.T) {
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	cfg := config.Default()
	cfg.Relay.Port = 0
	cfg.Relay.CallLogPath = "data/calls.db"
	cfg.Relay.AdminPassword = "secret"
	cfg.Translation.Primary = config.Engine{Kind: "stub"}

	dir := t.TempDir()

	ready := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunRelay(ctx, Options{Dir: dir, Cfg: cfg, Ready: func(u string) { ready <- u }})
	}()

	var base string
	select {
	case base = <-ready:
	case err := <-done:
		t.Fatalf("relay stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not start")
	}

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	req, _ := http.NewRequest(http.MethodGet, base+"/calls.json", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
	_, err = os.Stat(dir + "/data/calls.db")
	assert.NoError(t, err)
}
