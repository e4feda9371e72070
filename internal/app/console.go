package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/petervdpas/parley/internal/call"
	"github.com/petervdpas/parley/internal/client"
)

const consoleHelp = `commands:
  /call <id>   invite a participant
  /answer      accept the ringing call
  /reject      decline the ringing call
  /end         hang up
  /stats       show receive counters for the call
  /id          show this participant's session id
  /quit        leave
anything else is spoken into the call`

// participant is what the console drives.
type participant interface {
	ID() string
	Call(ctx context.Context, target string) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	Hangup(ctx context.Context) error
	Stats(ctx context.Context) ([]call.TrackStats, error)
}

// console turns input lines into participant commands and the event feed
// into text.
type console struct {
	p      participant
	out    io.Writer
	speech io.Writer
	quit   func()

	mu sync.Mutex
}

type command struct {
	name string
	arg  string
}

// parseCommand splits a "/name arg" line. ok is false for speech.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, false
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) read(ctx context.Context, in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := sc.Text()
		cmd, ok := parseCommand(line)
		if !ok {
			if c.speech != nil {
				if _, err := io.WriteString(c.speech, line+"\n"); err != nil {
					return
				}
			}
			continue
		}
		if !c.exec(ctx, cmd) {
			return
		}
	}
}

// exec runs one command. It returns false once the console should stop.
func (c *console) exec(ctx context.Context, cmd command) bool {
	var err error
	switch cmd.name {
	case "call":
		if cmd.arg == "" {
			c.printf("! usage: /call <id>")
			return true
		}
		err = c.p.Call(ctx, cmd.arg)
	case "answer":
		err = c.p.Accept(ctx)
	case "reject":
		err = c.p.Reject(ctx)
	case "end":
		err = c.p.Hangup(ctx)
	case "stats":
		var stats []call.TrackStats
		if stats, err = c.p.Stats(ctx); err == nil {
			c.printStats(stats)
		}
	case "id":
		c.printf("* id %s", c.p.ID())
	case "quit":
		if c.quit != nil {
			c.quit()
		}
		return false
	case "help":
		c.printf("%s", consoleHelp)
	default:
		c.printf("! unknown command /%s (try /help)", cmd.name)
	}
	if err != nil {
		c.printf("! /%s: %v", cmd.name, err)
	}
	return true
}

func (c *console) printStats(stats []call.TrackStats) {
	if len(stats) == 0 {
		c.printf("* no media received yet")
		return
	}
	for _, st := range stats {
		c.printf("* %s %s: %d packets, %d bytes, %d lost", st.Kind, st.StreamID, st.Packets, st.Bytes, st.Lost)
	}
}

// clearer drops queued speech when a call ends.
type clearer interface{ Clear() }

// print writes events until the feed closes. target, when set, is invited
// the first time the participant comes online.
func (c *console) print(ctx context.Context, events <-chan client.Event, q clearer, target string) {
	for e := range events {
		c.printf("%s", formatEvent(e))

		switch e.Kind {
		case client.EventOnline:
			if target != "" {
				t := target
				target = ""
				go func() {
					if err := c.p.Call(ctx, t); err != nil {
						c.printf("! call %s: %v", t, err)
					}
				}()
			}
		case client.EventEnded, client.EventRejected, client.EventOffline:
			if q != nil {
				q.Clear()
			}
		}
	}
}

func formatEvent(e client.Event) string {
	switch e.Kind {
	case client.EventOnline:
		return "* online as " + e.Peer
	case client.EventOffline:
		if e.Err != nil {
			return "* offline: " + e.Err.Error()
		}
		return "* offline"
	case client.EventIncoming:
		who := e.Peer
		if e.Name != "" {
			who = e.Name + " (" + e.Peer + ")"
		}
		return "* incoming call from " + who + ", /answer or /reject"
	case client.EventRinging:
		return "* ringing " + e.Peer
	case client.EventLinked:
		return "* in call with " + e.Peer
	case client.EventRejected:
		return "* " + e.Peer + " declined"
	case client.EventEnded:
		if e.Err != nil {
			return "* call ended: " + e.Err.Error()
		}
		return "* call ended"
	case client.EventMedia:
		return "* media " + string(e.State)
	case client.EventStream:
		verb := "receiving"
		if e.Stream.Updated {
			verb = "stream updated"
		}
		return fmt.Sprintf("* %s %s %s", verb, e.Stream.ID, strings.Join(e.Stream.Kinds, "+"))
	case client.EventNotice:
		return "* " + e.Text
	case client.EventTranslation:
		tag := ""
		if e.Message.IsInterim {
			tag = " ..."
		}
		return fmt.Sprintf("> [%s] %s%s", e.Peer, e.Text, tag)
	case client.EventPartnerSilent:
		return "* no heartbeat from " + e.Peer
	case client.EventError:
		return fmt.Sprintf("! %v", e.Err)
	}
	return "* " + string(e.Kind)
}
