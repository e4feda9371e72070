package call

import (
	"context"
	"log"
	"time"

	"github.com/petervdpas/parley/internal/proto"
	"github.com/petervdpas/parley/internal/util"
)

// Supervisor decides when a dropped connection is retried and when the call
// is lost. It owns the retry state; nothing else mutates it.
type Supervisor struct {
	ID string
	// Restart kicks off one recovery attempt, typically an ICE-restart offer
	// sent to the partner. Its error counts as a failed attempt.
	Restart func(ctx context.Context) error

	rc *util.Reconnector
}

// NewSupervisor allows max attempts, the first one base after the drop and
// each later one twice as far apart.
func NewSupervisor(id string, max int, base time.Duration, restart func(ctx context.Context) error) *Supervisor {
	return &Supervisor{ID: id, Restart: restart, rc: util.NewReconnector(max, base)}
}

// Attempts is the number of restarts since the connection was last up.
func (sv *Supervisor) Attempts() int { return sv.rc.Attempt() }

// Run consumes connection states until the connection closes (nil), ctx
// ends (ctx.Err()) or the bound is exhausted (proto.ErrMaxReconnectExceeded).
// After the last restart the supervisor waits one more interval for it to
// take before giving up.
func (sv *Supervisor) Run(ctx context.Context, states <-chan State) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	retrying := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case st, ok := <-states:
			if !ok {
				return nil
			}
			switch st {
			case StateConnected:
				if retrying {
					log.Printf("CALL [%s]: connection recovered after %d attempts", sv.ID, sv.rc.Attempt())
				}
				retrying = false
				sv.rc.Reset()
				timer.Stop()
			case StateDisconnected, StateFailed:
				if !retrying {
					retrying = true
					log.Printf("CALL [%s]: connection %s, retrying", sv.ID, st)
					timer.Reset(sv.rc.Base)
				}
			case StateClosed:
				return nil
			}

		case <-timer.C:
			if !retrying {
				continue
			}
			d, ok := sv.rc.Next()
			if !ok {
				log.Printf("CALL [%s]: giving up after %d attempts", sv.ID, sv.rc.Attempt())
				return proto.ErrMaxReconnectExceeded
			}
			log.Printf("CALL [%s]: reconnect attempt %d/%d", sv.ID, sv.rc.Attempt(), sv.rc.Max)
			if err := sv.Restart(ctx); err != nil {
				log.Printf("CALL [%s]: reconnect attempt %d failed: %v", sv.ID, sv.rc.Attempt(), err)
			}
			timer.Reset(d)
		}
	}
}
