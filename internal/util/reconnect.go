package util

import "time"

// Reconnect defaults.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBase        = 500 * time.Millisecond
	DefaultReconnectCap         = 8 * time.Second
)

// Reconnector is the retry state of one connection: how many consecutive
// attempts have been made. It is owned by a single supervising loop and is
// not safe for concurrent use.
type Reconnector struct {
	Max  int
	Base time.Duration
	Cap  time.Duration

	attempt int
}

// NewReconnector returns a state machine with the given bound. Zero values
// fall back to the defaults.
func NewReconnector(max int, base time.Duration) *Reconnector {
	if max <= 0 {
		max = DefaultMaxReconnectAttempts
	}
	if base <= 0 {
		base = DefaultReconnectBase
	}
	return &Reconnector{Max: max, Base: base, Cap: DefaultReconnectCap}
}

// Next records a failure and returns the delay before the next attempt, or
// false once the bound is exhausted.
func (r *Reconnector) Next() (time.Duration, bool) {
	if r.attempt >= r.Max {
		return 0, false
	}
	d := r.Base << r.attempt
	if r.Cap > 0 && (d > r.Cap || d <= 0) {
		d = r.Cap
	}
	r.attempt++
	return d, true
}

// Reset clears the counter after a successful (re)connect.
func (r *Reconnector) Reset() {
	r.attempt = 0
}

// Attempt is the number of retries scheduled since the last Reset.
func (r *Reconnector) Attempt() int { return r.attempt }
