// Package clock abstracts time so the association state machine's timers
// (§4.D: association_request_timeout, association_release_timeout,
// association_linger_timeout, the fixed 100ms AbortAck timeout) can be
// driven deterministically in tests instead of through real sleeps.
package clock

import "time"

// Clock produces timers. The real implementation wraps time.NewTimer;
// Mock lets tests fast-forward virtual time.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is a single-shot timer. Unlike time.Timer, Stop is idempotent and
// safe to call after the timer has already fired.
type Timer interface {
	C() <-chan time.Time
	Stop()
}

// New returns the real, wall-clock-backed Clock.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer {
	t := time.NewTimer(d)
	return &realTimer{t: t}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }

func (r *realTimer) Stop() { r.t.Stop() }
