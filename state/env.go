package state

import (
	"time"

	"go.uber.org/zap"

	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/clock"
	"github.com/dicomkit/assoc/metrics"
	"github.com/dicomkit/assoc/port"
	"github.com/dicomkit/assoc/queue"
)

// Emitter delivers the public events the facade re-exposes to subscribers
// (spec §4.F). The engine package's driver implements it on top of a
// pubsub.Bus[assoc.Event].
type Emitter interface {
	Emit(assoc.Event)
}

// Env is the shared context every State method receives: the connection
// port, the shared request queue, immutable configuration, the clock used
// for timers, a logger, and the negotiated association handle once known.
// Only the engine package's driver goroutine ever touches an Env's fields,
// so no locking is needed here (spec §5 "single-threaded cooperative").
type Env struct {
	Port     port.Port
	Queue    *queue.Queue
	Params   assoc.Params
	Timeouts assoc.Timeouts
	Clock    clock.Clock
	Logger   *zap.Logger
	Emitter  Emitter
	Metrics  *metrics.Metrics

	// Association is populated once AssociationAccept arrives.
	Association assoc.Info

	// pendingSend carries the channel a SendEvent asked to be notified on;
	// Completed.OnEnter resolves it and clears this field.
	pendingSend chan<- assoc.Outcome

	// pendingAborts accumulates Done channels from coalesced AbortEvent
	// calls (spec §4.F "concurrent abort calls coalesce"); Completed.OnEnter
	// closes every one of them.
	pendingAborts []chan<- struct{}

	post   func(Event)
	timers map[assoc.TimeoutKind]timerHandle
}

type timerHandle struct {
	timer clock.Timer
	done  chan struct{}
}

// NewEnv constructs an Env. post is called (from any goroutine) to feed a
// new Event back onto the driver's single event loop.
func NewEnv(p port.Port, q *queue.Queue, params assoc.Params, timeouts assoc.Timeouts, clk clock.Clock, logger *zap.Logger, emitter Emitter, m *metrics.Metrics, post func(Event)) *Env {
	return &Env{
		Port:     p,
		Queue:    q,
		Params:   params,
		Timeouts: timeouts,
		Clock:    clk,
		Logger:   logger,
		Emitter:  emitter,
		Metrics:  m,
		post:     post,
		timers:   make(map[assoc.TimeoutKind]timerHandle),
	}
}

// Post feeds ev back onto the driver's event loop. Safe to call from any
// goroutine, including the timer goroutines StartTimer spawns.
func (e *Env) Post(ev Event) { e.post(ev) }

// StartTimer arms a timer of the given kind for duration d, replacing any
// timer of the same kind already running. When it fires, a
// TimeoutFired{Kind: kind} internal event is posted. The spawned goroutine
// always exits, either on fire or on CancelTimer/CancelAllTimers closing
// its done channel, so timers never leak (spec §8 property 2).
func (e *Env) StartTimer(kind assoc.TimeoutKind, d time.Duration) {
	e.CancelTimer(kind)

	t := e.Clock.NewTimer(d)
	done := make(chan struct{})
	e.timers[kind] = timerHandle{timer: t, done: done}

	go func() {
		select {
		case <-t.C():
			if e.Metrics != nil {
				e.Metrics.ObserveTimeout(kind)
			}
			e.post(InternalEvent{Event: assoc.TimeoutFired{Kind: kind}})
		case <-done:
		}
	}()
}

// CancelTimer stops and releases the timer of the given kind, if any.
func (e *Env) CancelTimer(kind assoc.TimeoutKind) {
	h, ok := e.timers[kind]
	if !ok {
		return
	}
	h.timer.Stop()
	close(h.done)
	delete(e.timers, kind)
}

// CancelAllTimers stops every timer currently armed. The driver calls this
// right after each state's OnExit (which cancels the timers that state
// started itself) so that no timer outlives its owning state (spec §3
// invariant 4).
func (e *Env) CancelAllTimers() {
	for kind := range e.timers {
		e.CancelTimer(kind)
	}
}

// SetPendingSend records the channel the current send() call is waiting
// on, replacing whatever ResolveSend would have resolved from a prior
// cycle (there is at most one live cycle per client at a time).
func (e *Env) SetPendingSend(ch chan<- assoc.Outcome) { e.pendingSend = ch }

// ResolveSend delivers outcome to the pending send() call, if any, and
// clears it. Called from Completed.OnEnter and from Idle's immediate-
// success path (spec §4.D Idle "complete send immediately").
func (e *Env) ResolveSend(outcome assoc.Outcome) {
	if e.pendingSend == nil {
		return
	}
	if e.Metrics != nil {
		e.Metrics.ObserveOutcome(outcome.OutcomeKind())
	}
	ch := e.pendingSend
	e.pendingSend = nil
	ch <- outcome
	close(ch)
}

// AddPendingAbort registers done to be closed once Completed is reached,
// coalescing concurrent abort() calls onto the single abort-in-progress
// already under way (spec §4.F).
func (e *Env) AddPendingAbort(done chan<- struct{}) {
	e.pendingAborts = append(e.pendingAborts, done)
}

// ResolvePendingAborts closes every registered abort() waiter. Called from
// Completed.OnEnter.
func (e *Env) ResolvePendingAborts() {
	for _, ch := range e.pendingAborts {
		close(ch)
	}
	e.pendingAborts = nil
}
