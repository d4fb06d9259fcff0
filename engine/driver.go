// Package engine implements the state machine driver (spec §4.E): it owns
// the current state variant, subscribes to the connection port's inbound
// event stream, fans every event to the active state, and performs the
// seven-step transition whenever a state requests one.
//
// The event-loop shape (a goroutine selecting over one channel per event
// source, all funneling into a single dispatch point) follows
// peer-calls-peer-calls/server/pubsub's events.go loop, generalized here
// from pub/sub subscription requests to the driver's broader event
// vocabulary (inbound port events, user actions, internal triggers).
package engine

import (
	"go.uber.org/zap"

	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/clock"
	"github.com/dicomkit/assoc/metrics"
	"github.com/dicomkit/assoc/port"
	"github.com/dicomkit/assoc/pubsub"
	"github.com/dicomkit/assoc/queue"
	"github.com/dicomkit/assoc/state"
)

// Driver owns the single live state variant for one client instance and
// serializes every event that could affect it through one goroutine (spec
// §5 "single-threaded cooperative").
type Driver struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     *pubsub.Bus[assoc.Event]

	portEvents <-chan assoc.Inbound
	internalCh chan state.Event

	env     *state.Env
	current state.State

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Driver in state Idle, wired to p for transport and q for
// the shared request queue. The returned Driver is not running yet; call
// Run in its own goroutine.
func New(p port.Port, q *queue.Queue, params assoc.Params, timeouts assoc.Timeouts, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *Driver {
	d := &Driver{
		logger:     logger,
		metrics:    m,
		bus:        pubsub.New[assoc.Event](16),
		portEvents: p.Events(),
		internalCh: make(chan state.Event, 64),
		current:    &state.Idle{},
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	d.env = state.NewEnv(p, q, params, timeouts, clk, logger, d, m, d.post)
	return d
}

// Emit implements state.Emitter, publishing a public event onto the bus
// subscribers read from.
func (d *Driver) Emit(ev assoc.Event) { d.bus.Publish(ev) }

// Subscribe returns a subscription delivering every public event (spec
// §4.F: AssociationAccepted, AssociationRejected, AssociationReleased,
// StateChanged) in the order they occurred.
func (d *Driver) Subscribe() (*pubsub.Subscription[assoc.Event], error) {
	return d.bus.Subscribe()
}

// post feeds ev onto the driver's event queue; safe from any goroutine.
func (d *Driver) post(ev state.Event) {
	select {
	case d.internalCh <- ev:
	case <-d.stopCh:
	}
}

// Send starts (or restarts, after Completed) the association lifecycle and
// blocks until it reaches Completed.
func (d *Driver) Send() assoc.Outcome {
	result := make(chan assoc.Outcome, 1)
	d.post(state.SendEvent{Result: result})
	return <-result
}

// Abort triggers a transition to Abort from any non-terminal state other
// than Idle and blocks until Completed is reached; in Idle it returns at
// once without a transition. Concurrent callers coalesce onto the same
// Completed arrival (spec §4.F).
func (d *Driver) Abort() {
	done := make(chan struct{})
	d.post(state.AbortEvent{Done: done})
	<-done
}

// AddRequest enqueues req without blocking on the driver's own processing
// (spec §6 "add_request(req): non-blocking; always succeeds").
func (d *Driver) AddRequest(req queue.Request) {
	d.post(state.EnqueueEvent{Request: req})
}

// Cancel delivers a Cancel event to the current state (spec §5
// "Cancellation").
func (d *Driver) Cancel() {
	d.post(state.CancelEvent{})
}

// CancelOperation requests a C-CANCEL-RQ for one outstanding C-FIND,
// C-GET, or C-MOVE operation, identified by its MessageID. A no-op outside
// Sending.
func (d *Driver) CancelOperation(messageID uint16, sopClassUID string) {
	d.post(state.CancelOperationEvent{MessageID: messageID, SOPClassUID: sopClassUID})
}

// Run is the driver's single event loop. It must be started in its own
// goroutine and runs until Stop is called.
func (d *Driver) Run() {
	defer close(d.doneCh)
	defer d.bus.Close()

	for {
		select {
		case inbound, ok := <-d.portEvents:
			if !ok {
				d.dispatch(state.InboundEvent{Event: assoc.ConnectionClosed{}})
				continue
			}
			d.dispatch(state.InboundEvent{Event: inbound})

		case ev := <-d.internalCh:
			d.dispatch(ev)

		case <-d.stopCh:
			return
		}
	}
}

// Stop halts the event loop after the in-flight dispatch, if any,
// completes. It does not itself transition the state machine; callers
// that want a clean shutdown should call Abort first.
func (d *Driver) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

// CurrentKind reports the currently active state's Kind, for diagnostics
// and metrics; not safe to poll from outside the driver's goroutine except
// via the StateChanged subscription.
func (d *Driver) CurrentKind() assoc.Kind { return d.current.Kind() }

func (d *Driver) dispatch(ev state.Event) {
	next := d.current.Handle(d.env, ev)
	if _, ok := ev.(state.EnqueueEvent); ok && d.metrics != nil {
		d.metrics.SetQueueDepth(d.env.Queue.Len())
	}
	if target, ok := next.Transition(); ok {
		d.transition(target)
	}
}

// transition runs the seven-step sequence from spec §4.E: exit the old
// state, release its resources, swap, notify, enter the new one — looping
// if OnEnter itself requests a further transition (step 7).
func (d *Driver) transition(next state.State) {
	for {
		old := d.current

		d.logger.Info("state_changing",
			zap.Stringer("from", old.Kind()),
			zap.Stringer("to", next.Kind()))

		old.OnExit(d.env)
		d.env.CancelAllTimers()

		d.current = next
		if d.metrics != nil {
			d.metrics.ObserveTransition(old.Kind(), next.Kind())
		}
		d.bus.Publish(assoc.StateChangedEvent{Old: old.Kind(), New: next.Kind()})

		further := next.OnEnter(d.env)
		target, ok := further.Transition()
		if !ok {
			return
		}
		next = target
	}
}
