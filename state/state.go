// Package state implements the seven discriminated state variants of the
// association lifecycle (spec §4.D): Idle, RequestAssociation, Sending,
// Linger, ReleaseAssociation, Abort, Completed. Each variant is a Go type
// implementing State; the engine package drives transitions between them.
//
// This replaces caio-sobreiro-dicomnet/client's single Association type,
// whose methods (Connect, SendCEcho, SendCFind, ...) each ran the whole
// request/response exchange synchronously on the caller's goroutine. Here
// every state only reacts to events fed to Handle by the driver's single
// event loop (spec §9 "implement the machine as a loop consuming from a
// single event queue").
package state

import (
	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/queue"
)

// Event is the tagged union Handle dispatches on: inbound port events,
// internal timer/completion triggers, and user actions from the facade.
// Only this package's wrapper types implement it.
type Event interface {
	isEvent()
}

// InboundEvent wraps an event delivered by the connection port.
type InboundEvent struct{ Event assoc.Inbound }

func (InboundEvent) isEvent() {}

// InternalEvent wraps a state-local trigger: a timer firing, or the
// completion of a command a state issued from OnEnter.
type InternalEvent struct{ Event assoc.Internal }

func (InternalEvent) isEvent() {}

// EnqueueEvent carries a user-submitted request onto the driver's event
// queue so its ordering relative to other events is preserved (spec §5
// "its effect (queue append) is observed before the next event the
// machine processes after the call returns").
type EnqueueEvent struct{ Request queue.Request }

func (EnqueueEvent) isEvent() {}

// SendEvent starts (or restarts, from Completed) the association lifecycle.
// Result receives exactly one Outcome: from Idle at once when the queue is
// empty, otherwise from Completed.OnEnter.
type SendEvent struct {
	Result chan<- assoc.Outcome
}

func (SendEvent) isEvent() {}

// AbortEvent is the user-invoked abort() call (spec §4.F "abort() triggers
// a transition to Abort from any non-terminal state; concurrent abort
// calls coalesce"). Done is closed once Completed is reached.
type AbortEvent struct {
	Done chan<- struct{}
}

func (AbortEvent) isEvent() {}

// CancelEvent is the Cancel delivered via send's cancellation token
// (spec §4.A, §5 "Cancellation").
type CancelEvent struct{}

func (CancelEvent) isEvent() {}

// CancelOperationEvent requests a C-CANCEL-RQ for one outstanding C-FIND,
// C-GET, or C-MOVE operation (PS3.7 C-CANCEL), as opposed to CancelEvent's
// whole-association Cancel. MessageID must match the MessageID of the
// operation being canceled; SOPClassUID selects which presentation context
// carries it.
type CancelOperationEvent struct {
	MessageID   uint16
	SOPClassUID string
}

func (CancelOperationEvent) isEvent() {}

// Next is a state's verdict after handling an event or running OnEnter:
// either stay put, or transition to another state. OnEnter returning a
// transitioning Next re-enters the driver's transition loop synchronously
// (spec §4.E step 7).
type Next struct {
	transition bool
	state      State
}

// Stay reports that no transition is requested.
func Stay() Next { return Next{} }

// To requests a transition to s.
func To(s State) Next { return Next{transition: true, state: s} }

// Transition reports whether n requests a transition, and to which state.
func (n Next) Transition() (State, bool) { return n.state, n.transition }

// State is one of the seven discriminated variants. Kind identifies which;
// OnEnter/OnExit/Handle are the entry action, exit action, and event
// handler described per-variant in spec §4.D.
type State interface {
	Kind() assoc.Kind
	OnEnter(env *Env) Next
	OnExit(env *Env)
	Handle(env *Env, ev Event) Next
}
