package state

import (
	"go.uber.org/zap"

	"github.com/dicomkit/assoc"
)

// Completed is terminal: it disconnects the port and resolves the
// outstanding send() call (spec §4.D "Completed").
type Completed struct {
	outcome assoc.Outcome
}

// completedWith builds the Completed state that will resolve the pending
// send() call with outcome once entered. Every other state's event
// handlers call this instead of constructing Completed directly, so the
// outcome a transition carries is always explicit at the call site.
func completedWith(outcome assoc.Outcome) *Completed {
	return &Completed{outcome: outcome}
}

func (*Completed) Kind() assoc.Kind { return assoc.KindCompleted }

func (c *Completed) OnEnter(env *Env) Next {
	if err := env.Port.Disconnect(); err != nil {
		env.Logger.Debug("disconnect after completion", zap.Error(err))
	}
	env.ResolveSend(c.outcome)
	env.ResolvePendingAborts()
	return Stay()
}

func (*Completed) OnExit(env *Env) {}

func (*Completed) Handle(env *Env, ev Event) Next {
	switch e := ev.(type) {
	case SendEvent:
		// A terminal state has no outgoing transitions of its own, but the
		// facade may reuse the client for a fresh cycle; restart by
		// re-entering Idle, whose OnEnter picks the pending send back up
		// (spec §4.D Completed "Subsequent Send starts a fresh cycle by
		// first transitioning the client back to Idle").
		env.SetPendingSend(e.Result)
		return To(&Idle{})

	case EnqueueEvent:
		env.Queue.Enqueue(e.Request)
		return Stay()

	case AbortEvent:
		close(e.Done)
		return Stay()

	default:
		return Stay()
	}
}
