package state

import "github.com/dicomkit/assoc"

// Idle is the initial and only re-entrant state: no connection exists, and
// the request queue may already hold requests enqueued before send() was
// ever called (spec §4.D "Idle").
type Idle struct{}

func (Idle) Kind() assoc.Kind { return assoc.KindIdle }

// OnEnter picks up a pending send() left by Completed's restart path (spec
// §4.D Completed "Subsequent Send starts a fresh cycle by first
// transitioning the client back to Idle"). On a client's very first entry
// into Idle there is no pending send yet, so this is a no-op.
func (Idle) OnEnter(env *Env) Next {
	if env.pendingSend == nil {
		return Stay()
	}
	if env.Queue.IsEmpty() {
		env.ResolveSend(assoc.ReleasedCleanly())
		return Stay()
	}
	return To(&RequestAssociation{})
}

func (Idle) OnExit(env *Env) {}

func (s Idle) Handle(env *Env, ev Event) Next {
	switch e := ev.(type) {
	case SendEvent:
		env.SetPendingSend(e.Result)
		if env.Queue.IsEmpty() {
			env.ResolveSend(assoc.ReleasedCleanly())
			return Stay()
		}
		return To(&RequestAssociation{})

	case EnqueueEvent:
		env.Queue.Enqueue(e.Request)
		return Stay()

	case AbortEvent:
		// Nothing is running; abort() on an idle client completes at once.
		close(e.Done)
		return Stay()

	case InboundEvent, InternalEvent, CancelEvent:
		// No connection exists yet; every connection-level and timer event
		// is a stale leftover from a previous cycle and is ignored (spec
		// §4.D "All inbound connection events: ignored").
		return Stay()

	default:
		return Stay()
	}
}
