package state

import "github.com/dicomkit/assoc"

// Linger is the post-drain idle period during which new requests may be
// sent without re-negotiating the association (spec §4.D "Linger").
type Linger struct{}

func (*Linger) Kind() assoc.Kind { return assoc.KindLinger }

func (*Linger) OnEnter(env *Env) Next {
	env.StartTimer(assoc.TimeoutLinger, env.Timeouts.AssociationLinger)
	return Stay()
}

func (*Linger) OnExit(env *Env) {
	env.CancelTimer(assoc.TimeoutLinger)
}

func (s *Linger) Handle(env *Env, ev Event) Next {
	switch e := ev.(type) {
	case EnqueueEvent:
		env.Queue.Enqueue(e.Request)
		// Sending.OnEnter drains the whole queue on the way back in, so no
		// separate sendRequest call is needed here.
		return To(&Sending{})

	case InternalEvent:
		if t, ok := e.Event.(assoc.TimeoutFired); ok && t.Kind == assoc.TimeoutLinger {
			return To(&ReleaseAssociation{})
		}
		return Stay()

	case InboundEvent:
		switch inner := e.Event.(type) {
		case assoc.Abort:
			return To(completedWith(assoc.AbortedByPeer(inner)))
		case assoc.ConnectionClosed:
			return To(completedWith(assoc.ConnectionLost(inner.Err)))
		}
		return Stay()

	case CancelEvent:
		return To(&Abort{finalOutcome: assoc.AbortedLocally()})

	case AbortEvent:
		env.AddPendingAbort(e.Done)
		return To(&Abort{finalOutcome: assoc.AbortedLocally()})

	case SendEvent:
		rejectConcurrentSend(s.Kind())
		return Stay()

	default:
		return Stay()
	}
}
