package state

import "github.com/dicomkit/assoc"

// ReleaseAssociation drives the A-RELEASE-RQ/RP exchange (spec §4.D
// "ReleaseAssociation").
type ReleaseAssociation struct{}

func (*ReleaseAssociation) Kind() assoc.Kind { return assoc.KindReleaseAssociation }

func (*ReleaseAssociation) OnEnter(env *Env) Next {
	if err := env.Port.SendAssociationRelease(); err != nil {
		return To(completedWith(assoc.ConnectionLost(err)))
	}
	env.StartTimer(assoc.TimeoutReleaseAssoc, env.Timeouts.AssociationRelease)
	return Stay()
}

func (*ReleaseAssociation) OnExit(env *Env) {
	env.CancelTimer(assoc.TimeoutReleaseAssoc)
}

func (s *ReleaseAssociation) Handle(env *Env, ev Event) Next {
	switch e := ev.(type) {
	case InboundEvent:
		switch inner := e.Event.(type) {
		case assoc.AssociationReleaseResponse:
			env.Emitter.Emit(assoc.AssociationReleasedEvent{})
			return To(completedWith(assoc.ReleasedCleanly()))

		case assoc.Abort:
			return To(completedWith(assoc.AbortedByPeer(inner)))

		case assoc.ConnectionClosed:
			return To(completedWith(assoc.ConnectionLost(inner.Err)))
		}
		return Stay()

	case InternalEvent:
		if t, ok := e.Event.(assoc.TimeoutFired); ok && t.Kind == assoc.TimeoutReleaseAssoc {
			return To(&Abort{finalOutcome: assoc.TimedOut(assoc.TimeoutReleaseAssoc)})
		}
		return Stay()

	case EnqueueEvent:
		env.Queue.Enqueue(e.Request)
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
