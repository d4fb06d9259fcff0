package state

import "github.com/dicomkit/assoc"

// RequestAssociation drives the A-ASSOCIATE-RQ/AC/RJ exchange (spec §4.D
// "RequestAssociation").
type RequestAssociation struct{}

func (*RequestAssociation) Kind() assoc.Kind { return assoc.KindRequestAssociation }

func (*RequestAssociation) OnEnter(env *Env) Next {
	go func() {
		if err := env.Port.Connect(); err != nil {
			env.post(InboundEvent{Event: assoc.ConnectionClosed{Err: err}})
			return
		}
		if err := env.Port.SendAssociationRequest(env.Params); err != nil {
			env.post(InboundEvent{Event: assoc.ConnectionClosed{Err: err}})
		}
	}()

	env.StartTimer(assoc.TimeoutRequestAssoc, env.Timeouts.AssociationRequest)
	return Stay()
}

func (*RequestAssociation) OnExit(env *Env) {
	env.CancelTimer(assoc.TimeoutRequestAssoc)
}

func (s *RequestAssociation) Handle(env *Env, ev Event) Next {
	switch e := ev.(type) {
	case InboundEvent:
		switch inner := e.Event.(type) {
		case assoc.AssociationAccept:
			env.Association = inner.Association
			return To(&Sending{})

		case assoc.AssociationReject:
			env.Emitter.Emit(assoc.AssociationRejectedEvent{
				Result: inner.Result,
				Source: inner.Source,
				Reason: inner.Reason,
			})
			return To(completedWith(assoc.RejectedByPeer(assoc.AssociationRejectedEvent{
				Result: inner.Result,
				Source: inner.Source,
				Reason: inner.Reason,
			})))

		case assoc.Abort:
			return To(completedWith(assoc.AbortedByPeer(inner)))

		case assoc.ConnectionClosed:
			return To(completedWith(assoc.ConnectionLost(inner.Err)))
		}
		return Stay()

	case InternalEvent:
		if t, ok := e.Event.(assoc.TimeoutFired); ok && t.Kind == assoc.TimeoutRequestAssoc {
			return To(&Abort{finalOutcome: assoc.TimedOut(assoc.TimeoutRequestAssoc)})
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
