package state

import "github.com/dicomkit/assoc"

// Abort is entered whenever the machine decides to tear the association
// down immediately rather than release gracefully (spec §4.D "Abort"):
// local cancellation, a local timeout, or explicit abort(). finalOutcome
// fixes what Completed will resolve send's Outcome to; which of the four
// race sources actually wins only affects how fast Completed is reached,
// not the classification (spec §9 Open Question: treat the first winner
// as authoritative, never let two sources both fire observable effects).
type Abort struct {
	finalOutcome assoc.Outcome

	won bool
}

func (*Abort) Kind() assoc.Kind { return assoc.KindAbort }

func (a *Abort) OnEnter(env *Env) Next {
	go func() {
		_ = env.Port.SendAbort(assoc.AbortSourceServiceUser, assoc.AbortReasonNotSpecified)
		env.post(InternalEvent{Event: assoc.AbortSendAcked{}})
	}()

	env.StartTimer(assoc.TimeoutAbortAck, assoc.AbortAckTimeout)
	return Stay()
}

func (a *Abort) OnExit(env *Env) {
	env.CancelTimer(assoc.TimeoutAbortAck)
}

func (a *Abort) Handle(env *Env, ev Event) Next {
	if a.won {
		// A winner was already declared; every further race source is a
		// loser arriving late and must have no observable effect (spec §9
		// "source's Abort.OnEnter uses sequential if ... treat the
		// intended behavior as first winner only").
		return Stay()
	}

	switch e := ev.(type) {
	case InternalEvent:
		switch e.Event.(type) {
		case assoc.AbortSendAcked:
			return a.win(env)
		case assoc.TimeoutFired:
			return a.win(env)
		}
		return Stay()

	case InboundEvent:
		switch e.Event.(type) {
		case assoc.Abort, assoc.ConnectionClosed:
			return a.win(env)
		}
		return Stay()

	case EnqueueEvent:
		// The queue is not purged; the user may observe unsent requests
		// after completion (spec §4.D Abort "Enqueue: still appends").
		env.Queue.Enqueue(e.Request)
		return Stay()

	case AbortEvent:
		env.AddPendingAbort(e.Done)
		return Stay()

	default:
		// AbortRequest, Send, Cancel: ignored while already aborting.
		return Stay()
	}
}

func (a *Abort) win(env *Env) Next {
	a.won = true
	return To(completedWith(a.finalOutcome))
}
