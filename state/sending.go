package state

import (
	"go.uber.org/zap"

	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/queue"
	"github.com/dicomkit/assoc/types"
)

// Sending is the active state: the association is established and
// requests flow to the peer and responses flow back (spec §4.D "Sending").
type Sending struct{}

func (*Sending) Kind() assoc.Kind { return assoc.KindSending }

func (*Sending) OnEnter(env *Env) Next {
	env.Emitter.Emit(assoc.AssociationAcceptedEvent{Association: env.Association})
	dispatchAll(env)
	return Stay()
}

func (*Sending) OnExit(env *Env) {}

func (s *Sending) Handle(env *Env, ev Event) Next {
	switch e := ev.(type) {
	case InboundEvent:
		switch inner := e.Event.(type) {
		case assoc.RequestCompleted:
			deliverResponse(env, inner)
			return Stay()

		case assoc.SendQueueEmpty:
			if env.Queue.Outstanding() == 0 {
				return To(&Linger{})
			}
			return Stay()

		case assoc.Abort:
			return To(completedWith(assoc.AbortedByPeer(inner)))

		case assoc.ConnectionClosed:
			failOutstanding(env, assoc.ConnectionLost(inner.Err))
			return To(completedWith(assoc.ConnectionLost(inner.Err)))
		}
		return Stay()

	case EnqueueEvent:
		env.Queue.Enqueue(e.Request)
		dispatchAll(env)
		return Stay()

	case CancelEvent:
		return To(&Abort{finalOutcome: assoc.AbortedLocally()})

	case CancelOperationEvent:
		sendCancel(env, e.MessageID, e.SOPClassUID)
		return Stay()

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

// dispatchAll drains every currently queued request onto the wire, used on
// entry to Sending and on re-entry via Linger->Sending (spec §4.D Sending
// "dispatch every currently queued request").
func dispatchAll(env *Env) {
	for {
		req, ok := env.Queue.TryPop()
		if !ok {
			return
		}
		sendRequest(env, req)
	}
}

// sendRequest hands req to the port and, if the write itself fails,
// synthesizes a failing terminal response so the caller's callback still
// fires instead of hanging forever.
func sendRequest(env *Env, req queue.Request) {
	if err := env.Port.SendRequest(req); err != nil {
		env.Logger.Warn("send_request failed", zap.Error(err))
		if completed, ok := env.Queue.Complete(req.ID); ok && completed.OnResponse != nil {
			completed.OnResponse(types.StatusFailure, nil, true)
		}
	}
}

// deliverResponse routes one RequestCompleted event to its request's
// callback and, for terminal statuses, removes it from the outstanding set
// (spec §4.D Sending "outstanding responses remain" predicate).
func deliverResponse(env *Env, ev assoc.RequestCompleted) {
	req, ok := env.Queue.Lookup(ev.RequestID)
	if !ok {
		env.Logger.Debug("response for unknown request", zap.String("request_id", ev.RequestID))
		return
	}
	if ev.Terminal {
		env.Queue.Complete(ev.RequestID)
	}
	if req.OnResponse != nil {
		req.OnResponse(ev.Status, ev.Dataset, ev.Terminal)
	}
}

// sendCancel writes a C-CANCEL-RQ for messageID, adapted from
// caio-sobreiro-dicomnet/client/cancel.go's SendCCancel. C-CANCEL has no
// response of its own (PS3.7): it is a fire-and-forget notification scoped
// to one operation, so unlike sendRequest there is no outstanding entry to
// fail on a write error, only a log line.
func sendCancel(env *Env, messageID uint16, sopClassUID string) {
	if err := env.Port.SendCancel(messageID, sopClassUID); err != nil {
		env.Logger.Warn("send_cancel failed", zap.Uint16("message_id", messageID), zap.Error(err))
	}
}

// failOutstanding fires every outstanding request's callback with a
// failure status so callers waiting on a response are not left hanging
// when the connection dies mid-exchange (spec §8 "pending request
// callbacks receive a ConnectionLost failure").
func failOutstanding(env *Env, outcome assoc.Outcome) {
	env.Logger.Warn("failing outstanding requests", zap.String("outcome", outcome.OutcomeKind().String()))

	for _, req := range env.Queue.Drain() {
		if req.OnResponse != nil {
			req.OnResponse(types.StatusFailure, nil, true)
		}
	}
}
