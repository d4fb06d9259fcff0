package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/queue"
)

func TestIdleSendWithEmptyQueueResolvesImmediately(t *testing.T) {
	te := newTestEnv()
	result := make(chan assoc.Outcome, 1)

	next := Idle{}.Handle(te.env, SendEvent{Result: result})

	_, transitioning := next.Transition()
	assert.False(t, transitioning)

	select {
	case outcome := <-result:
		assert.Equal(t, assoc.OutcomeReleasedCleanly, outcome.OutcomeKind())
		assert.NoError(t, outcome.Err())
	default:
		t.Fatal("expected send() to resolve immediately on an empty queue")
	}
}

func TestIdleSendWithQueuedRequestTransitions(t *testing.T) {
	te := newTestEnv()
	te.env.Queue.Enqueue(queue.NewEchoRequest(1))
	result := make(chan assoc.Outcome, 1)

	next := Idle{}.Handle(te.env, SendEvent{Result: result})

	target, transitioning := next.Transition()
	require.True(t, transitioning)
	assert.Equal(t, assoc.KindRequestAssociation, target.Kind())

	select {
	case <-result:
		t.Fatal("send() must not resolve until the association completes")
	default:
	}
}

func TestIdleOnEnterPicksUpPendingSendFromCompletedRestart(t *testing.T) {
	te := newTestEnv()
	result := make(chan assoc.Outcome, 1)
	te.env.SetPendingSend(result)

	next := Idle{}.OnEnter(te.env)
	_, transitioning := next.Transition()
	assert.False(t, transitioning)

	select {
	case outcome := <-result:
		assert.Equal(t, assoc.OutcomeReleasedCleanly, outcome.OutcomeKind())
	default:
		t.Fatal("expected the restarted send() to resolve on an empty queue")
	}
}

func TestIdleIgnoresStaleConnectionEvents(t *testing.T) {
	te := newTestEnv()

	next := Idle{}.Handle(te.env, InboundEvent{Event: assoc.Abort{}})
	_, transitioning := next.Transition()
	assert.False(t, transitioning)
}

func TestIdleAbortCompletesImmediately(t *testing.T) {
	te := newTestEnv()
	done := make(chan struct{})

	next := Idle{}.Handle(te.env, AbortEvent{Done: done})
	_, transitioning := next.Transition()
	assert.False(t, transitioning)

	select {
	case <-done:
	default:
		t.Fatal("abort() on an idle client must complete synchronously")
	}
}
