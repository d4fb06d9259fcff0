package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomkit/assoc"
)

func TestReleaseAssociationOnEnterSendsReleaseRequest(t *testing.T) {
	te := newTestEnv()

	next := (&ReleaseAssociation{}).OnEnter(te.env)
	_, transitioning := next.Transition()
	assert.False(t, transitioning)
	assert.True(t, te.port.released)
}

func TestReleaseAssociationOnEnterFailureCompletesWithConnectionLost(t *testing.T) {
	te := newTestEnv()
	te.port.releaseErr = errors.New("write failed")

	next := (&ReleaseAssociation{}).OnEnter(te.env)
	target, transitioning := next.Transition()
	require.True(t, transitioning)
	assert.Equal(t, assoc.OutcomeConnectionLost, target.(*Completed).outcome.OutcomeKind())
}

func TestReleaseAssociationResponseEmitsAndCompletesCleanly(t *testing.T) {
	te := newTestEnv()

	next := (&ReleaseAssociation{}).Handle(te.env, InboundEvent{Event: assoc.AssociationReleaseResponse{}})
	target, transitioning := next.Transition()
	require.True(t, transitioning)
	assert.Equal(t, assoc.OutcomeReleasedCleanly, target.(*Completed).outcome.OutcomeKind())

	events := te.emitter.all()
	require.Len(t, events, 1)
	_, ok := events[0].(assoc.AssociationReleasedEvent)
	assert.True(t, ok)
}

func TestReleaseAssociationTimeoutGoesToAbort(t *testing.T) {
	te := newTestEnv()

	next := (&ReleaseAssociation{}).Handle(te.env, InternalEvent{Event: assoc.TimeoutFired{Kind: assoc.TimeoutReleaseAssoc}})
	target, transitioning := next.Transition()
	require.True(t, transitioning)
	assert.Equal(t, assoc.KindAbort, target.Kind())
}
