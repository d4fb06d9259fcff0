package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/clock"
	"github.com/dicomkit/assoc/pubsub"
	"github.com/dicomkit/assoc/queue"
)

// fakePort is a minimal port.Port double: Send* calls are recorded, and
// tests inject inbound traffic by writing to events directly.
type fakePort struct {
	mu        sync.Mutex
	connected bool
	released  bool

	events chan assoc.Inbound
}

func newFakePort() *fakePort {
	return &fakePort{events: make(chan assoc.Inbound, 16)}
}

func (p *fakePort) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *fakePort) SendAssociationRequest(assoc.Params) error { return nil }
func (p *fakePort) SendRequest(req any) error                 { return nil }
func (p *fakePort) SendCancel(uint16, string) error           { return nil }

func (p *fakePort) SendAssociationRelease() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
	return nil
}

func (p *fakePort) SendAbort(assoc.AbortSource, assoc.AbortReason) error { return nil }
func (p *fakePort) Disconnect() error                                   { return nil }
func (p *fakePort) Events() <-chan assoc.Inbound                        { return p.events }

func (p *fakePort) wasConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// kindTracker follows StateChangedEvent off a subscription so tests never
// poll Driver.CurrentKind from outside the driver goroutine (its own doc
// comment: safe only via the StateChanged subscription).
type kindTracker struct {
	mu      sync.Mutex
	current assoc.Kind
	seen    []assoc.Kind
}

func trackKinds(sub *pubsub.Subscription[assoc.Event]) *kindTracker {
	kt := &kindTracker{current: assoc.KindIdle}
	go func() {
		for ev := range sub.Events {
			sc, ok := ev.(assoc.StateChangedEvent)
			if !ok {
				continue
			}
			kt.mu.Lock()
			kt.current = sc.New
			kt.seen = append(kt.seen, sc.New)
			kt.mu.Unlock()
		}
	}()
	return kt
}

func (kt *kindTracker) is(k assoc.Kind) bool {
	kt.mu.Lock()
	defer kt.mu.Unlock()
	return kt.current == k
}

func (kt *kindTracker) history() []assoc.Kind {
	kt.mu.Lock()
	defer kt.mu.Unlock()
	out := make([]assoc.Kind, len(kt.seen))
	copy(out, kt.seen)
	return out
}

func TestDriverSendWithEmptyQueueCompletesWithoutConnecting(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newFakePort()
	d := New(p, queue.New(), assoc.Params{}, assoc.DefaultTimeouts(), clock.New(), zap.NewNop(), nil)
	go d.Run()
	defer d.Stop()

	outcome := d.Send()
	assert.Equal(t, assoc.OutcomeReleasedCleanly, outcome.OutcomeKind())
	assert.False(t, p.wasConnected(), "an empty-queue send() must never dial the peer")
}

func TestDriverFullLifecycleReachesCompletedAndEmitsStateChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newFakePort()
	mock := clock.NewMock()
	q := queue.New()
	d := New(p, q, assoc.Params{}, assoc.DefaultTimeouts(), mock, zap.NewNop(), nil)
	go d.Run()
	defer d.Stop()

	sub, err := d.Subscribe()
	require.NoError(t, err)
	kt := trackKinds(sub)

	req := queue.NewEchoRequest(1)
	d.AddRequest(req)

	resultCh := make(chan assoc.Outcome, 1)
	go func() { resultCh <- d.Send() }()

	require.Eventually(t, p.wasConnected, time.Second, time.Millisecond)

	p.events <- assoc.AssociationAccept{Association: assoc.Info{CalledAETitle: "PEER"}}
	p.events <- assoc.RequestCompleted{RequestID: req.ID, Status: 0x0000, Terminal: true}
	p.events <- assoc.SendQueueEmpty{}

	require.Eventually(t, func() bool { return kt.is(assoc.KindLinger) }, time.Second, time.Millisecond)

	mock.Advance(assoc.DefaultTimeouts().AssociationLinger)

	require.Eventually(t, func() bool { return kt.is(assoc.KindReleaseAssociation) }, time.Second, time.Millisecond)

	p.events <- assoc.AssociationReleaseResponse{}

	outcome := <-resultCh
	assert.Equal(t, assoc.OutcomeReleasedCleanly, outcome.OutcomeKind())

	require.Eventually(t, func() bool { return kt.is(assoc.KindCompleted) }, time.Second, time.Millisecond)

	history := kt.history()
	assert.Contains(t, history, assoc.KindSending)
	assert.Contains(t, history, assoc.KindLinger)
	assert.Contains(t, history, assoc.KindReleaseAssociation)
	assert.Contains(t, history, assoc.KindCompleted)
	assert.Equal(t, 0, q.Outstanding())
}

func TestDriverAbortCoalescesConcurrentCallers(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newFakePort()
	d := New(p, queue.New(), assoc.Params{}, assoc.DefaultTimeouts(), clock.New(), zap.NewNop(), nil)
	go d.Run()
	defer d.Stop()

	sub, err := d.Subscribe()
	require.NoError(t, err)
	kt := trackKinds(sub)

	d.AddRequest(queue.NewEchoRequest(1))
	go d.Send()

	require.Eventually(t, p.wasConnected, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Abort()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return kt.is(assoc.KindCompleted) }, time.Second, time.Millisecond)
}
