package state

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/clock"
	"github.com/dicomkit/assoc/queue"
)

// fakePort is a test double for port.Port: every Send* call is recorded
// instead of touching a real connection, and tests drive inbound traffic by
// closing over events manually (there is no real read loop).
type fakePort struct {
	mu sync.Mutex

	connectErr   error
	sendAssocErr error
	sendReqErr   error
	releaseErr   error
	abortErr     error
	cancelErr    error

	connected      bool
	assocRequested bool
	released       bool
	aborted        bool
	disconnects    int
	sentReqs       []queue.Request
	canceled       []uint16

	events chan assoc.Inbound
}

func newFakePort() *fakePort {
	return &fakePort{events: make(chan assoc.Inbound, 16)}
}

func (p *fakePort) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectErr != nil {
		return p.connectErr
	}
	p.connected = true
	return nil
}

func (p *fakePort) SendAssociationRequest(assoc.Params) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendAssocErr != nil {
		return p.sendAssocErr
	}
	p.assocRequested = true
	return nil
}

func (p *fakePort) SendRequest(req any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendReqErr != nil {
		return p.sendReqErr
	}
	p.sentReqs = append(p.sentReqs, req.(queue.Request))
	return nil
}

func (p *fakePort) SendCancel(messageID uint16, sopClassUID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelErr != nil {
		return p.cancelErr
	}
	p.canceled = append(p.canceled, messageID)
	return nil
}

func (p *fakePort) SendAssociationRelease() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.releaseErr != nil {
		return p.releaseErr
	}
	p.released = true
	return nil
}

func (p *fakePort) SendAbort(assoc.AbortSource, assoc.AbortReason) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abortErr != nil {
		return p.abortErr
	}
	p.aborted = true
	return nil
}

func (p *fakePort) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	return nil
}

func (p *fakePort) Events() <-chan assoc.Inbound { return p.events }

// fakeEmitter records every public event published via Env.Emitter.
type fakeEmitter struct {
	mu     sync.Mutex
	events []assoc.Event
}

func (e *fakeEmitter) Emit(ev assoc.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *fakeEmitter) all() []assoc.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]assoc.Event, len(e.events))
	copy(out, e.events)
	return out
}

// testEnv bundles an Env with its fake collaborators and a channel that
// captures every Event posted back via Env.Post, so tests can assert on
// self-posted events (AbortSendAcked, TimeoutFired, ...) without a driver.
type testEnv struct {
	env     *Env
	port    *fakePort
	emitter *fakeEmitter
	clk     *clock.Mock
	posted  chan Event
}

func newTestEnv() *testEnv {
	p := newFakePort()
	e := &fakeEmitter{}
	mock := clock.NewMock()
	posted := make(chan Event, 16)

	te := &testEnv{port: p, emitter: e, clk: mock, posted: posted}
	te.env = NewEnv(p, queue.New(), assoc.Params{CallingAETitle: "TEST"}, assoc.DefaultTimeouts(), mock, zap.NewNop(), e, nil, func(ev Event) {
		posted <- ev
	})
	return te
}
