// Package client is the public-facing facade over the association state
// machine (spec §4.F, component F): add_request/send/abort plus event
// subscriptions. It supersedes caio-sobreiro-dicomnet/client's Association
// type, whose SendCEcho/SendCFind/SendCGet/SendCStore methods each
// blocked the caller for one whole synchronous request/response round
// trip on a connection the caller had to Connect() first. Here Connect,
// association negotiation, and request dispatch are all driven by the
// engine's event loop; the caller only ever calls AddRequest, Send, and
// Abort, and receives results through subscriptions or per-request
// callbacks (see queue.Request.OnResponse).
package client

import (
	"go.uber.org/zap"

	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/clock"
	"github.com/dicomkit/assoc/engine"
	"github.com/dicomkit/assoc/metrics"
	"github.com/dicomkit/assoc/port"
	"github.com/dicomkit/assoc/pubsub"
	"github.com/dicomkit/assoc/queue"
)

// Client drives exactly one association at a time (spec §1 non-goal:
// "parallel multi-association multiplexing within one client"). It is
// safe to call Send again after a prior Send's Outcome has been returned,
// starting a fresh association cycle against the same peer.
type Client struct {
	driver *engine.Driver
	queue  *queue.Queue
	logger *zap.Logger

	stopped chan struct{}
}

// Option configures New.
type Option func(*options)

type options struct {
	timeouts assoc.Timeouts
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// WithTimeouts overrides the default timeouts (spec §6 "Configuration").
func WithTimeouts(t assoc.Timeouts) Option {
	return func(o *options) { o.timeouts = t }
}

// WithClock overrides the clock used for timers; tests use clock.NewMock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger overrides the zap.Logger used for state-transition and
// protocol-error logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics overrides the Prometheus instrumentation handle.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds a Client over the given Port and association parameters and
// starts its driver loop. Callers own p's lifetime only until New returns;
// afterward the driver owns it until the association completes.
func New(p port.Port, params assoc.Params, opts ...Option) *Client {
	o := options{
		timeouts: assoc.DefaultTimeouts(),
		clock:    clock.New(),
		logger:   zap.NewNop(),
		metrics:  metrics.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	q := queue.New()
	d := engine.New(p, q, params, o.timeouts, o.clock, o.logger, o.metrics)

	c := &Client{
		driver:  d,
		queue:   q,
		logger:  o.logger,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(c.stopped)
		d.Run()
	}()

	return c
}

// AddRequest enqueues req for dispatch once the association is (or
// becomes) active. Non-blocking; always succeeds (spec §6
// "add_request(req): non-blocking; always succeeds; no feedback until
// response callback").
func (c *Client) AddRequest(req queue.Request) {
	c.driver.AddRequest(req)
}

// Send starts the association lifecycle — or, if the queue is empty,
// completes immediately — and blocks until the lifecycle reaches
// Completed. Calling Send again after a prior call returned starts a
// fresh cycle (spec §4.D Completed, §4.F "send is the sole operation
// whose completion corresponds to the full association lifecycle
// reaching Completed").
func (c *Client) Send() assoc.Outcome {
	return c.driver.Send()
}

// Cancel delivers the cancellation token's Cancel event to the current
// state, which for every non-terminal state other than Idle means
// transitioning to Abort (spec §5 "Cancellation"). Idle ignores it.
func (c *Client) Cancel() {
	c.driver.Cancel()
}

// CancelOperation sends a C-CANCEL-RQ for one outstanding C-FIND, C-GET,
// or C-MOVE operation, identified by the MessageID it was enqueued with.
// Unlike Cancel/Abort it does not end the association — it only asks the
// peer to stop producing further responses for that one operation (spec
// GLOSSARY "C-CANCEL"). A no-op if the association is not Sending.
func (c *Client) CancelOperation(messageID uint16, sopClassUID string) {
	c.driver.CancelOperation(messageID, sopClassUID)
}

// Abort triggers a transition to Abort from any non-terminal state other
// than Idle and blocks until Completed is reached; on an Idle client it
// returns at once without a transition. Concurrent Abort calls from
// different goroutines coalesce onto the same completion (spec §4.F).
func (c *Client) Abort() {
	c.driver.Abort()
}

// Subscribe returns a subscription delivering every public event in
// order: AssociationAcceptedEvent, AssociationRejectedEvent,
// AssociationReleasedEvent, StateChangedEvent (spec §4.F).
func (c *Client) Subscribe() (*pubsub.Subscription[assoc.Event], error) {
	return c.driver.Subscribe()
}

// Close stops the driver's event loop. It does not itself abort or
// release an in-progress association; call Abort first for a clean
// shutdown.
func (c *Client) Close() {
	c.driver.Stop()
	<-c.stopped
}
