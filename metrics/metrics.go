// Package metrics exposes Prometheus instrumentation for the association
// state machine, following the package-level promauto pattern from
// peer-calls-peer-calls/server/prometheus.go: each metric is registered
// once at package load, and Metrics just wraps them so callers don't reach
// for global vars directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dicomkit/assoc"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dicomassoc_state_transitions_total",
	Help: "Total number of association state transitions, by origin and destination state.",
}, []string{"from", "to"})

var outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dicomassoc_outcomes_total",
	Help: "Total number of completed send() calls, by outcome kind.",
}, []string{"outcome"})

var abortsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dicomassoc_aborts_total",
	Help: "Total number of times the machine entered the Abort state.",
})

var timeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dicomassoc_timeouts_total",
	Help: "Total number of local timers that fired, by kind.",
}, []string{"kind"})

var requestQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dicomassoc_request_queue_depth",
	Help: "Number of requests enqueued but not yet dispatched to the wire.",
})

// Metrics wraps the package's Prometheus collectors so callers hold a
// value rather than reaching for package-level vars.
type Metrics struct{}

// New returns a Metrics handle. There is nothing per-instance to
// construct: the underlying collectors are process-global, matching how
// Prometheus client libraries are conventionally used.
func New() *Metrics { return &Metrics{} }

// ObserveTransition records one state transition.
func (*Metrics) ObserveTransition(from, to assoc.Kind) {
	transitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	if to == assoc.KindAbort {
		abortsTotal.Inc()
	}
}

// ObserveOutcome records one completed send() call's outcome.
func (*Metrics) ObserveOutcome(kind assoc.OutcomeKind) {
	outcomesTotal.WithLabelValues(kind.String()).Inc()
}

// ObserveTimeout records one local timer firing.
func (*Metrics) ObserveTimeout(kind assoc.TimeoutKind) {
	timeoutsTotal.WithLabelValues(kind.String()).Inc()
}

// SetQueueDepth reports the current pending-request queue depth.
func (*Metrics) SetQueueDepth(n int) {
	requestQueueDepth.Set(float64(n))
}
