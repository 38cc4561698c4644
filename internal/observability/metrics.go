package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "boxingtimer"

// Metrics holds the process counters. A nil *Metrics is valid and records
// nothing, so components can be built without a registry.
type Metrics struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	roundsCompleted   prometheus.Counter
	handlerErrors     *prometheus.CounterVec
	queueDrops        *prometheus.CounterVec
	tickGaps          *prometheus.CounterVec
}

// NewMetrics registers every collector on reg.
//
// Precondition: reg must be non-nil and must not already hold these collectors.
// Postcondition: Returns a Metrics whose counters start at zero.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Training sessions started from Stopped.",
		}),
		sessionsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Training sessions that ran through their final round.",
		}),
		roundsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_completed_total",
			Help:      "Round phases that reached zero.",
		}),
		handlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Event handlers that returned an error or panicked.",
		}, []string{"kind"}),
		queueDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drops_total",
			Help:      "Events dropped because a consumer queue was full.",
		}, []string{"queue"}),
		tickGaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_gaps_total",
			Help:      "Ticks whose delta exceeded the drift threshold.",
		}, []string{"policy"}),
	}
}

// SessionStarted counts a session start.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

// SessionCompleted counts a session that finished its final round.
func (m *Metrics) SessionCompleted() {
	if m == nil {
		return
	}
	m.sessionsCompleted.Inc()
}

// RoundCompleted counts a completed round.
func (m *Metrics) RoundCompleted() {
	if m == nil {
		return
	}
	m.roundsCompleted.Inc()
}

// HandlerError counts a failed handler for an event kind.
func (m *Metrics) HandlerError(kind string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(kind).Inc()
}

// QueueDrop counts an event dropped by the named queue.
func (m *Metrics) QueueDrop(queue string) {
	if m == nil {
		return
	}
	m.queueDrops.WithLabelValues(queue).Inc()
}

// TickGap counts a tick gap handled under policy.
func (m *Metrics) TickGap(policy string) {
	if m == nil {
		return
	}
	m.tickGaps.WithLabelValues(policy).Inc()
}
