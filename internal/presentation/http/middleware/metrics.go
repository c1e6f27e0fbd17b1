package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Idempotency outcomes recorded by IdempotencyMetrics
const (
	OutcomePassthrough = "passthrough"
	OutcomeReplayed    = "replayed"
	OutcomeConflict    = "conflict"
	OutcomeExecuted    = "executed"
	OutcomeRejected    = "rejected"
	OutcomeFailed      = "failed"
)

// IdempotencyMetrics counts how requests leave the idempotency middleware
type IdempotencyMetrics struct {
	requests *prometheus.CounterVec
}

// NewIdempotencyMetrics registers the idempotency counters with reg. A nil
// reg creates unregistered counters.
func NewIdempotencyMetrics(reg prometheus.Registerer) *IdempotencyMetrics {
	factory := promauto.With(reg)
	return &IdempotencyMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_requests_total",
			Help: "Requests handled by the idempotency middleware, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *IdempotencyMetrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}
