package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts API activity for the /metrics endpoint.
type Metrics struct {
	Heartbeats     prometheus.Counter
	Decisions      prometheus.Counter
	BlockedRules   prometheus.Counter
	UnlockRequests prometheus.Counter
	UnlockVerifies *prometheus.CounterVec
}

// NewMetrics registers and returns the API counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "minder",
			Name:      "heartbeats_total",
			Help:      "Accepted usage heartbeats.",
		}),
		Decisions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "minder",
			Name:      "decisions_total",
			Help:      "Served decision (config) reads.",
		}),
		BlockedRules: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "minder",
			Name:      "blocked_rules_total",
			Help:      "Rules returned with block=true across decision reads.",
		}),
		UnlockRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "minder",
			Name:      "unlock_requests_total",
			Help:      "Unlock code requests.",
		}),
		UnlockVerifies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minder",
			Name:      "unlock_verifies_total",
			Help:      "Unlock code verification attempts by result.",
		}, []string{"result"}),
	}
}
