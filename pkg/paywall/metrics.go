package paywall

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the paywall's quotes and proof decisions
type Metrics struct {
	QuotesIssued   *prometheus.CounterVec
	ProofsAccepted *prometheus.CounterVec
	ProofsRejected *prometheus.CounterVec
}

// NewMetrics creates the paywall metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QuotesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodo",
			Subsystem: "paywall",
			Name:      "quotes_issued_total",
			Help:      "Payment quotes answered with 402, by tier.",
		}, []string{"tier"}),
		ProofsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodo",
			Subsystem: "paywall",
			Name:      "proofs_accepted_total",
			Help:      "Payment proofs that redeemed a quote, by tier.",
		}, []string{"tier"}),
		ProofsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodo",
			Subsystem: "paywall",
			Name:      "proofs_rejected_total",
			Help:      "Payment proofs refused, by rejection code.",
		}, []string{"code"}),
	}

	if reg != nil {
		reg.MustRegister(m.QuotesIssued, m.ProofsAccepted, m.ProofsRejected)
	}
	return m
}
