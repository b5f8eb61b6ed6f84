package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the treasury controller.
type Metrics struct {
	ProposalsCreated     prometheus.Counter
	VotesCast            prometheus.Counter
	ProposalsApproved    prometheus.Counter
	ProposalsRejected    prometheus.Counter
	ProposalsCanceled    prometheus.Counter
	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    prometheus.Histogram
	EmergencyWithdrawals prometheus.Counter
	Paused               prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ProposalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_proposals_created_total",
			Help: "Total number of proposals created",
		}),
		VotesCast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_votes_cast_total",
			Help: "Total number of votes recorded",
		}),
		ProposalsApproved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_proposals_approved_total",
			Help: "Total number of proposals approved",
		}),
		ProposalsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_proposals_rejected_total",
			Help: "Total number of proposals rejected by an admin",
		}),
		ProposalsCanceled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_proposals_canceled_total",
			Help: "Total number of proposals canceled by their proposer",
		}),
		ExecutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_executions_total",
			Help: "Proposal execution attempts by outcome",
		}, []string{"outcome"}),
		ExecutionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_execution_duration_seconds",
			Help:    "Latency of proposal execution including the external call",
			Buckets: prometheus.DefBuckets,
		}),
		EmergencyWithdrawals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_emergency_withdrawals_total",
			Help: "Total number of break-glass withdrawals",
		}),
		Paused: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "custodia_paused",
			Help: "1 while fund movement is paused, 0 otherwise",
		}),
	}
}

// ObserveExecution records one execution attempt.
func (m *Metrics) ObserveExecution(outcome string, d time.Duration) {
	m.ExecutionsTotal.WithLabelValues(outcome).Inc()
	m.ExecutionDuration.Observe(d.Seconds())
}

// SetPaused mirrors the pause flag onto the gauge.
func (m *Metrics) SetPaused(paused bool) {
	if paused {
		m.Paused.Set(1)
		return
	}
	m.Paused.Set(0)
}
