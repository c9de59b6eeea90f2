package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// Metrics holds the optimizer's Prometheus collectors.
type Metrics struct {
	PlansGenerated   prometheus.Counter
	Batches          *prometheus.CounterVec
	Items            *prometheus.CounterVec
	TrackingOutcomes *prometheus.CounterVec
	Rollbacks        *prometheus.CounterVec
	Reviews          *prometheus.CounterVec
	MutationLatency  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PlansGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "optimizer_plans_generated_total",
				Help: "Total number of allocation plans generated",
			},
		),

		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_batches_total",
				Help: "Execution batches by source and final status",
			},
			[]string{"source", "status"},
		),

		Items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_batch_items_total",
				Help: "Execution items by outcome",
			},
			[]string{"outcome"},
		),

		TrackingOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_tracking_reports_total",
				Help: "Tracking reports by recommendation",
			},
			[]string{"recommendation"},
		),

		Rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_rollbacks_total",
				Help: "Rollbacks by trigger and result",
			},
			[]string{"trigger", "result"},
		),

		Reviews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_reviews_processed_total",
				Help: "Processed reviews by resulting status",
			},
			[]string{"status"},
		),

		MutationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optimizer_mutation_duration_seconds",
				Help:    "Ad network mutation latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"action", "ok"},
		),
	}
	reg.MustRegister(m.PlansGenerated, m.Batches, m.Items, m.TrackingOutcomes, m.Rollbacks, m.Reviews, m.MutationLatency)
	return m
}

// MutationObserved implements execution.Observer.
func (m *Metrics) MutationObserved(action domain.ActionType, ok bool, seconds float64) {
	m.MutationLatency.WithLabelValues(string(action), strconv.FormatBool(ok)).Observe(seconds)
}

func (m *Metrics) batchDone(b domain.ExecutionBatch) {
	m.Batches.WithLabelValues(string(b.Source), string(b.Status)).Inc()
	m.Items.WithLabelValues("applied").Add(float64(b.Succeeded))
	m.Items.WithLabelValues("failed").Add(float64(b.Failed))
	m.Items.WithLabelValues("skipped").Add(float64(b.Skipped))
}

func (m *Metrics) tracked(r domain.TrackingReport) {
	m.TrackingOutcomes.WithLabelValues(string(r.Recommendation)).Inc()
}

func (m *Metrics) rollback(trigger string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Rollbacks.WithLabelValues(trigger, result).Inc()
}
