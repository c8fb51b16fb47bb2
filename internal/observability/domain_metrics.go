package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probe_sessions_total",
			Help: "Total number of finished ask sessions by terminal state.",
		},
		[]string{"state"},
	)
	sessionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "probe_session_duration_seconds",
			Help:    "Wall time of ask sessions from generation to answer.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)
	sessionRetries = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "probe_session_retries",
			Help:    "Correction rounds used per session.",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
	)
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probe_evaluations_total",
			Help: "Total number of candidate evaluations by outcome.",
		},
		[]string{"outcome"},
	)
	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probe_model_calls_total",
			Help: "Total number of language model calls by stage and status.",
		},
		[]string{"stage", "status"},
	)
	modelCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "probe_model_call_duration_seconds",
			Help:    "Language model call latency by stage.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"stage"},
	)
	materializedRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "probe_materialized_rows",
			Help:    "Row count of materialized result tables.",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
		},
	)
	materializeDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "probe_materialize_duration_ms",
			Help:    "Materialization latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		sessionsTotal,
		sessionDurationSeconds,
		sessionRetries,
		evaluationsTotal,
		modelCallsTotal,
		modelCallDurationSeconds,
		materializedRows,
		materializeDurationMs,
	)
}

func ObserveSession(state string, retries int, elapsed time.Duration) {
	sessionsTotal.WithLabelValues(state).Inc()
	sessionRetries.Observe(float64(retries))
	sessionDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveEvaluation records one evaluator call. outcome is "valid" or the
// error kind.
func ObserveEvaluation(outcome string) {
	evaluationsTotal.WithLabelValues(outcome).Inc()
}

func ObserveModelCall(stage string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	modelCallsTotal.WithLabelValues(stage, status).Inc()
	modelCallDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveMaterialization(rows int, elapsed time.Duration) {
	if rows < 0 {
		rows = 0
	}
	materializedRows.Observe(float64(rows))
	materializeDurationMs.Observe(float64(elapsed.Milliseconds()))
}
