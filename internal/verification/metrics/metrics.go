package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification engine.
type Metrics struct {
	// Quality gate outcomes by stage
	StageOutcome *prometheus.CounterVec

	// Oracle call latency by oracle operation and result
	OracleLatency *prometheus.HistogramVec

	// Sessions reaching a terminal status, by status and failure reason
	SessionsFinished *prometheus.CounterVec

	SessionsStarted prometheus.Counter
}

// New registers the engine metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers against reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_stage_outcomes_total",
			Help: "Quality gate outcomes by stage",
		}, []string{"stage", "outcome"}), // outcome: "pass", "retry", "fail"

		OracleLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_oracle_duration_seconds",
			Help:    "Duration of oracle calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"operation", "result"}),

		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_sessions_finished_total",
			Help: "Sessions reaching a terminal status",
		}, []string{"status", "reason"}),

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "kyc_sessions_started_total",
			Help: "Sessions created on this device",
		}),
	}
}

func (m *Metrics) IncrementStageOutcome(stage, outcome string) {
	if m != nil {
		m.StageOutcome.WithLabelValues(stage, outcome).Inc()
	}
}

func (m *Metrics) ObserveOracleLatency(operation, result string, d time.Duration) {
	if m != nil {
		m.OracleLatency.WithLabelValues(operation, result).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementSessionFinished(status, reason string) {
	if m != nil {
		m.SessionsFinished.WithLabelValues(status, reason).Inc()
	}
}

func (m *Metrics) IncrementSessionStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
	}
}
