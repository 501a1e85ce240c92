package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification backend.
type Metrics struct {
	// Ingest requests by result: "created", "duplicate", "rejected", "error"
	Ingested *prometheus.CounterVec

	// Idempotency cache lookups by result: "hit", "miss", "error"
	CacheLookups *prometheus.CounterVec

	// Outbox events published to Kafka
	Published prometheus.Counter

	PublishFailures prometheus.Counter
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_backend_ingested_total",
			Help: "Verification uploads by result",
		}, []string{"result"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_backend_idempotency_lookups_total",
			Help: "Idempotency cache lookups by result",
		}, []string{"result"}),
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "kyc_backend_outbox_published_total",
			Help: "Outbox events published to Kafka",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kyc_backend_outbox_publish_failures_total",
			Help: "Outbox publish attempts that failed",
		}),
	}
}

func (m *Metrics) IncrementIngested(result string) {
	if m != nil {
		m.Ingested.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) AddPublished(n int) {
	if m != nil {
		m.Published.Add(float64(n))
	}
}

func (m *Metrics) IncrementPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}
