package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the sync outbox.
type Metrics struct {
	// Upload attempts by result: "synced", "duplicate", "failed", "parked"
	Uploads *prometheus.CounterVec

	UploadLatency prometheus.Histogram

	// Tasks moved back to pending, by cause: "reactivated", "stuck"
	Requeued *prometheus.CounterVec

	// 1 while the circuit breaker is open
	BreakerOpen prometheus.Gauge
}

// New registers the outbox metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers against reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_sync_uploads_total",
			Help: "Sync upload attempts by result",
		}, []string{"result"}),

		UploadLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyc_sync_upload_duration_seconds",
			Help:    "Duration of sync uploads",
			Buckets: prometheus.DefBuckets,
		}),

		Requeued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_sync_requeued_total",
			Help: "Sync tasks returned to pending",
		}, []string{"cause"}),

		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kyc_sync_breaker_open",
			Help: "Whether the sync circuit breaker is open",
		}),
	}
}

func (m *Metrics) IncrementUpload(result string) {
	if m != nil {
		m.Uploads.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveUploadLatency(d time.Duration) {
	if m != nil {
		m.UploadLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) AddRequeued(cause string, n int) {
	if m != nil && n > 0 {
		m.Requeued.WithLabelValues(cause).Add(float64(n))
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
