package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics exposes counters/histograms for the calendar sync flows.
type SyncMetrics struct {
	syncTotal       *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	batchSize       prometheus.Histogram
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		syncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fisioflow",
			Subsystem: "calsync",
			Name:      "sync_total",
			Help:      "Total appointment sync attempts",
		}, []string{"action", "status"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fisioflow",
			Subsystem: "calsync",
			Name:      "token_refresh_total",
			Help:      "Total OAuth token refresh attempts",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fisioflow",
			Subsystem: "calsync",
			Name:      "provider_latency_seconds",
			Help:      "Latency of calendar provider calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fisioflow",
			Subsystem: "calsync",
			Name:      "batch_size",
			Help:      "Number of appointments per batch sync",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.syncTotal, m.refreshTotal, m.providerLatency, m.batchSize)
	return m
}

func (m *SyncMetrics) ObserveSync(action, status string) {
	if m == nil {
		return
	}
	m.syncTotal.WithLabelValues(action, status).Inc()
}

func (m *SyncMetrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

func (m *SyncMetrics) ObserveProviderLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *SyncMetrics) ObserveBatchSize(size int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}
