package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CatalogMetrics tracks the health of the catalog client: page cache,
// client-side throttling and the circuit breaker guarding the hub.
type CatalogMetrics struct {
	pageCacheHits   prometheus.Counter
	pageCacheMisses prometheus.Counter
	throttleWaits   prometheus.Histogram
	breakerOpen     prometheus.Counter
	offline         prometheus.Counter
	checksumErrors  prometheus.Counter
}

var (
	defaultCatalogMetrics     *CatalogMetrics
	defaultCatalogMetricsOnce sync.Once
)

// NewCatalogMetrics builds a CatalogMetrics recorder using the default registry.
func NewCatalogMetrics() *CatalogMetrics {
	defaultCatalogMetricsOnce.Do(func() {
		defaultCatalogMetrics = newCatalogMetrics(prometheus.DefaultRegisterer)
	})
	return defaultCatalogMetrics
}

// NewCatalogMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewCatalogMetricsWithRegisterer(reg prometheus.Registerer) *CatalogMetrics {
	return newCatalogMetrics(reg)
}

func newCatalogMetrics(reg prometheus.Registerer) *CatalogMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &CatalogMetrics{
		pageCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "s2batch",
			Subsystem: "catalog",
			Name:      "page_cache_hit_total",
			Help:      "Search result pages served from the in-process cache",
		}),
		pageCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "s2batch",
			Subsystem: "catalog",
			Name:      "page_cache_miss_total",
			Help:      "Search result pages fetched from the hub",
		}),
		throttleWaits: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "s2batch",
			Subsystem: "catalog",
			Name:      "throttle_wait_seconds",
			Help:      "Time spent waiting on the client-side request limiter",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		breakerOpen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "s2batch",
			Subsystem: "catalog",
			Name:      "breaker_rejected_total",
			Help:      "Requests rejected because the catalog circuit breaker was open",
		}),
		offline: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "s2batch",
			Subsystem: "catalog",
			Name:      "offline_product_total",
			Help:      "Status lookups that reported a product as offline",
		}),
		checksumErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "s2batch",
			Subsystem: "catalog",
			Name:      "checksum_mismatch_total",
			Help:      "Downloads discarded because the archive checksum did not match",
		}),
	}
}

// RecordPageCacheHit increments cached search page hits.
func (m *CatalogMetrics) RecordPageCacheHit() {
	if m == nil {
		return
	}
	m.pageCacheHits.Inc()
}

// RecordPageCacheMiss increments search pages fetched remotely.
func (m *CatalogMetrics) RecordPageCacheMiss() {
	if m == nil {
		return
	}
	m.pageCacheMisses.Inc()
}

// ObserveThrottleWait records seconds spent waiting on the limiter.
func (m *CatalogMetrics) ObserveThrottleWait(seconds float64) {
	if m == nil {
		return
	}
	m.throttleWaits.Observe(seconds)
}

// RecordBreakerRejection increments requests short-circuited by the breaker.
func (m *CatalogMetrics) RecordBreakerRejection() {
	if m == nil {
		return
	}
	m.breakerOpen.Inc()
}

// RecordOffline increments offline status results.
func (m *CatalogMetrics) RecordOffline() {
	if m == nil {
		return
	}
	m.offline.Inc()
}

// RecordChecksumMismatch increments discarded downloads.
func (m *CatalogMetrics) RecordChecksumMismatch() {
	if m == nil {
		return
	}
	m.checksumErrors.Inc()
}
