package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Check engine metrics
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_checks_total",
			Help: "Total number of rebac_check calls by decision",
		},
		[]string{"decision"},
	)

	CheckLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_check_latency_seconds",
			Help:    "Latency of rebac_check calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_cache_hits_total",
			Help: "Total number of cache hits by tier (l1, l2)",
		},
		[]string{"tier"},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_cache_misses_total",
			Help: "Total number of checks that fell through both caches to tuple traversal",
		},
	)

	// Tuple store metrics
	TuplesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_tuples_total",
			Help: "Total number of live tuples by zone",
		},
		[]string{"zone"},
	)

	TupleWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_tuple_writes_total",
			Help: "Total number of tuple writes by zone and operation (create, delete)",
		},
		[]string{"zone", "op"},
	)

	ZoneRevision = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_zone_revision",
			Help: "Current revision (current_version) per zone",
		},
		[]string{"zone"},
	)

	// L2 Tiger Cache metrics
	L2BitmapCardinality = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_l2_bitmap_cardinality",
			Help:    "Cardinality of accessible-resource bitmaps written to L2",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	L2InvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_l2_invalidations_total",
			Help: "Total number of L2 invalidations by scope (narrow, broad_rebuild)",
		},
		[]string{"scope"},
	)

	// Operation latency
	TupleWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_tuple_write_duration_seconds",
			Help:    "Time taken to write a tuple in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExpandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_expand_duration_seconds",
			Help:    "Time taken to expand a permission in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AccessibleResourcesDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_accessible_resources_duration_seconds",
			Help:    "Time taken to compute accessible_resources in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResetZoneDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_reset_zone_duration_seconds",
			Help:    "Time taken to reset a zone in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ChecksTotal)
	prometheus.MustRegister(CheckLatency)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(TuplesTotal)
	prometheus.MustRegister(TupleWritesTotal)
	prometheus.MustRegister(ZoneRevision)
	prometheus.MustRegister(L2BitmapCardinality)
	prometheus.MustRegister(L2InvalidationsTotal)
	prometheus.MustRegister(TupleWriteDuration)
	prometheus.MustRegister(ExpandDuration)
	prometheus.MustRegister(AccessibleResourcesDuration)
	prometheus.MustRegister(ResetZoneDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
