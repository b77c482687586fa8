package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ephemerisSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neander_ephemeris_samples_total",
			Help: "Total number of ephemeris samples fetched, by provider.",
		},
		[]string{"provider"},
	)

	archiveQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neander_archive_queries_total",
			Help: "Total number of spatial archive queries issued.",
		},
	)

	archiveMatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neander_archive_matches_total",
			Help: "Total number of index rows returned by archive queries.",
		},
	)

	archiveQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neander_archive_query_duration_seconds",
			Help:    "Archive spatial query duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neander_image_cache_hits_total",
			Help: "Total number of image cache hits.",
		},
	)

	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neander_image_cache_misses_total",
			Help: "Total number of image cache misses.",
		},
	)

	cacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neander_image_cache_evictions_total",
			Help: "Total number of images evicted from the cache.",
		},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neander_image_cache_entries",
			Help: "Current number of images held in the cache.",
		},
	)

	cacheSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neander_image_cache_size_bytes",
			Help: "Estimated memory held by cached images in bytes.",
		},
	)

	cutoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neander_cutouts_total",
			Help: "Total number of cutout rows produced, by outcome.",
		},
		[]string{"outcome"},
	)

	extractionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neander_extraction_duration_seconds",
			Help:    "Batch cutout extraction duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neander_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neander_runs_total",
			Help: "Total number of pipeline runs, by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(ephemerisSamplesTotal)
	prometheus.MustRegister(archiveQueriesTotal)
	prometheus.MustRegister(archiveMatchesTotal)
	prometheus.MustRegister(archiveQueryDuration)
	prometheus.MustRegister(cacheHitsTotal)
	prometheus.MustRegister(cacheMissesTotal)
	prometheus.MustRegister(cacheEvictionsTotal)
	prometheus.MustRegister(cacheEntries)
	prometheus.MustRegister(cacheSizeBytes)
	prometheus.MustRegister(cutoutsTotal)
	prometheus.MustRegister(extractionDuration)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(runsTotal)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AddEphemerisSamples records samples fetched from the named provider.
func AddEphemerisSamples(provider string, n int) {
	ephemerisSamplesTotal.WithLabelValues(provider).Add(float64(n))
}

// RecordArchiveQuery records one spatial query and the rows it matched.
func RecordArchiveQuery(seconds float64, matches int) {
	archiveQueriesTotal.Inc()
	archiveMatchesTotal.Add(float64(matches))
	archiveQueryDuration.Observe(seconds)
}

func IncCacheHits()   { cacheHitsTotal.Inc() }
func IncCacheMisses() { cacheMissesTotal.Inc() }

func AddCacheEvictions(n int) { cacheEvictionsTotal.Add(float64(n)) }

func SetCacheEntries(n int) { cacheEntries.Set(float64(n)) }

func SetCacheSizeBytes(n int64) { cacheSizeBytes.Set(float64(n)) }

// RecordExtraction records one batch extraction and its per-row outcomes.
func RecordExtraction(seconds float64, valid, excluded, failed int) {
	extractionDuration.Observe(seconds)
	cutoutsTotal.WithLabelValues("valid").Add(float64(valid))
	cutoutsTotal.WithLabelValues("excluded").Add(float64(excluded))
	cutoutsTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveStage records the wall time of one named pipeline stage.
func ObserveStage(stage string, seconds float64) {
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordRun records a completed pipeline run with the given status,
// either "ok" or "error".
func RecordRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}
