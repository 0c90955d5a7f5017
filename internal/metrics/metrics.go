package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "praxis_availability"

var (
	once sync.Once

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Week cache lookups by result (hit, miss, stale).",
		},
		[]string{"result"},
	)

	slotFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_fetches_total",
			Help:      "Calls to the remote slot source by caller and outcome.",
		},
		[]string{"caller", "outcome"},
	)

	slotFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_fetch_duration_seconds",
			Help:      "Latency of remote slot source calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"caller"},
	)

	preloadPhase = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "preload_phase",
			Help:      "Current preload phase (0 idle, 1 waiting for paint, 2 phase one, 3 phase two, 4 done).",
		},
	)

	searchWeeks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_weeks_scanned",
			Help:      "Weeks scanned by one auto-advancing availability search.",
			Buckets:   []float64{1, 2, 4, 8, 12, 26},
		},
	)

	searchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_outcomes_total",
			Help:      "Availability search terminal states.",
		},
		[]string{"outcome"},
	)

	openViews = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_views",
			Help:      "Calendar views currently open.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by handler.",
		},
		[]string{"handler"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			cacheLookups,
			slotFetches,
			slotFetchDuration,
			preloadPhase,
			searchWeeks,
			searchOutcomes,
			openViews,
			httpRequests,
		)
	})
}

func IncCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

func ObserveSlotFetch(caller, outcome string, seconds float64) {
	slotFetches.WithLabelValues(caller, outcome).Inc()
	slotFetchDuration.WithLabelValues(caller).Observe(seconds)
}

func SetPreloadPhase(phase int) {
	preloadPhase.Set(float64(phase))
}

func ObserveSearch(outcome string, weeks int) {
	searchOutcomes.WithLabelValues(outcome).Inc()
	searchWeeks.Observe(float64(weeks))
}

func IncOpenViews() {
	openViews.Inc()
}

func DecOpenViews() {
	openViews.Dec()
}

func IncHTTP(handler string) {
	httpRequests.WithLabelValues(handler).Inc()
}
