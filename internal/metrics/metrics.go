package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raaihank/pmo-sentinel/internal/cache"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
)

const namespace = "pmo_sentinel"

// Metrics holds the Prometheus collectors of the service
type Metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	substitutions     *prometheus.CounterVec
	noMatches         *prometheus.CounterVec
	generatorErrors   prometheus.Counter
	generatorDuration prometheus.Histogram
	cacheLookups      *prometheus.CounterVec
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		substitutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "substitutions_total",
			Help:      "Replacements performed by pipeline stage.",
		}, []string{"stage"}),
		noMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "substitution_no_match_total",
			Help:      "Substitution entries that matched nothing, by stage.",
		}, []string{"stage"}),
		generatorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_errors_total",
			Help:      "Failed generator calls.",
		}),
		generatorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generator_duration_seconds",
			Help:      "Latency of generator calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Snapshot cache lookups by kind and result.",
		}, []string{"kind", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.substitutions,
		m.noMatches,
		m.generatorErrors,
		m.generatorDuration,
		m.cacheLookups,
	)
	return m
}

// Handler exposes the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts a finished HTTP request
func (m *Metrics) ObserveRequest(route string, status int) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// ObserveSubstitution implements privacy.Observer
func (m *Metrics) ObserveSubstitution(stage privacy.Stage, result privacy.Result) {
	if n := result.Replaced(); n > 0 {
		m.substitutions.WithLabelValues(string(stage)).Add(float64(n))
	}
	if n := result.Misses(); n > 0 {
		m.noMatches.WithLabelValues(string(stage)).Add(float64(n))
	}
}

// ObserveGenerator records one generator call
func (m *Metrics) ObserveGenerator(elapsed time.Duration, err error) {
	m.generatorDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.generatorErrors.Inc()
	}
}

// ObserveCacheLookup implements cache.Observer
func (m *Metrics) ObserveCacheLookup(kind cache.Kind, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(string(kind), result).Inc()
}
