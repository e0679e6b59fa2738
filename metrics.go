package netservice

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes used as the "outcome" label.
const (
	OutcomeHit     = "hit"
	OutcomeFetched = "fetched"
	OutcomeFailed  = "failed"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle.
// A nil collector is valid and records nothing. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   prometheus.Gauge

	pluginErrors    *prometheus.CounterVec
	activityStarted *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
// Metrics already registered there by an earlier collector are shared, so
// several services can report into the same registry.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := registerer{registry}
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netservice_requests_total",
				Help: "Total number of service requests by outcome",
			},
			[]string{"outcome", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netservice_request_duration_seconds",
				Help:    "Duration of service requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netservice_requests_in_flight",
				Help: "Number of fetches currently in flight",
			},
			[]string{"endpoint"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netservice_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"endpoint"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netservice_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"endpoint"},
		),
		cacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "netservice_cache_size",
				Help: "Current number of entries in cache",
			},
		),
		pluginErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netservice_plugin_errors_total",
				Help: "Total number of requests aborted by a plugin",
			},
			[]string{"endpoint"},
		),
		activityStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netservice_activity_started_total",
				Help: "Total number of requests signalled by the activity plugin",
			},
			[]string{"method", "endpoint"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netservice_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "endpoint"},
		),
		registry: registry,
	}
}

// registerer mirrors the promauto factory but reuses collectors that are
// already registered instead of panicking.
type registerer struct {
	reg prometheus.Registerer
}

func (r registerer) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(r.reg, prometheus.NewCounterVec(opts, labels))
}

func (r registerer) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(r.reg, prometheus.NewHistogramVec(opts, labels))
}

func (r registerer) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	return register(r.reg, prometheus.NewGaugeVec(opts, labels))
}

func (r registerer) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(r.reg, prometheus.NewGauge(opts))
}

// register adds c to reg. When an identical collector is already present
// the existing one is returned. Any other registration failure panics, as
// promauto does.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(outcome, endpoint string, duration time.Duration) {
	if mc == nil {
		return
	}

	label := endpointLabel(endpoint)
	mc.requestsTotal.WithLabelValues(outcome, label).Inc()
	mc.requestDuration.WithLabelValues(outcome, label).Observe(duration.Seconds())
}

// RecordFetchStart increments in-flight gauge.
func (mc *MetricsCollector) RecordFetchStart(endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(endpointLabel(endpoint)).Inc()
}

// RecordFetchEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordFetchEnd(endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(endpointLabel(endpoint)).Dec()
}

// RecordCacheHit increments cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(endpointLabel(endpoint)).Inc()
}

// RecordCacheMiss increments cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(endpointLabel(endpoint)).Inc()
}

// RecordCacheSize sets cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.Set(float64(size))
}

// RecordPluginError increments the aborted-by-plugin counter.
func (mc *MetricsCollector) RecordPluginError(endpoint string) {
	if mc == nil {
		return
	}

	mc.pluginErrors.WithLabelValues(endpointLabel(endpoint)).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, endpointLabel(endpoint)).Inc()
}

// RequestStarted implements ActivityTracker so the collector can back an
// ActivityPlugin directly.
func (mc *MetricsCollector) RequestStarted(req *http.Request) {
	if mc == nil {
		return
	}

	mc.activityStarted.WithLabelValues(req.Method, metricsEndpoint(req)).Inc()
}

// GetRegistry exposes the registerer the collector was built on.
func (mc *MetricsCollector) GetRegistry() prometheus.Registerer {
	return mc.registry
}

func metricsEndpoint(req *http.Request) string {
	if req == nil || req.URL == nil {
		return "unknown"
	}
	return hostPath(req.URL)
}

// endpointLabel reduces an endpoint to host + path so query strings do not
// explode label cardinality.
func endpointLabel(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return hostPath(u)
}

func hostPath(u *url.URL) string {
	var builder strings.Builder
	builder.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		builder.WriteString(u.Path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}
