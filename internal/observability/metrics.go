package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/traffic"
)

var (
	registry *prometheus.Registry

	// Monitor HTTP request rate. Watch for: scrape gaps (monitor down).
	HTTPRequestsTotal *prometheus.CounterVec

	// Monitor HTTP latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent monitor requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeatherMap API call rate. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Weather API failures by category (timeout, invalid_api_key, upstream_5xx...).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Hourly checks by outcome (success, fetch_error, publish_error).
	WeatherChecksTotal *prometheus.CounterVec

	// Last observed values per location (allow-list; others use location=other).
	WeatherTemperatureCelsius *prometheus.GaugeVec
	WeatherHumidityPercent    *prometheus.GaugeVec
	LastCheckTimestamp        prometheus.Gauge

	// Broker publishes by backend and status. Watch for: sustained errors = queue unreachable.
	BrokerPublishTotal *prometheus.CounterVec

	// Broker (re)connect attempts by result.
	BrokerConnectsTotal *prometheus.CounterVec

	// Local backup writes by backend and status.
	BackupWritesTotal *prometheus.CounterVec

	// Latest-reading cache hits and errors.
	CacheHitsTotal   *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Service readiness probes (elasticsearch, kibana, rabbitmq, logstash).
	ProbeResultsTotal *prometheus.CounterVec
	ProbeDuration     *prometheus.HistogramVec

	// Pipeline stage outcomes and durations.
	PipelineStagesTotal   *prometheus.CounterVec
	PipelineStageDuration *prometheus.HistogramVec

	// Workspace cleanup attempts by strategy and result.
	CleanupAttemptsTotal *prometheus.CounterVec

	// External command executions (docker, git, robocopy...) by command and result.
	CommandExecutionsTotal *prometheus.CounterVec

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}

	checkWindowGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Weather API failures by error category",
		},
		[]string{"category"},
	)
	WeatherChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherChecksTotal",
			Help: "Weather checks by outcome",
		},
		[]string{"outcome"},
	)
	WeatherTemperatureCelsius = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weatherTemperatureCelsius",
			Help: "Last observed temperature",
		},
		[]string{"location"},
	)
	WeatherHumidityPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weatherHumidityPercent",
			Help: "Last observed relative humidity",
		},
		[]string{"location"},
	)
	LastCheckTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weatherLastCheckTimestampSeconds",
			Help: "Unix time of the last completed weather check",
		},
	)
	BrokerPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerPublishTotal",
			Help: "Messages published to the broker",
		},
		[]string{"backend", "status"},
	)
	BrokerConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerConnectsTotal",
			Help: "Broker connection attempts",
		},
		[]string{"backend", "result"},
	)
	BackupWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupWritesTotal",
			Help: "Local backup writes",
		},
		[]string{"backend", "status"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Latest-reading cache lookups by result",
		},
		[]string{"result"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Latest-reading cache errors by operation",
		},
		[]string{"operation"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	ProbeResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeResultsTotal",
			Help: "Service readiness probe results",
		},
		[]string{"service", "result"},
	)
	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "probeDurationSeconds",
			Help:    "Service readiness probe latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service"},
	)
	PipelineStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelineStagesTotal",
			Help: "Pipeline stage outcomes",
		},
		[]string{"stage", "status"},
	)
	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipelineStageDurationSeconds",
			Help:    "Pipeline stage duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)
	CleanupAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanupAttemptsTotal",
			Help: "Workspace deletion attempts by strategy",
		},
		[]string{"strategy", "result"},
	)
	CommandExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commandExecutionsTotal",
			Help: "External command executions",
		},
		[]string{"command", "result"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		WeatherChecksTotal, WeatherTemperatureCelsius, WeatherHumidityPercent, LastCheckTimestamp,
		BrokerPublishTotal, BrokerConnectsTotal, BackupWritesTotal,
		CacheHitsTotal, CacheErrorsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		ProbeResultsTotal, ProbeDuration,
		PipelineStagesTotal, PipelineStageDuration,
		CleanupAttemptsTotal, CommandExecutionsTotal,
	)
}

// RegisterCheckWindowGauges registers gauges over the check-outcome sliding window.
// Call from main after config load with the degraded window.
func RegisterCheckWindowGauges(window time.Duration) {
	checkWindowGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "weatherChecksInWindow",
					Help: "Checks completed in the degraded window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "weatherCheckErrorsInWindow",
					Help: "Failed checks in the degraded window",
				},
				func() float64 {
					errs, _ := traffic.ErrorRate(window)
					return float64(errs)
				},
			),
		)
	})
}

// SetTrackedLocations sets the allow-list for location labels. Others are reported as "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// MetricLocationLabel returns the location label to use, bounded by the allow-list.
func MetricLocationLabel(location string) string {
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc] // nil map read is safe in Go
	trackedLocationsMu.RUnlock()
	if ok {
		return loc
	}
	return "other"
}

// RecordReading updates the last-observation gauges.
func RecordReading(location string, temperature float64, humidity int, at time.Time) {
	loc := MetricLocationLabel(location)
	WeatherTemperatureCelsius.WithLabelValues(loc).Set(temperature)
	WeatherHumidityPercent.WithLabelValues(loc).Set(float64(humidity))
	LastCheckTimestamp.Set(float64(at.Unix()))
}

// CircuitBreakerStateValue maps the breaker state ordinal to the gauge value.
func CircuitBreakerStateValue(state int) float64 {
	return float64(state)
}

// SetCircuitBreakerStateGauge sets the current breaker state for component.
func SetCircuitBreakerStateGauge(component string, value float64) {
	CircuitBreakerState.WithLabelValues(component).Set(value)
}

// RecordCircuitBreakerTransition counts a breaker transition.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

func normalizeLocationForMetrics(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return s
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
