package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics_Usable verifies that every metric accepts the label values used by the
// client, monitor, broker, probe, pipeline and cleanup packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.01)
	WeatherAPICallsTotal.WithLabelValues("success").Inc()
	WeatherAPIDuration.WithLabelValues("success").Observe(0.1)
	WeatherAPIErrorsTotal.WithLabelValues("timeout").Inc()
	WeatherChecksTotal.WithLabelValues("success").Inc()
	BrokerPublishTotal.WithLabelValues("rabbitmq", "success").Inc()
	BrokerConnectsTotal.WithLabelValues("rabbitmq", "error").Inc()
	BackupWritesTotal.WithLabelValues("jsonl", "success").Inc()
	CacheHitsTotal.WithLabelValues("hit").Inc()
	CacheErrorsTotal.WithLabelValues("get").Inc()
	ProbeResultsTotal.WithLabelValues("elasticsearch", "ok").Inc()
	ProbeDuration.WithLabelValues("kibana").Observe(0.2)
	PipelineStagesTotal.WithLabelValues("clone", "success").Inc()
	PipelineStageDuration.WithLabelValues("clone").Observe(2)
	CleanupAttemptsTotal.WithLabelValues("force", "removed").Inc()
	CommandExecutionsTotal.WithLabelValues("docker", "ok").Inc()
}

func TestMetricLocationLabel(t *testing.T) {
	SetTrackedLocations([]string{"Vienna,AT"})
	defer SetTrackedLocations(nil)

	if got := MetricLocationLabel("  vienna,at "); got != "vienna,at" {
		t.Errorf("MetricLocationLabel(tracked) = %q, want vienna,at", got)
	}
	if got := MetricLocationLabel("Graz,AT"); got != "other" {
		t.Errorf("MetricLocationLabel(untracked) = %q, want other", got)
	}
}

func TestRecordReading_SetsGauges(t *testing.T) {
	SetTrackedLocations([]string{"vienna,at"})
	defer SetTrackedLocations(nil)

	at := time.Unix(1_700_000_000, 0)
	RecordReading("Vienna,AT", 21.5, 60, at)

	if got := testutil.ToFloat64(WeatherTemperatureCelsius.WithLabelValues("vienna,at")); got != 21.5 {
		t.Errorf("temperature gauge = %v, want 21.5", got)
	}
	if got := testutil.ToFloat64(WeatherHumidityPercent.WithLabelValues("vienna,at")); got != 60 {
		t.Errorf("humidity gauge = %v, want 60", got)
	}
	if got := testutil.ToFloat64(LastCheckTimestamp); got != float64(at.Unix()) {
		t.Errorf("last check gauge = %v, want %v", got, at.Unix())
	}
}

func TestCircuitBreakerHelpers(t *testing.T) {
	SetCircuitBreakerStateGauge("weather_api", CircuitBreakerStateValue(1))
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("weather_api")); got != 1 {
		t.Errorf("breaker gauge = %v, want 1", got)
	}
	before := testutil.ToFloat64(CircuitBreakerTransitionsTotal.WithLabelValues("broker", "closed", "open"))
	RecordCircuitBreakerTransition("broker", "closed", "open")
	after := testutil.ToFloat64(CircuitBreakerTransitionsTotal.WithLabelValues("broker", "closed", "open"))
	if after-before != 1 {
		t.Errorf("transition counter delta = %v, want 1", after-before)
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	RegisterCheckWindowGauges(time.Minute)
	WeatherChecksTotal.WithLabelValues("success").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"weatherChecksTotal", "weatherChecksInWindow"} {
		if !strings.Contains(body, name) {
			t.Errorf("MetricsHandler response missing %s", name)
		}
	}
}
