package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/degraded"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/lifecycle"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/monitor"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/traffic"
)

const (
	defaultRecent = 10
	maxRecent     = 100
)

// CheckSource is what the handlers read from the weather monitor.
type CheckSource interface {
	Status() monitor.Status
	Latest(ctx context.Context) (models.Reading, bool, error)
	Recent(ctx context.Context, n int) ([]models.BackupEntry, error)
}

// HealthConfig holds the degraded thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	Location         string
	Version          string
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	source           CheckSource
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(source CheckSource, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if healthConfig == nil {
		healthConfig = &HealthConfig{}
	}
	return &Handler{
		source:       source,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	st := h.source.Status()
	result := h.computeHealthStatus(st)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{
		"weatherApi": healthyIf(st.LastFetchOK),
		"backup":     healthyIf(st.LastBackupOK),
		"cache":      "healthy",
	}
	switch {
	case st.BrokerBackend == "none":
		checks["broker"] = "disabled"
	case st.BrokerConnected:
		checks["broker"] = "connected"
	default:
		checks["broker"] = "disconnected"
	}
	if h.healthConfig.CachePing != nil {
		checks["cache"] = healthyIf(h.healthConfig.CachePing() == nil)
	}

	version := h.healthConfig.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "vienna-weather-monitor",
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > degraded (error rate, then broker down) > healthy.
func (h *Handler) computeHealthStatus(st monitor.Status) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if degraded.IsDegraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	if st.BrokerBackend != "none" && !st.BrokerConnected {
		return healthResult{"degraded", http.StatusServiceUnavailable, "broker_disconnected"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func healthyIf(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}

// GetLatest handles GET /readings/latest.
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	reading, ok, err := h.source.Latest(r.Context())
	if err != nil {
		loggerFrom(r, h.logger).Debug("cache read failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "Unable to read latest reading")
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "NO_READING", "No reading for "+h.healthConfig.Location+" yet")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// GetRecent handles GET /readings/recent?n=.
func (h *Handler) GetRecent(w http.ResponseWriter, r *http.Request) {
	n := defaultRecent
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "n must be a positive integer")
			return
		}
		n = v
	}
	if n > maxRecent {
		n = maxRecent
	}

	entries, err := h.source.Recent(r.Context(), n)
	if err != nil {
		loggerFrom(r, h.logger).Debug("backup read failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "BACKUP_UNAVAILABLE", "Unable to read backup entries")
		return
	}
	if entries == nil {
		entries = []models.BackupEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// GetChecks handles GET /checks.
func (h *Handler) GetChecks(w http.ResponseWriter, r *http.Request) {
	window := h.healthConfig.DegradedWindow
	if window <= 0 {
		window = traffic.DefaultRetention
	}
	st := h.source.Status()
	errs, total := traffic.ErrorRate(window)

	var lastCheck interface{}
	if !st.LastCheck.IsZero() {
		lastCheck = st.LastCheck.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalChecks":             st.Checks,
		"window":                  window.String(),
		"checksInWindow":          total,
		"successesInWindow":       total - errs,
		"failuresInWindow":        errs,
		"publishFailuresInWindow": traffic.PublishFailureCount(window),
		"lastCheck":               lastCheck,
		"broker":                  st.BrokerBackend,
		"backup":                  st.BackupBackend,
	})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": CorrelationID(r.Context()),
		},
	})
}
