package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	Metrics        http.Handler
}

// NewRouter wires the monitor routes with correlation and metrics middleware. CORS wraps the
// whole router so preflight requests are answered before route matching.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/checks", h.GetChecks).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics)
	}

	readings := router.PathPrefix("/readings").Subrouter()
	if cfg.RequestTimeout > 0 {
		readings.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	readings.HandleFunc("/latest", h.GetLatest).Methods(http.MethodGet)
	readings.HandleFunc("/recent", h.GetRecent).Methods(http.MethodGet)

	if len(cfg.CORSOrigins) > 0 {
		return CORSMiddleware(cfg.CORSOrigins)(router)
	}
	return router
}
