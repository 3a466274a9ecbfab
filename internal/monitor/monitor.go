// Package monitor runs the weather check loop: fetch, back up locally, publish.
package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/backup"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/broker"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/cache"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/circuitbreaker"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/client"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/degraded"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/docker"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

// Outcome classifies a finished check.
type Outcome string

const (
	// OutcomeSuccess: fetched, backed up (or attempted) and published, or no broker configured.
	OutcomeSuccess Outcome = "success"
	// OutcomeLocalOnly: the reading reached the local backup but not the broker.
	OutcomeLocalOnly Outcome = "local_only"
	// OutcomeDropped: neither the backup nor the broker accepted the reading.
	OutcomeDropped Outcome = "dropped"
	// OutcomeFetchError: the weather API call failed; nothing was written.
	OutcomeFetchError Outcome = "fetch_error"
)

// Config holds the check loop settings.
type Config struct {
	Location string // API query, e.g. "Vienna,AT"
	City     string
	Country  string
	Source   string
	Interval time.Duration
}

// CheckResult describes one check.
type CheckResult struct {
	Number    int
	Outcome   Outcome
	Reading   models.Reading
	BackedUp  bool
	Published bool
	Err       error
	Duration  time.Duration
}

// Status is a snapshot of the monitor for health reporting.
type Status struct {
	Checks          int
	LastCheck       time.Time
	LastFetchOK     bool
	LastBackupOK    bool
	BrokerBackend   string
	BrokerConnected bool
	BackupBackend   string
}

// Monitor owns the check counter and the sinks a reading flows into.
type Monitor struct {
	cfg       Config
	client    client.WeatherClient
	publisher broker.Publisher
	store     backup.Store
	cache     cache.Cache
	breaker   *circuitbreaker.CircuitBreaker
	recovery  *degraded.Recovery
	docker    *docker.Manager
	container docker.ContainerSpec
	logger    *zap.Logger
	now       func() time.Time

	checks atomic.Int64

	mu           sync.Mutex
	lastCheck    time.Time
	lastFetchOK  bool
	lastBackupOK bool
}

// Option configures optional Monitor collaborators.
type Option func(*Monitor)

// WithCache stores each reading for the HTTP surface.
func WithCache(c cache.Cache) Option {
	return func(m *Monitor) { m.cache = c }
}

// WithBreaker guards Publish with a circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(m *Monitor) { m.breaker = cb }
}

// WithRecovery is notified after a publish failure so the broker can be reconnected.
func WithRecovery(r *degraded.Recovery) Option {
	return func(m *Monitor) { m.recovery = r }
}

// WithContainer makes Connect ensure the broker container is running first.
func WithContainer(mgr *docker.Manager, spec docker.ContainerSpec) Option {
	return func(m *Monitor) {
		m.docker = mgr
		m.container = spec
	}
}

// WithClock overrides time.Now. For tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor. A nil publisher means no broker.
func New(cfg Config, wc client.WeatherClient, pub broker.Publisher, store backup.Store, logger *zap.Logger, opts ...Option) *Monitor {
	if pub == nil {
		pub = broker.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		cfg:          cfg,
		client:       wc,
		publisher:    pub,
		store:        store,
		logger:       logger,
		now:          time.Now,
		lastFetchOK:  true,
		lastBackupOK: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect brings up the broker. Failure is not fatal: the monitor keeps local backups only.
// Returns whether the broker is connected.
func (m *Monitor) Connect(ctx context.Context) bool {
	if m.brokerDisabled() {
		m.logger.Info("no broker configured, local backup only")
		return false
	}
	if m.docker != nil {
		if err := m.docker.EnsureRunning(ctx, m.container); err != nil {
			m.logger.Warn("could not start broker container, continuing with local backup only",
				zap.String("container", m.container.Name),
				zap.Error(err),
			)
			return false
		}
	}
	if err := m.publisher.Connect(ctx); err != nil {
		m.logger.Warn("broker not available, continuing with local backup only",
			zap.String("backend", m.publisher.Backend()),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Reconnect re-dials the broker. Used as the recovery validate function.
func (m *Monitor) Reconnect(ctx context.Context) error {
	if m.brokerDisabled() {
		return nil
	}
	return m.publisher.Connect(ctx)
}

// Close releases the broker and backup store.
func (m *Monitor) Close() error {
	var errs []error
	if err := m.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run checks immediately and then every interval until ctx is done. Returns the check count.
func (m *Monitor) Run(ctx context.Context) int {
	m.logger.Info("weather monitor started",
		zap.String("location", m.cfg.Location),
		zap.Duration("interval", m.cfg.Interval),
		zap.String("broker", m.publisher.Backend()),
		zap.Bool("brokerConnected", m.publisher.Connected()),
	)
	m.Check(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n := int(m.checks.Load())
			m.logger.Info("weather monitor stopped", zap.Int("checks", n))
			return n
		case <-ticker.C:
			m.Check(ctx)
			m.logger.Info("next check scheduled", zap.Time("at", m.now().Add(m.cfg.Interval)))
		}
	}
}

// Check performs one fetch, backup and publish cycle. The backup is written before publishing
// so a broker failure never loses the reading.
func (m *Monitor) Check(ctx context.Context) (res CheckResult) {
	start := m.now()
	n := int(m.checks.Add(1))
	corrID := uuid.NewString()
	ctx = context.WithValue(ctx, client.CorrelationIDKey{}, corrID)
	logger := m.logger.With(zap.Int("check", n), zap.String("correlationId", corrID))

	res = CheckResult{Number: n}
	defer func() {
		res.Duration = m.now().Sub(start)
		observability.WeatherChecksTotal.WithLabelValues(string(res.Outcome)).Inc()
		m.mu.Lock()
		m.lastCheck = start
		m.lastFetchOK = res.Outcome != OutcomeFetchError
		if res.Outcome != OutcomeFetchError {
			m.lastBackupOK = res.BackedUp
		}
		m.mu.Unlock()
	}()

	reading, err := m.client.GetCurrentWeather(ctx, m.cfg.Location)
	if err != nil {
		category := string(client.CategorizeError(err))
		observability.WeatherAPIErrorsTotal.WithLabelValues(category).Inc()
		logger.Warn("weather fetch failed",
			zap.String("location", m.cfg.Location),
			zap.String("category", category),
			zap.Error(err),
		)
		degraded.RecordError()
		res.Outcome = OutcomeFetchError
		res.Err = err
		return res
	}
	res.Reading = reading
	m.logReading(logger, reading)
	observability.RecordReading(m.cfg.Location, reading.Temperature, reading.Humidity, start)
	m.cacheReading(ctx, logger, reading)

	entry := models.NewBackupEntry(reading, n, start)
	if m.store != nil {
		if err := m.store.Append(ctx, entry); err != nil {
			logger.Warn("could not save reading to local backup", zap.String("backend", m.store.Backend()), zap.Error(err))
			res.Err = err
		} else {
			res.BackedUp = true
			logger.Debug("reading saved to local backup", zap.String("backend", m.store.Backend()))
		}
	}

	if m.brokerDisabled() {
		if !res.BackedUp {
			degraded.RecordError()
			res.Outcome = OutcomeDropped
			return res
		}
		degraded.RecordSuccess()
		res.Outcome = OutcomeSuccess
		return res
	}

	msg := models.NewMessage(reading, m.cfg.City, m.cfg.Country, m.cfg.Source, start)
	if err := m.publish(ctx, msg); err != nil {
		if res.BackedUp {
			logger.Warn("failed to publish reading, data saved locally", zap.String("backend", m.publisher.Backend()), zap.Error(err))
			res.Outcome = OutcomeLocalOnly
		} else {
			logger.Error("reading was neither published nor saved", zap.Error(err))
			res.Outcome = OutcomeDropped
		}
		res.Err = errors.Join(res.Err, err)
		degraded.RecordPublishFailure()
		if m.recovery != nil {
			m.recovery.Notify()
		}
		return res
	}

	res.Published = true
	res.Outcome = OutcomeSuccess
	degraded.RecordSuccess()
	logger.Info("reading published", zap.String("backend", m.publisher.Backend()))
	return res
}

func (m *Monitor) publish(ctx context.Context, msg models.Message) error {
	if !m.publisher.Connected() {
		return broker.ErrNotConnected
	}
	if m.breaker == nil {
		return m.publisher.Publish(ctx, msg)
	}
	return m.breaker.Call(ctx, func() error {
		return m.publisher.Publish(ctx, msg)
	})
}

func (m *Monitor) cacheReading(ctx context.Context, logger *zap.Logger, r models.Reading) {
	if m.cache == nil {
		return
	}
	ttl := 2 * m.cfg.Interval
	if err := m.cache.Set(ctx, CacheKey(m.cfg.Location), r, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Debug("cache set failed", zap.Error(err))
	}
}

func (m *Monitor) logReading(logger *zap.Logger, r models.Reading) {
	fields := []zap.Field{
		zap.String("city", m.cfg.City),
		zap.String("condition", r.Description),
		zap.Float64("temperature", r.Temperature),
		zap.Float64("feelsLike", r.FeelsLike),
		zap.Float64("tempMin", r.TempMin),
		zap.Float64("tempMax", r.TempMax),
		zap.Int("humidity", r.Humidity),
		zap.Float64("windSpeed", r.WindSpeed),
		zap.Int("pressure", r.Pressure),
		zap.Int("cloudiness", r.Cloudiness),
	}
	if km, ok := r.VisibilityKm(); ok {
		fields = append(fields, zap.Float64("visibilityKm", km))
	}
	logger.Info("weather check", fields...)
}

func (m *Monitor) brokerDisabled() bool {
	return m.publisher.Backend() == "none"
}

// Latest returns the cached reading for the configured location.
func (m *Monitor) Latest(ctx context.Context) (models.Reading, bool, error) {
	if m.cache == nil {
		return models.Reading{}, false, nil
	}
	r, ok, err := m.cache.Get(ctx, CacheKey(m.cfg.Location))
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
	case ok:
		observability.CacheHitsTotal.WithLabelValues("hit").Inc()
	default:
		observability.CacheHitsTotal.WithLabelValues("miss").Inc()
	}
	return r, ok, err
}

// Recent returns up to n backup entries, newest first.
func (m *Monitor) Recent(ctx context.Context, n int) ([]models.BackupEntry, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.Recent(ctx, n)
}

// Cache returns the configured cache, or nil.
func (m *Monitor) Cache() cache.Cache {
	return m.cache
}

// Status returns a snapshot for /health and /checks.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Checks:          int(m.checks.Load()),
		LastCheck:       m.lastCheck,
		LastFetchOK:     m.lastFetchOK,
		LastBackupOK:    m.lastBackupOK,
		BrokerBackend:   m.publisher.Backend(),
		BrokerConnected: m.publisher.Connected(),
	}
	if m.store != nil {
		st.BackupBackend = m.store.Backend()
	}
	return st
}

// CacheKey normalizes a location into its cache key.
func CacheKey(location string) string {
	return strings.ToLower(strings.TrimSpace(location))
}
