package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/backup"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/broker"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/cache"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/circuitbreaker"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/client"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/command"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/config"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/degraded"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/docker"
	httphandler "github.com/kjstillabower/vienna-weather-pipeline/internal/http"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/lifecycle"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/monitor"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

const requestTimeout = 5 * time.Second

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger("monitor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(config.LoadOptions{RequireAPIKey: true})
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	lifecycle.SetPhase(lifecycle.PhaseStarting)

	clientOpts := []client.Option{client.WithRateLimit(cfg.RateLimitPerMinute)}
	if cfg.CircuitBreakerEnabled {
		clientOpts = append(clientOpts, client.WithCircuitBreaker(newBreaker(cfg, "weather_api")))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout),
		)
	}
	weatherClient, err := client.NewOpenWeatherClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
		clientOpts...,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	store, err := backup.Open(cfg.BackupBackend, cfg.BackupPath)
	if err != nil {
		logger.Fatal("backup store", zap.Error(err))
	}
	logger.Info("backup backend", zap.String("backend", store.Backend()), zap.String("path", cfg.BackupPath))

	opts := []monitor.Option{monitor.WithCache(cacheSvc)}
	var pub broker.Publisher
	switch cfg.BrokerBackend {
	case "rabbitmq":
		pub = broker.NewRabbitMQ(broker.RabbitMQConfig{
			URL:             cfg.RabbitMQ.URL(),
			Exchange:        cfg.RabbitMQ.Exchange,
			ExchangeType:    cfg.RabbitMQ.ExchangeType,
			Queue:           cfg.RabbitMQ.Queue,
			RoutingKey:      cfg.RabbitMQ.RoutingKey,
			ConnectAttempts: cfg.RabbitMQ.ConnectAttempts,
			ConnectDelay:    cfg.RabbitMQ.ConnectDelay,
		}, logger)
		if cfg.RabbitMQ.AutoStart {
			mgr := docker.NewManager(command.NewRunner(cfg.CommandTimeout, logger), logger,
				docker.WithRetry(cfg.CommandRetryAttempts, cfg.CommandRetryDelay))
			opts = append(opts, monitor.WithContainer(mgr, docker.ContainerSpec{
				Name:  cfg.RabbitMQ.ContainerName,
				Image: cfg.RabbitMQ.Image,
				Ports: cfg.RabbitMQ.Ports,
				Env: []string{
					"RABBITMQ_DEFAULT_USER=" + cfg.RabbitMQ.Username,
					"RABBITMQ_DEFAULT_PASS=" + cfg.RabbitMQ.Password,
				},
				InitWait: cfg.RabbitMQ.InitWait,
			}))
		}
	case "kafka":
		pub = broker.NewKafka(broker.KafkaConfig{
			Brokers:         cfg.Kafka.Brokers,
			Topic:           cfg.Kafka.Topic,
			RoutingKey:      cfg.RabbitMQ.RoutingKey,
			ConnectAttempts: cfg.RabbitMQ.ConnectAttempts,
			ConnectDelay:    cfg.RabbitMQ.ConnectDelay,
		}, logger)
	default:
		pub = broker.Noop{}
	}
	if cfg.BrokerBackend != "none" && cfg.CircuitBreakerEnabled {
		opts = append(opts, monitor.WithBreaker(newBreaker(cfg, "broker")))
	}

	// m is captured by the recovery callback below; it is assigned before Start.
	var m *monitor.Monitor
	var recovery *degraded.Recovery
	if cfg.BrokerBackend != "none" {
		recovery = degraded.NewRecovery(
			func(ctx context.Context) error { return m.Reconnect(ctx) },
			cfg.DegradedRetryInitial,
			cfg.DegradedRetryMax,
			func() { logger.Info("broker recovered, publishing resumed") },
			func() { logger.Warn("broker recovery exhausted, continuing with local backup only") },
		)
		opts = append(opts, monitor.WithRecovery(recovery))
	}

	m = monitor.New(monitor.Config{
		Location: cfg.Location,
		City:     cfg.City,
		Country:  cfg.Country,
		Source:   cfg.Source,
		Interval: cfg.CheckInterval,
	}, weatherClient, pub, store, logger, opts...)

	observability.RegisterCheckWindowGauges(cfg.DegradedWindow)
	observability.SetTrackedLocations([]string{cfg.Location})

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		Location:         cfg.Location,
		Version:          version,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}
	handler := httphandler.NewHandler(m, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RequestTimeout: requestTimeout,
		Metrics:        observability.MetricsHandler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("weather monitor starting",
		zap.String("location", cfg.Location),
		zap.Duration("interval", cfg.CheckInterval),
		zap.String("broker", cfg.BrokerBackend),
	)
	m.Connect(ctx)
	if recovery != nil {
		recovery.Start(ctx)
	}
	lifecycle.SetPhase(lifecycle.PhaseRunning)

	checks := m.Run(ctx)
	stop()

	logger.Info("graceful shutdown triggered", zap.Int("checks", checks))
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if err := m.Close(); err != nil {
		logger.Error("monitor close", zap.Error(err))
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete", zap.Int("checks", checks))
}

func newBreaker(cfg *config.Config, component string) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
			observability.SetCircuitBreakerStateGauge(component, observability.CircuitBreakerStateValue(int(to)))
		},
	})
	observability.SetCircuitBreakerStateGauge(component, 0)
	return cb
}
