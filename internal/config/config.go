package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/validation"
)

// Config holds configuration for every command, loaded from .env, YAML and env.
type Config struct {
	EnvName string
	CI      bool // running under Jenkins (JENKINS_URL or BUILD_NUMBER set)

	ServerPort         string
	CORSAllowedOrigins []string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	Location          string
	City              string
	Country           string
	Source            string
	LocationMinLength int
	LocationMaxLength int

	RetryAttempts      int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RateLimitPerMinute int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CheckInterval time.Duration

	BrokerBackend string // "rabbitmq", "kafka" or "none"
	RabbitMQ      RabbitMQConfig
	Kafka         KafkaConfig

	BackupBackend string // "jsonl" or "sqlite"
	BackupPath    string

	CacheBackend          string // "in_memory" or "memcached"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	DegradedWindow       time.Duration
	DegradedErrorPct     int
	DegradedRetryInitial time.Duration
	DegradedRetryMax     time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	Services ServicesConfig
	Pipeline PipelineConfig
	Cleanup  CleanupConfig

	CommandTimeout       time.Duration
	CommandRetryAttempts int
	CommandRetryDelay    time.Duration
}

// RabbitMQConfig configures the AMQP publisher and the auto-managed container.
type RabbitMQConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	VHost           string
	Exchange        string
	ExchangeType    string
	Queue           string
	RoutingKey      string
	ConnectAttempts int
	ConnectDelay    time.Duration

	AutoStart     bool
	ContainerName string
	Image         string
	Ports         []string
	InitWait      time.Duration
}

// URL returns the AMQP connection URL.
func (r RabbitMQConfig) URL() string {
	vhost := r.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", r.Username, r.Password, r.Host, r.Port, vhost)
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ServicesConfig holds the ELK stack and RabbitMQ management endpoints.
type ServicesConfig struct {
	ElasticsearchURL      string
	KibanaURL             string
	LogstashURL           string
	RabbitMQManagementURL string
	ProbeTimeout          time.Duration
	ReadyAttempts         int
	ReadyInterval         time.Duration
	NotificationIndex     string
	NotificationTimeout   time.Duration
	ReadingsIndex         string
	DataViewID            string
	DashboardID           string
}

// PipelineConfig configures the CI pipeline runner.
type PipelineConfig struct {
	Project         string
	ProjectRoot     string
	RepoURL         string
	TempCloneDir    string
	RequiredFiles   []string
	Containers      []string
	ComposeFile     string
	StabilizeWait   time.Duration
	ConnectivityURL string
	MinContainers   int
	MinServices     int
}

// CleanupConfig configures the workspace deletion fallback chain.
type CleanupConfig struct {
	Attempts   int
	RetryDelay time.Duration
}

// LoadOptions controls which inputs are mandatory.
type LoadOptions struct {
	// RequireAPIKey fails Load when no weather API key is configured (monitor).
	RequireAPIKey bool
	// AllowMissingFile falls back to defaults when config/{ENV_NAME}.yaml is absent (cleanup).
	AllowMissingFile bool
	// Dir is the project root holding .env and config/; defaults to the working directory.
	Dir string
}

type fileConfig struct {
	Server struct {
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL      string `yaml:"url"`
		Timeout  string `yaml:"timeout"`
		Location string `yaml:"location"`
		City     string `yaml:"city"`
		Country  string `yaml:"country"`
		Source   string `yaml:"source"`
	} `yaml:"weather_api"`

	Reliability struct {
		RetryMaxAttempts   int    `yaml:"retry_max_attempts"`
		RetryBaseDelay     string `yaml:"retry_base_delay"`
		RetryMaxDelay      string `yaml:"retry_max_delay"`
		RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
		CircuitBreaker     struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Monitor struct {
		Interval string `yaml:"interval"`
	} `yaml:"monitor"`

	Broker struct {
		Backend  string `yaml:"backend"`
		RabbitMQ struct {
			Host            string   `yaml:"host"`
			Port            int      `yaml:"port"`
			Username        string   `yaml:"username"`
			Password        string   `yaml:"password"`
			VHost           string   `yaml:"vhost"`
			Exchange        string   `yaml:"exchange"`
			ExchangeType    string   `yaml:"exchange_type"`
			Queue           string   `yaml:"queue"`
			RoutingKey      string   `yaml:"routing_key"`
			ConnectAttempts int      `yaml:"connect_attempts"`
			ConnectDelay    string   `yaml:"connect_delay"`
			AutoStart       *bool    `yaml:"auto_start"`
			ContainerName   string   `yaml:"container_name"`
			Image           string   `yaml:"image"`
			Ports           []string `yaml:"ports"`
			InitWait        string   `yaml:"init_wait"`
		} `yaml:"rabbitmq"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
	} `yaml:"broker"`

	Backup struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"backup"`

	Cache struct {
		Backend   string `yaml:"backend"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Lifecycle struct {
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		DegradedRetryInitial string `yaml:"degraded_retry_initial"`
		DegradedRetryMax     string `yaml:"degraded_retry_max"`
	} `yaml:"lifecycle"`

	Shutdown struct {
		Timeout                 string `yaml:"timeout"`
		InFlightTimeout         string `yaml:"in_flight_timeout"`
		InFlightCheckInterval   string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Services struct {
		ElasticsearchURL      string `yaml:"elasticsearch_url"`
		KibanaURL             string `yaml:"kibana_url"`
		LogstashURL           string `yaml:"logstash_url"`
		RabbitMQManagementURL string `yaml:"rabbitmq_management_url"`
		ProbeTimeout          string `yaml:"probe_timeout"`
		ReadyAttempts         int    `yaml:"ready_attempts"`
		ReadyInterval         string `yaml:"ready_interval"`
		NotificationIndex     string `yaml:"notification_index"`
		NotificationTimeout   string `yaml:"notification_timeout"`
		ReadingsIndex         string `yaml:"readings_index"`
		DataViewID            string `yaml:"data_view_id"`
		DashboardID           string `yaml:"dashboard_id"`
	} `yaml:"services"`

	Pipeline struct {
		Project         string   `yaml:"project"`
		RepoURL         string   `yaml:"repo_url"`
		TempCloneDir    string   `yaml:"temp_clone_dir"`
		RequiredFiles   []string `yaml:"required_files"`
		Containers      []string `yaml:"containers"`
		ComposeFile     string   `yaml:"compose_file"`
		StabilizeWait   string   `yaml:"stabilize_wait"`
		ConnectivityURL string   `yaml:"connectivity_url"`
		MinContainers   int      `yaml:"min_containers"`
		MinServices     int      `yaml:"min_services"`
	} `yaml:"pipeline"`

	Cleanup struct {
		Attempts   int    `yaml:"attempts"`
		RetryDelay string `yaml:"retry_delay"`
	} `yaml:"cleanup"`

	Commands struct {
		Timeout       string `yaml:"timeout"`
		RetryAttempts int    `yaml:"retry_attempts"`
		RetryDelay    string `yaml:"retry_delay"`
	} `yaml:"commands"`
}

type secretsFile struct {
	WeatherAPIKey    string `yaml:"weather_api_key"`
	RabbitMQPassword string `yaml:"rabbitmq_password"`
}

// Local and CI (Jenkins) default ports for the stack. The CI compose project publishes on
// shifted ports so it can run next to a developer's stack on the same agent.
var (
	localServiceURLs = map[string]string{
		"elasticsearch": "http://localhost:9200",
		"kibana":        "http://localhost:5601",
		"rabbitmq":      "http://localhost:15672",
		"logstash":      "http://localhost:9600",
	}
	ciServiceURLs = map[string]string{
		"elasticsearch": "http://localhost:9201",
		"kibana":        "http://localhost:5602",
		"rabbitmq":      "http://localhost:15673",
		"logstash":      "http://localhost:9601",
	}
)

// IsCI reports whether the process runs under Jenkins.
func IsCI() bool {
	return os.Getenv("JENKINS_URL") != "" || os.Getenv("BUILD_NUMBER") != ""
}

// Load reads .env, config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml from the project
// root. The API key comes from WEATHER_API_KEY or the secrets file.
func Load(opts LoadOptions) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: get working directory: %w", err)
		}
		dir = cwd
	}

	// Existing process env wins over .env.
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	var fc fileConfig
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err) && opts.AllowMissingFile:
	case os.IsNotExist(err):
		return nil, fmt.Errorf("config file not found: %s", configPath)
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{EnvName: env, CI: IsCI()}

	cfg.ServerPort = stringOr(fc.Server.Port, "8080")
	cfg.CORSAllowedOrigins = fc.Server.CORSOrigins
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"http://localhost:5601"}
	}

	cfg.WeatherAPIKey = envOr("WEATHER_API_KEY", sec.WeatherAPIKey, "")
	if opts.RequireAPIKey && cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}
	cfg.WeatherAPIURL = stringOr(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5/weather")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.Location = envOr("WEATHER_LOCATION", fc.WeatherAPI.Location, "Vienna,AT")
	cfg.City = stringOr(fc.WeatherAPI.City, "Vienna")
	cfg.Country = stringOr(fc.WeatherAPI.Country, "Austria")
	cfg.Source = stringOr(fc.WeatherAPI.Source, "OpenWeatherMap")
	cfg.LocationMinLength = 2
	cfg.LocationMaxLength = 100

	cfg.RetryAttempts = intOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 500*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)
	cfg.RateLimitPerMinute = intOr(fc.Reliability.RateLimitPerMinute, 60)
	cfg.CircuitBreakerEnabled = true
	if fc.Reliability.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = intOr(fc.Reliability.CircuitBreaker.FailureThreshold, 3)
	cfg.CircuitBreakerSuccessThreshold = intOr(fc.Reliability.CircuitBreaker.SuccessThreshold, 1)
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 5*time.Minute)

	cfg.CheckInterval = parseDurationOrZero(fc.Monitor.Interval, time.Hour)

	cfg.BrokerBackend = strings.ToLower(envOr("BROKER_BACKEND", fc.Broker.Backend, "rabbitmq"))
	rmq := fc.Broker.RabbitMQ
	cfg.RabbitMQ = RabbitMQConfig{
		Host:            envOr("RABBITMQ_HOST", rmq.Host, "localhost"),
		Port:            envIntOr("RABBITMQ_PORT", rmq.Port, 5672),
		Username:        envOr("RABBITMQ_USERNAME", rmq.Username, "guest"),
		Password:        envOr("RABBITMQ_PASSWORD", stringOr(sec.RabbitMQPassword, rmq.Password), "guest"),
		VHost:           stringOr(rmq.VHost, "/"),
		Exchange:        stringOr(rmq.Exchange, "weather_exchange"),
		ExchangeType:    stringOr(rmq.ExchangeType, "topic"),
		Queue:           stringOr(rmq.Queue, "vienna_weather"),
		RoutingKey:      stringOr(rmq.RoutingKey, "vienna.weather.hourly"),
		ConnectAttempts: intOr(rmq.ConnectAttempts, 3),
		ConnectDelay:    parseDuration(rmq.ConnectDelay, 5*time.Second),
		AutoStart:       true,
		ContainerName:   stringOr(rmq.ContainerName, "rabbitmq"),
		Image:           stringOr(rmq.Image, "rabbitmq:3-management"),
		Ports:           rmq.Ports,
		InitWait:        parseDuration(rmq.InitWait, 10*time.Second),
	}
	if rmq.AutoStart != nil {
		cfg.RabbitMQ.AutoStart = *rmq.AutoStart
	}
	if len(cfg.RabbitMQ.Ports) == 0 {
		cfg.RabbitMQ.Ports = []string{"5672:5672", "15672:15672"}
	}
	cfg.Kafka = KafkaConfig{
		Brokers: splitList(envOr("KAFKA_BROKERS", strings.Join(fc.Broker.Kafka.Brokers, ","), "localhost:9092")),
		Topic:   stringOr(fc.Broker.Kafka.Topic, "vienna-weather"),
	}

	cfg.BackupBackend = strings.ToLower(envOr("BACKUP_BACKEND", fc.Backup.Backend, "jsonl"))
	defaultBackup := "vienna_weather_log.json"
	if cfg.BackupBackend == "sqlite" {
		defaultBackup = "vienna_weather_log.db"
	}
	cfg.BackupPath = stringOr(fc.Backup.Path, defaultBackup)
	if !filepath.IsAbs(cfg.BackupPath) {
		cfg.BackupPath = filepath.Join(dir, cfg.BackupPath)
	}

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend, "in_memory")))
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = intOr(fc.Cache.Memcached.MaxIdleConns, 2)

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 6*time.Hour)
	cfg.DegradedErrorPct = intOr(fc.Lifecycle.DegradedErrorPct, 50)
	cfg.DegradedRetryInitial = parseDuration(fc.Lifecycle.DegradedRetryInitial, time.Minute)
	cfg.DegradedRetryMax = parseDuration(fc.Lifecycle.DegradedRetryMax, 20*time.Minute)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	urls := localServiceURLs
	if cfg.CI {
		urls = ciServiceURLs
	}
	svc := fc.Services
	cfg.Services = ServicesConfig{
		ElasticsearchURL:      trimURL(envOr("ELASTICSEARCH_URL", svc.ElasticsearchURL, urls["elasticsearch"])),
		KibanaURL:             trimURL(envOr("KIBANA_URL", svc.KibanaURL, urls["kibana"])),
		LogstashURL:           trimURL(envOr("LOGSTASH_URL", svc.LogstashURL, urls["logstash"])),
		RabbitMQManagementURL: trimURL(envOr("RABBITMQ_URL", svc.RabbitMQManagementURL, urls["rabbitmq"])),
		ProbeTimeout:          parseDuration(svc.ProbeTimeout, 10*time.Second),
		ReadyAttempts:         intOr(svc.ReadyAttempts, 30),
		ReadyInterval:         parseDuration(svc.ReadyInterval, 10*time.Second),
		NotificationIndex:     stringOr(svc.NotificationIndex, "vienna-pipeline-notifications"),
		NotificationTimeout:   parseDuration(svc.NotificationTimeout, 2*time.Second),
		ReadingsIndex:         stringOr(svc.ReadingsIndex, "vienna-weather"),
		DataViewID:            stringOr(svc.DataViewID, "vienna-weather"),
		DashboardID:           stringOr(svc.DashboardID, "vienna-weather-dashboard"),
	}

	pl := fc.Pipeline
	cfg.Pipeline = PipelineConfig{
		Project:         stringOr(pl.Project, "vienna-weather"),
		ProjectRoot:     dir,
		RepoURL:         stringOr(pl.RepoURL, "https://github.com/kjstillabower/vienna-weather-pipeline.git"),
		TempCloneDir:    stringOr(pl.TempCloneDir, filepath.Join(filepath.Dir(dir), "temp_clone")),
		RequiredFiles:   pl.RequiredFiles,
		Containers:      pl.Containers,
		ComposeFile:     stringOr(pl.ComposeFile, "docker-compose.yml"),
		StabilizeWait:   parseDuration(pl.StabilizeWait, 10*time.Second),
		ConnectivityURL: stringOr(pl.ConnectivityURL, "https://httpbin.org/status/200"),
		MinContainers:   intOr(pl.MinContainers, 3),
		MinServices:     intOr(pl.MinServices, 2),
	}
	if len(cfg.Pipeline.RequiredFiles) == 0 {
		cfg.Pipeline.RequiredFiles = []string{"go.mod", "docker-compose.yml", "config/dev.yaml", "cmd/monitor/main.go", "cmd/pipeline/main.go"}
	}
	if len(cfg.Pipeline.Containers) == 0 {
		cfg.Pipeline.Containers = []string{"elasticsearch", "logstash", "kibana", "rabbitmq"}
	}
	if !filepath.IsAbs(cfg.Pipeline.ComposeFile) {
		cfg.Pipeline.ComposeFile = filepath.Join(dir, cfg.Pipeline.ComposeFile)
	}

	cfg.Cleanup = CleanupConfig{
		Attempts:   intOr(fc.Cleanup.Attempts, 3),
		RetryDelay: parseDuration(fc.Cleanup.RetryDelay, 2*time.Second),
	}
	cfg.CommandTimeout = parseDuration(fc.Commands.Timeout, 60*time.Second)
	cfg.CommandRetryAttempts = intOr(fc.Commands.RetryAttempts, 3)
	cfg.CommandRetryDelay = parseDuration(fc.Commands.RetryDelay, 5*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOr returns the env var when set, else fileVal, else def.
func envOr(key, fileVal, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return stringOr(fileVal, def)
}

func envIntOr(key string, fileVal, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return intOr(fileVal, def)
}

func stringOr(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func intOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func trimURL(s string) string {
	return strings.TrimRight(s, "/")
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.CheckInterval < time.Second {
		return fmt.Errorf("monitor.interval must be at least 1s, got %s", cfg.CheckInterval)
	}
	loc, err := validation.ValidateLocation(cfg.Location, cfg.LocationMinLength, cfg.LocationMaxLength)
	if err != nil {
		return fmt.Errorf("weather_api.location %q: %w", cfg.Location, err)
	}
	cfg.Location = loc
	switch cfg.BrokerBackend {
	case "rabbitmq", "kafka", "none":
	default:
		return fmt.Errorf("broker.backend must be rabbitmq, kafka or none, got %q", cfg.BrokerBackend)
	}
	switch cfg.BackupBackend {
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("backup.backend must be jsonl or sqlite, got %q", cfg.BackupBackend)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	for _, idx := range []string{cfg.Services.NotificationIndex, cfg.Services.ReadingsIndex} {
		if err := validation.ValidateIndexName(idx); err != nil {
			return fmt.Errorf("index %q: %w", idx, err)
		}
	}
	if err := validation.ValidateContainerName(cfg.RabbitMQ.ContainerName); err != nil {
		return fmt.Errorf("rabbitmq.container_name %q: %w", cfg.RabbitMQ.ContainerName, err)
	}
	for _, name := range cfg.Pipeline.Containers {
		if err := validation.ValidateContainerName(name); err != nil {
			return fmt.Errorf("pipeline.containers %q: %w", name, err)
		}
	}
	if cfg.BrokerBackend == "kafka" && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("broker.kafka.brokers required when backend is kafka")
	}
	if cfg.Pipeline.MinServices > 3 {
		return fmt.Errorf("pipeline.min_services must be at most 3, got %d", cfg.Pipeline.MinServices)
	}
	return nil
}
