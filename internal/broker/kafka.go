package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

// KafkaConfig configures the Kafka backend. RoutingKey becomes the message key so that all
// hourly readings land on one partition in order.
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	RoutingKey      string
	ConnectAttempts int
	ConnectDelay    time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes JSON messages to a topic.
type Kafka struct {
	cfg    KafkaConfig
	logger *zap.Logger
	ping   func(ctx context.Context, addr string) error
	sleep  func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	writer messageWriter
}

// NewKafka returns an unconnected publisher.
func NewKafka(cfg KafkaConfig, logger *zap.Logger) *Kafka {
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kafka{cfg: cfg, logger: logger, ping: pingKafka, sleep: sleepCtx}
}

func pingKafka(ctx context.Context, addr string) error {
	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (k *Kafka) Backend() string { return "kafka" }

// Connect checks that a broker answers, retrying like the RabbitMQ backend, then creates the
// writer.
func (k *Kafka) Connect(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer != nil {
		return nil
	}
	if len(k.cfg.Brokers) == 0 {
		return fmt.Errorf("%w: no kafka brokers configured", ErrConnectFailed)
	}

	var lastErr error
	for attempt := 1; attempt <= k.cfg.ConnectAttempts; attempt++ {
		if lastErr = k.ping(ctx, k.cfg.Brokers[0]); lastErr == nil {
			break
		}
		observability.BrokerConnectsTotal.WithLabelValues(k.Backend(), "failure").Inc()
		k.logger.Warn("kafka connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", k.cfg.ConnectAttempts),
			zap.Error(lastErr),
		)
		if attempt < k.cfg.ConnectAttempts {
			if err := k.sleep(ctx, k.cfg.ConnectDelay); err != nil {
				return err
			}
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrConnectFailed, k.cfg.ConnectAttempts, lastErr)
	}

	k.writer = &kafka.Writer{
		Addr:                   kafka.TCP(k.cfg.Brokers...),
		Topic:                  k.cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	observability.BrokerConnectsTotal.WithLabelValues(k.Backend(), "success").Inc()
	k.logger.Info("connected to kafka", zap.Strings("brokers", k.cfg.Brokers), zap.String("topic", k.cfg.Topic))
	return nil
}

// Publish writes msg keyed by the routing key.
func (k *Kafka) Publish(ctx context.Context, msg models.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	k.mu.Lock()
	w := k.writer
	k.mu.Unlock()
	if w == nil {
		observability.BrokerPublishTotal.WithLabelValues(k.Backend(), "not_connected").Inc()
		return ErrNotConnected
	}

	err = w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(k.cfg.RoutingKey),
		Value:   body,
		Time:    time.UnixMilli(msg.WeatherCheckTimeMs),
		Headers: []kafka.Header{{Key: "content-type", Value: []byte("application/json")}},
	})
	if err != nil {
		observability.BrokerPublishTotal.WithLabelValues(k.Backend(), "error").Inc()
		return fmt.Errorf("write to %s: %w", k.cfg.Topic, err)
	}
	observability.BrokerPublishTotal.WithLabelValues(k.Backend(), "success").Inc()
	return nil
}

// Connected reports whether the writer exists.
func (k *Kafka) Connected() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.writer != nil
}

// Close flushes and closes the writer. Safe to call more than once.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer == nil {
		return nil
	}
	err := k.writer.Close()
	k.writer = nil
	return err
}
