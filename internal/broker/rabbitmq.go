package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

// RabbitMQConfig describes the topology and connect policy.
type RabbitMQConfig struct {
	URL             string
	Exchange        string
	ExchangeType    string
	Queue           string
	RoutingKey      string
	ConnectAttempts int
	ConnectDelay    time.Duration
}

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type amqpConn interface {
	Channel() (amqpChannel, error)
	IsClosed() bool
	Close() error
}

type connAdapter struct {
	*amqp.Connection
}

func (c connAdapter) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return connAdapter{conn}, nil
}

// RabbitMQ publishes persistent JSON messages to a durable topic exchange bound to a durable
// queue.
type RabbitMQ struct {
	cfg    RabbitMQConfig
	logger *zap.Logger
	dial   func(url string) (amqpConn, error)
	sleep  func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	conn amqpConn
	ch   amqpChannel
}

// NewRabbitMQ returns an unconnected publisher.
func NewRabbitMQ(cfg RabbitMQConfig, logger *zap.Logger) *RabbitMQ {
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQ{cfg: cfg, logger: logger, dial: dialAMQP, sleep: sleepCtx}
}

func (r *RabbitMQ) Backend() string { return "rabbitmq" }

// Connect dials up to ConnectAttempts times, ConnectDelay apart, then declares the exchange,
// queue and binding. An existing live connection is reused.
func (r *RabbitMQ) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.liveLocked() {
		return nil
	}
	_ = r.closeLocked()

	var lastErr error
	for attempt := 1; attempt <= r.cfg.ConnectAttempts; attempt++ {
		lastErr = r.connectOnce()
		if lastErr == nil {
			observability.BrokerConnectsTotal.WithLabelValues(r.Backend(), "success").Inc()
			r.logger.Info("connected to rabbitmq",
				zap.String("exchange", r.cfg.Exchange),
				zap.String("queue", r.cfg.Queue),
				zap.String("routingKey", r.cfg.RoutingKey),
				zap.Int("attempt", attempt),
			)
			return nil
		}
		observability.BrokerConnectsTotal.WithLabelValues(r.Backend(), "failure").Inc()
		r.logger.Warn("rabbitmq connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", r.cfg.ConnectAttempts),
			zap.Error(lastErr),
		)
		if attempt < r.cfg.ConnectAttempts {
			if err := r.sleep(ctx, r.cfg.ConnectDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConnectFailed, r.cfg.ConnectAttempts, lastErr)
}

func (r *RabbitMQ) connectOnce() error {
	conn, err := r.dial(r.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch, r.cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	r.conn, r.ch = conn, ch
	return nil
}

func declareTopology(ch amqpChannel, cfg RabbitMQConfig) error {
	kind := cfg.ExchangeType
	if kind == "" {
		kind = amqp.ExchangeTopic
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", cfg.Queue, err)
	}
	return nil
}

// Publish sends msg as a persistent application/json message with the configured routing key.
func (r *RabbitMQ) Publish(ctx context.Context, msg models.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.liveLocked() {
		observability.BrokerPublishTotal.WithLabelValues(r.Backend(), "not_connected").Inc()
		return ErrNotConnected
	}

	err = r.ch.PublishWithContext(ctx, r.cfg.Exchange, r.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.UnixMilli(msg.WeatherCheckTimeMs),
		Body:         body,
	})
	if err != nil {
		observability.BrokerPublishTotal.WithLabelValues(r.Backend(), "error").Inc()
		// A channel exception leaves the connection open; drop both so the next Connect redials.
		if cerr := r.closeLocked(); cerr != nil {
			r.logger.Debug("closing rabbitmq after publish failure", zap.Error(cerr))
		}
		return fmt.Errorf("publish to %s: %w", r.cfg.Exchange, err)
	}
	observability.BrokerPublishTotal.WithLabelValues(r.Backend(), "success").Inc()
	return nil
}

// Connected reports whether both the connection and the channel are open.
func (r *RabbitMQ) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked()
}

func (r *RabbitMQ) liveLocked() bool {
	return r.conn != nil && !r.conn.IsClosed() && r.ch != nil && !r.ch.IsClosed()
}

// Close closes channel and connection. Safe to call more than once.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *RabbitMQ) closeLocked() error {
	var err error
	if r.ch != nil {
		if !r.ch.IsClosed() {
			err = r.ch.Close()
		}
		r.ch = nil
	}
	if r.conn != nil {
		if !r.conn.IsClosed() {
			if cerr := r.conn.Close(); err == nil {
				err = cerr
			}
		}
		r.conn = nil
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
