package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"byteme/config"
	"byteme/utils"
)

const schemaVersion int32 = 1

// Publisher is what producers need from the bus.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload interface{}, opts ...PublishOption) error
	PublishDelayed(ctx context.Context, routingKey string, payload interface{}, delay time.Duration, opts ...PublishOption) error
}

type RabbitMQ struct {
	cfg     config.RabbitMQConfig
	appID   string
	logger  *zap.Logger
	mu      sync.Mutex
	conn    *amqp.Connection
	pubCh   *amqp.Channel
	delayed bool
	closed  bool
}

// NewRabbitMQ dials the broker, retrying with backoff up to
// ConnectionAttempts times.
func NewRabbitMQ(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		cfg:     cfg.RabbitMQ,
		appID:   cfg.Service,
		logger:  logger,
		delayed: true,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.connectLocked(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) deadLetterExchange() string {
	return r.cfg.DeadLetterQueue + "_exchange"
}

// connectLocked returns a live connection, dialing a new one if needed.
// r.mu must be held.
func (r *RabbitMQ) connectLocked(ctx context.Context) (*amqp.Connection, error) {
	if r.closed {
		return nil, amqp.ErrClosed
	}
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	attempts := r.cfg.ConnectionAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := amqp.DialConfig(r.cfg.URL, amqp.Config{
			Heartbeat:  10 * time.Second,
			Properties: amqp.Table{"connection_name": r.appID},
		})
		if err == nil {
			r.conn = conn
			r.pubCh = nil
			r.logger.Info("connected to rabbitmq", zap.Int("attempt", attempt))
			return conn, nil
		}

		lastErr = err
		if attempt == attempts {
			break
		}
		wait := utils.Backoff(attempt, r.cfg.RetryDelay, r.cfg.MaxRetryDelay)
		r.logger.Warn("rabbitmq not reachable, retrying",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := utils.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("connecting to rabbitmq after %d attempts: %w", attempts, lastErr)
}

// channel returns a new channel on a live connection.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.connectLocked(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	return ch, nil
}

// publishChannel returns the shared confirm-mode channel.
func (r *RabbitMQ) publishChannel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubCh != nil && !r.pubCh.IsClosed() {
		return r.pubCh, nil
	}
	conn, err := r.connectLocked(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enabling publisher confirms: %w", err)
	}
	r.pubCh = ch
	return ch, nil
}

// SetupQueues declares the exchanges, queues and bindings. It is safe to
// call from every service on start-up.
func (r *RabbitMQ) SetupQueues(ctx context.Context) error {
	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	// 声明死信交换机和队列
	if err := ch.ExchangeDeclare(
		r.deadLetterExchange(),
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declaring dead letter exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		r.cfg.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-queue-type": "classic",
		},
	); err != nil {
		return fmt.Errorf("declaring dead letter queue: %w", err)
	}

	if err := ch.QueueBind(r.cfg.DeadLetterQueue, r.cfg.DeadLetterQueue, r.deadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("binding dead letter queue: %w", err)
	}

	for _, exchange := range Exchanges() {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring exchange %s: %w", exchange, err)
		}
	}

	declared := map[string]bool{}
	for _, b := range Bindings {
		if !declared[b.Queue] {
			if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, r.queueArgs()); err != nil {
				return fmt.Errorf("declaring queue %s: %w", b.Queue, err)
			}
			declared[b.Queue] = true
		}
		for _, key := range b.Keys {
			if err := ch.QueueBind(b.Queue, key, b.Exchange, false, nil); err != nil {
				return fmt.Errorf("binding queue %s to %s with %s: %w", b.Queue, b.Exchange, key, err)
			}
		}
	}

	r.setupDelayed(ctx)

	r.logger.Info("rabbitmq topology declared",
		zap.Strings("exchanges", Exchanges()),
		zap.Int("queues", len(declared)),
	)
	return nil
}

func (r *RabbitMQ) queueArgs() amqp.Table {
	return amqp.Table{
		"x-max-priority":            r.cfg.MaxPriority,
		"x-dead-letter-exchange":    r.deadLetterExchange(),
		"x-dead-letter-routing-key": r.cfg.DeadLetterQueue,
	}
}

// setupDelayed declares the delayed exchange on its own channel, since a
// failed declare closes the channel it was issued on.
func (r *RabbitMQ) setupDelayed(ctx context.Context) {
	ok := func() bool {
		// 声明延迟交换机（需要RabbitMQ安装延迟插件）
		ch, err := r.channel(ctx)
		if err != nil {
			r.logger.Warn("delayed exchange not supported", zap.Error(err))
			return false
		}
		defer ch.Close()

		if err := ch.ExchangeDeclare(
			r.cfg.DelayExchange,
			"x-delayed-message",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			amqp.Table{"x-delayed-type": "topic"},
		); err != nil {
			r.logger.Warn("delayed exchange not supported", zap.Error(err))
			return false
		}
		if err := ch.QueueBind(QueueOrder, "order.payment_check", r.cfg.DelayExchange, false, nil); err != nil {
			r.logger.Warn("binding delayed exchange failed", zap.Error(err))
			return false
		}
		return true
	}()

	r.mu.Lock()
	r.delayed = ok
	r.mu.Unlock()
}

type publishOptions struct {
	priority  uint8
	messageID string
	headers   amqp.Table
}

type PublishOption func(*publishOptions)

func WithPriority(p uint8) PublishOption {
	return func(o *publishOptions) { o.priority = p }
}

// WithMessageID overrides the generated message id, so that redelivered
// outbox rows keep the same id.
func WithMessageID(id string) PublishOption {
	return func(o *publishOptions) { o.messageID = id }
}

func WithHeader(key string, value interface{}) PublishOption {
	return func(o *publishOptions) {
		if o.headers == nil {
			o.headers = amqp.Table{}
		}
		o.headers[key] = value
	}
}

// NewMessage builds the persistent JSON message every publisher sends.
func NewMessage(routingKey string, payload interface{}, appID string, opts ...PublishOption) (amqp.Publishing, error) {
	o := publishOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := encode(payload)
	if err != nil {
		return amqp.Publishing{}, err
	}

	if o.messageID == "" {
		o.messageID = uuid.NewString()
	}
	headers := amqp.Table{"x-schema-version": schemaVersion}
	for k, v := range o.headers {
		headers[k] = v
	}

	return amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     o.priority,
		MessageId:    o.messageID,
		Timestamp:    time.Now().UTC(),
		Type:         routingKey,
		AppId:        appID,
		Body:         body,
	}, nil
}

func encode(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("encoding message: %w", err))
	}
	return body, nil
}

// Publish sends payload as JSON and waits for the broker to confirm it.
// Failures are retried on a fresh channel up to PublishRetries times.
func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, payload interface{}, opts ...PublishOption) error {
	msg, err := NewMessage(routingKey, payload, r.appID, opts...)
	if err != nil {
		return err
	}
	return r.publish(ctx, exchange, routingKey, msg)
}

// PublishDelayed routes payload through the delayed exchange, to be
// delivered after delay.
func (r *RabbitMQ) PublishDelayed(ctx context.Context, routingKey string, payload interface{}, delay time.Duration, opts ...PublishOption) error {
	r.mu.Lock()
	available := r.delayed
	r.mu.Unlock()
	if !available {
		return ErrDelayedUnavailable
	}

	opts = append(opts, WithHeader("x-delay", delay.Milliseconds()))
	msg, err := NewMessage(routingKey, payload, r.appID, opts...)
	if err != nil {
		return err
	}
	return r.publish(ctx, r.cfg.DelayExchange, routingKey, msg)
}

func (r *RabbitMQ) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	retries := r.cfg.PublishRetries
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := utils.Sleep(ctx, utils.Backoff(attempt, r.cfg.RetryDelay, r.cfg.MaxRetryDelay)); err != nil {
				return fmt.Errorf("publishing %s: %w", routingKey, lastErr)
			}
		}

		lastErr = r.publishOnce(ctx, exchange, routingKey, msg)
		if lastErr == nil {
			messagesPublished.WithLabelValues(exchange, routingKey).Inc()
			r.logger.Debug("message published",
				zap.String("exchange", exchange),
				zap.String("routingKey", routingKey),
				zap.String("messageId", msg.MessageId),
			)
			return nil
		}

		publishFailures.WithLabelValues(exchange).Inc()
		r.logger.Warn("publish failed",
			zap.String("exchange", exchange),
			zap.String("routingKey", routingKey),
			zap.String("messageId", msg.MessageId),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			break
		}
	}
	return fmt.Errorf("publishing %s to %s: %w", routingKey, exchange, lastErr)
}

func (r *RabbitMQ) publishOnce(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := r.publishChannel(ctx)
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		r.resetPublishChannel(ch)
		return err
	}
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		r.resetPublishChannel(ch)
		return err
	}
	if !acked {
		return errors.New("broker nacked message")
	}
	return nil
}

func (r *RabbitMQ) resetPublishChannel(ch *amqp.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubCh == ch {
		ch.Close()
		r.pubCh = nil
	}
}

// Ping opens and closes a channel on the shared connection.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	return ch.Close()
}

// CheckSetup verifies that the broker is reachable and the exchanges
// exist, using a connection of its own.
func (r *RabbitMQ) CheckSetup(ctx context.Context) error {
	return CheckSetup(ctx, r.cfg)
}

func CheckSetup(ctx context.Context, cfg config.RabbitMQConfig) error {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
	if err != nil {
		return fmt.Errorf("rabbitmq not reachable: %w", err)
	}
	defer conn.Close()

	var missing []string
	for _, exchange := range Exchanges() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("opening channel: %w", err)
		}
		if err := ch.ExchangeDeclarePassive(exchange, "topic", true, false, false, false, nil); err != nil {
			missing = append(missing, exchange)
		}
		ch.Close()
	}
	if len(missing) > 0 {
		return fmt.Errorf("exchanges not declared: %v", missing)
	}
	return nil
}

// Close shuts the connection down. Consumers stop on their own.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.pubCh != nil {
		r.pubCh.Close()
		r.pubCh = nil
	}
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn.Close()
	}
	return nil
}
