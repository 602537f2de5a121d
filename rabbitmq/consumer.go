package rabbitmq

import (
	"context"
	"fmt"
	"runtime/debug"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"byteme/utils"
)

// Handler processes one delivery. Returning nil acks it, a Permanent error
// dead-letters it and any other error requeues it once.
type Handler func(ctx context.Context, msg amqp.Delivery) error

type outcome string

const (
	outcomeAck        outcome = "ack"
	outcomeRequeue    outcome = "requeue"
	outcomeDeadLetter outcome = "dead_letter"
)

func decide(err error, redelivered bool) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case IsPermanent(err), redelivered:
		return outcomeDeadLetter
	default:
		return outcomeRequeue
	}
}

// Consume delivers messages from queue to handler until ctx is cancelled,
// reconnecting with backoff when the channel or connection drops.
// Delivery is at-least-once, so handlers must be idempotent.
func (r *RabbitMQ) Consume(ctx context.Context, queue, tag string, handler Handler) error {
	log := r.logger.With(zap.String("queue", queue), zap.String("consumer", tag))

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		ch, deliveries, err := r.openConsumer(ctx, queue, tag)
		if err != nil {
			failures++
			wait := utils.Backoff(failures, r.cfg.RetryDelay, r.cfg.MaxRetryDelay)
			log.Warn("starting consumer failed, retrying", zap.Duration("wait", wait), zap.Error(err))
			if utils.Sleep(ctx, wait) != nil {
				return nil
			}
			continue
		}
		failures = 0
		log.Info("consumer started")

		stopped := r.drain(ctx, deliveries, handler, queue, log)
		if stopped {
			ch.Close()
			log.Info("consumer stopped")
			return nil
		}
		log.Warn("delivery channel closed, reconnecting")
	}
}

func (r *RabbitMQ) openConsumer(ctx context.Context, queue, tag string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := r.channel(ctx)
	if err != nil {
		return nil, nil, err
	}

	prefetch := r.cfg.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("setting qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		tag,   // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("registering consumer: %w", err)
	}
	return ch, deliveries, nil
}

// drain handles deliveries until ctx is done (true) or the channel closes
// (false).
func (r *RabbitMQ) drain(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler, queue string, log *zap.Logger) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-deliveries:
			if !ok {
				return false
			}
			Handle(ctx, msg, handler, queue, log)
		}
	}
}

// Handle runs handler for one delivery with panic recovery and settles it
// according to the result.
func Handle(ctx context.Context, msg amqp.Delivery, handler Handler, queue string, log *zap.Logger) {
	log = log.With(
		zap.String("routingKey", msg.RoutingKey),
		zap.String("messageId", msg.MessageId),
		zap.Bool("redelivered", msg.Redelivered),
	)

	err := safeCall(ctx, msg, handler)
	result := decide(err, msg.Redelivered)

	var ackErr error
	switch result {
	case outcomeAck:
		ackErr = msg.Ack(false)
	case outcomeRequeue:
		log.Warn("message failed, requeueing", zap.Error(err))
		ackErr = msg.Nack(false, true)
	case outcomeDeadLetter:
		log.Error("message failed, dead-lettering", zap.Error(err))
		ackErr = msg.Nack(false, false)
	}
	if ackErr != nil {
		log.Error("settling message failed", zap.String("outcome", string(result)), zap.Error(ackErr))
	}
	messagesConsumed.WithLabelValues(queue, string(result)).Inc()
}

func safeCall(ctx context.Context, msg amqp.Delivery, handler Handler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = Permanent(fmt.Errorf("panic: %v\n%s", rec, debug.Stack()))
		}
	}()
	return handler(ctx, msg)
}
