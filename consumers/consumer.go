package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	apperrors "byteme/errors"
	"byteme/rabbitmq"
)

// Bus is the consuming side of the message bus.
type Bus interface {
	Consume(ctx context.Context, queue, tag string, handler rabbitmq.Handler) error
}

type Subscription struct {
	Queue   string
	Tag     string
	Handler rabbitmq.Handler
}

// Run consumes every subscription until ctx is cancelled.
func Run(ctx context.Context, bus Bus, subs ...Subscription) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			if err := bus.Consume(ctx, sub.Queue, sub.Tag, sub.Handler); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("consuming %s: %w", sub.Queue, err))
				mu.Unlock()
			}
		}(sub)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// decode unmarshals a message body. A body that cannot be decoded will
// never succeed, so the error is permanent.
func decode(msg amqp.Delivery, v interface{}) error {
	if err := json.Unmarshal(msg.Body, v); err != nil {
		return rabbitmq.Permanent(fmt.Errorf("decoding %s: %w", msg.RoutingKey, err))
	}
	return nil
}

// classify marks errors that redelivery cannot fix as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.IsValidationError(err); ok {
		return rabbitmq.Permanent(err)
	}
	if _, ok := apperrors.IsNotFoundError(err); ok {
		return rabbitmq.Permanent(err)
	}
	return err
}

func unknownKey(msg amqp.Delivery) error {
	return rabbitmq.Permanent(fmt.Errorf("unexpected routing key %q", msg.RoutingKey))
}
