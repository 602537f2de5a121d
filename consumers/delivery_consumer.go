package consumers

import (
	"context"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"byteme/models"
	"byteme/rabbitmq"
)

type DeliveryRecorder interface {
	Record(ctx context.Context, req models.DeliveryRequest) error
}

// DeliveryHandler stores delivery.# tasks. delivery.return messages are
// stored as returns when they do not name a kind.
func DeliveryHandler(deliveries DeliveryRecorder) rabbitmq.Handler {
	return func(ctx context.Context, msg amqp.Delivery) error {
		if !strings.HasPrefix(msg.RoutingKey, "delivery") {
			return unknownKey(msg)
		}

		var req models.DeliveryRequest
		if err := decode(msg, &req); err != nil {
			return err
		}
		if req.Kind == "" && msg.RoutingKey == models.KeyDeliveryReturn {
			req.Kind = models.DeliveryReturn
		}
		return classify(deliveries.Record(ctx, req))
	}
}
