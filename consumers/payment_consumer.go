package consumers

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"byteme/models"
	"byteme/rabbitmq"
)

type RefundProcessor interface {
	ProcessRefundRequest(ctx context.Context, req models.RefundRequest) error
}

func RefundRequestHandler(payments RefundProcessor) rabbitmq.Handler {
	return func(ctx context.Context, msg amqp.Delivery) error {
		if msg.RoutingKey != models.KeyRefundRequest {
			return unknownKey(msg)
		}

		var req models.RefundRequest
		if err := decode(msg, &req); err != nil {
			return err
		}
		if req.RequestID == "" {
			req.RequestID = msg.MessageId
		}
		return classify(payments.ProcessRefundRequest(ctx, req))
	}
}
