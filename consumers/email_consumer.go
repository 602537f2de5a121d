package consumers

import (
	"context"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"byteme/models"
	"byteme/rabbitmq"
)

const emailKeyPrefix = "notification.email."

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// EmailHandler sends the email described by a notification.# message.
// The message type is taken from the body, falling back to the routing key;
// short types such as "refund_processed" are qualified with the
// notification.email. prefix.
func EmailHandler(notifier Notifier) rabbitmq.Handler {
	return func(ctx context.Context, msg amqp.Delivery) error {
		var n models.Notification
		if err := decode(msg, &n); err != nil {
			return err
		}
		switch {
		case n.Type == "":
			n.Type = msg.RoutingKey
		case !strings.HasPrefix(n.Type, emailKeyPrefix):
			n.Type = emailKeyPrefix + n.Type
		}
		return classify(notifier.Notify(ctx, n))
	}
}
