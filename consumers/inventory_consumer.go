package consumers

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"byteme/models"
	"byteme/rabbitmq"
)

type StockChanger interface {
	ApplyStockChange(ctx context.Context, key string, msg models.StockMessage, sign int) error
}

// stockChangeKey identifies a stock message across redeliveries: its
// message id, or the routing key and order when it has none.
func stockChangeKey(msg amqp.Delivery, stock models.StockMessage) string {
	if msg.MessageId != "" {
		return msg.MessageId
	}
	if stock.OrderID != "" {
		return msg.RoutingKey + ":" + stock.OrderID
	}
	return ""
}

func InventoryHandler(inventory StockChanger) rabbitmq.Handler {
	return func(ctx context.Context, msg amqp.Delivery) error {
		var sign int
		switch msg.RoutingKey {
		case models.KeyStockDecrement:
			sign = -1
		case models.KeyStockIncrement:
			sign = 1
		default:
			return unknownKey(msg)
		}

		var stock models.StockMessage
		if err := decode(msg, &stock); err != nil {
			return err
		}
		return classify(inventory.ApplyStockChange(ctx, stockChangeKey(msg, stock), stock, sign))
	}
}
