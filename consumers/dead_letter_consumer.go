package consumers

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"byteme/rabbitmq"
)

// DeathInfo is the first x-death entry the broker attached to a
// dead-lettered message.
type DeathInfo struct {
	Queue      string
	Reason     string
	Exchange   string
	RoutingKey string
	Count      int64
}

func deathInfo(headers amqp.Table) (DeathInfo, bool) {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return DeathInfo{}, false
	}
	entry, ok := deaths[0].(amqp.Table)
	if !ok {
		return DeathInfo{}, false
	}

	info := DeathInfo{
		Queue:    str(entry["queue"]),
		Reason:   str(entry["reason"]),
		Exchange: str(entry["exchange"]),
	}
	if keys, ok := entry["routing-keys"].([]interface{}); ok && len(keys) > 0 {
		info.RoutingKey = str(keys[0])
	}
	switch n := entry["count"].(type) {
	case int64:
		info.Count = n
	case int32:
		info.Count = int64(n)
	case int:
		info.Count = int64(n)
	}
	return info, true
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DeadLetterHandler logs every dead-lettered message and acknowledges it.
func DeadLetterHandler(logger *zap.Logger) rabbitmq.Handler {
	return func(_ context.Context, msg amqp.Delivery) error {
		fields := []zap.Field{
			zap.String("messageId", msg.MessageId),
			zap.String("type", msg.Type),
			zap.String("appId", msg.AppId),
			zap.ByteString("body", msg.Body),
		}
		if info, ok := deathInfo(msg.Headers); ok {
			fields = append(fields,
				zap.String("queue", info.Queue),
				zap.String("reason", info.Reason),
				zap.String("exchange", info.Exchange),
				zap.String("routingKey", info.RoutingKey),
				zap.Int64("count", info.Count),
			)
		}
		logger.Warn("received dead letter", fields...)
		return nil
	}
}
