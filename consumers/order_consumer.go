package consumers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
	"byteme/rabbitmq"
)

type OrderHandler interface {
	CreateIfAbsent(ctx context.Context, req models.CreateOrderRequest) error
	CancelUnpaid(ctx context.Context, orderID string) error
	ApplyRefundResult(ctx context.Context, result models.RefundResult, succeeded bool) error
	RecordCheckoutCompleted(ctx context.Context, orderID, sessionID, paymentIntentID string) error
}

type OrderConsumer struct {
	orders OrderHandler
	logger *zap.Logger
}

func NewOrderConsumer(orders OrderHandler, logger *zap.Logger) *OrderConsumer {
	return &OrderConsumer{orders: orders, logger: logger}
}

// Subscriptions lists the queues the order service consumes.
func (c *OrderConsumer) Subscriptions() []Subscription {
	return []Subscription{
		{Queue: rabbitmq.QueueOrder, Tag: "order-service", Handler: c.ProcessOrderMessage},
		{Queue: rabbitmq.QueueRefundResult, Tag: "order-service-refunds", Handler: c.ProcessRefundResult},
		{Queue: rabbitmq.QueueWebhooks, Tag: "order-service-webhooks", Handler: c.ProcessWebhook},
	}
}

// ProcessOrderMessage handles order.create and the delayed
// order.payment_check.
func (c *OrderConsumer) ProcessOrderMessage(ctx context.Context, msg amqp.Delivery) error {
	switch msg.RoutingKey {
	case models.KeyOrderCreate:
		var req models.CreateOrderRequest
		if err := decode(msg, &req); err != nil {
			return err
		}
		return classify(c.orders.CreateIfAbsent(ctx, req))

	case models.KeyOrderPaymentCheck:
		var check models.PaymentCheckMessage
		if err := decode(msg, &check); err != nil {
			return err
		}
		if check.OrderID == "" {
			return rabbitmq.Permanent(apperrors.MissingField("order_id"))
		}
		// 检查订单支付状态，未支付则自动取消
		return classify(c.orders.CancelUnpaid(ctx, check.OrderID))

	default:
		return unknownKey(msg)
	}
}

func (c *OrderConsumer) ProcessRefundResult(ctx context.Context, msg amqp.Delivery) error {
	var succeeded bool
	switch msg.RoutingKey {
	case models.KeyRefundProcessed:
		succeeded = true
	case models.KeyRefundFailed:
		succeeded = false
	default:
		return unknownKey(msg)
	}

	var result models.RefundResult
	if err := decode(msg, &result); err != nil {
		return err
	}
	if result.OrderID == "" {
		// 没有订单号的退款(例如直接调用 /refund-async)与订单无关
		c.logger.Info("refund result without order ignored", zap.String("requestId", result.RequestID))
		return nil
	}
	return classify(c.orders.ApplyRefundResult(ctx, result, succeeded))
}

// ProcessWebhook reacts to completed checkouts. Other provider events are
// acknowledged and ignored.
func (c *OrderConsumer) ProcessWebhook(ctx context.Context, msg amqp.Delivery) error {
	if !strings.HasPrefix(msg.RoutingKey, models.KeyWebhookPrefix) {
		return unknownKey(msg)
	}
	if msg.RoutingKey != models.KeyCheckoutCompleted {
		c.logger.Debug("webhook ignored", zap.String("routingKey", msg.RoutingKey))
		return nil
	}

	var event models.WebhookEvent
	if err := decode(msg, &event); err != nil {
		return err
	}
	session, err := parseCheckoutSession(event.EventData)
	if err != nil {
		return rabbitmq.Permanent(err)
	}
	return classify(c.orders.RecordCheckoutCompleted(ctx, session.Metadata["order_id"], session.ID, session.PaymentIntent))
}

type checkoutSession struct {
	ID            string
	PaymentIntent string
	Metadata      map[string]string
}

// parseCheckoutSession reads a checkout session from webhook event data,
// which is either the session itself or wrapped in "object".
func parseCheckoutSession(data json.RawMessage) (*checkoutSession, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decoding checkout session: %w", err)
	}
	if inner, ok := fields["object"]; ok && len(bytes.TrimSpace(inner)) > 0 && bytes.TrimSpace(inner)[0] == '{' {
		return parseCheckoutSession(inner)
	}

	var raw struct {
		ID            string            `json:"id"`
		PaymentIntent json.RawMessage   `json:"payment_intent"`
		Metadata      map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding checkout session: %w", err)
	}

	session := &checkoutSession{ID: raw.ID, Metadata: raw.Metadata}
	pi := bytes.TrimSpace(raw.PaymentIntent)
	switch {
	case len(pi) == 0, string(pi) == "null":
	case pi[0] == '"':
		if err := json.Unmarshal(pi, &session.PaymentIntent); err != nil {
			return nil, fmt.Errorf("decoding payment_intent: %w", err)
		}
	default:
		var expanded struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(pi, &expanded); err != nil {
			return nil, fmt.Errorf("decoding payment_intent: %w", err)
		}
		session.PaymentIntent = expanded.ID
	}

	if session.ID == "" && session.Metadata["order_id"] == "" {
		return nil, fmt.Errorf("checkout session has neither id nor order_id")
	}
	return session, nil
}
