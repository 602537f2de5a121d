package models

import (
	"encoding/json"
	"time"
)

// Routing keys.
const (
	KeyOrderCreate       = "order.create"
	KeyOrderPaymentCheck = "order.payment_check"
	KeyOrderStatusPrefix = "order.status."
	KeyDeliveryCreate    = "delivery.create"
	KeyDeliveryReturn    = "delivery.return"
	KeyStockDecrement    = "parts.stock.decrement"
	KeyStockIncrement    = "parts.stock.increment"
	KeyRefundRequest     = "refund.request"
	KeyRefundProcessed   = "refund.processed"
	KeyRefundFailed      = "refund.failed"
	KeyWebhookPrefix     = "payment.webhook."
	KeyCheckoutCompleted = KeyWebhookPrefix + "checkout.session.completed"
	KeyEmailRefundInit   = "notification.email.refund_initiated"
	KeyEmailRefund       = "notification.email.refund"
	KeyEmailRefundDone   = "notification.email.refund_processed"
	KeyEmailRefundFailed = "notification.email.refund_failed"
	KeyEmailOrderConfirm = "notification.email.order_confirmed"
)

type PaymentCheckMessage struct {
	OrderID string `json:"order_id"`
}

type StockMessage struct {
	OrderID  string   `json:"order_id"`
	PartIDs  []string `json:"part_ids"`
	Quantity int      `json:"quantity"`
}

type OrderStatusMessage struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	From       string    `json:"from"`
	Status     string    `json:"status"`
	ChangedAt  time.Time `json:"changed_at"`
}

type RefundRequest struct {
	RequestID       string `json:"request_id"`
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount,omitempty"`
	Reason          string `json:"reason,omitempty"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	CustomerName    string `json:"customer_name,omitempty"`
}

const (
	RefundSucceeded = "succeeded"
	RefundFailed    = "failed"
)

type RefundResult struct {
	RequestID       string `json:"request_id"`
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	RefundID        string `json:"refund_id,omitempty"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency,omitempty"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

// Notification is the body of every notification.# message.
type Notification struct {
	Type string           `json:"type"`
	Data NotificationData `json:"data"`
}

type NotificationData struct {
	CustomerEmail   string `json:"customer_email"`
	CustomerName    string `json:"customer_name,omitempty"`
	OrderID         string `json:"order_id,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
	RefundID        string `json:"refund_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
	Currency        string `json:"currency,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Error           string `json:"error,omitempty"`
	CheckoutURL     string `json:"checkout_url,omitempty"`
}

type WebhookEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	Timestamp int64           `json:"timestamp"`
}
