package models

import (
	"encoding/json"
	"time"
)

const (
	StatusPending       = "pending"
	StatusProcessing    = "processing"
	StatusCompleted     = "completed"
	StatusRefundPending = "refund_pending"
	StatusRefunded      = "refunded"
	StatusCancelled     = "cancelled"
)

// OrderStatuses lists every valid status in display order.
var OrderStatuses = []string{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusRefundPending,
	StatusRefunded,
	StatusCancelled,
}

// refund_pending -> processing is the refund service putting back a
// processing order whose refund request could not be queued.
var orderTransitions = map[string][]string{
	StatusPending:       {StatusProcessing, StatusCancelled, StatusCompleted},
	StatusProcessing:    {StatusCompleted, StatusRefundPending, StatusCancelled},
	StatusCompleted:     {StatusRefundPending},
	StatusRefundPending: {StatusRefunded, StatusCompleted, StatusProcessing},
}

func IsValidStatus(status string) bool {
	for _, s := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// CanTransition reports whether an order may move from one status to
// another. Staying in the same status is always allowed.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsRefundable reports whether a refund may be started from status.
func IsRefundable(status string) bool {
	return status == StatusProcessing || status == StatusCompleted
}

type Order struct {
	OrderID           string          `json:"order_id"`
	CustomerID        string          `json:"customer_id"`
	PartsList         json.RawMessage `json:"parts_list"`
	Status            string          `json:"status"`
	PaymentIntentID   string          `json:"payment_intent_id,omitempty"`
	CheckoutSessionID string          `json:"checkout_session_id,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type CreateOrderRequest struct {
	OrderID           string          `json:"order_id,omitempty"`
	CustomerID        string          `json:"customer_id"`
	PartsList         json.RawMessage `json:"parts_list"`
	CheckoutSessionID string          `json:"checkout_session_id,omitempty"`
}
