package models

import (
	"encoding/json"
	"time"
)

const (
	DeliveryOutbound = "outbound"
	DeliveryReturn   = "return"
)

type Delivery struct {
	DeliveryID string          `json:"delivery_id"`
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	PartsList  json.RawMessage `json:"parts_list"`
	Address    string          `json:"address,omitempty"`
	Kind       string          `json:"kind"`
	Timestamp  time.Time       `json:"timestamp"`
}

// DeliveryRequest is both the POST /delivery body and the delivery.#
// message payload.
type DeliveryRequest struct {
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	PartsList  json.RawMessage `json:"parts_list"`
	Address    string          `json:"address,omitempty"`
	Kind       string          `json:"kind,omitempty"`
}
