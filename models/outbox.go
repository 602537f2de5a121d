package models

import (
	"encoding/json"
	"time"
)

const (
	OutboxPending   = "pending"
	OutboxPublished = "published"
)

// OutboxEvent is a message written in the same transaction as the state
// change it describes, published later by the relay.
type OutboxEvent struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	Exchange    string          `json:"exchange"`
	RoutingKey  string          `json:"routing_key"`
	Payload     json.RawMessage `json:"payload"`
	Priority    uint8           `json:"priority"`
	Delay       time.Duration   `json:"delay"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}
