package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Recommendation struct {
	RecommendationID string           `json:"recommendation_id"`
	CustomerID       string           `json:"customer_id"`
	PartsList        json.RawMessage  `json:"parts_list"`
	Cost             *decimal.Decimal `json:"cost,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}
