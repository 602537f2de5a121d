package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	CartID     string          `json:"cart_id"`
	CustomerID string          `json:"customer_id"`
	Name       string          `json:"name"`
	PartsList  []string        `json:"parts_list"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Timestamp  time.Time       `json:"timestamp"`
}
