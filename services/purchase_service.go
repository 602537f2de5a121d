package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
	"byteme/rabbitmq"
)

type CustomerGetter interface {
	Get(ctx context.Context, customerID string) (*models.Customer, error)
}

type RecommendationGetter interface {
	Get(ctx context.Context, recommendationID string) (*models.Recommendation, error)
}

type PartCatalog interface {
	GetComponent(ctx context.Context, id string) (*models.Part, error)
}

type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error)
}

type OrderCreator interface {
	Create(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error)
}

type PurchaseInput struct {
	RecommendationID string
	CustomerID       string
}

type PurchaseResult struct {
	OrderID  string                  `json:"order_id"`
	Total    decimal.Decimal         `json:"total"`
	Checkout *models.CheckoutSession `json:"checkout"`
}

type PurchaseService struct {
	recommendations RecommendationGetter
	customers       CustomerGetter
	parts           PartCatalog
	payments        CheckoutCreator
	orders          OrderCreator
	publisher       rabbitmq.Publisher
	currency        string
	logger          *zap.Logger
}

func NewPurchaseService(
	recommendations RecommendationGetter,
	customers CustomerGetter,
	parts PartCatalog,
	payments CheckoutCreator,
	orders OrderCreator,
	publisher rabbitmq.Publisher,
	currency string,
	logger *zap.Logger,
) *PurchaseService {
	return &PurchaseService{
		recommendations: recommendations,
		customers:       customers,
		parts:           parts,
		payments:        payments,
		orders:          orders,
		publisher:       publisher,
		currency:        currency,
		logger:          logger,
	}
}

// Purchase turns a recommendation into a pending order with a checkout
// session. Stock, delivery and the payment deadline are handled by the
// order service once the order exists.
func (s *PurchaseService) Purchase(ctx context.Context, in PurchaseInput) (*PurchaseResult, error) {
	if in.RecommendationID == "" {
		return nil, apperrors.MissingField("recommendation_id")
	}
	if in.CustomerID == "" {
		return nil, apperrors.MissingField("customer_id")
	}
	log := s.logger.With(zap.String("recommendationId", in.RecommendationID), zap.String("customerId", in.CustomerID))

	rec, err := s.recommendations.Get(ctx, in.RecommendationID)
	if err != nil {
		return nil, notFoundAs(err, "Recommendation not found")
	}

	available, err := s.availableParts(ctx, rec.PartsList)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, apperrors.NewConflictError("No parts in stock")
	}

	customer, err := s.customers.Get(ctx, in.CustomerID)
	if err != nil {
		return nil, notFoundAs(err, "Customer not found")
	}

	total := models.TotalPrice(available)
	orderID := uuid.NewString()
	checkout, err := s.payments.CreateCheckoutSession(ctx, models.CheckoutRequest{
		Amount:        models.ToCents(total),
		Currency:      s.currency,
		CustomerEmail: customer.Email,
		ProductName:   "Purchase from ByteMe",
		Metadata: map[string]string{
			"customer_id": customer.CustomerID,
			"order_id":    orderID,
		},
	})
	if err != nil {
		log.Error("creating checkout session failed", zap.Error(err))
		return nil, apperrors.NewUpstreamError("payment", http.StatusPaymentRequired, "Payment failed", err)
	}

	partsList, err := json.Marshal(available)
	if err != nil {
		return nil, fmt.Errorf("encoding parts list: %w", err)
	}
	if _, err := s.orders.Create(ctx, models.CreateOrderRequest{
		OrderID:           orderID,
		CustomerID:        customer.CustomerID,
		PartsList:         partsList,
		CheckoutSessionID: checkout.SessionID,
	}); err != nil {
		log.Error("creating order failed", zap.String("orderId", orderID), zap.Error(err))
		return nil, apperrors.NewInternalError("Failed to create order", err)
	}

	note := models.Notification{
		Type: models.KeyEmailOrderConfirm,
		Data: models.NotificationData{
			CustomerEmail: customer.Email,
			CustomerName:  customer.Name,
			OrderID:       orderID,
			Amount:        models.ToCents(total),
			Currency:      s.currency,
			CheckoutURL:   checkout.CheckoutURL,
		},
	}
	if err := s.publisher.Publish(ctx, rabbitmq.ExchangeNotification, models.KeyEmailOrderConfirm, note); err != nil {
		log.Warn("publishing order confirmation failed", zap.String("orderId", orderID), zap.Error(err))
	}

	log.Info("purchase completed",
		zap.String("orderId", orderID),
		zap.String("total", total.StringFixed(2)),
		zap.Int("parts", len(available)),
	)
	return &PurchaseResult{OrderID: orderID, Total: total, Checkout: checkout}, nil
}

// availableParts looks up every part of a recommendation and keeps those in
// stock.
func (s *PurchaseService) availableParts(ctx context.Context, partsList json.RawMessage) ([]models.Part, error) {
	ids, err := models.PartIDs(partsList)
	if err != nil {
		return nil, apperrors.NewValidationError("Recommendation has an invalid parts_list")
	}

	available := make([]models.Part, 0, len(ids))
	for _, id := range ids {
		part, err := s.parts.GetComponent(ctx, id)
		if err != nil {
			if _, ok := apperrors.IsNotFoundError(err); ok {
				return nil, apperrors.NewNotFoundError("Part not found")
			}
			return nil, apperrors.NewUpstreamError("inventory", http.StatusServiceUnavailable, "Inventory service unavailable", err)
		}
		if part.InStock() {
			available = append(available, *part)
		}
	}
	return available, nil
}

// notFoundAs replaces the message of a remote 404 with message.
func notFoundAs(err error, message string) error {
	if _, ok := apperrors.IsNotFoundError(err); ok {
		return apperrors.NewNotFoundError(message)
	}
	return err
}
