package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
)

type CartStore interface {
	Create(ctx context.Context, c models.Cart) error
	FindByID(ctx context.Context, id string) (*models.Cart, error)
	FindByCustomer(ctx context.Context, customerID string) ([]models.Cart, error)
	List(ctx context.Context) ([]models.Cart, error)
	Delete(ctx context.Context, id string) error
}

type CreateCartInput struct {
	CustomerID string
	Name       string
	PartsList  json.RawMessage
	TotalCost  decimal.Decimal
}

type CartService struct {
	store  CartStore
	logger *zap.Logger
	now    func() time.Time
}

func NewCartService(store CartStore, logger *zap.Logger) *CartService {
	return &CartService{store: store, logger: logger, now: time.Now}
}

func (s *CartService) Create(ctx context.Context, in CreateCartInput) (*models.Cart, error) {
	ids, err := models.CartPartIDs(in.PartsList)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), apperrors.ValidationDetail{Field: "parts_list", Message: err.Error()})
	}
	if in.TotalCost.IsNegative() {
		return nil, apperrors.NewValidationError("total_cost must be a positive number",
			apperrors.ValidationDetail{Field: "total_cost", Message: "must not be negative"})
	}

	cart := models.Cart{
		CartID:     uuid.NewString(),
		CustomerID: in.CustomerID,
		Name:       in.Name,
		PartsList:  ids,
		TotalCost:  in.TotalCost.Round(2),
		Timestamp:  s.now().UTC(),
	}
	if err := s.store.Create(ctx, cart); err != nil {
		return nil, err
	}

	s.logger.Info("cart created", zap.String("cartId", cart.CartID), zap.String("customerId", cart.CustomerID))
	return &cart, nil
}

func (s *CartService) Get(ctx context.Context, id string) (*models.Cart, error) {
	return s.store.FindByID(ctx, id)
}

func (s *CartService) ByCustomer(ctx context.Context, customerID string) ([]models.Cart, error) {
	carts, err := s.store.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(carts) == 0 {
		return nil, apperrors.NewNotFoundError("No carts found for the given customer ID")
	}
	return carts, nil
}

func (s *CartService) All(ctx context.Context) ([]models.Cart, error) {
	carts, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(carts) == 0 {
		return nil, apperrors.NewNotFoundError("No carts found! Is the database empty?")
	}
	return carts, nil
}

func (s *CartService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}
