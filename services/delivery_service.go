package services

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
)

type DeliveryStore interface {
	Create(ctx context.Context, d models.Delivery) error
	FindByID(ctx context.Context, id string) (*models.Delivery, error)
	FindByOrder(ctx context.Context, orderID string) ([]models.Delivery, error)
}

type DeliveryService struct {
	store  DeliveryStore
	logger *zap.Logger
	now    func() time.Time
}

func NewDeliveryService(store DeliveryStore, logger *zap.Logger) *DeliveryService {
	return &DeliveryService{store: store, logger: logger, now: time.Now}
}

func (s *DeliveryService) Create(ctx context.Context, req models.DeliveryRequest) (*models.Delivery, error) {
	if err := validateDelivery(&req); err != nil {
		return nil, err
	}

	d := models.Delivery{
		DeliveryID: uuid.NewString(),
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		PartsList:  req.PartsList,
		Address:    req.Address,
		Kind:       req.Kind,
		Timestamp:  s.now().UTC(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("delivery created",
		zap.String("deliveryId", d.DeliveryID),
		zap.String("orderId", d.OrderID),
		zap.String("kind", d.Kind),
	)
	return &d, nil
}

// Record stores a delivery received from the bus. A delivery of the same
// kind already stored for the order is not an error.
func (s *DeliveryService) Record(ctx context.Context, req models.DeliveryRequest) error {
	_, err := s.Create(ctx, req)
	if _, dup := apperrors.IsConflictError(err); dup {
		s.logger.Info("duplicate delivery ignored", zap.String("orderId", req.OrderID), zap.String("kind", req.Kind))
		return nil
	}
	return err
}

func (s *DeliveryService) Get(ctx context.Context, id string) (*models.Delivery, error) {
	return s.store.FindByID(ctx, id)
}

func (s *DeliveryService) ByOrder(ctx context.Context, orderID string) ([]models.Delivery, error) {
	deliveries, err := s.store.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(deliveries) == 0 {
		return nil, apperrors.NewNotFoundError("No deliveries found for this order")
	}
	return deliveries, nil
}

func validateDelivery(req *models.DeliveryRequest) error {
	switch {
	case req.OrderID == "":
		return apperrors.MissingField("order_id")
	case req.CustomerID == "":
		return apperrors.MissingField("customer_id")
	case len(req.PartsList) == 0, bytes.Equal(bytes.TrimSpace(req.PartsList), []byte("null")):
		return apperrors.MissingField("parts_list")
	}

	if req.Kind == "" {
		req.Kind = models.DeliveryOutbound
	}
	if req.Kind != models.DeliveryOutbound && req.Kind != models.DeliveryReturn {
		return apperrors.NewValidationError("kind must be one of: outbound, return",
			apperrors.ValidationDetail{Field: "kind", Message: "invalid value"})
	}
	return nil
}
