package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
	"byteme/rabbitmq"
)

type OrderStore interface {
	CreateWithEvents(ctx context.Context, o models.Order, events []models.OutboxEvent) error
	TransitionWithEvents(ctx context.Context, id, from, to string, events []models.OutboxEvent) (bool, error)
	RecordPayment(ctx context.Context, id, paymentIntentID, from, to string, events []models.OutboxEvent) (bool, error)
	Get(ctx context.Context, id string) (*models.Order, error)
	FindByCheckoutSession(ctx context.Context, sessionID string) (*models.Order, error)
	FindByCustomer(ctx context.Context, customerID string) ([]models.Order, error)
	List(ctx context.Context) ([]models.Order, error)
	Delete(ctx context.Context, id string) error
}

type OrderService struct {
	store             OrderStore
	logger            *zap.Logger
	paymentCheckDelay time.Duration
	now               func() time.Time
}

func NewOrderService(store OrderStore, paymentCheckDelay time.Duration, logger *zap.Logger) *OrderService {
	return &OrderService{
		store:             store,
		logger:            logger,
		paymentCheckDelay: paymentCheckDelay,
		now:               time.Now,
	}
}

func (s *OrderService) event(aggregateID, exchange, key string, payload interface{}) (models.OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encoding %s event: %w", key, err)
	}
	return models.OutboxEvent{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		Exchange:    exchange,
		RoutingKey:  key,
		Payload:     body,
		Status:      models.OutboxPending,
		CreatedAt:   s.now().UTC(),
	}, nil
}

// Create stores a pending order together with the delivery task, the stock
// decrement and the delayed payment check that follow from it.
func (s *OrderService) Create(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	defer func(start time.Time) {
		s.logger.Debug("order create finished", zap.Duration("duration", time.Since(start)))
	}(time.Now())

	if req.CustomerID == "" {
		return nil, apperrors.MissingField("customer_id")
	}
	if len(req.PartsList) == 0 {
		return nil, apperrors.MissingField("parts_list")
	}
	partIDs, err := models.PartIDs(req.PartsList)
	if err != nil {
		return nil, apperrors.NewValidationError("parts_list must be an array",
			apperrors.ValidationDetail{Field: "parts_list", Message: err.Error()})
	}

	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}
	now := s.now().UTC()
	order := models.Order{
		OrderID:           req.OrderID,
		CustomerID:        req.CustomerID,
		PartsList:         req.PartsList,
		Status:            models.StatusPending,
		CheckoutSessionID: req.CheckoutSessionID,
		Timestamp:         now,
		UpdatedAt:         now,
	}

	events := make([]models.OutboxEvent, 0, 3)
	delivery, err := s.event(order.OrderID, rabbitmq.ExchangeOrder, models.KeyDeliveryCreate, models.DeliveryRequest{
		OrderID:    order.OrderID,
		CustomerID: order.CustomerID,
		PartsList:  order.PartsList,
		Kind:       models.DeliveryOutbound,
	})
	if err != nil {
		return nil, err
	}
	events = append(events, delivery)

	if len(partIDs) > 0 {
		stock, err := s.event(order.OrderID, rabbitmq.ExchangeOrder, models.KeyStockDecrement, models.StockMessage{
			OrderID:  order.OrderID,
			PartIDs:  partIDs,
			Quantity: 1,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, stock)
	}

	if s.paymentCheckDelay > 0 {
		check, err := s.event(order.OrderID, rabbitmq.ExchangeOrder, models.KeyOrderPaymentCheck, models.PaymentCheckMessage{
			OrderID: order.OrderID,
		})
		if err != nil {
			return nil, err
		}
		check.Delay = s.paymentCheckDelay
		events = append(events, check)
	}

	if err := s.store.CreateWithEvents(ctx, order, events); err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("orderId", order.OrderID),
		zap.String("customerId", order.CustomerID),
		zap.Int("parts", len(partIDs)),
	)
	return &order, nil
}

// CreateIfAbsent is the bus variant of Create: an order that already
// exists is left untouched.
func (s *OrderService) CreateIfAbsent(ctx context.Context, req models.CreateOrderRequest) error {
	_, err := s.Create(ctx, req)
	if _, exists := apperrors.IsConflictError(err); exists {
		s.logger.Info("order already exists, skipping", zap.String("orderId", req.OrderID))
		return nil
	}
	return err
}

func (s *OrderService) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.store.Get(ctx, id)
}

func (s *OrderService) List(ctx context.Context) ([]models.Order, error) {
	orders, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, apperrors.NewNotFoundError("No orders found")
	}
	return orders, nil
}

func (s *OrderService) ByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	orders, err := s.store.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, apperrors.NewNotFoundError("No orders found for this customer")
	}
	return orders, nil
}

func (s *OrderService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func invalidStatus() error {
	return apperrors.NewValidationError(
		"Invalid status. Must be one of: "+strings.Join(models.OrderStatuses, ", "),
		apperrors.ValidationDetail{Field: "status", Message: "invalid value"},
	)
}

// UpdateStatus applies a guarded transition and records an
// order.status.<status> event with it.
func (s *OrderService) UpdateStatus(ctx context.Context, id, status string) (*models.Order, error) {
	if status == "" {
		return nil, apperrors.MissingField("status")
	}
	if !models.IsValidStatus(status) {
		return nil, invalidStatus()
	}

	return s.transition(ctx, id, "", status, nil)
}

// transition moves order id to status. When from is set the order must
// currently be in from. extra events are written with the status event.
func (s *OrderService) transition(ctx context.Context, id, from, to string, extra func(o *models.Order) ([]models.OutboxEvent, error)) (*models.Order, error) {
	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status == to {
		return order, nil
	}
	if from != "" && order.Status != from {
		return nil, apperrors.NewConflictError(fmt.Sprintf("Order is %s, expected %s", order.Status, from))
	}
	if !models.CanTransition(order.Status, to) {
		return nil, apperrors.NewConflictError(fmt.Sprintf("Cannot change order status from %s to %s", order.Status, to))
	}

	statusEvent, err := s.event(order.OrderID, rabbitmq.ExchangeOrder, models.KeyOrderStatusPrefix+to, models.OrderStatusMessage{
		OrderID:    order.OrderID,
		CustomerID: order.CustomerID,
		From:       order.Status,
		Status:     to,
		ChangedAt:  s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	events := []models.OutboxEvent{statusEvent}
	if extra != nil {
		more, err := extra(order)
		if err != nil {
			return nil, err
		}
		events = append(events, more...)
	}

	changed, err := s.store.TransitionWithEvents(ctx, id, order.Status, to, events)
	if err != nil {
		return nil, err
	}
	if !changed {
		// 并发修改，重新读取当前状态
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == to {
			return current, nil
		}
		return nil, apperrors.NewConflictError(fmt.Sprintf("Order status changed concurrently to %s", current.Status))
	}

	s.logger.Info("order status changed",
		zap.String("orderId", id),
		zap.String("from", order.Status),
		zap.String("to", to),
	)
	order.Status = to
	order.UpdatedAt = s.now().UTC()
	return order, nil
}

// CancelUnpaid cancels an order that is still pending when its payment
// check fires, and returns its stock.
func (s *OrderService) CancelUnpaid(ctx context.Context, id string) error {
	order, err := s.store.Get(ctx, id)
	if _, missing := apperrors.IsNotFoundError(err); missing {
		s.logger.Warn("payment check for unknown order", zap.String("orderId", id))
		return nil
	}
	if err != nil {
		return err
	}
	if order.Status != models.StatusPending {
		s.logger.Debug("order paid or closed, payment check skipped", zap.String("orderId", id), zap.String("status", order.Status))
		return nil
	}

	_, err = s.transition(ctx, id, models.StatusPending, models.StatusCancelled, func(o *models.Order) ([]models.OutboxEvent, error) {
		ids, err := models.PartIDs(o.PartsList)
		if err != nil || len(ids) == 0 {
			return nil, nil
		}
		e, err := s.event(o.OrderID, rabbitmq.ExchangeOrder, models.KeyStockIncrement, models.StockMessage{
			OrderID:  o.OrderID,
			PartIDs:  ids,
			Quantity: 1,
		})
		if err != nil {
			return nil, err
		}
		return []models.OutboxEvent{e}, nil
	})
	if _, conflict := apperrors.IsConflictError(err); conflict {
		// 订单已被支付
		return nil
	}
	if err == nil {
		s.logger.Info("auto-cancelled order due to non-payment", zap.String("orderId", id))
	}
	return err
}

// ApplyRefundResult settles a refund_pending order: refunded on success,
// back to completed on failure.
func (s *OrderService) ApplyRefundResult(ctx context.Context, result models.RefundResult, succeeded bool) error {
	target := models.StatusCompleted
	if succeeded {
		target = models.StatusRefunded
	}

	_, err := s.transition(ctx, result.OrderID, models.StatusRefundPending, target, nil)
	if _, stale := apperrors.IsConflictError(err); stale {
		s.logger.Warn("refund result ignored",
			zap.String("orderId", result.OrderID),
			zap.String("requestId", result.RequestID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

// RecordCheckoutCompleted stores the payment intent of a paid checkout and
// moves a pending order to processing.
func (s *OrderService) RecordCheckoutCompleted(ctx context.Context, orderID, sessionID, paymentIntentID string) error {
	var (
		order *models.Order
		err   error
	)
	if orderID != "" {
		order, err = s.store.Get(ctx, orderID)
	} else if sessionID != "" {
		order, err = s.store.FindByCheckoutSession(ctx, sessionID)
	} else {
		return apperrors.NewValidationError("checkout session has neither order_id nor session id")
	}
	if err != nil {
		return err
	}

	statusEvent, err := s.event(order.OrderID, rabbitmq.ExchangeOrder, models.KeyOrderStatusPrefix+models.StatusProcessing, models.OrderStatusMessage{
		OrderID:    order.OrderID,
		CustomerID: order.CustomerID,
		From:       models.StatusPending,
		Status:     models.StatusProcessing,
		ChangedAt:  s.now().UTC(),
	})
	if err != nil {
		return err
	}

	changed, err := s.store.RecordPayment(ctx, order.OrderID, paymentIntentID, models.StatusPending, models.StatusProcessing,
		[]models.OutboxEvent{statusEvent})
	if err != nil {
		return err
	}
	s.logger.Info("checkout completed",
		zap.String("orderId", order.OrderID),
		zap.String("paymentIntentId", paymentIntentID),
		zap.Bool("statusChanged", changed),
	)
	return nil
}
