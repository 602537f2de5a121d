package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
	"byteme/rabbitmq"
)

type OrderStatusClient interface {
	Get(ctx context.Context, orderID string) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID, status string) (*models.Order, error)
}

type PaymentIntentGetter interface {
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
}

type DeliveryCreator interface {
	Create(ctx context.Context, req models.DeliveryRequest) (*models.Delivery, error)
}

type RefundInitInput struct {
	OrderID    string
	CustomerID string
	Reason     string
}

type RefundInitResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	OrderID      string `json:"order_id"`
	CustomerID   string `json:"customer_id"`
	RefundAmount int64  `json:"refund_amount"`
	RequestID    string `json:"request_id"`
}

type RefundService struct {
	customers  CustomerGetter
	orders     OrderStatusClient
	payments   PaymentIntentGetter
	deliveries DeliveryCreator
	publisher  rabbitmq.Publisher
	logger     *zap.Logger
}

func NewRefundService(
	customers CustomerGetter,
	orders OrderStatusClient,
	payments PaymentIntentGetter,
	deliveries DeliveryCreator,
	publisher rabbitmq.Publisher,
	logger *zap.Logger,
) *RefundService {
	return &RefundService{
		customers:  customers,
		orders:     orders,
		payments:   payments,
		deliveries: deliveries,
		publisher:  publisher,
		logger:     logger,
	}
}

// Initiate starts the refund of a paid order. The order is moved to
// refund_pending and the refund itself is queued; the final status arrives
// later on refund.result.
func (s *RefundService) Initiate(ctx context.Context, in RefundInitInput) (*RefundInitResult, error) {
	if in.OrderID == "" {
		return nil, apperrors.MissingField("order_id")
	}
	if in.CustomerID == "" {
		return nil, apperrors.MissingField("customer_id")
	}
	log := s.logger.With(zap.String("orderId", in.OrderID), zap.String("customerId", in.CustomerID))

	customer, err := s.customers.Get(ctx, in.CustomerID)
	if err != nil {
		return nil, notFoundAs(err, "Customer not found")
	}
	order, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, notFoundAs(err, "Order not found")
	}
	if order.CustomerID != customer.CustomerID {
		return nil, apperrors.NewForbiddenError("Order does not belong to this customer")
	}
	if !models.IsRefundable(order.Status) {
		return nil, apperrors.NewConflictError("Order cannot be refunded in status " + order.Status)
	}
	if order.PaymentIntentID == "" {
		return nil, apperrors.NewConflictError("Order has not been paid")
	}

	intent, err := s.payments.GetPaymentIntent(ctx, order.PaymentIntentID)
	if err != nil {
		log.Error("retrieving payment intent failed", zap.String("paymentIntentId", order.PaymentIntentID), zap.Error(err))
		if _, ok := apperrors.IsUpstreamError(err); ok {
			return nil, err
		}
		return nil, apperrors.NewUpstreamError("payment", 0, "Failed to retrieve payment", err)
	}

	previous := order.Status
	if _, err := s.orders.UpdateStatus(ctx, order.OrderID, models.StatusRefundPending); err != nil {
		log.Error("marking order refund_pending failed", zap.Error(err))
		return nil, err
	}

	requestID := uuid.NewString()
	req := models.RefundRequest{
		RequestID:       requestID,
		OrderID:         order.OrderID,
		PaymentIntentID: order.PaymentIntentID,
		Amount:          intent.Amount,
		Reason:          in.Reason,
		CustomerEmail:   customer.Email,
		CustomerName:    customer.Name,
	}
	if err := s.publisher.Publish(ctx, rabbitmq.ExchangePayment, models.KeyRefundRequest, req, rabbitmq.WithMessageID(requestID)); err != nil {
		log.Error("publishing refund request failed, restoring order status", zap.String("status", previous), zap.Error(err))
		if _, cerr := s.orders.UpdateStatus(ctx, order.OrderID, previous); cerr != nil {
			log.Error("restoring order status failed", zap.String("status", previous), zap.Error(cerr))
		}
		return nil, apperrors.NewInternalError("Failed to initiate refund", err)
	}

	s.afterRefundQueued(ctx, log, customer, order, intent, requestID)

	log.Info("refund initiated", zap.String("requestId", requestID), zap.Int64("amount", intent.Amount))
	return &RefundInitResult{
		Success:      true,
		Message:      "Refund process initiated",
		OrderID:      order.OrderID,
		CustomerID:   customer.CustomerID,
		RefundAmount: intent.Amount,
		RequestID:    requestID,
	}, nil
}

// afterRefundQueued sends the customer notice, returns stock and books the
// return delivery. None of these undo the refund when they fail.
func (s *RefundService) afterRefundQueued(ctx context.Context, log *zap.Logger, customer *models.Customer, order *models.Order, intent *models.PaymentIntent, requestID string) {
	note := models.Notification{
		Type: models.KeyEmailRefundInit,
		Data: models.NotificationData{
			CustomerEmail:   customer.Email,
			CustomerName:    customer.Name,
			OrderID:         order.OrderID,
			RequestID:       requestID,
			PaymentIntentID: order.PaymentIntentID,
			Amount:          intent.Amount,
			Currency:        intent.Currency,
		},
	}
	if err := s.publisher.Publish(ctx, rabbitmq.ExchangeNotification, models.KeyEmailRefundInit, note); err != nil {
		log.Warn("publishing refund notification failed, continuing", zap.Error(err))
	}

	if ids, err := models.PartIDs(order.PartsList); err != nil {
		log.Warn("order parts_list unreadable, stock not restored", zap.Error(err))
	} else if len(ids) > 0 {
		msg := models.StockMessage{OrderID: order.OrderID, PartIDs: ids, Quantity: 1}
		if err := s.publisher.Publish(ctx, rabbitmq.ExchangeOrder, models.KeyStockIncrement, msg,
			rabbitmq.WithMessageID(fmt.Sprintf("%s.%s", requestID, models.KeyStockIncrement))); err != nil {
			log.Warn("publishing stock increment failed", zap.Error(err))
		}
	}

	if _, err := s.deliveries.Create(ctx, models.DeliveryRequest{
		OrderID:    order.OrderID,
		CustomerID: customer.CustomerID,
		PartsList:  order.PartsList,
		Address:    customer.Address,
		Kind:       models.DeliveryReturn,
	}); err != nil {
		log.Warn("creating return delivery failed", zap.Error(err))
	}
}
