package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"byteme/config"
	apperrors "byteme/errors"
	"byteme/models"
	"byteme/rabbitmq"
)

const (
	defaultRefundReason = "requested_by_customer"
	defaultProductName  = "ByteMe Order"
)

type RefundInput struct {
	PaymentIntentID string
	Amount          int64
	Reason          string
}

type PaymentService struct {
	gateway   PaymentGateway
	publisher rabbitmq.Publisher
	cfg       config.StripeConfig
	logger    *zap.Logger
}

func NewPaymentService(gateway PaymentGateway, publisher rabbitmq.Publisher, cfg config.StripeConfig, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		gateway:   gateway,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *PaymentService) CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	if req.Amount <= 0 {
		return nil, apperrors.NewValidationError("Amount is required",
			apperrors.ValidationDetail{Field: "amount", Message: "must be a positive number of cents"})
	}
	if req.CustomerEmail == "" {
		return nil, apperrors.NewValidationError("Customer email is required",
			apperrors.ValidationDetail{Field: "customer_email", Message: "required"})
	}

	if req.Currency == "" {
		req.Currency = s.cfg.Currency
	}
	req.Currency = strings.ToLower(req.Currency)
	if req.ProductName == "" {
		req.ProductName = defaultProductName
	}
	if req.SuccessURL == "" {
		req.SuccessURL = s.cfg.SuccessURL
	}
	if req.CancelURL == "" {
		req.CancelURL = s.cfg.CancelURL
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		s.logger.Error("creating checkout session failed", zap.Int64("amount", req.Amount), zap.Error(err))
		return nil, err
	}
	s.logger.Info("checkout session created",
		zap.String("sessionId", sess.SessionID),
		zap.Int64("amount", req.Amount),
		zap.String("currency", req.Currency),
	)
	return sess, nil
}

func (s *PaymentService) GetCheckoutSession(ctx context.Context, sessionID string) (*models.CheckoutSessionDetails, error) {
	if sessionID == "" {
		return nil, apperrors.NewValidationError("Session ID is required")
	}
	return s.gateway.GetCheckoutSession(ctx, sessionID)
}

func (s *PaymentService) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error) {
	if amount <= 0 {
		return nil, apperrors.NewValidationError("Amount is required",
			apperrors.ValidationDetail{Field: "amount", Message: "must be a positive number of cents"})
	}
	if currency == "" {
		currency = s.cfg.Currency
	}
	return s.gateway.CreatePaymentIntent(ctx, amount, strings.ToLower(currency), metadata)
}

func (s *PaymentService) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return s.gateway.GetPaymentIntent(ctx, id)
}

// CompleteAuthentication reports where a payment stands after the client
// ran its authentication step.
func (s *PaymentService) CompleteAuthentication(ctx context.Context, paymentIntentID string) (*models.PaymentAuthResult, error) {
	if paymentIntentID == "" {
		return nil, apperrors.MissingField("payment_intent")
	}
	intent, err := s.gateway.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	switch intent.Status {
	case "requires_action":
		return &models.PaymentAuthResult{RequiresAction: true, ClientSecret: intent.ClientSecret}, nil
	case "succeeded":
		return &models.PaymentAuthResult{Success: true}, nil
	}
	s.logger.Warn("payment authentication failed",
		zap.String("paymentIntentId", paymentIntentID),
		zap.String("status", intent.Status),
	)
	return nil, apperrors.NewValidationError("Payment authentication failed",
		apperrors.ValidationDetail{Field: "payment_intent", Message: "status " + intent.Status})
}

// PublishableKey is the key browsers use to initialise Stripe.js.
func (s *PaymentService) PublishableKey() string {
	return s.cfg.PublishableKey
}

// Refund refunds a payment synchronously. A zero amount refunds the full
// payment.
func (s *PaymentService) Refund(ctx context.Context, in RefundInput) (*models.Refund, error) {
	if in.PaymentIntentID == "" {
		return nil, apperrors.NewValidationError("Payment intent ID is required",
			apperrors.ValidationDetail{Field: "payment_intent_id", Message: "required"})
	}
	if in.Amount < 0 {
		return nil, apperrors.NewValidationError("amount must not be negative",
			apperrors.ValidationDetail{Field: "amount", Message: "must not be negative"})
	}
	if in.Reason == "" {
		in.Reason = defaultRefundReason
	}

	refund, err := s.gateway.Refund(ctx, in.PaymentIntentID, in.Amount, in.Reason, "")
	if err != nil {
		return nil, err
	}
	s.logger.Info("refund created",
		zap.String("refundId", refund.ID),
		zap.String("paymentIntentId", in.PaymentIntentID),
		zap.Int64("amount", refund.Amount),
	)
	return refund, nil
}

// RequestRefund queues a refund for the refund.request consumer and returns
// its request id.
func (s *PaymentService) RequestRefund(ctx context.Context, req models.RefundRequest) (string, error) {
	if req.PaymentIntentID == "" {
		return "", apperrors.NewValidationError("Payment intent ID is required",
			apperrors.ValidationDetail{Field: "payment_intent_id", Message: "required"})
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Reason == "" {
		req.Reason = defaultRefundReason
	}

	if err := s.publisher.Publish(ctx, rabbitmq.ExchangePayment, models.KeyRefundRequest, req); err != nil {
		return "", apperrors.NewInternalError("Failed to queue refund request", err)
	}
	s.logger.Info("refund request queued",
		zap.String("requestId", req.RequestID),
		zap.String("orderId", req.OrderID),
	)
	return req.RequestID, nil
}

func (s *PaymentService) RefundStatus(ctx context.Context, paymentIntentID string) (*models.Refund, error) {
	if paymentIntentID == "" {
		return nil, apperrors.NewValidationError("Payment intent ID is required as a query parameter")
	}
	return s.gateway.LatestRefund(ctx, paymentIntentID)
}

// HandleWebhook verifies a provider event and forwards it on the bus as
// payment.webhook.<event type>.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*models.WebhookEvent, error) {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.logger.Warn("webhook rejected", zap.Error(err))
		return nil, err
	}

	key := models.KeyWebhookPrefix + event.EventType
	if err := s.publisher.Publish(ctx, rabbitmq.ExchangePayment, key, event, rabbitmq.WithMessageID(event.EventID)); err != nil {
		return nil, apperrors.NewInternalError("Failed to forward webhook", err)
	}
	s.logger.Info("webhook forwarded", zap.String("eventId", event.EventID), zap.String("eventType", event.EventType))
	return event, nil
}

// ProcessRefundRequest executes a queued refund and publishes the outcome.
// Refusals by the provider are reported as refund.failed and are not
// errors; anything else is returned so the request is retried.
func (s *PaymentService) ProcessRefundRequest(ctx context.Context, req models.RefundRequest) error {
	if req.PaymentIntentID == "" {
		return rabbitmq.Permanent(apperrors.MissingField("payment_intent_id"))
	}
	log := s.logger.With(zap.String("requestId", req.RequestID), zap.String("orderId", req.OrderID))

	result := models.RefundResult{
		RequestID:       req.RequestID,
		OrderID:         req.OrderID,
		PaymentIntentID: req.PaymentIntentID,
		Amount:          req.Amount,
	}

	refund, err := s.refund(ctx, req)
	switch {
	case err == nil:
		result.Status = models.RefundSucceeded
		result.RefundID = refund.ID
		result.Amount = refund.Amount
		result.Currency = refund.Currency
	case IsProviderRefusal(err), isNotFound(err):
		log.Warn("refund refused by provider", zap.Error(err))
		result.Status = models.RefundFailed
		result.Error = err.Error()
	default:
		return fmt.Errorf("processing refund %s: %w", req.RequestID, err)
	}

	key := models.KeyRefundProcessed
	if result.Status == models.RefundFailed {
		key = models.KeyRefundFailed
	}
	if err := s.publisher.Publish(ctx, rabbitmq.ExchangePayment, key, result, rabbitmq.WithMessageID(req.RequestID+"."+key)); err != nil {
		return fmt.Errorf("publishing %s: %w", key, err)
	}
	log.Info("refund result published", zap.String("routingKey", key), zap.String("refundId", result.RefundID))

	if req.CustomerEmail == "" {
		return nil
	}
	notifyKey := models.KeyEmailRefundDone
	if result.Status == models.RefundFailed {
		notifyKey = models.KeyEmailRefundFailed
	}
	note := models.Notification{
		Type: notifyKey,
		Data: models.NotificationData{
			CustomerEmail:   req.CustomerEmail,
			CustomerName:    req.CustomerName,
			OrderID:         req.OrderID,
			RequestID:       req.RequestID,
			RefundID:        result.RefundID,
			PaymentIntentID: req.PaymentIntentID,
			Amount:          result.Amount,
			Currency:        result.Currency,
			Reason:          req.Reason,
			Error:           result.Error,
		},
	}
	if err := s.publisher.Publish(ctx, rabbitmq.ExchangeNotification, notifyKey, note); err != nil {
		// 退款结果已发布，通知失败不重试退款
		log.Error("publishing refund notification failed", zap.String("routingKey", notifyKey), zap.Error(err))
	}
	return nil
}

func (s *PaymentService) refund(ctx context.Context, req models.RefundRequest) (*models.Refund, error) {
	amount := req.Amount
	if amount <= 0 {
		intent, err := s.gateway.GetPaymentIntent(ctx, req.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		amount = intent.Amount
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultRefundReason
	}
	key := ""
	if req.RequestID != "" {
		key = "refund-" + req.RequestID
	}
	return s.gateway.Refund(ctx, req.PaymentIntentID, amount, reason, key)
}

func isNotFound(err error) bool {
	_, ok := apperrors.IsNotFoundError(err)
	return ok
}
