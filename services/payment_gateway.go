package services

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"byteme/config"
	apperrors "byteme/errors"
	"byteme/models"
)

const stripeService = "stripe"

// PaymentGateway is the payment provider as seen by the payment service.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*models.CheckoutSessionDetails, error)
	CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	Refund(ctx context.Context, paymentIntentID string, amount int64, reason, idempotencyKey string) (*models.Refund, error)
	LatestRefund(ctx context.Context, paymentIntentID string) (*models.Refund, error)
	ParseWebhook(payload []byte, signature string) (*models.WebhookEvent, error)
}

// StripeGateway implements PaymentGateway with stripe-go.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeGateway{api: api, webhookSecret: cfg.WebhookSecret}
}

// IsProviderRefusal reports whether the payment provider answered and
// declined the request. Provider outages, rate limiting and network
// failures are not refusals and are worth retrying.
func IsProviderRefusal(err error) bool {
	up, ok := apperrors.IsUpstreamError(err)
	if !ok || up.Service != stripeService {
		return false
	}
	return up.Status >= 400 && up.Status < 500 && up.Status != http.StatusTooManyRequests
}

func stripeErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		status := se.HTTPStatusCode
		if status == http.StatusNotFound {
			return apperrors.NewNotFoundError(se.Msg)
		}
		if status < 400 {
			status = http.StatusBadGateway
		}
		return apperrors.NewUpstreamError(stripeService, status, se.Msg, err)
	}
	return err
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		CustomerEmail:      stripe.String(req.CustomerEmail),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
					UnitAmount: stripe.Int64(req.Amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
		params.PaymentIntentData.AddMetadata(k, v)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeErr(err)
	}
	return &models.CheckoutSession{CheckoutURL: sess.URL, SessionID: sess.ID}, nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*models.CheckoutSessionDetails, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, stripeErr(err)
	}

	details := &models.CheckoutSessionDetails{
		SessionID:     sess.ID,
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
		CustomerEmail: sess.CustomerEmail,
		PaymentStatus: string(sess.PaymentStatus),
		Metadata:      sess.Metadata,
	}
	if sess.PaymentIntent != nil {
		details.PaymentIntent = sess.PaymentIntent.ID
	}
	if details.CustomerEmail == "" && sess.CustomerDetails != nil {
		details.CustomerEmail = sess.CustomerDetails.Email
	}
	return details, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, stripeErr(err)
	}
	return toPaymentIntent(pi), nil
}

func (g *StripeGateway) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, stripeErr(err)
	}
	return toPaymentIntent(pi), nil
}

// Refund creates a refund. A non-empty idempotencyKey makes retries of the
// same request return the original refund.
func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string, amount int64, reason, idempotencyKey string) (*models.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Reason:        stripe.String(reason),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, stripeErr(err)
	}
	return toRefund(r, paymentIntentID), nil
}

// LatestRefund returns the most recent refund of a payment intent. Stripe
// lists refunds newest first.
func (g *StripeGateway) LatestRefund(ctx context.Context, paymentIntentID string) (*models.Refund, error) {
	params := &stripe.RefundListParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := g.api.Refunds.List(params)
	if iter.Next() {
		return toRefund(iter.Refund(), paymentIntentID), nil
	}
	if err := iter.Err(); err != nil {
		return nil, stripeErr(err)
	}
	return nil, apperrors.NewNotFoundError("No refunds found for this payment")
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*models.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid signature")
	}

	out := &models.WebhookEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		Timestamp: event.Created,
	}
	if event.Data != nil {
		out.EventData = event.Data.Raw
	}
	return out, nil
}

func toPaymentIntent(pi *stripe.PaymentIntent) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:           pi.ID,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}
}

func toRefund(r *stripe.Refund, paymentIntentID string) *models.Refund {
	out := &models.Refund{
		ID:              r.ID,
		PaymentIntentID: paymentIntentID,
		Amount:          r.Amount,
		Currency:        string(r.Currency),
		Status:          string(r.Status),
		Reason:          string(r.Reason),
		Created:         r.Created,
	}
	if r.PaymentIntent != nil && r.PaymentIntent.ID != "" {
		out.PaymentIntentID = r.PaymentIntent.ID
	}
	return out
}
