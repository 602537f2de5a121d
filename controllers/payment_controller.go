package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "byteme/errors"
	"byteme/middlewares"
	"byteme/models"
	"byteme/services"
	"byteme/utils"
)

type PaymentAPI interface {
	CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*models.CheckoutSessionDetails, error)
	CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	CompleteAuthentication(ctx context.Context, paymentIntentID string) (*models.PaymentAuthResult, error)
	PublishableKey() string
	Refund(ctx context.Context, in services.RefundInput) (*models.Refund, error)
	RequestRefund(ctx context.Context, req models.RefundRequest) (string, error)
	RefundStatus(ctx context.Context, paymentIntentID string) (*models.Refund, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*models.WebhookEvent, error)
}

type PaymentController struct {
	payments PaymentAPI
}

func NewPaymentController(payments PaymentAPI) *PaymentController {
	return &PaymentController{payments: payments}
}

func (ctrl *PaymentController) Register(r gin.IRouter) {
	r.GET("/", ctrl.Status)
	r.GET("/config", ctrl.Config)
	r.POST("/create-checkout-session", ctrl.CreateCheckoutSession)
	r.GET("/checkout-session", ctrl.GetCheckoutSession)
	r.POST("/payment-intent", ctrl.CreatePaymentIntent)
	r.GET("/payment-intent/:id", ctrl.GetPaymentIntent)
	r.POST("/payment-auth-complete", ctrl.CompleteAuthentication)
	r.POST("/refund", ctrl.Refund)
	r.POST("/refund-async", ctrl.RefundAsync)
	r.GET("/refund-status/:request_id", ctrl.RefundStatus)
	r.POST("/webhook", ctrl.Webhook)
}

func (ctrl *PaymentController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Stripe Payment Microservice is running"})
}

// Config hands the browser what it needs to load Stripe.js.
func (ctrl *PaymentController) Config(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stripePublishableKey": ctrl.payments.PublishableKey()})
}

type checkoutResponse struct {
	Code int                     `json:"code"`
	URL  string                  `json:"url"`
	Data *models.CheckoutSession `json:"data"`
}

func (ctrl *PaymentController) CreateCheckoutSession(c *gin.Context) {
	defer middlewares.Track(c, "payment", "checkout")

	var req models.CheckoutRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}

	session, err := ctrl.payments.CreateCheckoutSession(c.Request.Context(), req)
	if err != nil {
		utils.Error(c, err, "Failed to create checkout session")
		return
	}
	c.JSON(http.StatusOK, checkoutResponse{Code: http.StatusOK, URL: session.CheckoutURL, Data: session})
}

func (ctrl *PaymentController) GetCheckoutSession(c *gin.Context) {
	details, err := ctrl.payments.GetCheckoutSession(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		utils.Error(c, err, "Failed to retrieve checkout session")
		return
	}
	utils.OK(c, "", details)
}

type paymentIntentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

func (ctrl *PaymentController) CreatePaymentIntent(c *gin.Context) {
	defer middlewares.Track(c, "payment", "payment_intent")

	var req paymentIntentRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}

	intent, err := ctrl.payments.CreatePaymentIntent(c.Request.Context(), req.Amount, req.Currency, req.Metadata)
	if err != nil {
		utils.Error(c, err, "Failed to create payment intent")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"clientSecret":    intent.ClientSecret,
		"paymentIntentId": intent.ID,
	})
}

func (ctrl *PaymentController) GetPaymentIntent(c *gin.Context) {
	intent, err := ctrl.payments.GetPaymentIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.Error(c, err, "Failed to retrieve payment intent")
		return
	}
	utils.OK(c, "", intent)
}

type authCompleteRequest struct {
	PaymentIntent string `json:"payment_intent"`
}

func (ctrl *PaymentController) CompleteAuthentication(c *gin.Context) {
	defer middlewares.Track(c, "payment", "auth_complete")

	var req authCompleteRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}

	result, err := ctrl.payments.CompleteAuthentication(c.Request.Context(), req.PaymentIntent)
	if err != nil {
		utils.Error(c, err, "Payment authentication failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

type refundRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount"`
	Reason          string `json:"reason"`
}

func (ctrl *PaymentController) Refund(c *gin.Context) {
	defer middlewares.Track(c, "payment", "refund")

	var req refundRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}

	refund, err := ctrl.payments.Refund(c.Request.Context(), services.RefundInput{
		PaymentIntentID: req.PaymentIntentID,
		Amount:          req.Amount,
		Reason:          req.Reason,
	})
	if err != nil {
		utils.Error(c, err, "Failed to process refund")
		return
	}
	utils.OK(c, "Refund processed successfully", refund)
}

func (ctrl *PaymentController) RefundAsync(c *gin.Context) {
	defer middlewares.Track(c, "payment", "refund_async")

	var req models.RefundRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}

	requestID, err := ctrl.payments.RequestRefund(c.Request.Context(), req)
	if err != nil {
		utils.Error(c, err, "Failed to queue refund request")
		return
	}
	utils.OK(c, "Refund request queued", gin.H{"request_id": requestID})
}

func (ctrl *PaymentController) RefundStatus(c *gin.Context) {
	refund, err := ctrl.payments.RefundStatus(c.Request.Context(), c.Query("payment_intent_id"))
	if err != nil {
		utils.Error(c, err, "Failed to retrieve refund status")
		return
	}
	utils.OK(c, "", gin.H{
		"request_id": c.Param("request_id"),
		"refund":     refund,
	})
}

func (ctrl *PaymentController) Webhook(c *gin.Context) {
	defer middlewares.Track(c, "payment", "webhook")

	payload, err := c.GetRawData()
	if err != nil {
		utils.Error(c, apperrors.NewValidationError("Unable to read request body"), "Invalid request")
		return
	}

	event, err := ctrl.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		utils.Error(c, err, "Failed to handle webhook")
		return
	}
	utils.OK(c, "Webhook received", gin.H{"event_id": event.EventID, "event_type": event.EventType})
}
