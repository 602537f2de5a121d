package clients

import (
	"context"
	"net/http"
	"net/url"

	"byteme/models"
)

type CustomerClient struct {
	invoker *Invoker
}

func NewCustomerClient(invoker *Invoker) *CustomerClient {
	return &CustomerClient{invoker: invoker}
}

func (c *CustomerClient) Get(ctx context.Context, customerID string) (*models.Customer, error) {
	var customer models.Customer
	if err := c.invoker.Do(ctx, http.MethodGet, "/customer/"+url.PathEscape(customerID), nil, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

type RecommendationClient struct {
	invoker *Invoker
}

func NewRecommendationClient(invoker *Invoker) *RecommendationClient {
	return &RecommendationClient{invoker: invoker}
}

func (c *RecommendationClient) Get(ctx context.Context, recommendationID string) (*models.Recommendation, error) {
	var rec models.Recommendation
	if err := c.invoker.Do(ctx, http.MethodGet, "/recommendation/"+url.PathEscape(recommendationID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

type OrderClient struct {
	invoker *Invoker
}

func NewOrderClient(invoker *Invoker) *OrderClient {
	return &OrderClient{invoker: invoker}
}

func (c *OrderClient) Create(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	var order models.Order
	if err := c.invoker.Do(ctx, http.MethodPost, "/order", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *OrderClient) Get(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := c.invoker.Do(ctx, http.MethodGet, "/order/"+url.PathEscape(orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *OrderClient) UpdateStatus(ctx context.Context, orderID, status string) (*models.Order, error) {
	var order models.Order
	body := map[string]string{"status": status}
	if err := c.invoker.Do(ctx, http.MethodPut, "/order/"+url.PathEscape(orderID)+"/status", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

type DeliveryClient struct {
	invoker *Invoker
}

func NewDeliveryClient(invoker *Invoker) *DeliveryClient {
	return &DeliveryClient{invoker: invoker}
}

func (c *DeliveryClient) Create(ctx context.Context, req models.DeliveryRequest) (*models.Delivery, error) {
	var d models.Delivery
	if err := c.invoker.Do(ctx, http.MethodPost, "/delivery", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

type PaymentClient struct {
	invoker *Invoker
}

func NewPaymentClient(invoker *Invoker) *PaymentClient {
	return &PaymentClient{invoker: invoker}
}

func (c *PaymentClient) CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	if err := c.invoker.Do(ctx, http.MethodPost, "/create-checkout-session", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *PaymentClient) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := c.invoker.Do(ctx, http.MethodGet, "/payment-intent/"+url.PathEscape(id), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}
