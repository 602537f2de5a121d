package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
	"byteme/services"
	"byteme/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(ctrls ...Registrar) *gin.Engine {
	return NewRouter(Health{Service: "test"}, zap.NewNop(), ctrls...)
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

// customers

type memCustomers struct {
	rows map[string]models.Customer
}

func (m *memCustomers) List(context.Context) ([]models.Customer, error) {
	out := make([]models.Customer, 0, len(m.rows))
	for _, c := range m.rows {
		out = append(out, c)
	}
	return out, nil
}

func (m *memCustomers) Get(_ context.Context, id string) (*models.Customer, error) {
	c, ok := m.rows[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Customer not found")
	}
	return &c, nil
}

func (m *memCustomers) Save(_ context.Context, c models.Customer) (bool, error) {
	_, exists := m.rows[c.CustomerID]
	m.rows[c.CustomerID] = c
	return !exists, nil
}

func (m *memCustomers) Update(_ context.Context, c models.Customer) error {
	if _, ok := m.rows[c.CustomerID]; !ok {
		return apperrors.NewNotFoundError("Customer not found")
	}
	m.rows[c.CustomerID] = c
	return nil
}

func TestCustomerController(t *testing.T) {
	r := newTestRouter(NewCustomerController(&memCustomers{rows: map[string]models.Customer{}}))

	w, env := do(t, r, http.MethodGet, "/customers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No customers found", env.Message)

	w, env = do(t, r, http.MethodPost, "/customer", map[string]string{"customer_id": "c-1", "name": "Ana", "address": "1 Road"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required field: email", env.Message)

	w, env = do(t, r, http.MethodPost, "/customer", map[string]string{"customer_id": "c-1", "name": "Ana", "address": "1 Road", "email": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid email format", env.Message)

	body := map[string]string{"customer_id": "c-1", "name": "Ana", "address": "1 Road", "email": "ana@example.com"}
	w, env = do(t, r, http.MethodPost, "/customer", body)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Customer created successfully", env.Message)

	w, env = do(t, r, http.MethodPost, "/customer", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Customer updated successfully", env.Message)

	w, _ = do(t, r, http.MethodGet, "/customer/c-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodGet, "/customer/c-9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Customer not found", env.Message)

	w, _ = do(t, r, http.MethodPut, "/customer/c-9", map[string]string{"name": "B", "address": "x", "email": "b@example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = do(t, r, http.MethodPost, "/customer", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Request body is required", env.Message)
}

// carts

type memCarts struct {
	created []services.CreateCartInput
}

func (m *memCarts) Create(_ context.Context, in services.CreateCartInput) (*models.Cart, error) {
	m.created = append(m.created, in)
	return &models.Cart{CartID: "cart-1", CustomerID: in.CustomerID, TotalCost: in.TotalCost}, nil
}

func (m *memCarts) Get(context.Context, string) (*models.Cart, error) {
	return nil, apperrors.NewNotFoundError("Cart not found")
}

func (m *memCarts) ByCustomer(context.Context, string) ([]models.Cart, error) {
	return nil, apperrors.NewNotFoundError("No carts found for the given customer ID")
}

func (m *memCarts) All(context.Context) ([]models.Cart, error) {
	return []models.Cart{{CartID: "cart-1"}}, nil
}

func (m *memCarts) Delete(context.Context, string) error { return nil }

func TestCartController(t *testing.T) {
	carts := &memCarts{}
	r := newTestRouter(NewCartController(carts, ""))

	w, env := do(t, r, http.MethodPost, "/cart", map[string]interface{}{
		"customer_id": "c-1",
		"name":        "build",
		"parts_list":  map[string]interface{}{"cpu": map[string]string{"Id": "p-1"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required field: total_cost", env.Message)

	w, _ = do(t, r, http.MethodPost, "/cart", `{"customer_id":"c-1","name":"build","parts_list":{"cpu":{"Id":"p-1"}},"total_cost":12.5}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, carts.created, 1)
	assert.True(t, decimal.RequireFromString("12.5").Equal(carts.created[0].TotalCost))

	w, _ = do(t, r, http.MethodGet, "/cart/all", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodGet, "/cart/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Cart not found", env.Message)

	w, env = do(t, r, http.MethodGet, "/cart/customer/c-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No carts found for the given customer ID", env.Message)

	w, _ = do(t, r, http.MethodDelete, "/cart/cart-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCartController_Auth(t *testing.T) {
	r := newTestRouter(NewCartController(&memCarts{}, "secret"))
	body := `{"customer_id":"c-1","name":"build","parts_list":{},"total_cost":1}`

	w, _ := do(t, r, http.MethodPost, "/cart", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := utils.GenerateToken("c-2", "secret", time.Hour)
	require.NoError(t, err)
	w, _ = do(t, r, http.MethodPost, "/cart", body, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, w.Code)

	token, err = utils.GenerateToken("c-1", "secret", time.Hour)
	require.NoError(t, err)
	w, _ = do(t, r, http.MethodPost, "/cart", body, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusCreated, w.Code)
}

// orders

type fakeOrderAPI struct {
	orders    map[string]models.Order
	createErr error
	updateErr error
}

func (f *fakeOrderAPI) Create(_ context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.Order{OrderID: "o-new", CustomerID: req.CustomerID, Status: models.StatusPending}, nil
}

func (f *fakeOrderAPI) Get(_ context.Context, id string) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Order not found")
	}
	return &o, nil
}

func (f *fakeOrderAPI) List(context.Context) ([]models.Order, error) {
	return nil, apperrors.NewNotFoundError("No orders found")
}

func (f *fakeOrderAPI) ByCustomer(context.Context, string) ([]models.Order, error) {
	return nil, apperrors.NewNotFoundError("No orders found for this customer")
}

func (f *fakeOrderAPI) UpdateStatus(_ context.Context, id, status string) (*models.Order, error) {
	if status == "" {
		return nil, apperrors.MissingField("status")
	}
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	o := f.orders[id]
	o.Status = status
	return &o, nil
}

func (f *fakeOrderAPI) Delete(_ context.Context, id string) error {
	if _, ok := f.orders[id]; !ok {
		return apperrors.NewNotFoundError("Order not found")
	}
	return nil
}

func TestOrderController(t *testing.T) {
	api := &fakeOrderAPI{orders: map[string]models.Order{"o-1": {OrderID: "o-1", Status: models.StatusPending}}}
	r := newTestRouter(NewOrderController(api))

	w, env := do(t, r, http.MethodPost, "/order", map[string]interface{}{"customer_id": "c-1", "parts_list": []string{"p-1"}})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, string(env.Data), "o-new")

	api.createErr = apperrors.NewConflictError("Order already exists")
	w, env = do(t, r, http.MethodPost, "/order", map[string]interface{}{"order_id": "o-1", "customer_id": "c-1", "parts_list": []string{}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Order already exists", env.Message)

	api.createErr = errors.New("pq: connection refused")
	w, env = do(t, r, http.MethodPost, "/order", map[string]interface{}{"customer_id": "c-1", "parts_list": []string{}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to create order", env.Message)

	w, _ = do(t, r, http.MethodGet, "/order/o-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodGet, "/order/o-9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Order not found", env.Message)

	w, env = do(t, r, http.MethodGet, "/order", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No orders found", env.Message)

	w, env = do(t, r, http.MethodGet, "/order/customers/c-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No orders found for this customer", env.Message)

	w, env = do(t, r, http.MethodPut, "/order/o-1/status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required field: status", env.Message)

	w, _ = do(t, r, http.MethodPut, "/order/o-1/status", map[string]string{"status": models.StatusProcessing})
	assert.Equal(t, http.StatusOK, w.Code)

	api.updateErr = apperrors.NewConflictError("Cannot change order status from pending to refunded")
	w, env = do(t, r, http.MethodPut, "/order/o-1/status", map[string]string{"status": models.StatusRefunded})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Cannot change order status from pending to refunded", env.Message)

	w, _ = do(t, r, http.MethodDelete, "/order/o-9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// deliveries and recommendations

type fakeDeliveryAPI struct{}

func (fakeDeliveryAPI) Create(_ context.Context, req models.DeliveryRequest) (*models.Delivery, error) {
	if req.OrderID == "" {
		return nil, apperrors.MissingField("order_id")
	}
	return &models.Delivery{DeliveryID: "d-1", OrderID: req.OrderID}, nil
}

func (fakeDeliveryAPI) Get(context.Context, string) (*models.Delivery, error) {
	return nil, apperrors.NewNotFoundError("Delivery not found")
}

func (fakeDeliveryAPI) ByOrder(context.Context, string) ([]models.Delivery, error) {
	return []models.Delivery{{DeliveryID: "d-1"}}, nil
}

func TestDeliveryController(t *testing.T) {
	r := newTestRouter(NewDeliveryController(fakeDeliveryAPI{}))

	w, env := do(t, r, http.MethodPost, "/delivery", map[string]string{"customer_id": "c-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required field: order_id", env.Message)

	w, _ = do(t, r, http.MethodPost, "/delivery", map[string]interface{}{"order_id": "o-1", "customer_id": "c-1", "parts_list": []string{"p"}})
	assert.Equal(t, http.StatusCreated, w.Code)

	w, env = do(t, r, http.MethodGet, "/delivery/d-9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Delivery not found", env.Message)

	w, _ = do(t, r, http.MethodGet, "/delivery/order/o-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

type fakeRecommendationAPI struct {
	got services.CreateRecommendationInput
}

func (f *fakeRecommendationAPI) Create(_ context.Context, in services.CreateRecommendationInput) (*models.Recommendation, error) {
	f.got = in
	return &models.Recommendation{RecommendationID: "r-1"}, nil
}

func (f *fakeRecommendationAPI) Get(context.Context, string) (*models.Recommendation, error) {
	return nil, apperrors.NewNotFoundError("Recommendation not found")
}

func (f *fakeRecommendationAPI) ByCustomer(context.Context, string) ([]models.Recommendation, error) {
	return nil, apperrors.NewNotFoundError("No recommendations found for this customer")
}

func TestRecommendationController(t *testing.T) {
	api := &fakeRecommendationAPI{}
	r := newTestRouter(NewRecommendationController(api))

	w, env := do(t, r, http.MethodPost, "/recommendation", map[string]interface{}{"parts_list": []string{"p-1"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required field: customer_id", env.Message)

	w, _ = do(t, r, http.MethodPost, "/recommendation", `{"customer_id":"c-1","parts_list":["p-1"],"cost":"99.90"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, api.got.Cost)
	assert.Equal(t, "99.9", api.got.Cost.String())

	w, env = do(t, r, http.MethodGet, "/recommendation/r-9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Recommendation not found", env.Message)

	w, _ = do(t, r, http.MethodGet, "/recommendation/customer/c-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// health

func TestHealth(t *testing.T) {
	healthy := NewRouter(Health{
		Service: "email",
		Checks:  map[string]Check{"rabbitmq": func(context.Context) error { return nil }},
		Info:    map[string]string{"mailer": "log"},
	}, zap.NewNop())

	w, _ := do(t, healthy, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"email","checks":{"rabbitmq":"ok","mailer":"log"}}`, w.Body.String())

	sick := NewRouter(Health{
		Service: "order",
		Checks:  map[string]Check{"database": func(context.Context) error { return errors.New("connection refused") }},
	}, zap.NewNop())
	w, _ = do(t, sick, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w, _ = do(t, sick, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
