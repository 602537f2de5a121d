package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
	"byteme/testutil"
	"byteme/utils"
)

type purchaseFixture struct {
	gateway *fakeGateway
	catalog *fakeCatalog
	orders  *fakeOrderClient
	pub     *testutil.RecordingPublisher
	svc     *PurchaseService
}

func newPurchaseFixture() *purchaseFixture {
	f := &purchaseFixture{
		gateway: newFakeGateway(),
		catalog: &fakeCatalog{parts: map[string]models.Part{
			"1": {ID: "1", Name: "CPU", Price: decimal.RequireFromString("199.99"), Stock: 3},
			"2": {ID: "2", Name: "GPU", Price: decimal.RequireFromString("0.01"), Stock: 1},
			"3": {ID: "3", Name: "PSU", Price: decimal.RequireFromString("80"), Stock: 0},
		}},
		orders: newFakeOrderClient(),
		pub:    testutil.NewRecordingPublisher(),
	}
	recs := fakeRecommendations{
		"rec-1":   {RecommendationID: "rec-1", PartsList: json.RawMessage(`[{"part_id":"1"},{"part_id":"2"},{"part_id":"3"}]`)},
		"rec-oos": {RecommendationID: "rec-oos", PartsList: json.RawMessage(`["3"]`)},
		"rec-bad": {RecommendationID: "rec-bad", PartsList: json.RawMessage(`["404"]`)},
	}
	customers := fakeCustomers{"c-1": {CustomerID: "c-1", Name: "Ada", Email: "ada@byteme.store"}}
	f.svc = NewPurchaseService(recs, customers, f.catalog, f.gateway, f.orders, f.pub, "sgd", zap.NewNop())
	return f
}

func TestPurchase_Success(t *testing.T) {
	f := newPurchaseFixture()

	res, err := f.svc.Purchase(context.Background(), PurchaseInput{RecommendationID: "rec-1", CustomerID: "c-1"})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("200.00").Equal(res.Total))
	assert.Equal(t, "cs_1", res.Checkout.SessionID)

	require.Len(t, f.gateway.checkouts, 1)
	checkout := f.gateway.checkouts[0]
	assert.Equal(t, int64(20000), checkout.Amount)
	assert.Equal(t, "ada@byteme.store", checkout.CustomerEmail)
	assert.Equal(t, res.OrderID, checkout.Metadata["order_id"])
	assert.Equal(t, "c-1", checkout.Metadata["customer_id"])

	require.Len(t, f.orders.created, 1)
	created := f.orders.created[0]
	assert.Equal(t, res.OrderID, created.OrderID)
	assert.Equal(t, "cs_1", created.CheckoutSessionID)
	ids, err := models.PartIDs(created.PartsList)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	assert.Equal(t, []string{models.KeyEmailOrderConfirm}, f.pub.Keys())
}

func TestPurchase_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing fields", func(t *testing.T) {
		f := newPurchaseFixture()
		_, err := f.svc.Purchase(ctx, PurchaseInput{CustomerID: "c-1"})
		ve, ok := apperrors.IsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, "Missing required field: recommendation_id", ve.Message)
	})

	t.Run("unknown recommendation", func(t *testing.T) {
		f := newPurchaseFixture()
		_, err := f.svc.Purchase(ctx, PurchaseInput{RecommendationID: "nope", CustomerID: "c-1"})
		nf, ok := apperrors.IsNotFoundError(err)
		require.True(t, ok)
		assert.Equal(t, "Recommendation not found", nf.Message)
	})

	t.Run("unknown part", func(t *testing.T) {
		f := newPurchaseFixture()
		_, err := f.svc.Purchase(ctx, PurchaseInput{RecommendationID: "rec-bad", CustomerID: "c-1"})
		nf, ok := apperrors.IsNotFoundError(err)
		require.True(t, ok)
		assert.Equal(t, "Part not found", nf.Message)
	})

	t.Run("inventory down", func(t *testing.T) {
		f := newPurchaseFixture()
		f.catalog.err = apperrors.NewUpstreamError("inventory", http.StatusServiceUnavailable, "circuit breaker is open", nil)
		_, err := f.svc.Purchase(ctx, PurchaseInput{RecommendationID: "rec-1", CustomerID: "c-1"})
		up, ok := apperrors.IsUpstreamError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusServiceUnavailable, up.Status)
	})

	t.Run("nothing in stock", func(t *testing.T) {
		f := newPurchaseFixture()
		_, err := f.svc.Purchase(ctx, PurchaseInput{RecommendationID: "rec-oos", CustomerID: "c-1"})
		ce, ok := apperrors.IsConflictError(err)
		require.True(t, ok)
		assert.Equal(t, "No parts in stock", ce.Message)
	})

	t.Run("unknown customer", func(t *testing.T) {
		f := newPurchaseFixture()
		_, err := f.svc.Purchase(ctx, PurchaseInput{RecommendationID: "rec-1", CustomerID: "c-9"})
		nf, ok := apperrors.IsNotFoundError(err)
		require.True(t, ok)
		assert.Equal(t, "Customer not found", nf.Message)
	})

	t.Run("checkout fails", func(t *testing.T) {
		f := newPurchaseFixture()
		f.gateway.checkoutErr = errors.New("card declined")
		_, err := f.svc.Purchase(ctx, PurchaseInput{RecommendationID: "rec-1", CustomerID: "c-1"})
		up, ok := apperrors.IsUpstreamError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusPaymentRequired, up.Status)
		assert.Equal(t, "Payment failed", up.Message)
		assert.Empty(t, f.orders.created)
	})

	t.Run("order creation fails", func(t *testing.T) {
		f := newPurchaseFixture()
		f.orders.createErr = errors.New("connection refused")
		_, err := f.svc.Purchase(ctx, PurchaseInput{RecommendationID: "rec-1", CustomerID: "c-1"})
		var ie *apperrors.InternalError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "Failed to create order", ie.Message)
		assert.Empty(t, f.pub.Keys())
	})

	t.Run("order service unavailable is still a 500", func(t *testing.T) {
		f := newPurchaseFixture()
		f.orders.createErr = apperrors.NewUpstreamError("order", http.StatusServiceUnavailable, "order service unavailable", nil)
		_, err := f.svc.Purchase(ctx, PurchaseInput{RecommendationID: "rec-1", CustomerID: "c-1"})
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, utils.StatusFor(err))
	})

	t.Run("confirmation email failure is not fatal", func(t *testing.T) {
		f := newPurchaseFixture()
		f.pub.Fail[models.KeyEmailOrderConfirm] = errors.New("broker down")
		res, err := f.svc.Purchase(ctx, PurchaseInput{RecommendationID: "rec-1", CustomerID: "c-1"})
		require.NoError(t, err)
		assert.NotEmpty(t, res.OrderID)
	})
}
