package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
	"byteme/rabbitmq"
	"byteme/services"
)

func delivery(t *testing.T, key string, body interface{}) amqp.Delivery {
	t.Helper()
	raw, ok := body.(string)
	if ok {
		return amqp.Delivery{RoutingKey: key, Body: []byte(raw)}
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return amqp.Delivery{RoutingKey: key, Body: b}
}

type fakeOrders struct {
	created   []models.CreateOrderRequest
	cancelled []string
	results   map[string]bool
	checkouts [][3]string
	err       error
}

func (f *fakeOrders) CreateIfAbsent(_ context.Context, req models.CreateOrderRequest) error {
	f.created = append(f.created, req)
	return f.err
}

func (f *fakeOrders) CancelUnpaid(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return f.err
}

func (f *fakeOrders) ApplyRefundResult(_ context.Context, r models.RefundResult, ok bool) error {
	if f.results == nil {
		f.results = map[string]bool{}
	}
	f.results[r.OrderID] = ok
	return f.err
}

func (f *fakeOrders) RecordCheckoutCompleted(_ context.Context, orderID, sessionID, pi string) error {
	f.checkouts = append(f.checkouts, [3]string{orderID, sessionID, pi})
	return f.err
}

func TestProcessOrderMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("create", func(t *testing.T) {
		orders := &fakeOrders{}
		c := NewOrderConsumer(orders, zap.NewNop())
		err := c.ProcessOrderMessage(ctx, delivery(t, models.KeyOrderCreate, map[string]interface{}{
			"order_id":    "o-1",
			"customer_id": "c-1",
			"parts_list":  []string{"p-1"},
		}))
		require.NoError(t, err)
		require.Len(t, orders.created, 1)
		assert.Equal(t, "o-1", orders.created[0].OrderID)
	})

	t.Run("payment check", func(t *testing.T) {
		orders := &fakeOrders{}
		c := NewOrderConsumer(orders, zap.NewNop())
		require.NoError(t, c.ProcessOrderMessage(ctx, delivery(t, models.KeyOrderPaymentCheck, models.PaymentCheckMessage{OrderID: "o-2"})))
		assert.Equal(t, []string{"o-2"}, orders.cancelled)
	})

	t.Run("payment check without order is permanent", func(t *testing.T) {
		c := NewOrderConsumer(&fakeOrders{}, zap.NewNop())
		err := c.ProcessOrderMessage(ctx, delivery(t, models.KeyOrderPaymentCheck, `{}`))
		assert.True(t, rabbitmq.IsPermanent(err))
	})

	t.Run("bad json is permanent", func(t *testing.T) {
		c := NewOrderConsumer(&fakeOrders{}, zap.NewNop())
		err := c.ProcessOrderMessage(ctx, delivery(t, models.KeyOrderCreate, `{not json`))
		assert.True(t, rabbitmq.IsPermanent(err))
	})

	t.Run("unknown key is permanent", func(t *testing.T) {
		c := NewOrderConsumer(&fakeOrders{}, zap.NewNop())
		err := c.ProcessOrderMessage(ctx, delivery(t, "order.other", `{}`))
		assert.True(t, rabbitmq.IsPermanent(err))
	})

	t.Run("validation error is permanent, database error is not", func(t *testing.T) {
		orders := &fakeOrders{err: apperrors.MissingField("customer_id")}
		c := NewOrderConsumer(orders, zap.NewNop())
		err := c.ProcessOrderMessage(ctx, delivery(t, models.KeyOrderCreate, `{}`))
		assert.True(t, rabbitmq.IsPermanent(err))

		orders.err = errors.New("connection reset")
		err = c.ProcessOrderMessage(ctx, delivery(t, models.KeyOrderCreate, `{}`))
		require.Error(t, err)
		assert.False(t, rabbitmq.IsPermanent(err))
	})
}

func TestProcessRefundResult(t *testing.T) {
	ctx := context.Background()
	orders := &fakeOrders{}
	c := NewOrderConsumer(orders, zap.NewNop())

	require.NoError(t, c.ProcessRefundResult(ctx, delivery(t, models.KeyRefundProcessed, models.RefundResult{OrderID: "o-1"})))
	require.NoError(t, c.ProcessRefundResult(ctx, delivery(t, models.KeyRefundFailed, models.RefundResult{OrderID: "o-2"})))
	require.NoError(t, c.ProcessRefundResult(ctx, delivery(t, models.KeyRefundProcessed, models.RefundResult{RequestID: "r-3"})))

	assert.Equal(t, map[string]bool{"o-1": true, "o-2": false}, orders.results)
	assert.True(t, rabbitmq.IsPermanent(c.ProcessRefundResult(ctx, delivery(t, "refund.other", `{}`))))
}

func TestProcessWebhook(t *testing.T) {
	ctx := context.Background()

	t.Run("checkout completed records payment", func(t *testing.T) {
		orders := &fakeOrders{}
		c := NewOrderConsumer(orders, zap.NewNop())
		event := models.WebhookEvent{
			EventID:   "evt_1",
			EventType: "checkout.session.completed",
			EventData: json.RawMessage(`{"object":{"id":"cs_1","payment_intent":"pi_1","metadata":{"order_id":"o-1"}}}`),
		}
		require.NoError(t, c.ProcessWebhook(ctx, delivery(t, models.KeyCheckoutCompleted, event)))
		assert.Equal(t, [][3]string{{"o-1", "cs_1", "pi_1"}}, orders.checkouts)
	})

	t.Run("other events are acknowledged", func(t *testing.T) {
		orders := &fakeOrders{}
		c := NewOrderConsumer(orders, zap.NewNop())
		require.NoError(t, c.ProcessWebhook(ctx, delivery(t, "payment.webhook.charge.refunded", `{}`)))
		assert.Empty(t, orders.checkouts)
	})

	t.Run("not a webhook", func(t *testing.T) {
		c := NewOrderConsumer(&fakeOrders{}, zap.NewNop())
		assert.True(t, rabbitmq.IsPermanent(c.ProcessWebhook(ctx, delivery(t, "order.create", `{}`))))
	})

	t.Run("unusable session is permanent", func(t *testing.T) {
		c := NewOrderConsumer(&fakeOrders{}, zap.NewNop())
		event := models.WebhookEvent{EventData: json.RawMessage(`{"object":{}}`)}
		assert.True(t, rabbitmq.IsPermanent(c.ProcessWebhook(ctx, delivery(t, models.KeyCheckoutCompleted, event))))
	})
}

func TestParseCheckoutSession(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		id      string
		pi      string
		orderID string
		wantErr bool
	}{
		{"bare session", `{"id":"cs_1","payment_intent":"pi_1"}`, "cs_1", "pi_1", "", false},
		{"wrapped", `{"object":{"id":"cs_2","metadata":{"order_id":"o-2"}}}`, "cs_2", "", "o-2", false},
		{"expanded intent", `{"id":"cs_3","payment_intent":{"id":"pi_3","amount":100}}`, "cs_3", "pi_3", "", false},
		{"null intent", `{"id":"cs_4","payment_intent":null}`, "cs_4", "", "", false},
		{"object field that is not a session", `{"id":"cs_5","object":"checkout.session"}`, "cs_5", "", "", false},
		{"empty", `{}`, "", "", "", true},
		{"not json", `[`, "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := parseCheckoutSession(json.RawMessage(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, s.ID)
			assert.Equal(t, tt.pi, s.PaymentIntent)
			assert.Equal(t, tt.orderID, s.Metadata["order_id"])
		})
	}
}

type fakeRecorder struct {
	got []models.DeliveryRequest
	err error
}

func (f *fakeRecorder) Record(_ context.Context, req models.DeliveryRequest) error {
	f.got = append(f.got, req)
	return f.err
}

func TestDeliveryHandler(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	h := DeliveryHandler(rec)

	require.NoError(t, h(ctx, delivery(t, models.KeyDeliveryCreate, models.DeliveryRequest{OrderID: "o-1", Kind: models.DeliveryOutbound})))
	require.NoError(t, h(ctx, delivery(t, models.KeyDeliveryReturn, models.DeliveryRequest{OrderID: "o-1"})))
	require.Len(t, rec.got, 2)
	assert.Equal(t, models.DeliveryOutbound, rec.got[0].Kind)
	assert.Equal(t, models.DeliveryReturn, rec.got[1].Kind)

	assert.True(t, rabbitmq.IsPermanent(h(ctx, delivery(t, "parts.stock.decrement", `{}`))))

	rec.err = apperrors.MissingField("customer_id")
	assert.True(t, rabbitmq.IsPermanent(h(ctx, delivery(t, models.KeyDeliveryCreate, `{}`))))
}

type recordingMailer struct {
	sent []services.Email
	err  error
}

func (m *recordingMailer) Name() string { return "recording" }

func (m *recordingMailer) Send(_ context.Context, e services.Email) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

func TestEmailHandler(t *testing.T) {
	ctx := context.Background()
	mailer := &recordingMailer{}
	h := EmailHandler(services.NewNotificationService(mailer, zap.NewNop()))

	t.Run("type from routing key", func(t *testing.T) {
		err := h(ctx, delivery(t, models.KeyEmailRefundDone, `{"data":{"customer_email":"a@b.c","refund_id":"re_1","amount":1234,"currency":"sgd"}}`))
		require.NoError(t, err)
		require.Len(t, mailer.sent, 1)
		assert.Equal(t, "Your Refund Has Been Processed", mailer.sent[0].Subject)
		assert.Contains(t, mailer.sent[0].Text, "SGD $12.34")
	})

	t.Run("type from body", func(t *testing.T) {
		mailer.sent = nil
		require.NoError(t, h(ctx, delivery(t, models.KeyEmailRefund, `{"type":"notification.email.refund_failed","data":{"customer_email":"a@b.c"}}`)))
		require.NoError(t, h(ctx, delivery(t, models.KeyEmailRefund, `{"type":"order_confirmed","data":{"customer_email":"a@b.c","order_id":"o-1"}}`)))
		require.Len(t, mailer.sent, 2)
		assert.Equal(t, "Issue with Your Refund Request", mailer.sent[0].Subject)
		assert.Equal(t, "Your ByteMe Order Confirmation", mailer.sent[1].Subject)
	})

	t.Run("unknown type and missing email are permanent", func(t *testing.T) {
		assert.True(t, rabbitmq.IsPermanent(h(ctx, delivery(t, "notification.email.newsletter", `{"data":{"customer_email":"a@b.c"}}`))))
		assert.True(t, rabbitmq.IsPermanent(h(ctx, delivery(t, models.KeyEmailRefund, `{"data":{}}`))))
		assert.True(t, rabbitmq.IsPermanent(h(ctx, delivery(t, models.KeyEmailRefund, `{bad`))))
	})

	t.Run("send failure is retried", func(t *testing.T) {
		mailer.err = errors.New("sendgrid: 503")
		err := h(ctx, delivery(t, models.KeyEmailRefund, `{"data":{"customer_email":"a@b.c"}}`))
		require.Error(t, err)
		assert.False(t, rabbitmq.IsPermanent(err))
	})
}

type fakeRefunds struct {
	got []models.RefundRequest
}

func (f *fakeRefunds) ProcessRefundRequest(_ context.Context, req models.RefundRequest) error {
	f.got = append(f.got, req)
	return nil
}

func TestRefundRequestHandler(t *testing.T) {
	ctx := context.Background()
	refunds := &fakeRefunds{}
	h := RefundRequestHandler(refunds)

	msg := delivery(t, models.KeyRefundRequest, models.RefundRequest{PaymentIntentID: "pi_1"})
	msg.MessageId = "req-1"
	require.NoError(t, h(ctx, msg))
	require.Len(t, refunds.got, 1)
	assert.Equal(t, "req-1", refunds.got[0].RequestID)

	assert.True(t, rabbitmq.IsPermanent(h(ctx, delivery(t, models.KeyRefundProcessed, `{}`))))
}

type fakeStockChanger struct {
	signs []int
	keys  []string
}

func (f *fakeStockChanger) ApplyStockChange(_ context.Context, key string, _ models.StockMessage, sign int) error {
	f.signs = append(f.signs, sign)
	f.keys = append(f.keys, key)
	return nil
}

func TestInventoryHandler(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStockChanger{}
	h := InventoryHandler(stock)

	dec := delivery(t, models.KeyStockDecrement, models.StockMessage{OrderID: "o-1", PartIDs: []string{"p-1"}})
	dec.MessageId = "evt-1"
	require.NoError(t, h(ctx, dec))
	require.NoError(t, h(ctx, delivery(t, models.KeyStockIncrement, models.StockMessage{OrderID: "o-1", PartIDs: []string{"p-1"}})))
	require.NoError(t, h(ctx, delivery(t, models.KeyStockIncrement, models.StockMessage{PartIDs: []string{"p-1"}})))

	assert.Equal(t, []int{-1, 1, 1}, stock.signs)
	assert.Equal(t, []string{"evt-1", "parts.stock.increment:o-1", ""}, stock.keys)

	assert.True(t, rabbitmq.IsPermanent(h(ctx, delivery(t, "parts.stock.reset", `{}`))))
}

func TestDeathInfo(t *testing.T) {
	headers := amqp.Table{
		"x-death": []interface{}{
			amqp.Table{
				"queue":        "Order",
				"reason":       "rejected",
				"exchange":     "order_topic",
				"routing-keys": []interface{}{"order.create"},
				"count":        int64(2),
			},
		},
	}

	info, ok := deathInfo(headers)
	require.True(t, ok)
	assert.Equal(t, DeathInfo{Queue: "Order", Reason: "rejected", Exchange: "order_topic", RoutingKey: "order.create", Count: 2}, info)

	_, ok = deathInfo(amqp.Table{})
	assert.False(t, ok)

	assert.NoError(t, DeadLetterHandler(zap.NewNop())(context.Background(), amqp.Delivery{Headers: headers}))
}

type fakeBus struct {
	mu     sync.Mutex
	queues []string
	fail   map[string]error
}

func (b *fakeBus) Consume(ctx context.Context, queue, _ string, _ rabbitmq.Handler) error {
	b.mu.Lock()
	b.queues = append(b.queues, queue)
	err := b.fail[queue]
	b.mu.Unlock()
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := &fakeBus{fail: map[string]error{rabbitmq.QueueWebhooks: errors.New("access refused")}}
	subs := NewOrderConsumer(&fakeOrders{}, zap.NewNop()).Subscriptions()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, bus, subs...) }()

	assert.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.queues) == len(subs)
	}, time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), rabbitmq.QueueWebhooks)
	assert.ElementsMatch(t, []string{rabbitmq.QueueOrder, rabbitmq.QueueRefundResult, rabbitmq.QueueWebhooks}, bus.queues)
}
