package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"byteme/database"
	apperrors "byteme/errors"
	"byteme/models"
)

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]models.Order
	events []models.OutboxEvent
	err    error

	// racer, when set, changes the stored order right before a guarded
	// update, simulating a concurrent writer.
	racer func(o *models.Order)
}

func newFakeOrderStore(orders ...models.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: map[string]models.Order{}}
	for _, o := range orders {
		s.orders[o.OrderID] = o
	}
	return s
}

func (s *fakeOrderStore) CreateWithEvents(_ context.Context, o models.Order, events []models.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.orders[o.OrderID]; ok {
		return apperrors.NewConflictError("Order already exists")
	}
	s.orders[o.OrderID] = o
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeOrderStore) TransitionWithEvents(_ context.Context, id, from, to string, events []models.OutboxEvent) (bool, error) {
	return s.cas(id, "", from, to, events)
}

func (s *fakeOrderStore) RecordPayment(_ context.Context, id, paymentIntentID, from, to string, events []models.OutboxEvent) (bool, error) {
	return s.cas(id, paymentIntentID, from, to, events)
}

func (s *fakeOrderStore) cas(id, paymentIntentID, from, to string, events []models.OutboxEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, apperrors.NewNotFoundError("Order not found")
	}
	if s.racer != nil {
		s.racer(&o)
		s.orders[id] = o
		s.racer = nil
	}
	if paymentIntentID != "" {
		o.PaymentIntentID = paymentIntentID
		s.orders[id] = o
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	s.orders[id] = o
	s.events = append(s.events, events...)
	return true, nil
}

func (s *fakeOrderStore) Get(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Order not found")
	}
	return &o, nil
}

func (s *fakeOrderStore) FindByCheckoutSession(_ context.Context, sessionID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.CheckoutSessionID == sessionID {
			o := o
			return &o, nil
		}
	}
	return nil, apperrors.NewNotFoundError("Order not found")
}

func (s *fakeOrderStore) FindByCustomer(_ context.Context, customerID string) ([]models.Order, error) {
	all, _ := s.List(context.Background())
	var out []models.Order
	for _, o := range all {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) List(context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (s *fakeOrderStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return apperrors.NewNotFoundError("Order not found")
	}
	delete(s.orders, id)
	return nil
}

func (s *fakeOrderStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.events))
	for _, e := range s.events {
		keys = append(keys, e.RoutingKey)
	}
	return keys
}

func (s *fakeOrderStore) event(key string) (models.OutboxEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.RoutingKey == key {
			return e, true
		}
	}
	return models.OutboxEvent{}, false
}

type fakeGateway struct {
	intents     map[string]*models.PaymentIntent
	refunds     []*models.Refund
	refundErr   error
	intentErr   error
	checkoutErr error
	checkouts   []models.CheckoutRequest
	webhook     *models.WebhookEvent
	webhookErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]*models.PaymentIntent{}}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.checkouts = append(g.checkouts, req)
	return &models.CheckoutSession{CheckoutURL: "https://checkout.test/cs_1", SessionID: "cs_1"}, nil
}

func (g *fakeGateway) GetCheckoutSession(_ context.Context, id string) (*models.CheckoutSessionDetails, error) {
	return &models.CheckoutSessionDetails{SessionID: id, PaymentStatus: "paid"}, nil
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error) {
	pi := &models.PaymentIntent{ID: "pi_new", Amount: amount, Currency: currency, Status: "requires_payment_method", ClientSecret: "secret", Metadata: metadata}
	g.intents[pi.ID] = pi
	return pi, nil
}

func (g *fakeGateway) GetPaymentIntent(_ context.Context, id string) (*models.PaymentIntent, error) {
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	pi, ok := g.intents[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("No such payment_intent: " + id)
	}
	return pi, nil
}

func (g *fakeGateway) Refund(_ context.Context, paymentIntentID string, amount int64, reason, _ string) (*models.Refund, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	r := &models.Refund{ID: "re_1", PaymentIntentID: paymentIntentID, Amount: amount, Currency: "sgd", Status: "succeeded", Reason: reason}
	g.refunds = append(g.refunds, r)
	return r, nil
}

func (g *fakeGateway) LatestRefund(_ context.Context, paymentIntentID string) (*models.Refund, error) {
	for i := len(g.refunds) - 1; i >= 0; i-- {
		if g.refunds[i].PaymentIntentID == paymentIntentID {
			return g.refunds[i], nil
		}
	}
	return nil, apperrors.NewNotFoundError("No refunds found for this payment")
}

func (g *fakeGateway) ParseWebhook([]byte, string) (*models.WebhookEvent, error) {
	if g.webhookErr != nil {
		return nil, g.webhookErr
	}
	return g.webhook, nil
}

type fakeCustomers map[string]models.Customer

func (f fakeCustomers) Get(_ context.Context, id string) (*models.Customer, error) {
	c, ok := f[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Customer not found")
	}
	return &c, nil
}

type fakeRecommendations map[string]models.Recommendation

func (f fakeRecommendations) Get(_ context.Context, id string) (*models.Recommendation, error) {
	r, ok := f[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Recommendation not found")
	}
	return &r, nil
}

type fakeCatalog struct {
	parts map[string]models.Part
	err   error
}

func (f *fakeCatalog) GetComponent(_ context.Context, id string) (*models.Part, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.parts[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Component not found")
	}
	return &p, nil
}

type fakeOrderClient struct {
	orders    map[string]models.Order
	created   []models.CreateOrderRequest
	statuses  []string
	createErr error
	updateErr map[string]error
}

func newFakeOrderClient(orders ...models.Order) *fakeOrderClient {
	c := &fakeOrderClient{orders: map[string]models.Order{}, updateErr: map[string]error{}}
	for _, o := range orders {
		c.orders[o.OrderID] = o
	}
	return c
}

func (c *fakeOrderClient) Create(_ context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.created = append(c.created, req)
	o := models.Order{OrderID: req.OrderID, CustomerID: req.CustomerID, PartsList: req.PartsList, Status: models.StatusPending}
	c.orders[o.OrderID] = o
	return &o, nil
}

func (c *fakeOrderClient) Get(_ context.Context, id string) (*models.Order, error) {
	o, ok := c.orders[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Order not found")
	}
	return &o, nil
}

func (c *fakeOrderClient) UpdateStatus(_ context.Context, id, status string) (*models.Order, error) {
	if err := c.updateErr[status]; err != nil {
		return nil, err
	}
	o, ok := c.orders[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Order not found")
	}
	o.Status = status
	c.orders[id] = o
	c.statuses = append(c.statuses, status)
	return &o, nil
}

type fakeDeliveries struct {
	created []models.DeliveryRequest
	err     error
}

func (f *fakeDeliveries) Create(_ context.Context, req models.DeliveryRequest) (*models.Delivery, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &models.Delivery{DeliveryID: "d-1", OrderID: req.OrderID, Kind: req.Kind}, nil
}

type fakeMailer struct {
	sent []Email
	err  error
}

func (m *fakeMailer) Name() string { return "fake" }

func (m *fakeMailer) Send(_ context.Context, e Email) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

type fakeStock struct {
	deltas map[string]int
	fail   map[string]error
}

func (f *fakeStock) UpdateStock(_ context.Context, id string, delta int) error {
	if err := f.fail[id]; err != nil {
		return err
	}
	if f.deltas == nil {
		f.deltas = map[string]int{}
	}
	f.deltas[id] += delta
	return nil
}

type fakeTx struct{ err error }

func (f fakeTx) WithTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []models.OutboxEvent
	published []string
	attempts  map[string]string
	due       map[string]time.Time
}

func (f *fakeOutbox) FetchPending(_ context.Context, _ *sql.Tx, limit int, now time.Time) ([]models.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OutboxEvent
	for _, e := range f.pending {
		if due, ok := f.due[e.ID]; ok && due.After(now) {
			continue
		}
		if e.Status == models.OutboxPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeOutbox) Claim(_ context.Context, _ database.Querier, ids []string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.setDue(id, until)
	}
	return nil
}

func (f *fakeOutbox) setDue(id string, at time.Time) {
	if f.due == nil {
		f.due = map[string]time.Time{}
	}
	f.due[id] = at
}

func (f *fakeOutbox) MarkPublished(_ context.Context, _ database.Querier, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, id)
	for i := range f.pending {
		if f.pending[i].ID == id {
			f.pending[i].Status = models.OutboxPublished
		}
	}
	return nil
}

func (f *fakeOutbox) RecordFailure(_ context.Context, _ database.Querier, id, lastError string, retryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = map[string]string{}
	}
	f.attempts[id] = lastError
	for i := range f.pending {
		if f.pending[i].ID == id {
			f.pending[i].Attempts++
		}
	}
	f.setDue(id, retryAt)
	return nil
}

func (f *fakeOutbox) CountPending(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.pending {
		if e.Status == models.OutboxPending {
			n++
		}
	}
	return n, nil
}

func (f *fakeOutbox) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}
