package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"byteme/database"
	apperrors "byteme/errors"
	"byteme/models"
)

func OrderSchema(d database.Dialect) []string {
	ts := d.TimestampType()
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id VARCHAR(64) NOT NULL PRIMARY KEY,
			customer_id VARCHAR(100) NOT NULL,
			parts_list TEXT NOT NULL,
			status VARCHAR(20) NOT NULL,
			payment_intent_id VARCHAR(255) NOT NULL DEFAULT '',
			checkout_session_id VARCHAR(255) NOT NULL DEFAULT '',
			timestamp %s NOT NULL,
			updated_at %s NOT NULL
		)`, ts, ts),
	}
}

const txAttempts = 3

type OrderRepository struct {
	db     *database.DB
	outbox *OutboxRepository
}

func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db, outbox: NewOutboxRepository(db)}
}

const orderColumns = `order_id, customer_id, parts_list, status, payment_intent_id, checkout_session_id, timestamp, updated_at`

// Create inserts a new order. An existing order_id is a ConflictError.
func (r *OrderRepository) Create(ctx context.Context, q database.Querier, o models.Order) error {
	query := r.db.Dialect.Rebind(`INSERT INTO orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := q.ExecContext(ctx, query,
		o.OrderID, o.CustomerID, string(o.PartsList), o.Status,
		o.PaymentIntentID, o.CheckoutSessionID, o.Timestamp, o.UpdatedAt,
	)
	if database.IsDuplicate(err) {
		return apperrors.NewConflictError("Order already exists")
	}
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

// CreateWithEvents inserts the order and its outbox events atomically.
func (r *OrderRepository) CreateWithEvents(ctx context.Context, o models.Order, events []models.OutboxEvent) error {
	return database.RetryOnConflict(ctx, txAttempts, func() error {
		return r.db.WithTx(ctx, func(tx *sql.Tx) error {
			if err := r.Create(ctx, tx, o); err != nil {
				return err
			}
			return r.insertEvents(ctx, tx, events)
		})
	})
}

// TransitionWithEvents performs a guarded status change and writes events
// only if the change happened.
func (r *OrderRepository) TransitionWithEvents(ctx context.Context, id, from, to string, events []models.OutboxEvent) (bool, error) {
	var changed bool
	err := database.RetryOnConflict(ctx, txAttempts, func() error {
		return r.db.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			changed, err = r.UpdateStatus(ctx, tx, id, from, to)
			if err != nil || !changed {
				return err
			}
			return r.insertEvents(ctx, tx, events)
		})
	})
	return changed, err
}

// RecordPayment stores the payment intent and, when the order is still in
// from, moves it to to. It reports whether the status changed.
func (r *OrderRepository) RecordPayment(ctx context.Context, id, paymentIntentID, from, to string, events []models.OutboxEvent) (bool, error) {
	var changed bool
	err := database.RetryOnConflict(ctx, txAttempts, func() error {
		return r.db.WithTx(ctx, func(tx *sql.Tx) error {
			if err := r.SetPayment(ctx, tx, id, paymentIntentID); err != nil {
				return err
			}
			var err error
			changed, err = r.UpdateStatus(ctx, tx, id, from, to)
			if err != nil || !changed {
				return err
			}
			return r.insertEvents(ctx, tx, events)
		})
	})
	return changed, err
}

func (r *OrderRepository) insertEvents(ctx context.Context, tx *sql.Tx, events []models.OutboxEvent) error {
	for _, e := range events {
		if err := r.outbox.Insert(ctx, tx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, q database.Querier, id string) (*models.Order, error) {
	query := r.db.Dialect.Rebind(`SELECT ` + orderColumns + ` FROM orders WHERE order_id = ?`)

	o, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying order by id: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	return r.FindByID(ctx, r.db, id)
}

func (r *OrderRepository) FindByCheckoutSession(ctx context.Context, sessionID string) (*models.Order, error) {
	query := r.db.Dialect.Rebind(`SELECT ` + orderColumns + ` FROM orders WHERE checkout_session_id = ?`)

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying order by checkout session: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) FindByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	query := r.db.Dialect.Rebind(`SELECT ` + orderColumns + ` FROM orders WHERE customer_id = ? ORDER BY timestamp DESC`)
	return r.list(ctx, query, customerID)
}

func (r *OrderRepository) List(ctx context.Context) ([]models.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY timestamp DESC`)
}

// UpdateStatus moves the order from one status to another only if it is
// still in from. It reports whether the row was changed.
func (r *OrderRepository) UpdateStatus(ctx context.Context, q database.Querier, id, from, to string) (bool, error) {
	query := r.db.Dialect.Rebind(`UPDATE orders SET status = ?, updated_at = ? WHERE order_id = ? AND status = ?`)

	result, err := q.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return false, fmt.Errorf("updating order status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// SetPayment records the payment intent of an order.
func (r *OrderRepository) SetPayment(ctx context.Context, q database.Querier, id, paymentIntentID string) error {
	query := r.db.Dialect.Rebind(`UPDATE orders SET payment_intent_id = ?, updated_at = ? WHERE order_id = ?`)

	result, err := q.ExecContext(ctx, query, paymentIntentID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating order payment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("Order not found")
	}
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Dialect.Rebind(`DELETE FROM orders WHERE order_id = ?`)

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting order: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("Order not found")
	}
	return nil
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanOrder(s scanner) (*models.Order, error) {
	var (
		o     models.Order
		parts string
	)
	if err := s.Scan(
		&o.OrderID, &o.CustomerID, &parts, &o.Status,
		&o.PaymentIntentID, &o.CheckoutSessionID, &o.Timestamp, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.PartsList = []byte(parts)
	return &o, nil
}
