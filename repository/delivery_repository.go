package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"byteme/database"
	apperrors "byteme/errors"
	"byteme/models"
)

func DeliverySchema(d database.Dialect) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS deliveries (
			delivery_id VARCHAR(36) NOT NULL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL,
			customer_id VARCHAR(100) NOT NULL,
			parts_list TEXT NOT NULL,
			address VARCHAR(500) NOT NULL DEFAULT '',
			kind VARCHAR(20) NOT NULL,
			timestamp %s NOT NULL,
			UNIQUE (order_id, kind)
		)`, d.TimestampType()),
	}
}

type DeliveryRepository struct {
	db *database.DB
}

func NewDeliveryRepository(db *database.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

const deliveryColumns = `delivery_id, order_id, customer_id, parts_list, address, kind, timestamp`

// Create stores a delivery. A second delivery of the same kind for an
// order is a ConflictError.
func (r *DeliveryRepository) Create(ctx context.Context, d models.Delivery) error {
	query := r.db.Dialect.Rebind(`INSERT INTO deliveries (` + deliveryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		d.DeliveryID, d.OrderID, d.CustomerID, string(d.PartsList), d.Address, d.Kind, d.Timestamp,
	)
	if database.IsDuplicate(err) {
		return apperrors.NewConflictError(fmt.Sprintf("%s delivery already exists for order %s", d.Kind, d.OrderID))
	}
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) FindByID(ctx context.Context, id string) (*models.Delivery, error) {
	query := r.db.Dialect.Rebind(`SELECT ` + deliveryColumns + ` FROM deliveries WHERE delivery_id = ?`)

	d, err := scanDelivery(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("Delivery not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying delivery by id: %w", err)
	}
	return d, nil
}

func (r *DeliveryRepository) FindByOrder(ctx context.Context, orderID string) ([]models.Delivery, error) {
	query := r.db.Dialect.Rebind(`SELECT ` + deliveryColumns + ` FROM deliveries WHERE order_id = ? ORDER BY timestamp`)

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []models.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

func scanDelivery(s scanner) (*models.Delivery, error) {
	var (
		d     models.Delivery
		parts string
	)
	if err := s.Scan(&d.DeliveryID, &d.OrderID, &d.CustomerID, &parts, &d.Address, &d.Kind, &d.Timestamp); err != nil {
		return nil, err
	}
	d.PartsList = []byte(parts)
	return &d, nil
}
