package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"byteme/database"
	apperrors "byteme/errors"
	"byteme/models"
)

func CartSchema(d database.Dialect) []string {
	return []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS carts (
			cart_id VARCHAR(36) NOT NULL PRIMARY KEY,
			customer_id VARCHAR(100) NOT NULL,
			name VARCHAR(255) NOT NULL,
			parts_list TEXT NOT NULL,
			total_cost DECIMAL(10,2) NOT NULL,
			timestamp %s NOT NULL
		)`, d.TimestampType()),
	}
}

type CartRepository struct {
	db *database.DB
}

func NewCartRepository(db *database.DB) *CartRepository {
	return &CartRepository{db: db}
}

const cartColumns = `cart_id, customer_id, name, parts_list, total_cost, timestamp`

func (r *CartRepository) Create(ctx context.Context, c models.Cart) error {
	parts, err := json.Marshal(c.PartsList)
	if err != nil {
		return fmt.Errorf("encoding parts list: %w", err)
	}

	query := r.db.Dialect.Rebind(`INSERT INTO carts (` + cartColumns + `) VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query,
		c.CartID, c.CustomerID, c.Name, string(parts), c.TotalCost.StringFixed(2), c.Timestamp,
	); err != nil {
		return fmt.Errorf("inserting cart: %w", err)
	}
	return nil
}

func (r *CartRepository) FindByID(ctx context.Context, id string) (*models.Cart, error) {
	query := r.db.Dialect.Rebind(`SELECT ` + cartColumns + ` FROM carts WHERE cart_id = ?`)

	c, err := scanCart(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("Cart not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying cart by id: %w", err)
	}
	return c, nil
}

func (r *CartRepository) FindByCustomer(ctx context.Context, customerID string) ([]models.Cart, error) {
	query := r.db.Dialect.Rebind(`SELECT ` + cartColumns + ` FROM carts WHERE customer_id = ? ORDER BY timestamp DESC`)
	return r.list(ctx, query, customerID)
}

func (r *CartRepository) List(ctx context.Context) ([]models.Cart, error) {
	return r.list(ctx, `SELECT `+cartColumns+` FROM carts ORDER BY timestamp DESC`)
}

func (r *CartRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Dialect.Rebind(`DELETE FROM carts WHERE cart_id = ?`)

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting cart: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("Cart not found")
	}
	return nil
}

func (r *CartRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Cart, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying carts: %w", err)
	}
	defer rows.Close()

	carts := []models.Cart{}
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cart: %w", err)
		}
		carts = append(carts, *c)
	}
	return carts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCart(s scanner) (*models.Cart, error) {
	var (
		c     models.Cart
		parts string
	)
	if err := s.Scan(&c.CartID, &c.CustomerID, &c.Name, &parts, &c.TotalCost, &c.Timestamp); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(parts), &c.PartsList); err != nil {
		return nil, fmt.Errorf("decoding parts list: %w", err)
	}
	return &c, nil
}
