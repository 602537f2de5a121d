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

func CustomerSchema(d database.Dialect) []string {
	return []string{`
		CREATE TABLE IF NOT EXISTS customers (
			customer_id VARCHAR(100) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			address VARCHAR(500) NOT NULL,
			email VARCHAR(255) NOT NULL
		)`,
	}
}

type CustomerRepository struct {
	db *database.DB
}

func NewCustomerRepository(db *database.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) List(ctx context.Context) ([]models.Customer, error) {
	query := `SELECT customer_id, name, address, email FROM customers ORDER BY customer_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying customers: %w", err)
	}
	defer rows.Close()

	customers := []models.Customer{}
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.CustomerID, &c.Name, &c.Address, &c.Email); err != nil {
			return nil, fmt.Errorf("scanning customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*models.Customer, error) {
	query := r.db.Dialect.Rebind(`SELECT customer_id, name, address, email FROM customers WHERE customer_id = ?`)

	var c models.Customer
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.CustomerID, &c.Name, &c.Address, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("Customer not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer by id: %w", err)
	}
	return &c, nil
}

// Save inserts the customer or overwrites an existing row. created is
// false when a row was updated.
func (r *CustomerRepository) Save(ctx context.Context, c models.Customer) (created bool, err error) {
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		updated, err := r.update(ctx, tx, c)
		if err != nil {
			return err
		}
		if updated {
			return nil
		}

		query := r.db.Dialect.Rebind(`INSERT INTO customers (customer_id, name, address, email) VALUES (?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, query, c.CustomerID, c.Name, c.Address, c.Email); err != nil {
			return fmt.Errorf("inserting customer: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}

func (r *CustomerRepository) Update(ctx context.Context, c models.Customer) error {
	updated, err := r.update(ctx, r.db, c)
	if err != nil {
		return err
	}
	if !updated {
		return apperrors.NewNotFoundError("Customer not found")
	}
	return nil
}

func (r *CustomerRepository) update(ctx context.Context, q database.Querier, c models.Customer) (bool, error) {
	query := r.db.Dialect.Rebind(`UPDATE customers SET name = ?, address = ?, email = ? WHERE customer_id = ?`)

	result, err := q.ExecContext(ctx, query, c.Name, c.Address, c.Email, c.CustomerID)
	if err != nil {
		return false, fmt.Errorf("updating customer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}
