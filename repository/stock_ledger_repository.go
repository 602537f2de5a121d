package repository

import (
	"context"
	"fmt"
	"time"

	"byteme/database"
)

// StockLedgerSchema records which part of which stock message has already
// been applied to the inventory API.
func StockLedgerSchema(d database.Dialect) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS stock_changes (
			change_key VARCHAR(128) NOT NULL,
			part_id VARCHAR(64) NOT NULL,
			delta INT NOT NULL,
			applied_at %s NOT NULL,
			PRIMARY KEY (change_key, part_id)
		)`, d.TimestampType()),
	}
}

type StockLedgerRepository struct {
	db *database.DB
}

func NewStockLedgerRepository(db *database.DB) *StockLedgerRepository {
	return &StockLedgerRepository{db: db}
}

// Applied returns the parts already applied for key.
func (r *StockLedgerRepository) Applied(ctx context.Context, key string) (map[string]bool, error) {
	query := r.db.Dialect.Rebind(`SELECT part_id FROM stock_changes WHERE change_key = ?`)

	rows, err := r.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("querying stock changes: %w", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var partID string
		if err := rows.Scan(&partID); err != nil {
			return nil, fmt.Errorf("scanning stock change: %w", err)
		}
		applied[partID] = true
	}
	return applied, rows.Err()
}

// Record marks one part of key as applied. Recording it twice is not an
// error.
func (r *StockLedgerRepository) Record(ctx context.Context, key, partID string, delta int) error {
	query := r.db.Dialect.Rebind(`INSERT INTO stock_changes (change_key, part_id, delta, applied_at) VALUES (?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query, key, partID, delta, time.Now().UTC())
	if err != nil && !database.IsDuplicate(err) {
		return fmt.Errorf("recording stock change: %w", err)
	}
	return nil
}
