package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"byteme/database"
	apperrors "byteme/errors"
	"byteme/models"
)

func RecommendationSchema(d database.Dialect) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS recommendations (
			recommendation_id VARCHAR(36) NOT NULL PRIMARY KEY,
			customer_id VARCHAR(100) NOT NULL,
			parts_list TEXT NOT NULL,
			cost DECIMAL(10,2),
			timestamp %s NOT NULL
		)`, d.TimestampType()),
	}
}

type RecommendationRepository struct {
	db *database.DB
}

func NewRecommendationRepository(db *database.DB) *RecommendationRepository {
	return &RecommendationRepository{db: db}
}

const recommendationColumns = `recommendation_id, customer_id, parts_list, cost, timestamp`

func (r *RecommendationRepository) Create(ctx context.Context, rec models.Recommendation) error {
	var cost interface{}
	if rec.Cost != nil {
		cost = rec.Cost.StringFixed(2)
	}

	query := r.db.Dialect.Rebind(`INSERT INTO recommendations (` + recommendationColumns + `) VALUES (?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query,
		rec.RecommendationID, rec.CustomerID, string(rec.PartsList), cost, rec.Timestamp,
	); err != nil {
		return fmt.Errorf("inserting recommendation: %w", err)
	}
	return nil
}

func (r *RecommendationRepository) FindByID(ctx context.Context, id string) (*models.Recommendation, error) {
	query := r.db.Dialect.Rebind(`SELECT ` + recommendationColumns + ` FROM recommendations WHERE recommendation_id = ?`)

	rec, err := scanRecommendation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("Recommendation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying recommendation by id: %w", err)
	}
	return rec, nil
}

func (r *RecommendationRepository) FindByCustomer(ctx context.Context, customerID string) ([]models.Recommendation, error) {
	query := r.db.Dialect.Rebind(`SELECT ` + recommendationColumns + ` FROM recommendations WHERE customer_id = ? ORDER BY timestamp DESC`)

	rows, err := r.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("querying recommendations: %w", err)
	}
	defer rows.Close()

	recs := []models.Recommendation{}
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning recommendation: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func scanRecommendation(s scanner) (*models.Recommendation, error) {
	var (
		rec   models.Recommendation
		parts string
		cost  decimal.NullDecimal
	)
	if err := s.Scan(&rec.RecommendationID, &rec.CustomerID, &parts, &cost, &rec.Timestamp); err != nil {
		return nil, err
	}
	rec.PartsList = []byte(parts)
	if cost.Valid {
		rec.Cost = &cost.Decimal
	}
	return &rec, nil
}
