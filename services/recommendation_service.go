package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
)

type RecommendationStore interface {
	Create(ctx context.Context, rec models.Recommendation) error
	FindByID(ctx context.Context, id string) (*models.Recommendation, error)
	FindByCustomer(ctx context.Context, customerID string) ([]models.Recommendation, error)
}

type CreateRecommendationInput struct {
	CustomerID string
	PartsList  json.RawMessage
	Cost       *decimal.Decimal
}

type RecommendationService struct {
	store  RecommendationStore
	logger *zap.Logger
	now    func() time.Time
}

func NewRecommendationService(store RecommendationStore, logger *zap.Logger) *RecommendationService {
	return &RecommendationService{store: store, logger: logger, now: time.Now}
}

func (s *RecommendationService) Create(ctx context.Context, in CreateRecommendationInput) (*models.Recommendation, error) {
	if _, err := models.PartIDs(in.PartsList); err != nil {
		return nil, apperrors.NewValidationError("parts_list must be an array",
			apperrors.ValidationDetail{Field: "parts_list", Message: err.Error()})
	}
	if in.Cost != nil && in.Cost.IsNegative() {
		return nil, apperrors.NewValidationError("cost must not be negative",
			apperrors.ValidationDetail{Field: "cost", Message: "must not be negative"})
	}

	rec := models.Recommendation{
		RecommendationID: uuid.NewString(),
		CustomerID:       in.CustomerID,
		PartsList:        in.PartsList,
		Cost:             in.Cost,
		Timestamp:        s.now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("recommendation created", zap.String("recommendationId", rec.RecommendationID))
	return &rec, nil
}

func (s *RecommendationService) Get(ctx context.Context, id string) (*models.Recommendation, error) {
	return s.store.FindByID(ctx, id)
}

func (s *RecommendationService) ByCustomer(ctx context.Context, customerID string) ([]models.Recommendation, error) {
	recs, err := s.store.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, apperrors.NewNotFoundError("No recommendations found for this customer")
	}
	return recs, nil
}
