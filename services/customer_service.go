package services

import (
	"context"

	"go.uber.org/zap"

	"byteme/models"
)

type CustomerStore interface {
	List(ctx context.Context) ([]models.Customer, error)
	FindByID(ctx context.Context, id string) (*models.Customer, error)
	Save(ctx context.Context, c models.Customer) (bool, error)
	Update(ctx context.Context, c models.Customer) error
}

type CustomerService struct {
	store  CustomerStore
	logger *zap.Logger
}

func NewCustomerService(store CustomerStore, logger *zap.Logger) *CustomerService {
	return &CustomerService{store: store, logger: logger}
}

func (s *CustomerService) List(ctx context.Context) ([]models.Customer, error) {
	return s.store.List(ctx)
}

func (s *CustomerService) Get(ctx context.Context, id string) (*models.Customer, error) {
	return s.store.FindByID(ctx, id)
}

// Save creates the customer, or overwrites it when the id already exists.
func (s *CustomerService) Save(ctx context.Context, c models.Customer) (bool, error) {
	created, err := s.store.Save(ctx, c)
	if err != nil {
		return false, err
	}
	s.logger.Info("customer saved", zap.String("customerId", c.CustomerID), zap.Bool("created", created))
	return created, nil
}

func (s *CustomerService) Update(ctx context.Context, c models.Customer) error {
	return s.store.Update(ctx, c)
}
