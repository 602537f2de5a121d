package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
)

type StockUpdater interface {
	UpdateStock(ctx context.Context, id string, delta int) error
}

// StockLedger remembers which parts of a stock message were applied, so a
// redelivered message only touches the parts that failed before.
type StockLedger interface {
	Applied(ctx context.Context, key string) (map[string]bool, error)
	Record(ctx context.Context, key, partID string, delta int) error
}

type InventoryService struct {
	stock  StockUpdater
	ledger StockLedger
	logger *zap.Logger
}

func NewInventoryService(stock StockUpdater, ledger StockLedger, logger *zap.Logger) *InventoryService {
	return &InventoryService{stock: stock, ledger: ledger, logger: logger}
}

// ApplyStockChange adjusts the stock of every listed part by sign*quantity.
// key identifies the message; parts already applied under it are skipped.
// Parts that fail are reported together after all parts were tried.
func (s *InventoryService) ApplyStockChange(ctx context.Context, key string, msg models.StockMessage, sign int) error {
	if len(msg.PartIDs) == 0 {
		return apperrors.MissingField("part_ids")
	}
	qty := msg.Quantity
	if qty <= 0 {
		qty = 1
	}
	delta := sign * qty

	if key == "" {
		return apperrors.MissingField("message_id")
	}
	applied, err := s.ledger.Applied(ctx, key)
	if err != nil {
		return err
	}

	var failed []string
	var lastErr error
	for _, id := range msg.PartIDs {
		if applied[id] {
			s.logger.Debug("stock change already applied", zap.String("key", key), zap.String("partId", id))
			continue
		}
		if err := s.stock.UpdateStock(ctx, id, delta); err != nil {
			s.logger.Warn("updating stock failed",
				zap.String("orderId", msg.OrderID),
				zap.String("partId", id),
				zap.Int("delta", delta),
				zap.Error(err),
			)
			failed = append(failed, id)
			lastErr = err
			continue
		}
		applied[id] = true
		if err := s.ledger.Record(ctx, key, id, delta); err != nil {
			return fmt.Errorf("part %s updated but not recorded: %w", id, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("stock update failed for parts %v of order %s: %w", failed, msg.OrderID, lastErr)
	}

	s.logger.Info("stock updated",
		zap.String("orderId", msg.OrderID),
		zap.Int("parts", len(msg.PartIDs)),
		zap.Int("delta", delta),
	)
	return nil
}
