package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

// OptimisticController never locks. A write only lands if nobody else wrote
// since our read; otherwise it fails with domain.ErrOptimisticConflict and
// leaves the stock untouched.
type OptimisticController struct {
	repo port.StockRepository
}

func NewOptimisticController(repo port.StockRepository) *OptimisticController {
	return &OptimisticController{repo: repo}
}

func (c *OptimisticController) Decrement(ctx context.Context, id string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	stock, err := c.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	expected := stock.Version
	if err := stock.Decrease(amount); err != nil {
		return fmt.Errorf("decrement %s: %w", id, err)
	}

	_, err = c.repo.CompareAndSave(ctx, *stock, expected)
	if errors.Is(err, domain.ErrVersionConflict) {
		return fmt.Errorf("decrement %s: %w", id, domain.ErrOptimisticConflict)
	}
	return err
}
