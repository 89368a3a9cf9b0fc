package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

const namedLockPrefix = "stock:"

// NamedLockController serializes writers through an external lock service
// keyed by stock id. It holds across processes as long as every writer of
// the stock goes through the same lock service.
//
// The version read under the lock fences the write. If the lock expired and
// another holder wrote in the meantime, the write is refused with
// domain.ErrOptimisticConflict instead of overwriting that holder's update.
type NamedLockController struct {
	locks port.DistributedLock
	repo  port.StockRepository
}

func NewNamedLockController(locks port.DistributedLock, repo port.StockRepository) *NamedLockController {
	return &NamedLockController{locks: locks, repo: repo}
}

func (c *NamedLockController) Decrement(ctx context.Context, id string, amount int64) (err error) {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	release, err := c.locks.Acquire(ctx, namedLockPrefix+id)
	if err != nil {
		return err
	}
	defer func() {
		// the decrement is already committed at this point
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil && err == nil {
			err = &releaseError{err: fmt.Errorf("release lock %s: %w", id, relErr)}
		}
	}()

	stock, err := c.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	fence := stock.Version
	if err := stock.Decrease(amount); err != nil {
		return fmt.Errorf("decrement %s: %w", id, err)
	}

	_, err = c.repo.CompareAndSave(ctx, *stock, fence)
	if errors.Is(err, domain.ErrVersionConflict) {
		return fmt.Errorf("decrement %s: lock expired before write: %w", id, domain.ErrOptimisticConflict)
	}
	return err
}

// IsLockReleaseError reports whether err only concerns releasing the named
// lock after the decrement was committed. The stock was decremented and the
// call must not be retried.
func IsLockReleaseError(err error) bool {
	var target *releaseError
	return errors.As(err, &target)
}

type releaseError struct{ err error }

func (e *releaseError) Error() string { return e.err.Error() }
func (e *releaseError) Unwrap() error { return e.err }
