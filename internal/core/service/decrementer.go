package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

// Decrementer removes amount from the stock identified by id.
type Decrementer interface {
	Decrement(ctx context.Context, id string, amount int64) error
}

const (
	OutcomeCommitted         = "committed"
	OutcomeNotFound          = "not_found"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeInvalidAmount     = "invalid_amount"
	OutcomeConflict          = "conflict"
	OutcomeLockUnavailable   = "lock_unavailable"
	OutcomeRetriesExhausted  = "retries_exhausted"
	OutcomeLockLost          = "lock_lost"
	OutcomeCanceled          = "canceled"
	OutcomeError             = "error"
)

// Outcome maps the result of a Decrement call to a stable label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeCommitted
	case IsLockReleaseError(err):
		return OutcomeLockLost
	case errors.Is(err, domain.ErrRetriesExhausted):
		return OutcomeRetriesExhausted
	case errors.Is(err, domain.ErrOptimisticConflict), errors.Is(err, domain.ErrVersionConflict):
		return OutcomeConflict
	case errors.Is(err, domain.ErrLockUnavailable):
		return OutcomeLockUnavailable
	case errors.Is(err, domain.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, domain.ErrInvalidAmount):
		return OutcomeInvalidAmount
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

// inNewTx runs fn inside a scope of its own. The scope is rolled back on
// every path that does not reach Commit, panics included.
func inNewTx(ctx context.Context, txs port.TxBeginner, fn func(tx port.Tx) error) error {
	tx, err := txs.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type readFunc func(ctx context.Context, tx port.Tx, id string) (*domain.Stock, error)

func plainRead(ctx context.Context, tx port.Tx, id string) (*domain.Stock, error) {
	return tx.Get(ctx, id)
}

func exclusiveRead(ctx context.Context, tx port.Tx, id string) (*domain.Stock, error) {
	return tx.GetForExclusiveAccess(ctx, id)
}

// decrementInTx is the read, validate, write sequence shared by every
// strategy that writes unconditionally.
func decrementInTx(ctx context.Context, tx port.Tx, read readFunc, id string, amount int64) error {
	stock, err := read(ctx, tx, id)
	if err != nil {
		return err
	}

	if err := stock.Decrease(amount); err != nil {
		return fmt.Errorf("decrement %s: %w", id, err)
	}

	if _, err := tx.Save(ctx, *stock); err != nil {
		return err
	}
	return nil
}
