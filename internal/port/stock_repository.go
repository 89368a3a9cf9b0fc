package port

import (
	"context"

	"github.com/rl1809/stock-guard/internal/core/domain"
)

type StockReader interface {
	// Get returns the current stock or domain.ErrNotFound
	Get(ctx context.Context, id string) (*domain.Stock, error)
}

type StockRepository interface {
	StockReader

	// Create persists a new stock with version 0
	Create(ctx context.Context, id string, quantity int64) (*domain.Stock, error)

	// CompareAndSave writes stock.Quantity only if the stored version still
	// equals expectedVersion, bumping the version by one. Returns
	// domain.ErrVersionConflict otherwise.
	CompareAndSave(ctx context.Context, stock domain.Stock, expectedVersion int64) (*domain.Stock, error)
}

// Tx is an explicit transaction scope. Exclusive access obtained through it
// is released by Commit or Rollback, whichever comes first.
type Tx interface {
	// Get reads without taking any lock
	Get(ctx context.Context, id string) (*domain.Stock, error)

	// GetForExclusiveAccess blocks until no other scope holds id, then holds
	// it until this scope ends. Returns domain.ErrLockUnavailable when the
	// wait policy or ctx expires first.
	GetForExclusiveAccess(ctx context.Context, id string) (*domain.Stock, error)

	// Save writes unconditionally with version stock.Version+1. Only safe
	// for holders of exclusive access.
	Save(ctx context.Context, stock domain.Stock) (*domain.Stock, error)

	Commit() error
	Rollback() error
}

type TxBeginner interface {
	// BeginTx always opens a new scope; it never joins one the caller may
	// already have open.
	BeginTx(ctx context.Context) (Tx, error)
}

// CounterStore is everything the controllers need from storage.
type CounterStore interface {
	StockRepository
	TxBeginner
}
