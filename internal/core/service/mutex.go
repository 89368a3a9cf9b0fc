package service

import (
	"context"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

// MutexController serializes callers with a process local lock and runs each
// decrement in a transaction scope of its own, committed before the lock is
// released.
//
// The guarantee stops at the process boundary. Two processes running a
// MutexController against the same store can still lose updates; use
// PessimisticController or NamedLockController when more than one process
// writes.
type MutexController struct {
	local port.LocalSerialAccess
	txs   port.TxBeginner
}

func NewMutexController(local port.LocalSerialAccess, txs port.TxBeginner) *MutexController {
	return &MutexController{local: local, txs: txs}
}

func (c *MutexController) Decrement(ctx context.Context, id string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	unlock, err := c.local.LockLocal(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return inNewTx(ctx, c.txs, func(tx port.Tx) error {
		return decrementInTx(ctx, tx, plainRead, id, amount)
	})
}
