package service

import (
	"context"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

// NaiveController reads, subtracts and writes back with neither a version
// check nor a lock. Concurrent callers overwrite each other. It exists to
// reproduce the lost update race and must not serve real traffic.
type NaiveController struct {
	txs port.TxBeginner
}

func NewNaiveController(txs port.TxBeginner) *NaiveController {
	return &NaiveController{txs: txs}
}

func (c *NaiveController) Decrement(ctx context.Context, id string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	return inNewTx(ctx, c.txs, func(tx port.Tx) error {
		return decrementInTx(ctx, tx, plainRead, id, amount)
	})
}
