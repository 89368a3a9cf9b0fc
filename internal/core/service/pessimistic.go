package service

import (
	"context"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

// PessimisticController takes the store's exclusive lock on the stock before
// reading it. Writers on the same id queue behind each other instead of
// conflicting; the lock lives as long as the transaction scope.
type PessimisticController struct {
	txs port.TxBeginner
}

func NewPessimisticController(txs port.TxBeginner) *PessimisticController {
	return &PessimisticController{txs: txs}
}

func (c *PessimisticController) Decrement(ctx context.Context, id string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	return inNewTx(ctx, c.txs, func(tx port.Tx) error {
		return decrementInTx(ctx, tx, exclusiveRead, id, amount)
	})
}
