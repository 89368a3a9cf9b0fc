package domain

import "time"

type Stock struct {
	ID        string
	Quantity  int64
	Version   int64 // optimistic locking, opaque outside storage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decrease removes amount from the stock. The receiver is left untouched
// when the amount is invalid or larger than the remaining quantity.
func (s *Stock) Decrease(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if s.Quantity < amount {
		return ErrInsufficientStock
	}
	s.Quantity -= amount
	return nil
}
