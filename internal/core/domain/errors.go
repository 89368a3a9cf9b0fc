package domain

import "errors"

var (
	ErrNotFound          = errors.New("stock: not found")
	ErrAlreadyExists     = errors.New("stock: already exists")
	ErrInvalidAmount     = errors.New("stock: amount must be greater than zero")
	ErrInsufficientStock = errors.New("stock: insufficient stock")

	// ErrVersionConflict is returned by stores when a conditional write
	// finds a version other than the expected one.
	ErrVersionConflict = errors.New("stock: version conflict")

	// ErrOptimisticConflict is returned by the optimistic controller. The
	// failed attempt had no side effect and may be retried as is.
	ErrOptimisticConflict = errors.New("stock: optimistic lock conflict")

	ErrLockUnavailable  = errors.New("stock: lock unavailable")
	ErrRetriesExhausted = errors.New("stock: retries exhausted")
	ErrTxDone           = errors.New("stock: transaction already committed or rolled back")
)
