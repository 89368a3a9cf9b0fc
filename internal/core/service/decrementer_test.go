package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rl1809/stock-guard/internal/core/domain"
)

func TestOutcome(t *testing.T) {
	exhausted := fmt.Errorf("%w after 3 attempts: %w", domain.ErrRetriesExhausted, domain.ErrOptimisticConflict)

	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeCommitted},
		{fmt.Errorf("get stock x: %w", domain.ErrNotFound), OutcomeNotFound},
		{fmt.Errorf("decrement x: %w", domain.ErrInsufficientStock), OutcomeInsufficientStock},
		{domain.ErrInvalidAmount, OutcomeInvalidAmount},
		{fmt.Errorf("decrement x: %w", domain.ErrOptimisticConflict), OutcomeConflict},
		{domain.ErrVersionConflict, OutcomeConflict},
		{exhausted, OutcomeRetriesExhausted},
		{fmt.Errorf("lock: %w: %w", domain.ErrLockUnavailable, context.DeadlineExceeded), OutcomeLockUnavailable},
		{&releaseError{err: errors.New("expired")}, OutcomeLockLost},
		{context.Canceled, OutcomeCanceled},
		{errors.New("socket closed"), OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.err))
		})
	}
}
