package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

// ProcessLock is a single mutual exclusion slot for the whole process.
// Other processes sharing the same database are not excluded.
type ProcessLock struct {
	slot chan struct{}
	wait time.Duration
}

var _ port.LocalSerialAccess = (*ProcessLock)(nil)

// NewProcessLock returns a lock whose waiters give up after wait. A zero
// wait blocks until the caller's context is done.
func NewProcessLock(wait time.Duration) *ProcessLock {
	return &ProcessLock{slot: make(chan struct{}, 1), wait: wait}
}

func (l *ProcessLock) LockLocal(ctx context.Context) (func(), error) {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case l.slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.slot }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("local lock: %w: %w", domain.ErrLockUnavailable, ctx.Err())
	}
}
