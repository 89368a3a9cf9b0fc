package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-guard/internal/core/domain"
)

func TestMemory_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created, err := s.Create(ctx, "item", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), created.Quantity)
	assert.Zero(t, created.Version)

	_, err = s.Create(ctx, "item", 5)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = s.Create(ctx, "negative", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	got, err := s.Get(ctx, "item")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Quantity)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Create(ctx, "item", 10)
	require.NoError(t, err)

	got, _ := s.Get(ctx, "item")
	got.Quantity = 0

	again, _ := s.Get(ctx, "item")
	assert.Equal(t, int64(10), again.Quantity)
}

func TestMemory_CompareAndSave(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Create(ctx, "item", 10)
	require.NoError(t, err)

	saved, err := s.CompareAndSave(ctx, domain.Stock{ID: "item", Quantity: 9}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	// stale version
	_, err = s.CompareAndSave(ctx, domain.Stock{ID: "item", Quantity: 8}, 0)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = s.CompareAndSave(ctx, domain.Stock{ID: "item", Quantity: -1}, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = s.CompareAndSave(ctx, domain.Stock{ID: "missing", Quantity: 1}, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, _ := s.Get(ctx, "item")
	assert.Equal(t, int64(9), got.Quantity)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemory_CompareAndSaveConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Create(ctx, "item", 100)
	require.NoError(t, err)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CompareAndSave(ctx, domain.Stock{ID: "item", Quantity: 99}, 0); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one writer per version")
}

func TestMemory_TxCommitAppliesWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Create(ctx, "item", 10)
	require.NoError(t, err)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	st, err := tx.GetForExclusiveAccess(ctx, "item")
	require.NoError(t, err)
	st.Quantity = 7
	saved, err := tx.Save(ctx, *st)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	// not visible outside the scope yet
	outside, _ := s.Get(ctx, "item")
	assert.Equal(t, int64(10), outside.Quantity)

	// visible inside it
	inside, err := tx.Get(ctx, "item")
	require.NoError(t, err)
	assert.Equal(t, int64(7), inside.Quantity)

	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Rollback(), domain.ErrTxDone)
	assert.ErrorIs(t, tx.Commit(), domain.ErrTxDone)

	after, _ := s.Get(ctx, "item")
	assert.Equal(t, int64(7), after.Quantity)
	assert.Equal(t, int64(1), after.Version)
}

func TestMemory_TxRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Create(ctx, "item", 10)
	require.NoError(t, err)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	st, err := tx.GetForExclusiveAccess(ctx, "item")
	require.NoError(t, err)
	st.Quantity = 1
	_, err = tx.Save(ctx, *st)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	got, _ := s.Get(ctx, "item")
	assert.Equal(t, int64(10), got.Quantity)

	_, err = tx.Get(ctx, "item")
	assert.ErrorIs(t, err, domain.ErrTxDone)
}

func TestMemory_ExclusiveAccessBlocksUntilScopeEnds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithLockWait(20 * time.Millisecond))
	_, err := s.Create(ctx, "item", 10)
	require.NoError(t, err)

	holder, err := s.BeginTx(ctx)
	require.NoError(t, err)
	_, err = holder.GetForExclusiveAccess(ctx, "item")
	require.NoError(t, err)

	// re-entrant inside the same scope
	_, err = holder.GetForExclusiveAccess(ctx, "item")
	require.NoError(t, err)

	other, err := s.BeginTx(ctx)
	require.NoError(t, err)
	_, err = other.GetForExclusiveAccess(ctx, "item")
	assert.ErrorIs(t, err, domain.ErrLockUnavailable)

	// different ids do not contend
	_, err = s.Create(ctx, "other-item", 1)
	require.NoError(t, err)
	_, err = other.GetForExclusiveAccess(ctx, "other-item")
	require.NoError(t, err)
	require.NoError(t, other.Rollback())

	require.NoError(t, holder.Rollback())

	next, err := s.BeginTx(ctx)
	require.NoError(t, err)
	_, err = next.GetForExclusiveAccess(ctx, "item")
	require.NoError(t, err)
	require.NoError(t, next.Commit())
}

func TestMemory_CompareAndSaveWaitsForHolder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Create(ctx, "item", 10)
	require.NoError(t, err)

	holder, err := s.BeginTx(ctx)
	require.NoError(t, err)
	st, err := holder.GetForExclusiveAccess(ctx, "item")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.CompareAndSave(ctx, domain.Stock{ID: "item", Quantity: 9}, 0)
		done <- err
	}()

	st.Quantity = 5
	_, err = holder.Save(ctx, *st)
	require.NoError(t, err)
	require.NoError(t, holder.Commit())

	// the holder moved the version on, so the waiting write must conflict
	assert.ErrorIs(t, <-done, domain.ErrVersionConflict)
	got, _ := s.Get(ctx, "item")
	assert.Equal(t, int64(5), got.Quantity)
}

func TestMemory_BeginTxCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().BeginTx(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_SaveMissing(t *testing.T) {
	ctx := context.Background()
	tx, err := NewMemoryStore().BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Save(ctx, domain.Stock{ID: "missing", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Create(ctx, "item", 10)
	require.NoError(t, err)

	s.Delete(ctx, "item")
	_, err = s.Get(ctx, "item")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
