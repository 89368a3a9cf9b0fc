package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-guard/internal/adapter/storage"
	"github.com/rl1809/stock-guard/internal/core/domain"
)

// interleavingRepo lets another writer sneak in between our read and write.
type interleavingRepo struct {
	*storage.MemoryStore
	mu      sync.Mutex
	writes  int
	between func()
}

func (r *interleavingRepo) CompareAndSave(ctx context.Context, stock domain.Stock, expectedVersion int64) (*domain.Stock, error) {
	r.mu.Lock()
	if r.between != nil {
		r.between()
		r.between = nil
	}
	r.writes++
	r.mu.Unlock()
	return r.MemoryStore.CompareAndSave(ctx, stock, expectedVersion)
}

func TestOptimistic_Success(t *testing.T) {
	store := newStore(t, 100)
	c := NewOptimisticController(store)

	require.NoError(t, c.Decrement(context.Background(), testItem, 1))
	assert.Equal(t, int64(99), quantityOf(t, store))
}

func TestOptimistic_ConflictHasNoSideEffect(t *testing.T) {
	store := newStore(t, 100)
	repo := &interleavingRepo{MemoryStore: store}
	repo.between = func() {
		// concurrent writer takes 10 while we hold a stale copy
		st, err := store.Get(context.Background(), testItem)
		require.NoError(t, err)
		expected := st.Version
		st.Quantity -= 10
		_, err = store.CompareAndSave(context.Background(), *st, expected)
		require.NoError(t, err)
	}

	c := NewOptimisticController(repo)
	err := c.Decrement(context.Background(), testItem, 1)
	assert.ErrorIs(t, err, domain.ErrOptimisticConflict)
	assert.Equal(t, int64(90), quantityOf(t, store), "only the concurrent write landed")

	// retrying as is now succeeds
	require.NoError(t, c.Decrement(context.Background(), testItem, 1))
	assert.Equal(t, int64(89), quantityOf(t, store))
}

func TestOptimistic_InsufficientStockSkipsWrite(t *testing.T) {
	store := newStore(t, 5)
	repo := &interleavingRepo{MemoryStore: store}
	c := NewOptimisticController(repo)

	err := c.Decrement(context.Background(), testItem, 10)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Zero(t, repo.writes)
	assert.Equal(t, int64(5), quantityOf(t, store))
}

func TestOptimistic_ContendedWithoutRetryConflicts(t *testing.T) {
	store := newStore(t, 100)
	res := hammer(t, NewOptimisticController(store), 100, 1)

	// every caller either landed or was told to retry; nothing vanished
	assert.Equal(t, int64(100), res.success.Load()+res.conflict.Load())
	assert.Equal(t, 100-res.success.Load(), quantityOf(t, store))
}
