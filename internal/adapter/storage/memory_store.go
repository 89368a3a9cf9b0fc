package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

// MemoryStore keeps stock in process memory. Each id owns a one-slot
// channel that plays the role of a row lock.
type MemoryStore struct {
	mu       sync.Mutex
	rows     map[string]domain.Stock
	rowLocks map[string]chan struct{}

	lockWait time.Duration
	now      func() time.Time
}

var _ port.CounterStore = (*MemoryStore)(nil)

type MemoryOption func(*MemoryStore)

// WithLockWait bounds how long GetForExclusiveAccess waits for a row lock.
// Zero waits until the context ends.
func WithLockWait(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.lockWait = d }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		rows:     make(map[string]domain.Stock),
		rowLocks: make(map[string]chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, id string, quantity int64) (*domain.Stock, error) {
	if quantity < 0 {
		return nil, domain.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; ok {
		return nil, fmt.Errorf("create stock %s: %w", id, domain.ErrAlreadyExists)
	}
	now := s.now()
	st := domain.Stock{ID: id, Quantity: quantity, CreatedAt: now, UpdatedAt: now}
	s.rows[id] = st
	return &st, nil
}

// Delete removes id. Only meant for resetting state between test runs.
func (s *MemoryStore) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *MemoryStore) getLocked(id string) (*domain.Stock, error) {
	st, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("get stock %s: %w", id, domain.ErrNotFound)
	}
	return &st, nil
}

// CompareAndSave waits for the row lock like an UPDATE waits on a row held
// with SELECT ... FOR UPDATE, then checks the version.
func (s *MemoryStore) CompareAndSave(ctx context.Context, stock domain.Stock, expectedVersion int64) (*domain.Stock, error) {
	if stock.Quantity < 0 {
		return nil, domain.ErrInsufficientStock
	}

	release, err := s.lockRow(ctx, stock.ID, 0)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rows[stock.ID]
	if !ok {
		return nil, fmt.Errorf("update stock %s: %w", stock.ID, domain.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}

	current.Quantity = stock.Quantity
	current.Version = expectedVersion + 1
	current.UpdatedAt = s.now()
	s.rows[stock.ID] = current
	return &current, nil
}

func (s *MemoryStore) BeginTx(ctx context.Context) (port.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &memoryTx{
		store:   s,
		held:    make(map[string]func()),
		pending: make(map[string]domain.Stock),
	}, nil
}

func (s *MemoryStore) rowLock(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.rowLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[id] = ch
	}
	return ch
}

func (s *MemoryStore) lockRow(ctx context.Context, id string, wait time.Duration) (func(), error) {
	ch := s.rowLock(id)

	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lock stock %s: %w: %w", id, domain.ErrLockUnavailable, ctx.Err())
	}
}

// memoryTx stages writes and applies them on Commit. A memoryTx is used by
// one goroutine at a time.
type memoryTx struct {
	store   *MemoryStore
	held    map[string]func()
	pending map[string]domain.Stock
	done    bool
}

func (tx *memoryTx) Get(ctx context.Context, id string) (*domain.Stock, error) {
	if tx.done {
		return nil, domain.ErrTxDone
	}
	if st, ok := tx.pending[id]; ok {
		return &st, nil
	}
	return tx.store.Get(ctx, id)
}

func (tx *memoryTx) GetForExclusiveAccess(ctx context.Context, id string) (*domain.Stock, error) {
	if tx.done {
		return nil, domain.ErrTxDone
	}
	if _, ok := tx.held[id]; !ok {
		release, err := tx.store.lockRow(ctx, id, tx.store.lockWait)
		if err != nil {
			return nil, err
		}
		tx.held[id] = release
	}
	return tx.Get(ctx, id)
}

func (tx *memoryTx) Save(ctx context.Context, stock domain.Stock) (*domain.Stock, error) {
	if tx.done {
		return nil, domain.ErrTxDone
	}
	if stock.Quantity < 0 {
		return nil, domain.ErrInsufficientStock
	}
	if _, err := tx.Get(ctx, stock.ID); err != nil {
		return nil, err
	}

	next := stock
	next.Version = stock.Version + 1
	next.UpdatedAt = tx.store.now()
	tx.pending[stock.ID] = next
	return &next, nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return domain.ErrTxDone
	}

	tx.store.mu.Lock()
	for id, st := range tx.pending {
		if current, ok := tx.store.rows[id]; ok {
			st.CreatedAt = current.CreatedAt
			tx.store.rows[id] = st
		}
	}
	tx.store.mu.Unlock()

	tx.finish()
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return domain.ErrTxDone
	}
	tx.finish()
	return nil
}

func (tx *memoryTx) finish() {
	tx.done = true
	tx.pending = nil
	for _, release := range tx.held {
		release()
	}
	tx.held = nil
}
