package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/stock-guard/internal/core/domain"
)

func getMySQLAdapter(t *testing.T, lockWait time.Duration) (*MySQLAdapter, *sql.DB) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/stockguard?parseTime=true"
	}

	db, err := OpenMySQL(dsn, lockWait)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := NewMySQLAdapter(db)
	if err := adapter.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema setup failed: %v", err)
	}
	return adapter, db
}

func resetMySQLStock(t *testing.T, adapter *MySQLAdapter, id string, quantity int64) {
	ctx := context.Background()
	adapter.Delete(ctx, id)
	if _, err := adapter.Create(ctx, id, quantity); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
}

func TestMySQL_CreateAndGet(t *testing.T) {
	adapter, db := getMySQLAdapter(t, 0)
	defer db.Close()

	ctx := context.Background()
	resetMySQLStock(t, adapter, "get-test-item", 50)

	st, err := adapter.Get(ctx, "get-test-item")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if st.Quantity != 50 {
		t.Errorf("expected quantity 50, got %d", st.Quantity)
	}
	if st.Version != 0 {
		t.Errorf("expected version 0, got %d", st.Version)
	}

	if _, err := adapter.Create(ctx, "get-test-item", 1); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got: %v", err)
	}
}

func TestMySQL_GetNotFound(t *testing.T) {
	adapter, db := getMySQLAdapter(t, 0)
	defer db.Close()

	_, err := adapter.Get(context.Background(), "nonexistent-item")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMySQL_CompareAndSave(t *testing.T) {
	adapter, db := getMySQLAdapter(t, 0)
	defer db.Close()

	ctx := context.Background()
	resetMySQLStock(t, adapter, "lock-test-item", 100)

	// Update with correct version
	saved, err := adapter.CompareAndSave(ctx, domain.Stock{ID: "lock-test-item", Quantity: 90}, 0)
	if err != nil {
		t.Fatalf("CompareAndSave failed: %v", err)
	}
	if saved.Version != 1 {
		t.Errorf("expected version 1, got %d", saved.Version)
	}

	// Try update with stale version
	_, err = adapter.CompareAndSave(ctx, domain.Stock{ID: "lock-test-item", Quantity: 80}, 0)
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got: %v", err)
	}

	_, err = adapter.CompareAndSave(ctx, domain.Stock{ID: "nonexistent-item", Quantity: 1}, 0)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}

	st, _ := adapter.Get(ctx, "lock-test-item")
	if st.Quantity != 90 || st.Version != 1 {
		t.Errorf("expected 90@1, got %d@%d", st.Quantity, st.Version)
	}
}

func TestMySQL_ExclusiveAccess(t *testing.T) {
	adapter, db := getMySQLAdapter(t, time.Second)
	defer db.Close()

	ctx := context.Background()
	resetMySQLStock(t, adapter, "for-update-item", 10)

	holder, err := adapter.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	st, err := holder.GetForExclusiveAccess(ctx, "for-update-item")
	if err != nil {
		t.Fatalf("GetForExclusiveAccess failed: %v", err)
	}

	other, err := adapter.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	_, err = other.GetForExclusiveAccess(ctx, "for-update-item")
	if !errors.Is(err, domain.ErrLockUnavailable) {
		t.Errorf("expected ErrLockUnavailable, got: %v", err)
	}
	other.Rollback()

	st.Quantity = 3
	if _, err := holder.Save(ctx, *st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := holder.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := holder.Rollback(); !errors.Is(err, domain.ErrTxDone) {
		t.Errorf("expected ErrTxDone after commit, got: %v", err)
	}

	after, _ := adapter.Get(ctx, "for-update-item")
	if after.Quantity != 3 || after.Version != 1 {
		t.Errorf("expected 3@1, got %d@%d", after.Quantity, after.Version)
	}
}

func TestMySQL_CompareAndSaveConcurrent(t *testing.T) {
	adapter, db := getMySQLAdapter(t, 0)
	defer db.Close()

	ctx := context.Background()
	resetMySQLStock(t, adapter, "concurrent-item", 100)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := adapter.CompareAndSave(ctx, domain.Stock{ID: "concurrent-item", Quantity: 99}, 0); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", winners.Load())
	}
}

func TestMySQLConfig_LockWait(t *testing.T) {
	dsn := "root:root@tcp(localhost:3306)/stockguard?parseTime=true"

	tests := []struct {
		name     string
		lockWait time.Duration
		want     string
	}{
		{"unset", 0, ""},
		{"whole seconds", 3 * time.Second, "3"},
		{"rounds sub-second up to one", 200 * time.Millisecond, "1"},
		{"truncates fractions", 2500 * time.Millisecond, "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := mysqlConfig(dsn, tt.lockWait)
			if err != nil {
				t.Fatalf("mysqlConfig failed: %v", err)
			}
			if got := cfg.Params["innodb_lock_wait_timeout"]; got != tt.want {
				t.Errorf("expected innodb_lock_wait_timeout %q, got %q", tt.want, got)
			}
			if !cfg.ParseTime {
				t.Error("expected DSN options to survive")
			}
		})
	}

	if _, err := mysqlConfig("::not a dsn::", time.Second); err == nil {
		t.Error("expected error for malformed DSN")
	}
}

func TestMySQL_LockWaitOnEveryConnection(t *testing.T) {
	_, db := getMySQLAdapter(t, 2*time.Second)
	defer db.Close()

	ctx := context.Background()
	db.SetMaxIdleConns(4)

	// pin several distinct connections at once so the pool has to dial them
	conns := make([]*sql.Conn, 4)
	for i := range conns {
		conn, err := db.Conn(ctx)
		if err != nil {
			t.Fatalf("Conn failed: %v", err)
		}
		conns[i] = conn
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for i, c := range conns {
		var secs int
		if err := c.QueryRowContext(ctx, `SELECT @@SESSION.innodb_lock_wait_timeout`).Scan(&secs); err != nil {
			t.Fatalf("query lock wait failed: %v", err)
		}
		if secs != 2 {
			t.Errorf("connection %d: expected innodb_lock_wait_timeout 2, got %d", i, secs)
		}
	}
}
