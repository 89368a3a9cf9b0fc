package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

const (
	mysqlErrDuplicateEntry   = 1062
	mysqlErrLockWaitTimeout  = 1205
	mysqlErrLockNowaitFailed = 3572
)

const MySQLSchema = `
CREATE TABLE IF NOT EXISTS stock (
	id         VARCHAR(64) NOT NULL PRIMARY KEY,
	quantity   BIGINT      NOT NULL,
	version    BIGINT      NOT NULL DEFAULT 0,
	created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	CONSTRAINT stock_quantity_non_negative CHECK (quantity >= 0)
)`

type MySQLAdapter struct {
	db *sql.DB
}

var _ port.CounterStore = (*MySQLAdapter)(nil)

// NewMySQLAdapter expects a pool opened with OpenMySQL when a lock wait is
// wanted, so that every pooled connection carries it.
func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// OpenMySQL opens a pool whose connections all run with
// innodb_lock_wait_timeout set to lockWait, in whole seconds with a minimum
// of one. Zero keeps the server default.
func OpenMySQL(dsn string, lockWait time.Duration) (*sql.DB, error) {
	cfg, err := mysqlConfig(dsn, lockWait)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func mysqlConfig(dsn string, lockWait time.Duration) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	if lockWait <= 0 {
		return cfg, nil
	}

	secs := max(int(lockWait/time.Second), 1)
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	// the driver issues SET for every param on each new connection
	cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(secs)
	return cfg, nil
}

func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, MySQLSchema); err != nil {
		return fmt.Errorf("create stock table: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Create(ctx context.Context, id string, quantity int64) (*domain.Stock, error) {
	if quantity < 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO stock (id, quantity, version, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)`,
		id, quantity, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert stock %s: %w", id, mapMySQLError(err))
	}

	return &domain.Stock{ID: id, Quantity: quantity, CreatedAt: now, UpdatedAt: now}, nil
}

// Delete removes id. Only meant for resetting state between test runs.
func (m *MySQLAdapter) Delete(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM stock WHERE id = ?`, id)
	return err
}

func (m *MySQLAdapter) Get(ctx context.Context, id string) (*domain.Stock, error) {
	return getStock(ctx, m.db, id, "")
}

func (m *MySQLAdapter) CompareAndSave(ctx context.Context, stock domain.Stock, expectedVersion int64) (*domain.Stock, error) {
	if stock.Quantity < 0 {
		return nil, domain.ErrInsufficientStock
	}

	now := time.Now().UTC()
	result, err := m.db.ExecContext(ctx, `
		UPDATE stock
		SET quantity = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		stock.Quantity, now, stock.ID, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update stock %s: %w", stock.ID, mapMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// either gone or moved on; tell the two apart for the caller
		if _, err := m.Get(ctx, stock.ID); err != nil {
			return nil, err
		}
		return nil, domain.ErrVersionConflict
	}

	saved := stock
	saved.Version = expectedVersion + 1
	saved.UpdatedAt = now
	return &saved, nil
}

func (m *MySQLAdapter) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &mysqlTx{tx: tx}, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getStock(ctx context.Context, q queryer, id, suffix string) (*domain.Stock, error) {
	var st domain.Stock
	err := q.QueryRowContext(ctx, `
		SELECT id, quantity, version, created_at, updated_at
		FROM stock WHERE id = ?`+suffix, id,
	).Scan(&st.ID, &st.Quantity, &st.Version, &st.CreatedAt, &st.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get stock %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query stock %s: %w", id, mapMySQLError(err))
	}

	return &st, nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) Get(ctx context.Context, id string) (*domain.Stock, error) {
	return getStock(ctx, t.tx, id, "")
}

func (t *mysqlTx) GetForExclusiveAccess(ctx context.Context, id string) (*domain.Stock, error) {
	st, err := getStock(ctx, t.tx, id, " FOR UPDATE")
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock stock %s: %w: %w", id, domain.ErrLockUnavailable, err)
	}
	return st, err
}

func (t *mysqlTx) Save(ctx context.Context, stock domain.Stock) (*domain.Stock, error) {
	if stock.Quantity < 0 {
		return nil, domain.ErrInsufficientStock
	}

	now := time.Now().UTC()
	next := stock.Version + 1
	result, err := t.tx.ExecContext(ctx, `
		UPDATE stock
		SET quantity = ?, version = ?, updated_at = ?
		WHERE id = ?`,
		stock.Quantity, next, now, stock.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("save stock %s: %w", stock.ID, mapMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, fmt.Errorf("save stock %s: %w", stock.ID, domain.ErrNotFound)
	}

	saved := stock
	saved.Version = next
	saved.UpdatedAt = now
	return &saved, nil
}

func (t *mysqlTx) Commit() error {
	return mapTxDone(t.tx.Commit())
}

func (t *mysqlTx) Rollback() error {
	return mapTxDone(t.tx.Rollback())
}

func mapTxDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return domain.ErrTxDone
	}
	return err
}

func mapMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}

	switch myErr.Number {
	case mysqlErrDuplicateEntry:
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	case mysqlErrLockWaitTimeout, mysqlErrLockNowaitFailed:
		return fmt.Errorf("%w: %w", domain.ErrLockUnavailable, err)
	}
	return err
}
