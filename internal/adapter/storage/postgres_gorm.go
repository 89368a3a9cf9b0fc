package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

const PostgresSchema = `
CREATE TABLE IF NOT EXISTS stocks (
	id         VARCHAR(64) PRIMARY KEY,
	quantity   BIGINT      NOT NULL CHECK (quantity >= 0),
	version    BIGINT      NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type stockRow struct {
	ID        string `gorm:"primaryKey"`
	Quantity  int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (stockRow) TableName() string { return "stocks" }

func (r stockRow) toDomain() *domain.Stock {
	return &domain.Stock{
		ID:        r.ID,
		Quantity:  r.Quantity,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type PostgresStore struct {
	db       *gorm.DB
	lockWait time.Duration
}

var _ port.CounterStore = (*PostgresStore)(nil)

// OpenPostgres connects with gorm's postgres driver (pgx underneath).
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *gorm.DB, lockWait time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockWait: lockWait}
}

func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if err := p.db.WithContext(ctx).Exec(PostgresSchema).Error; err != nil {
		return fmt.Errorf("create stocks table: %w", err)
	}
	return nil
}

func (p *PostgresStore) Create(ctx context.Context, id string, quantity int64) (*domain.Stock, error) {
	if quantity < 0 {
		return nil, domain.ErrInvalidAmount
	}

	row := stockRow{ID: id, Quantity: quantity}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert stock %s: %w", id, mapPgError(err))
	}
	return row.toDomain(), nil
}

// Delete removes id. Only meant for resetting state between test runs.
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).Delete(&stockRow{}, "id = ?", id).Error
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*domain.Stock, error) {
	return firstStock(p.db.WithContext(ctx), id)
}

func (p *PostgresStore) CompareAndSave(ctx context.Context, stock domain.Stock, expectedVersion int64) (*domain.Stock, error) {
	if stock.Quantity < 0 {
		return nil, domain.ErrInsufficientStock
	}

	now := time.Now().UTC()
	res := p.db.WithContext(ctx).
		Model(&stockRow{}).
		Where("id = ? AND version = ?", stock.ID, expectedVersion).
		Updates(map[string]any{
			"quantity":   stock.Quantity,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})

	if res.Error != nil {
		return nil, fmt.Errorf("update stock %s: %w", stock.ID, mapPgError(res.Error))
	}
	if res.RowsAffected == 0 {
		if _, err := p.Get(ctx, stock.ID); err != nil {
			return nil, err
		}
		return nil, domain.ErrVersionConflict
	}

	saved := stock
	saved.Version = expectedVersion + 1
	saved.UpdatedAt = now
	return &saved, nil
}

func (p *PostgresStore) BeginTx(ctx context.Context) (port.Tx, error) {
	tx := p.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin tx: %w", tx.Error)
	}

	if p.lockWait > 0 {
		// SET LOCAL does not accept bind parameters
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.lockWait.Milliseconds())
		if err := tx.Exec(stmt).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("set lock timeout: %w", err)
		}
	}

	return &gormTx{tx: tx}, nil
}

func firstStock(db *gorm.DB, id string) (*domain.Stock, error) {
	var row stockRow
	err := db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get stock %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query stock %s: %w", id, mapPgError(err))
	}
	return row.toDomain(), nil
}

type gormTx struct {
	tx   *gorm.DB
	done bool
}

func (t *gormTx) Get(ctx context.Context, id string) (*domain.Stock, error) {
	if t.done {
		return nil, domain.ErrTxDone
	}
	return firstStock(t.tx.WithContext(ctx), id)
}

func (t *gormTx) GetForExclusiveAccess(ctx context.Context, id string) (*domain.Stock, error) {
	if t.done {
		return nil, domain.ErrTxDone
	}
	st, err := firstStock(t.tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock stock %s: %w: %w", id, domain.ErrLockUnavailable, err)
	}
	return st, err
}

func (t *gormTx) Save(ctx context.Context, stock domain.Stock) (*domain.Stock, error) {
	if t.done {
		return nil, domain.ErrTxDone
	}
	if stock.Quantity < 0 {
		return nil, domain.ErrInsufficientStock
	}

	now := time.Now().UTC()
	next := stock.Version + 1
	res := t.tx.WithContext(ctx).
		Model(&stockRow{}).
		Where("id = ?", stock.ID).
		Updates(map[string]any{
			"quantity":   stock.Quantity,
			"version":    next,
			"updated_at": now,
		})

	if res.Error != nil {
		return nil, fmt.Errorf("save stock %s: %w", stock.ID, mapPgError(res.Error))
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("save stock %s: %w", stock.ID, domain.ErrNotFound)
	}

	saved := stock
	saved.Version = next
	saved.UpdatedAt = now
	return &saved, nil
}

func (t *gormTx) Commit() error {
	if t.done {
		return domain.ErrTxDone
	}
	t.done = true
	return t.tx.Commit().Error
}

func (t *gormTx) Rollback() error {
	if t.done {
		return domain.ErrTxDone
	}
	t.done = true
	return t.tx.Rollback().Error
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	case pgLockNotAvailable:
		return fmt.Errorf("%w: %w", domain.ErrLockUnavailable, err)
	}
	return err
}
