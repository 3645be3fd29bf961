package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/order"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgLockNotAvailable is raised when lock_timeout expires while waiting for a
// row lock.
const pgLockNotAvailable = "55P03"

// OrderRepository implements order.Repository using PostgreSQL. The exclusive
// row lock taken by GetForUpdate is the single serialization point between
// concurrent reconciliations for the same order.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const orderColumns = `id, status, total_amount, currency, version, created_at, updated_at`

// GetByID retrieves an order without locking.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return r.scanOrder(r.db(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetForUpdate retrieves an order holding an exclusive row lock until the
// surrounding transaction commits or aborts. The transaction's lock_timeout
// bounds the wait; expiry surfaces as ErrLockTimeout.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, err := r.scanOrder(r.db(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, domainErrors.ErrLockTimeout
		}
		return nil, err
	}
	return o, nil
}

// UpdateStatus commits a validated status transition, bumping the version.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE orders SET status = $1, version = version + 1, updated_at = $2 WHERE id = $3`,
		string(o.Status), o.UpdatedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrOrderNotFound
	}
	o.Version++
	return nil
}

func (r *OrderRepository) scanOrder(s scanner) (*order.Order, error) {
	o := &order.Order{}
	var (
		status   string
		total    string
		currency string
	)
	err := s.Scan(&o.ID, &status, &total, &currency, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Status = order.Status(status)
	o.Total, err = scanAmount(total, currency)
	if err != nil {
		return nil, err
	}
	return o, nil
}
