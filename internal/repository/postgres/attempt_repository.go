package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// AttemptRepository implements attempt.Repository using PostgreSQL.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func (r *AttemptRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

const attemptColumns = `id, order_id, gateway, external_ref, amount, currency, method, status, raw_response, created_at, updated_at`

// Create inserts a new attempt. The payment_attempts_gateway_ref_key unique
// constraint rejects duplicate (gateway, external_ref) insert races.
func (r *AttemptRepository) Create(ctx context.Context, a *attempt.PaymentAttempt) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payment_attempts
		 (id, order_id, gateway, external_ref, amount, currency, method, status, raw_response, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.OrderID, string(a.Gateway), a.ExternalRef, amountParam(a.Amount), a.Amount.Currency,
		string(a.Method), string(a.Status), a.RawResponse, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domainErrors.ErrDuplicateGatewayRef
		}
		return fmt.Errorf("insert payment attempt: %w", err)
	}
	return nil
}

// GetByID retrieves an attempt by its ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*attempt.PaymentAttempt, error) {
	return r.scanAttempt(r.db(ctx).QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE id = $1`, id))
}

// GetByGatewayRef resolves an attempt from a gateway transaction reference.
func (r *AttemptRepository) GetByGatewayRef(ctx context.Context, gw attempt.Gateway, externalRef string) (*attempt.PaymentAttempt, error) {
	return r.scanAttempt(r.db(ctx).QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE gateway = $1 AND external_ref = $2`,
		string(gw), externalRef))
}

// SetExternalRef assigns the gateway reference, write-once. A concurrent
// assignment of the same (gateway, ref) pair to another attempt trips the
// uniqueness constraint; assigning over an existing different ref affects no
// rows and is rejected.
func (r *AttemptRepository) SetExternalRef(ctx context.Context, id uuid.UUID, externalRef string) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payment_attempts SET external_ref = $1, updated_at = NOW()
		 WHERE id = $2 AND (external_ref IS NULL OR external_ref = $1)`,
		externalRef, id,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domainErrors.ErrDuplicateGatewayRef
		}
		return fmt.Errorf("set external ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrExternalRefAssigned
	}
	return nil
}

// UpdateStatus persists a status transition and the audit payload. The amount
// is deliberately absent from the SET list: it is immutable here, only ever
// written at insert.
func (r *AttemptRepository) UpdateStatus(ctx context.Context, a *attempt.PaymentAttempt) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payment_attempts SET status = $1, raw_response = $2, updated_at = $3 WHERE id = $4`,
		string(a.Status), a.RawResponse, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrAttemptNotFound
	}
	return nil
}

// ListByOrder returns every attempt for an order, oldest first.
func (r *AttemptRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*attempt.PaymentAttempt, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*attempt.PaymentAttempt
	for rows.Next() {
		a, err := r.scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *AttemptRepository) scanAttempt(s scanner) (*attempt.PaymentAttempt, error) {
	a := &attempt.PaymentAttempt{}
	var (
		gateway  string
		amount   string
		currency string
		method   string
		status   string
	)
	err := s.Scan(&a.ID, &a.OrderID, &gateway, &a.ExternalRef, &amount, &currency,
		&method, &status, &a.RawResponse, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("scan payment attempt: %w", err)
	}

	a.Gateway = attempt.Gateway(gateway)
	a.Method = attempt.Method(method)
	a.Status = attempt.Status(status)
	a.Amount, err = scanAmount(amount, currency)
	if err != nil {
		return nil, err
	}
	return a, nil
}
