package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/notification"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationRepository implements notification.Repository using PostgreSQL.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

const notificationColumns = `id, gateway, event_id, raw_payload, signature, signature_valid, outcome, received_at, processed_at`

// RecordIfNew inserts the notification unless the (gateway, event_id) pair
// already exists. One statement, no check-then-insert window: the unique
// constraint arbitrates races between concurrent deliveries of the same event.
func (r *NotificationRepository) RecordIfNew(ctx context.Context, n *notification.Notification) (bool, uuid.UUID, error) {
	var insertedID uuid.UUID
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO gateway_notifications
		 (id, gateway, event_id, raw_payload, signature, signature_valid, outcome, received_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (gateway, event_id) DO NOTHING
		 RETURNING id`,
		n.ID, string(n.Gateway), n.EventID, n.RawPayload, n.Signature, n.SignatureValid,
		string(n.Outcome), n.ReceivedAt,
	).Scan(&insertedID)
	if err == nil {
		return true, insertedID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, uuid.Nil, fmt.Errorf("record notification: %w", err)
	}

	// Conflict: resolve the winning row's id.
	var existingID uuid.UUID
	err = r.db(ctx).QueryRow(ctx,
		`SELECT id FROM gateway_notifications WHERE gateway = $1 AND event_id = $2`,
		string(n.Gateway), n.EventID,
	).Scan(&existingID)
	if err != nil {
		return false, uuid.Nil, fmt.Errorf("resolve duplicate notification: %w", err)
	}
	return false, existingID, nil
}

// GetByID retrieves a notification by its row id.
func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
	return r.scanNotification(r.db(ctx).QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM gateway_notifications WHERE id = $1`, id))
}

// MarkOutcome stamps the final processing outcome exactly once. Stamping a
// row whose outcome is already final is a no-op success: two concurrent
// deliveries of the same event may both reach this point, and the loser's
// delivery is semantically a duplicate, not a failure.
func (r *NotificationRepository) MarkOutcome(ctx context.Context, id uuid.UUID, outcome notification.Outcome) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE gateway_notifications SET outcome = $1, processed_at = NOW()
		 WHERE id = $2 AND outcome = 'unprocessed'`,
		string(outcome), id,
	)
	if err != nil {
		return fmt.Errorf("mark notification outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var existing string
		err := r.db(ctx).QueryRow(ctx,
			`SELECT outcome FROM gateway_notifications WHERE id = $1`, id,
		).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			return domainErrors.ErrNotificationNotFound
		}
		if err != nil {
			return fmt.Errorf("mark notification outcome: %w", err)
		}
		// Outcome already stamped by the race winner.
	}
	return nil
}

// ListUnprocessed returns notifications awaiting reconciliation, oldest
// first. SKIP LOCKED keeps concurrent retry workers off each other's rows.
func (r *NotificationRepository) ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+notificationColumns+` FROM gateway_notifications
		 WHERE outcome = 'unprocessed' AND received_at < $1
		 ORDER BY received_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`, olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		n, err := r.scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountByOutcome reports deliveries from a gateway with the given outcome.
func (r *NotificationRepository) CountByOutcome(ctx context.Context, gw attempt.Gateway, outcome notification.Outcome) (int64, error) {
	var count int64
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM gateway_notifications WHERE gateway = $1 AND outcome = $2`,
		string(gw), string(outcome),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

func (r *NotificationRepository) scanNotification(s scanner) (*notification.Notification, error) {
	n := &notification.Notification{}
	var (
		gateway string
		outcome string
	)
	err := s.Scan(&n.ID, &gateway, &n.EventID, &n.RawPayload, &n.Signature, &n.SignatureValid,
		&outcome, &n.ReceivedAt, &n.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	n.Gateway = attempt.Gateway(gateway)
	n.Outcome = notification.Outcome(outcome)
	return n, nil
}
