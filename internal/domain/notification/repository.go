package notification

import (
	"context"
	"time"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	"github.com/google/uuid"
)

// Repository is the idempotency ledger for webhook deliveries.
type Repository interface {
	// RecordIfNew atomically inserts the notification unless a row with the
	// same (gateway, event_id) already exists. It reports whether the
	// insert happened and the id of the winning row. The operation is a
	// single insert-or-detect-conflict statement, never a check-then-insert
	// pair.
	RecordIfNew(ctx context.Context, n *Notification) (isNew bool, existingID uuid.UUID, err error)

	// GetByID retrieves a notification by its row id.
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)

	// MarkOutcome persists the final processing outcome.
	MarkOutcome(ctx context.Context, id uuid.UUID, outcome Outcome) error

	// ListUnprocessed returns notifications still awaiting reconciliation,
	// received before the given cutoff, oldest first. Used by the
	// background retry loop.
	ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]*Notification, error)

	// CountByOutcome reports how many deliveries from a gateway ended in
	// the given outcome. Operational visibility only.
	CountByOutcome(ctx context.Context, gw attempt.Gateway, outcome Outcome) (int64, error)
}
