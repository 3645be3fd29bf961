package attempt

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists payment attempts. The (gateway, external_ref) pair is
// protected by a uniqueness constraint; Create and SetExternalRef surface a
// violation as ErrDuplicateGatewayRef.
type Repository interface {
	// Create inserts a new attempt.
	Create(ctx context.Context, a *PaymentAttempt) error

	// GetByID retrieves an attempt by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*PaymentAttempt, error)

	// GetByGatewayRef resolves an attempt from a gateway transaction
	// reference, the lookup every inbound notification starts from.
	GetByGatewayRef(ctx context.Context, gw Gateway, externalRef string) (*PaymentAttempt, error)

	// SetExternalRef persists a write-once gateway reference assignment.
	SetExternalRef(ctx context.Context, id uuid.UUID, externalRef string) error

	// UpdateStatus persists a status transition together with the raw
	// gateway response kept for audit.
	UpdateStatus(ctx context.Context, a *PaymentAttempt) error

	// ListByOrder returns every attempt for an order, oldest first.
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*PaymentAttempt, error)
}
