package order

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the collaborator interface to order management. This subsystem
// only ever reads orders and commits payment-driven status transitions.
type Repository interface {
	// GetByID retrieves an order without locking it.
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// GetForUpdate retrieves an order and acquires an exclusive row lock on it
	// for the duration of the surrounding transaction. The lock wait is
	// bounded; on expiry it returns ErrLockTimeout.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)

	// UpdateStatus commits a status transition previously validated through
	// the state machine.
	UpdateStatus(ctx context.Context, o *Order) error
}
