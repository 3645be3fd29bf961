package order

import (
	"time"

	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/google/uuid"
)

// Status represents the order status in the state machine
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Order is the subset of the order aggregate this subsystem reads and mutates.
// The rest of the aggregate is owned by order management.
type Order struct {
	ID        uuid.UUID
	Status    Status
	Total     money.Amount
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// transitions is the full legal transition graph. The happy path is forward
// only; cancelled, refunded and delivered are terminal.
var transitions = map[Status][]Status{
	StatusPending: {
		StatusConfirmed,
		StatusCancelled,
	},
	StatusConfirmed: {
		StatusProcessing,
		StatusCancelled,
		StatusRefunded,
	},
	StatusProcessing: {
		StatusShipped,
		StatusRefunded,
	},
	StatusShipped: {
		StatusDelivered,
		StatusRefunded,
	},
	StatusDelivered: {
		StatusRefunded,
	},
	StatusCancelled: {}, // Terminal state
	StatusRefunded:  {}, // Terminal state
}

// CanTransition reports whether moving from current to requested is legal.
// It is a pure function consulted before every order mutation.
func CanTransition(current, requested Status) bool {
	allowed, exists := transitions[current]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == requested {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Transition moves the order to a new status or returns a typed error.
// Illegal transitions are never silently ignored or clamped.
func (o *Order) Transition(newStatus Status) error {
	if !CanTransition(o.Status, newStatus) {
		return domainErrors.NewDomainError(
			"invalid_transition",
			"cannot transition order from "+string(o.Status)+" to "+string(newStatus),
			domainErrors.ErrInvalidStateTransition,
		)
	}
	o.Status = newStatus
	o.UpdatedAt = time.Now()
	return nil
}
