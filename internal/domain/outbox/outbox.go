package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Hook names the downstream collaborator a side effect targets.
type Hook string

const (
	HookCommission   Hook = "commission"
	HookStock        Hook = "stock"
	HookNotification Hook = "notification"
)

// Status tracks delivery of an outbox entry to its hook.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Entry is a durable side-effect trigger written in the same transaction as
// the financial state it follows from. Delivery is at-least-once; consumers
// are idempotent per (order, attempt).
type Entry struct {
	ID          uuid.UUID
	Hook        Hook
	EventType   string // e.g. "payment.approved"
	OrderID     uuid.UUID
	AttemptID   uuid.UUID
	Payload     map[string]any
	Status      Status
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// NewEntry creates a pending outbox entry for one hook.
func NewEntry(hook Hook, eventType string, orderID, attemptID uuid.UUID, payload map[string]any) *Entry {
	return &Entry{
		ID:         uuid.New(),
		Hook:       hook,
		EventType:  eventType,
		OrderID:    orderID,
		AttemptID:  attemptID,
		Payload:    payload,
		Status:     StatusPending,
		RetryCount: 0,
		MaxRetries: 5,
		CreatedAt:  time.Now(),
	}
}

// PaymentApprovedEntries builds the full fan-out for an approved payment:
// commission calculation, stock adjustment and buyer notification.
func PaymentApprovedEntries(orderID, attemptID uuid.UUID) []*Entry {
	payload := map[string]any{
		"order_id":   orderID.String(),
		"attempt_id": attemptID.String(),
	}
	return []*Entry{
		NewEntry(HookCommission, "payment.approved", orderID, attemptID, payload),
		NewEntry(HookStock, "payment.approved", orderID, attemptID, payload),
		NewEntry(HookNotification, "payment.approved", orderID, attemptID, payload),
	}
}
