package notification

import (
	"time"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	"github.com/google/uuid"
)

// Outcome is the processing outcome of a single webhook delivery.
type Outcome string

const (
	OutcomeUnprocessed      Outcome = "unprocessed"
	OutcomeProcessed        Outcome = "processed"
	OutcomeInvalidSignature Outcome = "rejected_invalid_signature"
	OutcomeDuplicate        Outcome = "rejected_duplicate"
)

// Notification is one inbound webhook delivery from a gateway. It is recorded
// before any order or attempt mutation is attempted, so retried deliveries
// are detected even if processing crashed mid-way. The (gateway, event_id)
// pair is globally unique.
type Notification struct {
	ID             uuid.UUID
	Gateway        attempt.Gateway
	EventID        string // gateway-assigned
	RawPayload     []byte
	Signature      string
	SignatureValid bool
	Outcome        Outcome
	ReceivedAt     time.Time
	ProcessedAt    *time.Time
}

// New creates an unprocessed notification record.
func New(gw attempt.Gateway, eventID string, payload []byte, signature string) *Notification {
	return &Notification{
		ID:         uuid.New(),
		Gateway:    gw,
		EventID:    eventID,
		RawPayload: payload,
		Signature:  signature,
		Outcome:    OutcomeUnprocessed,
		ReceivedAt: time.Now(),
	}
}

// Resolve stamps the final outcome. Outcomes are written exactly once,
// synchronously with the reconciliation transaction.
func (n *Notification) Resolve(outcome Outcome) {
	now := time.Now()
	n.Outcome = outcome
	n.ProcessedAt = &now
}
