package attempt

import (
	"time"

	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/google/uuid"
)

// Gateway identifies one of the external payment gateways.
type Gateway string

const (
	GatewayPayU      Gateway = "payu"
	GatewayWompi     Gateway = "wompi"
	GatewayPayValida Gateway = "payvalida"
)

// ParseGateway maps a wire identifier to a Gateway.
func ParseGateway(s string) (Gateway, error) {
	switch Gateway(s) {
	case GatewayPayU, GatewayWompi, GatewayPayValida:
		return Gateway(s), nil
	}
	return "", domainErrors.ErrUnknownGateway
}

// Method is the payment-method subtype the buyer selected.
type Method string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodCashCode     Method = "cash_code"
)

// Status represents the payment attempt status in its state machine.
type Status string

const (
	StatusCreated  Status = "created"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
	StatusError    Status = "error"
	StatusVoided   Status = "voided"
)

// PaymentAttempt is one logical attempt by a buyer to pay for an order via
// one gateway. Attempts are never deleted; corrections are modeled as new
// compensating attempts.
type PaymentAttempt struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	Gateway     Gateway
	ExternalRef *string // gateway transaction reference, nil until the gateway responds
	Amount      money.Amount
	Method      Method
	Status      Status
	RawResponse []byte // opaque gateway payload, audit only
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New creates a payment attempt in the created state.
func New(orderID uuid.UUID, gw Gateway, amount money.Amount, method Method) (*PaymentAttempt, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, domainErrors.NewValidationError("amount", "must be greater than 0")
	}
	now := time.Now()
	return &PaymentAttempt{
		ID:        uuid.New(),
		OrderID:   orderID,
		Gateway:   gw,
		Amount:    amount,
		Method:    method,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewPlaceholder creates the minimal attempt recorded when a webhook arrives
// before the synchronous charge-creation response was persisted. The external
// reference is known, everything else is reconstructed later.
func NewPlaceholder(orderID uuid.UUID, gw Gateway, externalRef string, amount money.Amount) (*PaymentAttempt, error) {
	a, err := New(orderID, gw, amount, MethodCard)
	if err != nil {
		return nil, err
	}
	a.ExternalRef = &externalRef
	a.Status = StatusPending
	return a, nil
}

var attemptTransitions = map[Status][]Status{
	StatusCreated: {
		StatusPending,
		StatusApproved, // sync terminal result from the gateway
		StatusDeclined,
		StatusError,
		StatusVoided,
	},
	StatusPending: {
		StatusApproved,
		StatusDeclined,
		StatusError,
		StatusVoided,
	},
	StatusApproved: {}, // Terminal state
	StatusDeclined: {},
	StatusError:    {},
	StatusVoided:   {},
}

// CanTransition reports whether moving from the current status to next is legal.
func (a *PaymentAttempt) CanTransition(next Status) bool {
	for _, allowed := range attemptTransitions[a.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the attempt to a new status or returns a typed error.
func (a *PaymentAttempt) Transition(next Status) error {
	if !a.CanTransition(next) {
		return domainErrors.NewDomainError(
			"invalid_transition",
			"cannot transition attempt from "+string(a.Status)+" to "+string(next),
			domainErrors.ErrInvalidStateTransition,
		)
	}
	a.Status = next
	a.UpdatedAt = time.Now()
	return nil
}

// IsTerminal reports whether the attempt reached a final state.
func (a *PaymentAttempt) IsTerminal() bool {
	return len(attemptTransitions[a.Status]) == 0
}

// SetExternalRef assigns the gateway transaction reference. The reference is
// write-once: reassigning a different value is rejected.
func (a *PaymentAttempt) SetExternalRef(ref string) error {
	if a.ExternalRef != nil {
		if *a.ExternalRef == ref {
			return nil
		}
		return domainErrors.ErrExternalRefAssigned
	}
	a.ExternalRef = &ref
	a.UpdatedAt = time.Now()
	return nil
}
