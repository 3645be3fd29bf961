package gateway

import (
	"context"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/gatewire/gatewire/internal/domain/order"
)

// Credentials holds the shared secrets for one gateway. It is built once at
// startup from configuration and passed into the adapter; there is no
// process-wide mutable gateway state.
type Credentials struct {
	MerchantID string
	APIKey     string
	// EventsSecret signs inbound webhooks when the gateway uses a separate
	// secret for events (Wompi does).
	EventsSecret string
	BaseURL      string
}

// ParsedNotification is the gateway-neutral view of a webhook payload.
type ParsedNotification struct {
	// EventID is the gateway-assigned delivery id, unique per gateway.
	EventID string
	// ExternalRef is the gateway transaction reference.
	ExternalRef string
	// OrderRef is the merchant reference echoed back by the gateway; charge
	// requests always set it to the order id.
	OrderRef string
	// Status is the attempt status the notification reports.
	Status attempt.Status
	Amount money.Amount
}

// ChargeRequest is a fully built outbound create/charge call.
type ChargeRequest struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// ChargeResult is the gateway-neutral view of a synchronous charge response.
type ChargeResult struct {
	ExternalRef string
	// Status is pending for redirect/async methods; cash-code and some
	// offline methods return a terminal status synchronously.
	Status attempt.Status
	// RedirectURL is set for redirect-based methods.
	RedirectURL string
	// CashCode is set for cash-network methods; the buyer pays it at a
	// physical point.
	CashCode string
	Raw      []byte
}

// Adapter translates one gateway's native request/response/webhook shape into
// the common model and owns signature verification for that gateway. Adapters
// are deterministic and never mutate orders or attempts.
type Adapter interface {
	Name() attempt.Gateway

	// VerifySignature validates that body genuinely originated from the
	// gateway. Where the signature travels inside the payload (PayU) the
	// header argument is ignored. Returns ErrInvalidSignature on mismatch
	// and ErrMalformedNotification when the fields needed to reconstruct
	// the canonical string are missing.
	VerifySignature(body []byte, sigHeader string) error

	// ParseNotification decodes a verified webhook body.
	ParseNotification(body []byte) (*ParsedNotification, error)

	// BuildCharge builds the outbound create/charge request for an attempt.
	BuildCharge(a *attempt.PaymentAttempt, o *order.Order) (*ChargeRequest, error)

	// ParseChargeResponse decodes the gateway's synchronous charge response.
	ParseChargeResponse(body []byte) (*ChargeResult, error)
}

// Charger submits a built charge request to the gateway over the wire.
// Separated from Adapter so tests and the registry can swap transports.
type Charger interface {
	Do(ctx context.Context, req *ChargeRequest) ([]byte, error)
}
