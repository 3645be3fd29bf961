package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/gatewire/gatewire/internal/domain/order"
)

// payvalidaAdapter handles PayValida, the cash-code network. Webhooks carry an
// HMAC-SHA256 of the raw request body, hex-encoded, in the X-Signature header.
type payvalidaAdapter struct {
	creds Credentials
}

// NewPayValida creates the PayValida adapter.
func NewPayValida(creds Credentials) Adapter {
	return &payvalidaAdapter{creds: creds}
}

func (p *payvalidaAdapter) Name() attempt.Gateway { return attempt.GatewayPayValida }

func (p *payvalidaAdapter) VerifySignature(body []byte, sigHeader string) error {
	if sigHeader == "" {
		return domainErrors.ErrMalformedNotification
	}
	got, err := hex.DecodeString(sigHeader)
	if err != nil {
		return domainErrors.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(p.creds.APIKey))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

type payvalidaNotification struct {
	EventID   string `json:"event_id"`
	CashCode  string `json:"cash_code"`
	OrderRef  string `json:"order"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	State     string `json:"state"`
	PaidAtPOS string `json:"paid_at_pos,omitempty"`
}

var payvalidaStates = map[string]attempt.Status{
	"PAID":      attempt.StatusApproved,
	"PENDING":   attempt.StatusPending,
	"EXPIRED":   attempt.StatusError,
	"CANCELLED": attempt.StatusVoided,
}

func (p *payvalidaAdapter) ParseNotification(body []byte) (*ParsedNotification, error) {
	var n payvalidaNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, domainErrors.ErrMalformedNotification
	}
	if n.EventID == "" || n.CashCode == "" || n.OrderRef == "" || n.Amount == "" || n.Currency == "" {
		return nil, domainErrors.ErrMalformedNotification
	}

	status, ok := payvalidaStates[n.State]
	if !ok {
		return nil, domainErrors.ErrMalformedNotification
	}

	amount, err := money.FromString(n.Amount, n.Currency)
	if err != nil {
		return nil, domainErrors.ErrMalformedNotification
	}

	return &ParsedNotification{
		EventID: n.EventID,
		// The cash code doubles as the transaction reference.
		ExternalRef: n.CashCode,
		OrderRef:    n.OrderRef,
		Status:      status,
		Amount:      amount,
	}, nil
}

type payvalidaChargeRequest struct {
	Merchant string `json:"merchant"`
	Order    string `json:"order"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Checksum string `json:"checksum"`
}

func (p *payvalidaAdapter) BuildCharge(a *attempt.PaymentAttempt, o *order.Order) (*ChargeRequest, error) {
	if a.Method != attempt.MethodCashCode {
		return nil, domainErrors.NewValidationError("method", "payvalida only supports cash_code")
	}

	payload := payvalidaChargeRequest{
		Merchant: p.creds.MerchantID,
		Order:    o.ID.String(),
		Amount:   a.Amount.StringFixed(2),
		Currency: a.Amount.Currency,
	}
	mac := hmac.New(sha256.New, []byte(p.creds.APIKey))
	fmt.Fprintf(mac, "%s|%s|%s|%s", payload.Merchant, payload.Order, payload.Amount, payload.Currency)
	payload.Checksum = hex.EncodeToString(mac.Sum(nil))

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payvalida charge: %w", err)
	}

	return &ChargeRequest{
		URL:     p.creds.BaseURL + "/v2/cash/codes",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

type payvalidaChargeResponse struct {
	CashCode  string `json:"cash_code"`
	State     string `json:"state"`
	ExpiresAt string `json:"expires_at"`
}

func (p *payvalidaAdapter) ParseChargeResponse(body []byte) (*ChargeResult, error) {
	var resp payvalidaChargeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode payvalida charge response: %w", err)
	}
	if resp.CashCode == "" {
		return nil, domainErrors.ErrGatewayRejected
	}

	status, ok := payvalidaStates[resp.State]
	if !ok {
		status = attempt.StatusPending
	}

	return &ChargeResult{
		ExternalRef: resp.CashCode,
		Status:      status,
		CashCode:    resp.CashCode,
		Raw:         body,
	}, nil
}
