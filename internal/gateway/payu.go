package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/gatewire/gatewire/internal/domain/order"
	"github.com/shopspring/decimal"
)

// payuAdapter handles PayU Latam. Confirmation webhooks are signed with a
// SHA-256 digest of the tilde-joined canonical string
//
//	apiKey~merchantId~referenceSale~value~currency~statePol
//
// where value follows PayU's formatting rule: two decimals, collapsed to one
// when the second decimal digit is zero ("150.00" signs as "150.0").
type payuAdapter struct {
	creds Credentials
}

// NewPayU creates the PayU adapter.
func NewPayU(creds Credentials) Adapter {
	return &payuAdapter{creds: creds}
}

func (p *payuAdapter) Name() attempt.Gateway { return attempt.GatewayPayU }

// payuNotification mirrors PayU's confirmation payload. The signature travels
// in the body, not a header.
type payuNotification struct {
	EventID       string `json:"event_id"`
	MerchantID    string `json:"merchant_id"`
	ReferenceSale string `json:"reference_sale"`
	TransactionID string `json:"transaction_id"`
	Value         string `json:"value"`
	Currency      string `json:"currency"`
	StatePol      string `json:"state_pol"`
	Sign          string `json:"sign"`
}

func (p *payuAdapter) decode(body []byte) (*payuNotification, error) {
	var n payuNotification
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&n); err != nil {
		return nil, domainErrors.ErrMalformedNotification
	}
	if n.EventID == "" || n.ReferenceSale == "" || n.TransactionID == "" ||
		n.Value == "" || n.Currency == "" || n.StatePol == "" {
		return nil, domainErrors.ErrMalformedNotification
	}
	return &n, nil
}

func (p *payuAdapter) VerifySignature(body []byte, _ string) error {
	n, err := p.decode(body)
	if err != nil {
		return err
	}

	value, err := decimal.NewFromString(n.Value)
	if err != nil {
		return domainErrors.ErrMalformedNotification
	}

	canonical := strings.Join([]string{
		p.creds.APIKey,
		p.creds.MerchantID,
		n.ReferenceSale,
		payuFormatValue(value),
		n.Currency,
		n.StatePol,
	}, "~")

	got, err := hex.DecodeString(n.Sign)
	if err != nil {
		return domainErrors.ErrInvalidSignature
	}
	want := sha256.Sum256([]byte(canonical))
	if !hmac.Equal(got, want[:]) {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

// payuFormatValue applies PayU's signing rule for monetary values: two
// decimal places, but a trailing zero second decimal collapses to one place.
func payuFormatValue(v decimal.Decimal) string {
	s := v.StringFixed(2)
	if strings.HasSuffix(s, "0") {
		return v.StringFixed(1)
	}
	return s
}

var payuStates = map[string]attempt.Status{
	"4":   attempt.StatusApproved,
	"6":   attempt.StatusDeclined,
	"7":   attempt.StatusPending,
	"5":   attempt.StatusError, // expired
	"104": attempt.StatusError,
}

func (p *payuAdapter) ParseNotification(body []byte) (*ParsedNotification, error) {
	n, err := p.decode(body)
	if err != nil {
		return nil, err
	}

	status, ok := payuStates[n.StatePol]
	if !ok {
		return nil, domainErrors.ErrMalformedNotification
	}

	amount, err := money.FromString(n.Value, n.Currency)
	if err != nil {
		return nil, domainErrors.ErrMalformedNotification
	}

	return &ParsedNotification{
		EventID:     n.EventID,
		ExternalRef: n.TransactionID,
		OrderRef:    n.ReferenceSale,
		Status:      status,
		Amount:      amount,
	}, nil
}

// payuChargeRequest is the submit-transaction body.
type payuChargeRequest struct {
	MerchantID    string `json:"merchant_id"`
	ReferenceCode string `json:"reference_code"`
	Description   string `json:"description"`
	Value         string `json:"value"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
	Signature     string `json:"signature"`
}

func (p *payuAdapter) BuildCharge(a *attempt.PaymentAttempt, o *order.Order) (*ChargeRequest, error) {
	// Charge signatures omit the state component.
	canonical := strings.Join([]string{
		p.creds.APIKey,
		p.creds.MerchantID,
		o.ID.String(),
		payuFormatValue(a.Amount.Value),
		a.Amount.Currency,
	}, "~")
	sig := sha256.Sum256([]byte(canonical))

	body, err := json.Marshal(payuChargeRequest{
		MerchantID:    p.creds.MerchantID,
		ReferenceCode: o.ID.String(),
		Description:   fmt.Sprintf("order %s", o.ID),
		Value:         a.Amount.StringFixed(2),
		Currency:      a.Amount.Currency,
		PaymentMethod: string(a.Method),
		Signature:     hex.EncodeToString(sig[:]),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payu charge: %w", err)
	}

	return &ChargeRequest{
		URL:     p.creds.BaseURL + "/payments-api/4.0/service",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

type payuChargeResponse struct {
	Code                string `json:"code"`
	TransactionResponse struct {
		TransactionID string `json:"transaction_id"`
		State         string `json:"state"`
		ReceiptURL    string `json:"receipt_url"`
	} `json:"transaction_response"`
}

func (p *payuAdapter) ParseChargeResponse(body []byte) (*ChargeResult, error) {
	var resp payuChargeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode payu charge response: %w", err)
	}
	if resp.Code != "SUCCESS" || resp.TransactionResponse.TransactionID == "" {
		return nil, domainErrors.ErrGatewayRejected
	}

	status := attempt.StatusPending
	switch resp.TransactionResponse.State {
	case "APPROVED":
		status = attempt.StatusApproved
	case "DECLINED":
		status = attempt.StatusDeclined
	case "ERROR":
		status = attempt.StatusError
	}

	return &ChargeResult{
		ExternalRef: resp.TransactionResponse.TransactionID,
		Status:      status,
		RedirectURL: resp.TransactionResponse.ReceiptURL,
		Raw:         body,
	}, nil
}
