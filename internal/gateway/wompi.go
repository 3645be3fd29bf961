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
)

// wompiAdapter handles Wompi. Event checksums are a SHA-256 digest over the
// concatenation of the event property values named in signature.properties
// (in that order), the event timestamp, and the events secret. Property paths
// are resolved against the event's data object.
type wompiAdapter struct {
	creds Credentials
}

// NewWompi creates the Wompi adapter.
func NewWompi(creds Credentials) Adapter {
	return &wompiAdapter{creds: creds}
}

func (w *wompiAdapter) Name() attempt.Gateway { return attempt.GatewayWompi }

type wompiEvent struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Signature struct {
		Properties []string `json:"properties"`
		Checksum   string   `json:"checksum"`
	} `json:"signature"`
	Timestamp int64 `json:"timestamp"`
}

type wompiTransaction struct {
	ID            string      `json:"id"`
	Reference     string      `json:"reference"`
	AmountInCents json.Number `json:"amount_in_cents"`
	Currency      string      `json:"currency"`
	Status        string      `json:"status"`
}

func (w *wompiAdapter) decode(body []byte) (*wompiEvent, *wompiTransaction, error) {
	var ev wompiEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, nil, domainErrors.ErrMalformedNotification
	}
	if ev.Event == "" || len(ev.Data) == 0 || ev.Timestamp == 0 {
		return nil, nil, domainErrors.ErrMalformedNotification
	}

	var data struct {
		Transaction wompiTransaction `json:"transaction"`
	}
	dec := json.NewDecoder(bytes.NewReader(ev.Data))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, nil, domainErrors.ErrMalformedNotification
	}
	tx := data.Transaction
	if tx.ID == "" || tx.Reference == "" || tx.Currency == "" || tx.Status == "" || tx.AmountInCents.String() == "" {
		return nil, nil, domainErrors.ErrMalformedNotification
	}
	return &ev, &tx, nil
}

// resolveProperty resolves a dotted property path ("transaction.amount_in_cents")
// against the raw data object, preserving the exact wire rendition of numbers.
func resolveProperty(data json.RawMessage, path string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var node any
	if err := dec.Decode(&node); err != nil {
		return "", err
	}
	for _, part := range strings.Split(path, ".") {
		obj, ok := node.(map[string]any)
		if !ok {
			return "", fmt.Errorf("property %s: not an object", path)
		}
		node, ok = obj[part]
		if !ok {
			return "", fmt.Errorf("property %s: missing", path)
		}
	}
	switch v := node.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("property %s: unsupported type", path)
	}
}

func (w *wompiAdapter) VerifySignature(body []byte, _ string) error {
	ev, _, err := w.decode(body)
	if err != nil {
		return err
	}
	if len(ev.Signature.Properties) == 0 || ev.Signature.Checksum == "" {
		return domainErrors.ErrMalformedNotification
	}

	var canonical strings.Builder
	for _, prop := range ev.Signature.Properties {
		val, err := resolveProperty(ev.Data, prop)
		if err != nil {
			return domainErrors.ErrMalformedNotification
		}
		canonical.WriteString(val)
	}
	fmt.Fprintf(&canonical, "%d", ev.Timestamp)
	canonical.WriteString(w.creds.EventsSecret)

	got, err := hex.DecodeString(strings.ToLower(ev.Signature.Checksum))
	if err != nil {
		return domainErrors.ErrInvalidSignature
	}
	want := sha256.Sum256([]byte(canonical.String()))
	if !hmac.Equal(got, want[:]) {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

var wompiStates = map[string]attempt.Status{
	"APPROVED": attempt.StatusApproved,
	"DECLINED": attempt.StatusDeclined,
	"VOIDED":   attempt.StatusVoided,
	"ERROR":    attempt.StatusError,
	"PENDING":  attempt.StatusPending,
}

func (w *wompiAdapter) ParseNotification(body []byte) (*ParsedNotification, error) {
	ev, tx, err := w.decode(body)
	if err != nil {
		return nil, err
	}

	status, ok := wompiStates[tx.Status]
	if !ok {
		return nil, domainErrors.ErrMalformedNotification
	}

	cents, err := tx.AmountInCents.Int64()
	if err != nil {
		return nil, domainErrors.ErrMalformedNotification
	}
	amount, err := money.FromMinorUnits(cents, 2, tx.Currency)
	if err != nil {
		return nil, domainErrors.ErrMalformedNotification
	}

	// Wompi does not assign a standalone event id; the dedup key is derived
	// from the transaction, the status it reports, and the event timestamp.
	eventID := fmt.Sprintf("%s:%s:%d", tx.ID, tx.Status, ev.Timestamp)

	return &ParsedNotification{
		EventID:     eventID,
		ExternalRef: tx.ID,
		OrderRef:    tx.Reference,
		Status:      status,
		Amount:      amount,
	}, nil
}

type wompiChargeRequest struct {
	AmountInCents     int64  `json:"amount_in_cents"`
	Currency          string `json:"currency"`
	Reference         string `json:"reference"`
	PaymentMethodType string `json:"payment_method_type"`
	Signature         string `json:"signature"`
}

func (w *wompiAdapter) BuildCharge(a *attempt.PaymentAttempt, o *order.Order) (*ChargeRequest, error) {
	cents, err := a.Amount.MinorUnits(2)
	if err != nil {
		return nil, err
	}

	// Integrity signature: reference + amount + currency + secret.
	canonical := fmt.Sprintf("%s%d%s%s", o.ID, cents, a.Amount.Currency, w.creds.APIKey)
	sig := sha256.Sum256([]byte(canonical))

	methodType := "CARD"
	if a.Method == attempt.MethodBankTransfer {
		methodType = "PSE"
	}

	body, err := json.Marshal(wompiChargeRequest{
		AmountInCents:     cents,
		Currency:          a.Amount.Currency,
		Reference:         o.ID.String(),
		PaymentMethodType: methodType,
		Signature:         hex.EncodeToString(sig[:]),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal wompi charge: %w", err)
	}

	return &ChargeRequest{
		URL: w.creds.BaseURL + "/v1/transactions",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + w.creds.MerchantID,
		},
		Body: body,
	}, nil
}

type wompiChargeResponse struct {
	Data struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		RedirectURL string `json:"redirect_url"`
	} `json:"data"`
}

func (w *wompiAdapter) ParseChargeResponse(body []byte) (*ChargeResult, error) {
	var resp wompiChargeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode wompi charge response: %w", err)
	}
	if resp.Data.ID == "" {
		return nil, domainErrors.ErrGatewayRejected
	}

	status, ok := wompiStates[resp.Data.Status]
	if !ok {
		status = attempt.StatusPending
	}

	return &ChargeResult{
		ExternalRef: resp.Data.ID,
		Status:      status,
		RedirectURL: resp.Data.RedirectURL,
		Raw:         body,
	}, nil
}
