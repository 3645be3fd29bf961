package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/gatewire/gatewire/internal/domain/order"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payvalidaTestCreds = Credentials{
	MerchantID: "tienda-123",
	APIKey:     "payvalida_shared_secret",
	BaseURL:    "https://api.payvalida.test",
}

// fixtureAttemptAndOrder builds a matching attempt/order pair for charge tests.
func fixtureAttemptAndOrder(t *testing.T, gw attempt.Gateway, method attempt.Method, total string) (*attempt.PaymentAttempt, *order.Order) {
	t.Helper()
	amount, err := money.FromString(total, "COP")
	require.NoError(t, err)
	o := &order.Order{ID: uuid.New(), Status: order.StatusPending, Total: amount}
	a, err := attempt.New(o.ID, gw, amount, method)
	require.NoError(t, err)
	return a, o
}

func payvalidaSign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(payvalidaTestCreds.APIKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPayValida_VerifySignature_Valid(t *testing.T) {
	a := NewPayValida(payvalidaTestCreds)
	body := []byte(`{"event_id":"pv-evt-1","cash_code":"98431","order":"o-1","amount":"80000.00","currency":"COP","state":"PAID"}`)
	assert.NoError(t, a.VerifySignature(body, payvalidaSign(body)))
}

func TestPayValida_VerifySignature_Tampered(t *testing.T) {
	a := NewPayValida(payvalidaTestCreds)
	body := []byte(`{"event_id":"pv-evt-1","cash_code":"98431","order":"o-1","amount":"80000.00","currency":"COP","state":"PAID"}`)
	sig := payvalidaSign(body)

	tampered := []byte(`{"event_id":"pv-evt-1","cash_code":"98431","order":"o-1","amount":"1.00","currency":"COP","state":"PAID"}`)
	err := a.VerifySignature(tampered, sig)
	assert.True(t, errors.Is(err, domainErrors.ErrInvalidSignature))
}

func TestPayValida_VerifySignature_MissingHeader(t *testing.T) {
	a := NewPayValida(payvalidaTestCreds)
	err := a.VerifySignature([]byte(`{}`), "")
	assert.True(t, errors.Is(err, domainErrors.ErrMalformedNotification))
}

func TestPayValida_ParseNotification(t *testing.T) {
	a := NewPayValida(payvalidaTestCreds)
	body := []byte(`{"event_id":"pv-evt-1","cash_code":"98431","order":"6a1b2c3d-0000-0000-0000-000000000001","amount":"80000.00","currency":"COP","state":"PAID"}`)

	n, err := a.ParseNotification(body)
	require.NoError(t, err)
	assert.Equal(t, "pv-evt-1", n.EventID)
	assert.Equal(t, "98431", n.ExternalRef)
	assert.Equal(t, attempt.StatusApproved, n.Status)
	assert.Equal(t, "80000.00", n.Amount.StringFixed(2))
}

func TestPayValida_ParseNotification_UnknownState(t *testing.T) {
	a := NewPayValida(payvalidaTestCreds)
	body := []byte(`{"event_id":"pv-evt-1","cash_code":"98431","order":"o-1","amount":"80000.00","currency":"COP","state":"WEIRD"}`)
	_, err := a.ParseNotification(body)
	assert.True(t, errors.Is(err, domainErrors.ErrMalformedNotification))
}

func TestPayValida_BuildCharge_CashOnly(t *testing.T) {
	a := NewPayValida(payvalidaTestCreds)

	att, ord := fixtureAttemptAndOrder(t, attempt.GatewayPayValida, attempt.MethodCashCode, "80000")
	req, err := a.BuildCharge(att, ord)
	require.NoError(t, err)
	assert.Equal(t, payvalidaTestCreds.BaseURL+"/v2/cash/codes", req.URL)
	assert.Contains(t, string(req.Body), `"checksum"`)

	cardAtt, cardOrd := fixtureAttemptAndOrder(t, attempt.GatewayPayValida, attempt.MethodCard, "80000")
	_, err = a.BuildCharge(cardAtt, cardOrd)
	assert.Error(t, err)
}

func TestPayValida_ParseChargeResponse(t *testing.T) {
	a := NewPayValida(payvalidaTestCreds)

	res, err := a.ParseChargeResponse([]byte(`{"cash_code":"98431","state":"PENDING","expires_at":"2026-09-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "98431", res.ExternalRef)
	assert.Equal(t, "98431", res.CashCode)
	assert.Equal(t, attempt.StatusPending, res.Status)

	_, err = a.ParseChargeResponse([]byte(`{}`))
	assert.True(t, errors.Is(err, domainErrors.ErrGatewayRejected))
}
