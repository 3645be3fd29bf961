package controller

import (
	"time"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	"github.com/gatewire/gatewire/internal/service"
)

// --- Request DTOs ---
// Money travels as decimal strings end to end; float64 JSON numbers are
// rejected by the schema so amounts are never rounded in transit.

// InitiatePaymentRequest holds the input for starting a payment.
type InitiatePaymentRequest struct {
	OrderID  string `json:"order_id" validate:"required,uuid"`
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3"`
	Method   string `json:"method" validate:"required,oneof=card bank_transfer cash_code"`
	Gateway  string `json:"gateway,omitempty" validate:"omitempty,oneof=payu wompi payvalida"`
}

// --- Response DTOs ---

// PaymentResponse represents a payment attempt in API responses.
type PaymentResponse struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Gateway     string    `json:"gateway"`
	ExternalRef *string   `json:"external_ref,omitempty"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Method      string    `json:"method"`
	Status      string    `json:"status"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	CashCode    string    `json:"cash_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OrderPaymentsResponse is the payment history view for one order.
type OrderPaymentsResponse struct {
	OrderID     string             `json:"order_id"`
	OrderStatus string             `json:"order_status"`
	BuyerStatus string             `json:"buyer_status"`
	Attempts    []*PaymentResponse `json:"attempts"`
}

// WebhookResponse acknowledges a webhook delivery. Gateways only look at the
// status code; the body is for humans replaying deliveries by hand.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromAttempt converts a domain attempt to an API response.
func FromAttempt(a *attempt.PaymentAttempt) *PaymentResponse {
	return &PaymentResponse{
		ID:          a.ID.String(),
		OrderID:     a.OrderID.String(),
		Gateway:     string(a.Gateway),
		ExternalRef: a.ExternalRef,
		Amount:      a.Amount.String(),
		Currency:    a.Amount.Currency,
		Method:      string(a.Method),
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// FromOrderPaymentState converts the read model to an API response.
func FromOrderPaymentState(s *service.OrderPaymentState) *OrderPaymentsResponse {
	resp := &OrderPaymentsResponse{
		OrderID:     s.Order.ID.String(),
		OrderStatus: string(s.Order.Status),
		BuyerStatus: string(s.BuyerStatus),
		Attempts:    make([]*PaymentResponse, 0, len(s.Attempts)),
	}
	for _, a := range s.Attempts {
		resp.Attempts = append(resp.Attempts, FromAttempt(a))
	}
	return resp
}
