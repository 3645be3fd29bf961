package testutil

import (
	"context"
	"time"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/gatewire/gatewire/internal/domain/order"
	"github.com/gatewire/gatewire/internal/gateway"
	"github.com/google/uuid"
)

// MustAmount parses an amount string or panics. Test-only.
func MustAmount(value, currency string) money.Amount {
	amt, err := money.FromString(value, currency)
	if err != nil {
		panic(err)
	}
	return amt
}

// NewTestOrder creates a pending order with the given total.
func NewTestOrder(total, currency string) *order.Order {
	now := time.Now()
	return &order.Order{
		ID:        uuid.New(),
		Status:    order.StatusPending,
		Total:     MustAmount(total, currency),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestAttempt creates a pending attempt for an order, already carrying a
// gateway reference.
func NewTestAttempt(orderID uuid.UUID, gw attempt.Gateway, externalRef, total, currency string) *attempt.PaymentAttempt {
	a, err := attempt.New(orderID, gw, MustAmount(total, currency), attempt.MethodCard)
	if err != nil {
		panic(err)
	}
	a.ExternalRef = &externalRef
	a.Status = attempt.StatusPending
	return a
}

// StubCharger returns a canned response or error for every outbound charge.
type StubCharger struct {
	Response []byte
	Err      error
	Requests []*gateway.ChargeRequest

	DoFunc func(ctx context.Context, req *gateway.ChargeRequest) ([]byte, error)
}

func (s *StubCharger) Do(ctx context.Context, req *gateway.ChargeRequest) ([]byte, error) {
	s.Requests = append(s.Requests, req)
	if s.DoFunc != nil {
		return s.DoFunc(ctx, req)
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Response, nil
}
