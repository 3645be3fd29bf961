package service

import (
	"context"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	"github.com/gatewire/gatewire/internal/domain/order"
	"github.com/google/uuid"
)

// BuyerStatus is the coarse payment state shown to buyers. It is derived
// from committed rows only; in-flight reconciliations are invisible until
// their transaction commits.
type BuyerStatus string

const (
	BuyerStatusAwaitingPayment BuyerStatus = "awaiting_payment"
	BuyerStatusPaymentPending  BuyerStatus = "payment_pending"
	BuyerStatusPaid            BuyerStatus = "paid"
	BuyerStatusPaymentFailed   BuyerStatus = "payment_failed"
	BuyerStatusClosed          BuyerStatus = "closed"
)

// OrderPaymentState is the read model for one order's payment history.
type OrderPaymentState struct {
	Order       *order.Order
	Attempts    []*attempt.PaymentAttempt
	BuyerStatus BuyerStatus
}

// StatusService serves payment state queries. It never mutates anything.
type StatusService struct {
	orderRepo   order.Repository
	attemptRepo attempt.Repository
}

// NewStatusService creates a new StatusService.
func NewStatusService(orderRepo order.Repository, attemptRepo attempt.Repository) *StatusService {
	return &StatusService{orderRepo: orderRepo, attemptRepo: attemptRepo}
}

// GetAttempt returns one attempt by id.
func (s *StatusService) GetAttempt(ctx context.Context, id uuid.UUID) (*attempt.PaymentAttempt, error) {
	return s.attemptRepo.GetByID(ctx, id)
}

// GetOrderPaymentState returns the order, its attempts oldest first, and the
// derived buyer-facing status.
func (s *StatusService) GetOrderPaymentState(ctx context.Context, orderID uuid.UUID) (*OrderPaymentState, error) {
	o, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attemptRepo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderPaymentState{
		Order:       o,
		Attempts:    attempts,
		BuyerStatus: deriveBuyerStatus(o, attempts),
	}, nil
}

// deriveBuyerStatus folds the order status and attempt history into the
// coarse buyer view. Order status wins; attempts only refine pending.
func deriveBuyerStatus(o *order.Order, attempts []*attempt.PaymentAttempt) BuyerStatus {
	switch o.Status {
	case order.StatusCancelled, order.StatusRefunded:
		return BuyerStatusClosed
	case order.StatusPending:
	default:
		return BuyerStatusPaid
	}

	hasLive := false
	hasFailed := false
	for _, a := range attempts {
		switch a.Status {
		case attempt.StatusCreated, attempt.StatusPending:
			hasLive = true
		case attempt.StatusDeclined, attempt.StatusError, attempt.StatusVoided:
			hasFailed = true
		}
	}
	switch {
	case hasLive:
		return BuyerStatusPaymentPending
	case hasFailed:
		return BuyerStatusPaymentFailed
	}
	return BuyerStatusAwaitingPayment
}
