package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/gatewire/gatewire/internal/domain/order"
	"github.com/gatewire/gatewire/internal/gateway"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InitiateRequest is a buyer-driven request to start a payment for an order.
// Gateway is optional; when empty it is derived from the method.
type InitiateRequest struct {
	OrderID uuid.UUID
	Amount  money.Amount
	Method  attempt.Method
	Gateway attempt.Gateway
}

// InitiateResult is what the buyer-facing API returns for a new charge.
type InitiateResult struct {
	AttemptID   uuid.UUID
	Status      attempt.Status
	OrderStatus order.Status
	RedirectURL string
	CashCode    string
}

// InitiateService starts payment attempts against the gateways. Terminal
// synchronous results are routed through the reconciler so webhook and
// synchronous outcomes share one transition path.
type InitiateService struct {
	registry    *gateway.Registry
	orderRepo   order.Repository
	attemptRepo attempt.Repository
	reconciler  *ReconcileService
	logger      zerolog.Logger
}

// NewInitiateService creates a new InitiateService.
func NewInitiateService(
	registry *gateway.Registry,
	orderRepo order.Repository,
	attemptRepo attempt.Repository,
	reconciler *ReconcileService,
	logger zerolog.Logger,
) *InitiateService {
	return &InitiateService{
		registry:    registry,
		orderRepo:   orderRepo,
		attemptRepo: attemptRepo,
		reconciler:  reconciler,
		logger:      logger,
	}
}

// defaultGateway picks the gateway that serves a payment method when the
// caller did not choose one.
func defaultGateway(m attempt.Method) (attempt.Gateway, error) {
	switch m {
	case attempt.MethodCard:
		return attempt.GatewayPayU, nil
	case attempt.MethodBankTransfer:
		return attempt.GatewayWompi, nil
	case attempt.MethodCashCode:
		return attempt.GatewayPayValida, nil
	}
	return "", domainErrors.NewValidationError("method", "unsupported payment method: "+string(m))
}

// Initiate validates the request against the order, persists the attempt, and
// submits the charge. A gateway timeout is not a failure: the attempt stays
// pending and the webhook (or the background poller) settles it later.
func (s *InitiateService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	o, err := s.orderRepo.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPending {
		return nil, domainErrors.NewDomainError(
			"order_not_payable",
			"order is "+string(o.Status)+", only pending orders accept payments",
			domainErrors.ErrInvalidStateTransition,
		)
	}
	if !req.Amount.Equal(o.Total) {
		return nil, fmt.Errorf("requested amount %s does not match order total %s: %w",
			req.Amount.String(), o.Total.String(), domainErrors.ErrAmountMismatch)
	}

	gw := req.Gateway
	if gw == "" {
		if gw, err = defaultGateway(req.Method); err != nil {
			return nil, err
		}
	}
	adapter, err := s.registry.Adapter(gw)
	if err != nil {
		return nil, err
	}

	a, err := attempt.New(o.ID, gw, req.Amount, req.Method)
	if err != nil {
		return nil, err
	}
	if err := s.attemptRepo.Create(ctx, a); err != nil {
		return nil, err
	}

	chargeReq, err := adapter.BuildCharge(a, o)
	if err != nil {
		return nil, err
	}

	respBody, err := s.registry.Charge(ctx, gw, chargeReq)
	if err != nil {
		return s.handleChargeError(ctx, a, o, err)
	}

	res, err := adapter.ParseChargeResponse(respBody)
	if err != nil {
		return s.handleChargeError(ctx, a, o, err)
	}

	if err := s.attemptRepo.SetExternalRef(ctx, a.ID, res.ExternalRef); err != nil {
		return nil, err
	}
	a.ExternalRef = &res.ExternalRef

	if res.Status == attempt.StatusPending {
		if err := a.Transition(attempt.StatusPending); err != nil {
			return nil, err
		}
		a.RawResponse = res.Raw
		if err := s.attemptRepo.UpdateStatus(ctx, a); err != nil {
			return nil, err
		}
		return &InitiateResult{
			AttemptID:   a.ID,
			Status:      a.Status,
			OrderStatus: o.Status,
			RedirectURL: res.RedirectURL,
			CashCode:    res.CashCode,
		}, nil
	}

	// Terminal synchronous result: same path as a webhook would take.
	rec, err := s.reconciler.ReconcileSync(ctx, gw, o.ID, res, a.Amount)
	if err != nil {
		return nil, err
	}
	return &InitiateResult{
		AttemptID:   rec.AttemptID,
		Status:      rec.AttemptStatus,
		OrderStatus: rec.OrderStatus,
		RedirectURL: res.RedirectURL,
		CashCode:    res.CashCode,
	}, nil
}

// handleChargeError settles the attempt after a failed outbound call. On
// timeout the attempt is left pending because the gateway may have accepted
// the charge; everything else marks the attempt errored.
func (s *InitiateService) handleChargeError(ctx context.Context, a *attempt.PaymentAttempt, o *order.Order, cause error) (*InitiateResult, error) {
	if errors.Is(cause, domainErrors.ErrGatewayTimeout) {
		s.logger.Warn().
			Str("attempt_id", a.ID.String()).
			Str("gateway", string(a.Gateway)).
			Msg("charge call timed out, attempt left pending for webhook reconciliation")
		if err := a.Transition(attempt.StatusPending); err != nil {
			return nil, err
		}
		if err := s.attemptRepo.UpdateStatus(ctx, a); err != nil {
			return nil, err
		}
		return &InitiateResult{
			AttemptID:   a.ID,
			Status:      a.Status,
			OrderStatus: o.Status,
		}, nil
	}

	if err := a.Transition(attempt.StatusError); err != nil {
		return nil, err
	}
	if err := s.attemptRepo.UpdateStatus(ctx, a); err != nil {
		return nil, err
	}
	return nil, cause
}
