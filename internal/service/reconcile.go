package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/gatewire/gatewire/internal/domain/notification"
	"github.com/gatewire/gatewire/internal/domain/order"
	"github.com/gatewire/gatewire/internal/domain/outbox"
	"github.com/gatewire/gatewire/internal/gateway"
	"github.com/gatewire/gatewire/pkg/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReconcileResult reports how a single notification delivery was settled.
type ReconcileResult struct {
	NotificationID uuid.UUID
	Outcome        notification.Outcome
	OrderID        uuid.UUID
	OrderStatus    order.Status
	AttemptID      uuid.UUID
	AttemptStatus  attempt.Status
}

// ReconcileService merges verified gateway notifications into the order and
// attempt ledgers. It is the only code path that ever changes an order's
// status from a payment outcome.
type ReconcileService struct {
	registry         *gateway.Registry
	notificationRepo notification.Repository
	attemptRepo      attempt.Repository
	orderRepo        order.Repository
	outboxRepo       outbox.Repository
	txManager        TransactionManager
	retryCfg         retry.Config
	logger           zerolog.Logger
}

// NewReconcileService creates a new ReconcileService.
func NewReconcileService(
	registry *gateway.Registry,
	notificationRepo notification.Repository,
	attemptRepo attempt.Repository,
	orderRepo order.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	retryCfg retry.Config,
	logger zerolog.Logger,
) *ReconcileService {
	return &ReconcileService{
		registry:         registry,
		notificationRepo: notificationRepo,
		attemptRepo:      attemptRepo,
		orderRepo:        orderRepo,
		outboxRepo:       outboxRepo,
		txManager:        txManager,
		retryCfg:         retryCfg,
		logger:           logger,
	}
}

// Reconcile processes one inbound webhook delivery end to end: verify,
// dedup, then apply the state transition in a single transaction. Invalid
// and duplicate deliveries are absorbed here (the webhook HTTP response is
// success either way); only failures that leave the notification retryable
// surface as errors.
func (s *ReconcileService) Reconcile(ctx context.Context, gw attempt.Gateway, body []byte, sigHeader string) (*ReconcileResult, error) {
	adapter, err := s.registry.Adapter(gw)
	if err != nil {
		return nil, err
	}

	// Step 1: verify and parse. Both failure modes take the same rejection
	// path but are logged as distinct conditions for alerting.
	sigErr := adapter.VerifySignature(body, sigHeader)
	var parsed *gateway.ParsedNotification
	if sigErr == nil {
		parsed, sigErr = adapter.ParseNotification(body)
	}
	if sigErr != nil {
		return s.recordRejected(ctx, gw, body, sigHeader, sigErr)
	}

	return s.process(ctx, gw, parsed, body, sigHeader)
}

// ReconcileSync routes a synchronous terminal charge result through the same
// transition path as webhooks. The synthetic event id keeps the delivery in
// the idempotency ledger so a later webhook reporting the same terminal state
// lands as an attempt-level no-op.
func (s *ReconcileService) ReconcileSync(ctx context.Context, gw attempt.Gateway, orderID uuid.UUID, res *gateway.ChargeResult, amount money.Amount) (*ReconcileResult, error) {
	parsed := &gateway.ParsedNotification{
		EventID:     fmt.Sprintf("sync:%s:%s", res.ExternalRef, res.Status),
		ExternalRef: res.ExternalRef,
		OrderRef:    orderID.String(),
		Status:      res.Status,
		Amount:      amount,
	}
	return s.process(ctx, gw, parsed, res.Raw, "")
}

// recordRejected persists the rejected delivery for audit and absorbs the
// error: the gateway still gets a success response so it stops retrying.
// The audit row always carries a synthetic event id. An unverified body must
// never claim the (gateway, event_id) ledger slot of the genuine event, or a
// forged delivery would make the authentic one look like a duplicate.
func (s *ReconcileService) recordRejected(ctx context.Context, gw attempt.Gateway, body []byte, sigHeader string, cause error) (*ReconcileResult, error) {
	eventID := "rejected:" + uuid.NewString()
	n := notification.New(gw, eventID, body, sigHeader)

	_, rowID, err := s.notificationRepo.RecordIfNew(ctx, n)
	if err != nil {
		return nil, err
	}
	if err := s.notificationRepo.MarkOutcome(ctx, rowID, notification.OutcomeInvalidSignature); err != nil {
		return nil, err
	}

	evt := s.logger.Warn().Str("gateway", string(gw)).Str("event_id", eventID)
	if errors.Is(cause, domainErrors.ErrMalformedNotification) {
		evt.Msg("rejected malformed webhook notification")
	} else {
		evt.Msg("rejected webhook notification with invalid signature")
	}

	return &ReconcileResult{NotificationID: rowID, Outcome: notification.OutcomeInvalidSignature}, nil
}

func (s *ReconcileService) process(ctx context.Context, gw attempt.Gateway, parsed *gateway.ParsedNotification, body []byte, sigHeader string) (*ReconcileResult, error) {
	// Step 2: idempotency ledger. The notification row is written before
	// any order/attempt mutation is attempted.
	n := notification.New(gw, parsed.EventID, body, sigHeader)
	n.SignatureValid = true

	isNew, rowID, err := s.notificationRepo.RecordIfNew(ctx, n)
	if err != nil {
		return nil, err
	}
	if !isNew {
		existing, err := s.notificationRepo.GetByID(ctx, rowID)
		if err != nil {
			return nil, err
		}
		if existing.Outcome != notification.OutcomeUnprocessed {
			s.logger.Info().
				Str("gateway", string(gw)).
				Str("event_id", parsed.EventID).
				Msg("duplicate webhook delivery ignored")
			return &ReconcileResult{NotificationID: rowID, Outcome: notification.OutcomeDuplicate}, nil
		}
		// Redelivery of a notification whose processing never completed:
		// safe to run again, steps up to here are idempotent.
	}

	// Steps 3-7 inside one transaction, with a bounded retry on lock
	// timeouts and constraint races.
	result := &ReconcileResult{NotificationID: rowID, Outcome: notification.OutcomeProcessed}
	retryIf := func(err error) bool {
		return errors.Is(err, domainErrors.ErrLockTimeout) || errors.Is(err, domainErrors.ErrPersistenceConflict) || errors.Is(err, domainErrors.ErrDuplicateGatewayRef)
	}
	err = retry.DoIf(ctx, s.retryCfg, retryIf, func() error {
		return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			return s.apply(txCtx, rowID, gw, parsed, body, result)
		})
	})
	if err != nil {
		// The notification stays unprocessed and the background retry
		// loop will pick it up.
		s.logger.Error().Err(err).
			Str("gateway", string(gw)).
			Str("event_id", parsed.EventID).
			Msg("reconciliation aborted, notification left unprocessed")
		return nil, err
	}

	return result, nil
}

// apply runs steps 3-7 of a reconciliation inside the caller's transaction:
// resolve the attempt, lock the order, move both state machines, stamp the
// notification outcome, and queue side-effect hooks.
func (s *ReconcileService) apply(ctx context.Context, notifID uuid.UUID, gw attempt.Gateway, parsed *gateway.ParsedNotification, body []byte, result *ReconcileResult) error {
	// Step 3: resolve the target attempt.
	a, err := s.attemptRepo.GetByGatewayRef(ctx, gw, parsed.ExternalRef)
	switch {
	case err == nil:
	case errors.Is(err, domainErrors.ErrAttemptNotFound):
		// The webhook outran the synchronous charge-creation response.
		a, err = s.createPlaceholder(ctx, gw, parsed)
		if err != nil {
			return err
		}
	default:
		return err
	}

	// Step 4: exclusive access to the parent order until commit/abort.
	o, err := s.orderRepo.GetForUpdate(ctx, a.OrderID)
	if err != nil {
		return err
	}

	// Re-read under the lock; a concurrent reconciliation may have moved
	// the attempt between the lookup above and lock acquisition.
	a, err = s.attemptRepo.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}

	if order.IsTerminal(o.Status) {
		// Late notification for a cancelled/refunded order: consume it as
		// a no-op but leave a trace for the operators.
		s.logger.Warn().
			Str("order_id", o.ID.String()).
			Str("order_status", string(o.Status)).
			Str("event_id", parsed.EventID).
			Msg("notification for order in terminal state ignored")
		result.OrderID = o.ID
		result.OrderStatus = o.Status
		result.AttemptID = a.ID
		result.AttemptStatus = a.Status
		return s.notificationRepo.MarkOutcome(ctx, notifID, notification.OutcomeProcessed)
	}

	// Step 5: attempt status update.
	transitioned, err := s.applyAttemptStatus(ctx, a, parsed, body)
	if err != nil {
		return err
	}

	// Step 6: order state machine.
	if transitioned && a.Status == attempt.StatusApproved {
		if !parsed.Amount.Equal(a.Amount) {
			// Approval reporting a different amount than the attempt was
			// created with is a data inconsistency, never auto-resolved.
			return fmt.Errorf("approved amount %s does not match attempt amount %s: %w",
				parsed.Amount.String(), a.Amount.String(), domainErrors.ErrAmountMismatch)
		}
		if o.Status == order.StatusPending {
			if err := o.Transition(order.StatusConfirmed); err != nil {
				return err
			}
			if err := s.orderRepo.UpdateStatus(ctx, o); err != nil {
				return err
			}
			// Step 8's side effects become durable here, inside the same
			// transaction; delivery happens after commit, at-least-once.
			for _, entry := range outbox.PaymentApprovedEntries(o.ID, a.ID) {
				if err := s.outboxRepo.Insert(ctx, entry); err != nil {
					return err
				}
			}
		}
		// Already confirmed or further along: idempotent no-op.
	}
	if transitioned && (a.Status == attempt.StatusDeclined || a.Status == attempt.StatusError) {
		// The order stays pending; exhaustion-driven cancellation is the
		// retry-policy collaborator's call, it only gets notified.
		entry := outbox.NewEntry(outbox.HookNotification, "payment.declined", o.ID, a.ID, map[string]any{
			"order_id":   o.ID.String(),
			"attempt_id": a.ID.String(),
			"status":     string(a.Status),
		})
		if err := s.outboxRepo.Insert(ctx, entry); err != nil {
			return err
		}
	}

	// Step 7: the notification outcome commits atomically with the above.
	if err := s.notificationRepo.MarkOutcome(ctx, notifID, notification.OutcomeProcessed); err != nil {
		return err
	}

	result.OrderID = o.ID
	result.OrderStatus = o.Status
	result.AttemptID = a.ID
	result.AttemptStatus = a.Status
	return nil
}

// applyAttemptStatus moves the attempt state machine. Re-deliveries and
// out-of-order weaker statuses (a PENDING arriving after APPROVED) are
// no-ops; conflicting terminal statuses abort the transaction.
func (s *ReconcileService) applyAttemptStatus(ctx context.Context, a *attempt.PaymentAttempt, parsed *gateway.ParsedNotification, body []byte) (bool, error) {
	switch {
	case a.Status == parsed.Status:
		return false, nil
	case a.CanTransition(parsed.Status):
		if err := a.Transition(parsed.Status); err != nil {
			return false, err
		}
		a.RawResponse = body
		if err := s.attemptRepo.UpdateStatus(ctx, a); err != nil {
			return false, err
		}
		return true, nil
	case parsed.Status == attempt.StatusPending:
		// Stale PENDING after a terminal state never regresses anything.
		return false, nil
	default:
		return false, domainErrors.NewDomainError(
			"conflicting_notification",
			fmt.Sprintf("notification reports %s but attempt is already %s", parsed.Status, a.Status),
			domainErrors.ErrInvalidStateTransition,
		)
	}
}

// createPlaceholder records the minimal attempt for an out-of-order arrival
// so the notification is not lost.
func (s *ReconcileService) createPlaceholder(ctx context.Context, gw attempt.Gateway, parsed *gateway.ParsedNotification) (*attempt.PaymentAttempt, error) {
	orderID, err := uuid.Parse(parsed.OrderRef)
	if err != nil {
		return nil, domainErrors.NewDomainError(
			"unresolvable_order_ref",
			"notification order reference is not an order id: "+parsed.OrderRef,
			domainErrors.ErrOrderNotFound,
		)
	}

	s.logger.Warn().
		Str("gateway", string(gw)).
		Str("external_ref", parsed.ExternalRef).
		Str("order_id", orderID.String()).
		Msg("out-of-order webhook arrival, creating placeholder attempt")

	a, err := attempt.NewPlaceholder(orderID, gw, parsed.ExternalRef, parsed.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.attemptRepo.Create(ctx, a); err != nil {
		if errors.Is(err, domainErrors.ErrDuplicateGatewayRef) {
			// Lost the race against the synchronous path; use its row.
			return s.attemptRepo.GetByGatewayRef(ctx, gw, parsed.ExternalRef)
		}
		return nil, err
	}
	return a, nil
}
