package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/notification"
	"github.com/gatewire/gatewire/internal/domain/order"
	"github.com/gatewire/gatewire/internal/domain/outbox"
	"github.com/gatewire/gatewire/internal/gateway"
	"github.com/gatewire/gatewire/internal/testutil"
	"github.com/gatewire/gatewire/pkg/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "pv-secret"

type reconcileFixture struct {
	svc           *ReconcileService
	orders        *testutil.MockOrderRepository
	attempts      *testutil.MockAttemptRepository
	notifications *testutil.MockNotificationRepository
	outbox        *testutil.MockOutboxRepository
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	f := &reconcileFixture{
		orders:        testutil.NewMockOrderRepository(),
		attempts:      testutil.NewMockAttemptRepository(),
		notifications: testutil.NewMockNotificationRepository(),
		outbox:        testutil.NewMockOutboxRepository(),
	}
	registry := gateway.NewRegistry(&testutil.StubCharger{},
		gateway.NewPayValida(gateway.Credentials{MerchantID: "m-1", APIKey: testAPIKey}),
	)
	cfg := retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	f.svc = NewReconcileService(registry, f.notifications, f.attempts, f.orders,
		f.outbox, &testutil.MockTxManager{}, cfg, zerolog.Nop())
	return f
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testAPIKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookBody(t *testing.T, eventID, cashCode, orderRef, amount, state string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"event_id":  eventID,
		"cash_code": cashCode,
		"order":     orderRef,
		"amount":    amount,
		"currency":  "COP",
		"state":     state,
	})
	require.NoError(t, err)
	return body
}

func TestReconcile_ApprovedConfirmsOrder(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("129000", "COP")
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-100", "129000", "COP")
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-1", "CC-100", o.ID.String(), "129000", "PAID")
	res, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody(body))
	require.NoError(t, err)

	assert.Equal(t, notification.OutcomeProcessed, res.Outcome)
	assert.Equal(t, order.StatusConfirmed, res.OrderStatus)
	assert.Equal(t, attempt.StatusApproved, res.AttemptStatus)

	stored, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, stored.Status)

	// The approval fan-out queues all three hooks.
	require.Len(t, f.outbox.Entries, 3)
	hooks := map[outbox.Hook]bool{}
	for _, e := range f.outbox.Entries {
		hooks[e.Hook] = true
		assert.Equal(t, "payment.approved", e.EventType)
		assert.Equal(t, o.ID, e.OrderID)
	}
	assert.True(t, hooks[outbox.HookCommission])
	assert.True(t, hooks[outbox.HookStock])
	assert.True(t, hooks[outbox.HookNotification])
}

func TestReconcile_DuplicateDeliveryIsIgnored(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("50000", "COP")
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-200", "50000", "COP")
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-dup", "CC-200", o.ID.String(), "50000", "PAID")
	sig := signBody(body)

	first, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, sig)
	require.NoError(t, err)
	require.Equal(t, notification.OutcomeProcessed, first.Outcome)

	second, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, sig)
	require.NoError(t, err)
	assert.Equal(t, notification.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.NotificationID, second.NotificationID)

	// No doubled side effects.
	assert.Len(t, f.outbox.Entries, 3)
}

func TestReconcile_InvalidSignatureIsAbsorbed(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("50000", "COP")
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-300", "50000", "COP")
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-bad", "CC-300", o.ID.String(), "50000", "PAID")
	res, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody([]byte("other")))
	require.NoError(t, err)
	assert.Equal(t, notification.OutcomeInvalidSignature, res.Outcome)

	// Nothing moved.
	stored, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
	storedAttempt, err := f.attempts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusPending, storedAttempt.Status)
}

func TestReconcile_OutOfOrderArrivalCreatesPlaceholder(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("80000", "COP")
	f.orders.Seed(o)
	// No attempt seeded: the webhook beat the charge-creation response.

	body := webhookBody(t, "evt-early", "CC-400", o.ID.String(), "80000", "PAID")
	res, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody(body))
	require.NoError(t, err)

	assert.Equal(t, notification.OutcomeProcessed, res.Outcome)
	assert.Equal(t, order.StatusConfirmed, res.OrderStatus)

	placeholder, err := f.attempts.GetByGatewayRef(context.Background(), attempt.GatewayPayValida, "CC-400")
	require.NoError(t, err)
	assert.Equal(t, o.ID, placeholder.OrderID)
	assert.Equal(t, attempt.StatusApproved, placeholder.Status)
}

func TestReconcile_StalePendingAfterTerminalIsNoOp(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("60000", "COP")
	o.Status = order.StatusConfirmed
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-500", "60000", "COP")
	a.Status = attempt.StatusApproved
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-stale", "CC-500", o.ID.String(), "60000", "PENDING")
	res, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody(body))
	require.NoError(t, err)

	assert.Equal(t, notification.OutcomeProcessed, res.Outcome)
	assert.Equal(t, attempt.StatusApproved, res.AttemptStatus)
	assert.Equal(t, order.StatusConfirmed, res.OrderStatus)
	assert.Empty(t, f.outbox.Entries)
}

func TestReconcile_ConflictingTerminalStatusFails(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("60000", "COP")
	o.Status = order.StatusConfirmed
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-600", "60000", "COP")
	a.Status = attempt.StatusApproved
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-conflict", "CC-600", o.ID.String(), "60000", "CANCELLED")
	_, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody(body))
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)

	// The notification stays unprocessed for investigation.
	n, err := f.notifications.ListUnprocessed(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, n, 1)
	assert.Equal(t, "evt-conflict", n[0].EventID)
}

func TestReconcile_TerminalOrderAbsorbsLateNotification(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("70000", "COP")
	o.Status = order.StatusCancelled
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-700", "70000", "COP")
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-late", "CC-700", o.ID.String(), "70000", "PAID")
	res, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody(body))
	require.NoError(t, err)

	assert.Equal(t, notification.OutcomeProcessed, res.Outcome)
	assert.Equal(t, order.StatusCancelled, res.OrderStatus)
	// The attempt was not touched either.
	assert.Equal(t, attempt.StatusPending, res.AttemptStatus)
	assert.Empty(t, f.outbox.Entries)
}

func TestReconcile_AmountMismatchAbortsApproval(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("90000", "COP")
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-800", "90000", "COP")
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-amount", "CC-800", o.ID.String(), "89000", "PAID")
	_, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody(body))
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrAmountMismatch)

	stored, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
}

func TestReconcile_DeclinedQueuesNotificationHookOnly(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("40000", "COP")
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-900", "40000", "COP")
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-expired", "CC-900", o.ID.String(), "40000", "EXPIRED")
	res, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody(body))
	require.NoError(t, err)

	assert.Equal(t, attempt.StatusError, res.AttemptStatus)
	// The order stays pending for another attempt.
	assert.Equal(t, order.StatusPending, res.OrderStatus)

	require.Len(t, f.outbox.Entries, 1)
	assert.Equal(t, outbox.HookNotification, f.outbox.Entries[0].Hook)
	assert.Equal(t, "payment.declined", f.outbox.Entries[0].EventType)
}

func TestReconcile_RetriesOnLockTimeout(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("30000", "COP")
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-1000", "30000", "COP")
	f.attempts.Seed(a)

	calls := 0
	f.orders.GetForUpdateFunc = func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
		calls++
		if calls == 1 {
			return nil, domainErrors.ErrLockTimeout
		}
		f.orders.GetForUpdateFunc = nil
		return f.orders.GetForUpdate(ctx, id)
	}

	body := webhookBody(t, "evt-lock", "CC-1000", o.ID.String(), "30000", "PAID")
	res, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody(body))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, order.StatusConfirmed, res.OrderStatus)
}

func TestReconcileSync_SharesTransitionPathWithWebhooks(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("20000", "COP")
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-1100", "20000", "COP")
	f.attempts.Seed(a)

	res := &gateway.ChargeResult{ExternalRef: "CC-1100", Status: attempt.StatusApproved, Raw: []byte(`{}`)}
	rec, err := f.svc.ReconcileSync(context.Background(), attempt.GatewayPayValida, o.ID, res, a.Amount)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, rec.OrderStatus)
	assert.Equal(t, attempt.StatusApproved, rec.AttemptStatus)

	// A later webhook reporting the same terminal state is a no-op, not a
	// conflict.
	body := webhookBody(t, "evt-after-sync", "CC-1100", o.ID.String(), "20000", "PAID")
	after, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody(body))
	require.NoError(t, err)
	assert.Equal(t, notification.OutcomeProcessed, after.Outcome)
	assert.Equal(t, attempt.StatusApproved, after.AttemptStatus)
	assert.Len(t, f.outbox.Entries, 3)
}

func TestReconcile_UnknownGateway(t *testing.T) {
	f := newReconcileFixture(t)
	_, err := f.svc.Reconcile(context.Background(), attempt.Gateway("stripe"), []byte(`{}`), "sig")
	assert.ErrorIs(t, err, domainErrors.ErrUnknownGateway)
}

func TestReconcile_ReprocessesUnfinishedNotification(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("10000", "COP")
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-1200", "10000", "COP")
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-crash", "CC-1200", o.ID.String(), "10000", "PAID")
	sig := signBody(body)

	// First delivery crashes mid-transaction: the notification row exists
	// but stays unprocessed.
	boom := fmt.Errorf("connection reset")
	f.orders.GetForUpdateFunc = func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
		return nil, boom
	}
	_, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, sig)
	require.ErrorIs(t, err, boom)

	// Redelivery of the same event completes the work.
	f.orders.GetForUpdateFunc = nil
	res, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, sig)
	require.NoError(t, err)
	assert.Equal(t, notification.OutcomeProcessed, res.Outcome)
	assert.Equal(t, order.StatusConfirmed, res.OrderStatus)
}

func TestReconcile_ForgedDeliveryDoesNotBlockGenuineEvent(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("25000", "COP")
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-1300", "25000", "COP")
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-forged", "CC-1300", o.ID.String(), "25000", "PAID")

	// A forged delivery of the event arrives first, with a bad signature but
	// a perfectly parseable body.
	forged, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody([]byte("forged")))
	require.NoError(t, err)
	require.Equal(t, notification.OutcomeInvalidSignature, forged.Outcome)

	// The genuine delivery must still process: the rejected row must not
	// have claimed the event's ledger slot.
	genuine, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, signBody(body))
	require.NoError(t, err)
	assert.Equal(t, notification.OutcomeProcessed, genuine.Outcome)
	assert.NotEqual(t, forged.NotificationID, genuine.NotificationID)
	assert.Equal(t, order.StatusConfirmed, genuine.OrderStatus)

	stored, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, stored.Status)
	assert.Len(t, f.outbox.Entries, 3)
}

func TestReconcile_RaceLoserAbsorbsAlreadyStampedOutcome(t *testing.T) {
	f := newReconcileFixture(t)
	o := testutil.NewTestOrder("35000", "COP")
	f.orders.Seed(o)
	a := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-1400", "35000", "COP")
	f.attempts.Seed(a)

	body := webhookBody(t, "evt-race", "CC-1400", o.ID.String(), "35000", "PAID")
	sig := signBody(body)

	// The winning delivery completes normally.
	winner, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, sig)
	require.NoError(t, err)
	require.Equal(t, notification.OutcomeProcessed, winner.Outcome)

	// The losing delivery read the row before the winner stamped it, so it
	// still observes unprocessed and runs the full apply path. Stamping the
	// already-final outcome must land as success, not an error.
	f.notifications.GetByIDFunc = func(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
		f.notifications.GetByIDFunc = nil
		n, err := f.notifications.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		n.Outcome = notification.OutcomeUnprocessed
		return n, nil
	}
	loser, err := f.svc.Reconcile(context.Background(), attempt.GatewayPayValida, body, sig)
	require.NoError(t, err)
	assert.Equal(t, notification.OutcomeProcessed, loser.Outcome)
	assert.Equal(t, winner.NotificationID, loser.NotificationID)

	// No doubled side effects.
	assert.Len(t, f.outbox.Entries, 3)
}

// serialTxManager serializes whole transactions the way the database row
// lock does, so two reconciliations can be driven from concurrent goroutines
// against the in-memory mocks.
type serialTxManager struct{ mu sync.Mutex }

func (m *serialTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx)
}

func TestReconcile_ConcurrentDeliveriesSameOrder(t *testing.T) {
	f := newReconcileFixture(t)
	registry := gateway.NewRegistry(&testutil.StubCharger{},
		gateway.NewPayValida(gateway.Credentials{MerchantID: "m-1", APIKey: testAPIKey}),
	)
	cfg := retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	svc := NewReconcileService(registry, f.notifications, f.attempts, f.orders,
		f.outbox, &serialTxManager{}, cfg, zerolog.Nop())

	o := testutil.NewTestOrder("45000", "COP")
	f.orders.Seed(o)
	a1 := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-1500", "45000", "COP")
	f.attempts.Seed(a1)
	a2 := testutil.NewTestAttempt(o.ID, attempt.GatewayPayValida, "CC-1600", "45000", "COP")
	f.attempts.Seed(a2)

	bodyA := webhookBody(t, "evt-conc-a", "CC-1500", o.ID.String(), "45000", "PAID")
	bodyB := webhookBody(t, "evt-conc-b", "CC-1600", o.ID.String(), "45000", "PAID")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, body := range [][]byte{bodyA, bodyB} {
		wg.Add(1)
		go func(b []byte) {
			defer wg.Done()
			_, err := svc.Reconcile(context.Background(), attempt.GatewayPayValida, b, signBody(b))
			errs <- err
		}(body)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Whichever approval lands second sees the order already confirmed and
	// becomes a no-op: exactly one confirmation, no doubled fan-out.
	stored, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, stored.Status)
	assert.Len(t, f.outbox.Entries, 3)

	pending, err := f.notifications.ListUnprocessed(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
