package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatewire/gatewire/internal/domain/outbox"
	"github.com/gatewire/gatewire/internal/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	published []string
	failFor   map[string]error
}

func (s *stubPublisher) PublishHookEvent(ctx context.Context, entryID, hook, eventType string, data map[string]any) error {
	if err, ok := s.failFor[entryID]; ok {
		return err
	}
	s.published = append(s.published, entryID)
	return nil
}

func TestDispatcher_PublishesPendingEntries(t *testing.T) {
	repo := testutil.NewMockOutboxRepository()
	pub := &stubPublisher{}
	d := NewDispatcher(&testutil.MockTxManager{}, repo, pub, nil, zerolog.Nop(), time.Second, 10)

	orderID, attemptID := uuid.New(), uuid.New()
	for _, e := range outbox.PaymentApprovedEntries(orderID, attemptID) {
		require.NoError(t, repo.Insert(context.Background(), e))
	}

	require.NoError(t, d.DispatchOnce(context.Background()))

	assert.Len(t, pub.published, 3)
	pending, err := repo.GetPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatcher_FailedPublishStaysPending(t *testing.T) {
	repo := testutil.NewMockOutboxRepository()
	entry := outbox.NewEntry(outbox.HookStock, "payment.approved", uuid.New(), uuid.New(), nil)
	require.NoError(t, repo.Insert(context.Background(), entry))

	pub := &stubPublisher{failFor: map[string]error{entry.ID.String(): errors.New("stream down")}}
	d := NewDispatcher(&testutil.MockTxManager{}, repo, pub, nil, zerolog.Nop(), time.Second, 10)

	require.NoError(t, d.DispatchOnce(context.Background()))

	// Entry is still pending and its retry count moved.
	pending, err := repo.GetPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
}

func TestDispatcher_EmptyOutboxIsQuiet(t *testing.T) {
	d := NewDispatcher(&testutil.MockTxManager{}, testutil.NewMockOutboxRepository(), &stubPublisher{}, nil, zerolog.Nop(), time.Second, 10)
	assert.NoError(t, d.DispatchOnce(context.Background()))
}

func TestDispatcher_MarkFailedErrorDoesNotHaltBatch(t *testing.T) {
	repo := testutil.NewMockOutboxRepository()
	bad := outbox.NewEntry(outbox.HookStock, "payment.approved", uuid.New(), uuid.New(), nil)
	good := outbox.NewEntry(outbox.HookCommission, "payment.approved", uuid.New(), uuid.New(), nil)
	require.NoError(t, repo.Insert(context.Background(), bad))
	require.NoError(t, repo.Insert(context.Background(), good))

	pub := &stubPublisher{failFor: map[string]error{bad.ID.String(): errors.New("stream down")}}
	repo.MarkFailedFunc = func(ctx context.Context, id uuid.UUID) error {
		return errors.New("db down")
	}
	d := NewDispatcher(&testutil.MockTxManager{}, repo, pub, nil, zerolog.Nop(), time.Second, 10)

	// The bookkeeping failure on the bad entry is logged and absorbed; the
	// rest of the batch still publishes.
	require.NoError(t, d.DispatchOnce(context.Background()))
	assert.Equal(t, []string{good.ID.String()}, pub.published)
}
