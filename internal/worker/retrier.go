package worker

import (
	"context"
	"time"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	"github.com/gatewire/gatewire/internal/domain/notification"
	"github.com/rs/zerolog"
)

// reconcileFn re-runs a delivery through the reconciliation engine. A
// function type rather than the service itself so tests can observe calls
// without standing up the full engine.
type reconcileFn func(ctx context.Context, gw attempt.Gateway, body []byte, sigHeader string) error

// NotificationRetrier re-drives notifications whose processing never
// completed: a crash after the notification row was written, or a
// reconciliation that kept losing lock races. Deliveries are re-run through
// the normal path, which treats the existing unprocessed row as a resume.
type NotificationRetrier struct {
	notificationRepo notification.Repository
	reconcile        reconcileFn
	logger           zerolog.Logger
	age              time.Duration
	pollInterval     time.Duration
	batchSize        int
}

// NewNotificationRetrier creates a retrier over the given reconcile function.
func NewNotificationRetrier(
	notificationRepo notification.Repository,
	reconcile func(ctx context.Context, gw attempt.Gateway, body []byte, sigHeader string) error,
	logger zerolog.Logger,
	age, pollInterval time.Duration,
	batchSize int,
) *NotificationRetrier {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &NotificationRetrier{
		notificationRepo: notificationRepo,
		reconcile:        reconcile,
		logger:           logger,
		age:              age,
		pollInterval:     pollInterval,
		batchSize:        batchSize,
	}
}

// Run polls until the context is cancelled.
func (r *NotificationRetrier) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := r.RetryOnce(ctx); err != nil {
			r.logger.Error().Err(err).Msg("notification retry cycle failed")
		}
	}
}

// RetryOnce re-drives one batch of stale unprocessed notifications.
func (r *NotificationRetrier) RetryOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-r.age)
	stale, err := r.notificationRepo.ListUnprocessed(ctx, cutoff, r.batchSize)
	if err != nil {
		return err
	}

	for _, n := range stale {
		r.logger.Info().
			Str("notification_id", n.ID.String()).
			Str("gateway", string(n.Gateway)).
			Str("event_id", n.EventID).
			Time("received_at", n.ReceivedAt).
			Msg("retrying stale unprocessed notification")

		if err := r.reconcile(ctx, n.Gateway, n.RawPayload, n.Signature); err != nil {
			// Leave it for the next cycle; the row stays unprocessed.
			r.logger.Warn().Err(err).
				Str("notification_id", n.ID.String()).
				Msg("stale notification retry failed")
		}
	}
	return nil
}
