package worker

import (
	"context"
	"time"

	"github.com/gatewire/gatewire/internal/domain/outbox"
	"github.com/gatewire/gatewire/internal/infrastructure/observability"
	"github.com/gatewire/gatewire/internal/service"
	"github.com/rs/zerolog"
)

// HookPublisher publishes one outbox entry to the hook stream.
type HookPublisher interface {
	PublishHookEvent(ctx context.Context, entryID, hook, eventType string, data map[string]any) error
}

// Dispatcher drains the hook outbox into the stream. Entries are marked
// published only after XADD succeeds, so crashes between the two produce
// re-publication, never loss; the consumers absorb the duplicates.
type Dispatcher struct {
	txManager    service.TransactionManager
	outboxRepo   outbox.Repository
	producer     HookPublisher
	metrics      *observability.Metrics
	logger       zerolog.Logger
	pollInterval time.Duration
	batchSize    int
}

// NewDispatcher creates an outbox dispatcher.
func NewDispatcher(
	txManager service.TransactionManager,
	outboxRepo outbox.Repository,
	producer HookPublisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	pollInterval time.Duration,
	batchSize int,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Dispatcher{
		txManager:    txManager,
		outboxRepo:   outboxRepo,
		producer:     producer,
		metrics:      metrics,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := d.DispatchOnce(ctx); err != nil {
			d.logger.Error().Err(err).Msg("outbox dispatch cycle failed")
		}
	}
}

// DispatchOnce publishes one batch of pending entries.
func (d *Dispatcher) DispatchOnce(ctx context.Context) error {
	return d.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := d.outboxRepo.GetPending(txCtx, d.batchSize)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := d.producer.PublishHookEvent(
				ctx, entry.ID.String(), string(entry.Hook), entry.EventType, entry.Payload,
			); err != nil {
				d.logger.Error().Err(err).
					Str("outbox_id", entry.ID.String()).
					Str("hook", string(entry.Hook)).
					Msg("failed to publish hook event")
				if mfErr := d.outboxRepo.MarkFailed(txCtx, entry.ID); mfErr != nil {
				d.logger.Error().Err(mfErr).
					Str("outbox_id", entry.ID.String()).
					Msg("failed to mark outbox entry failed")
			}
				if d.metrics != nil {
					d.metrics.OutboxPublishedTotal.WithLabelValues(string(entry.Hook), "error").Inc()
				}
				continue
			}
			if err := d.outboxRepo.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			if d.metrics != nil {
				d.metrics.OutboxPublishedTotal.WithLabelValues(string(entry.Hook), "success").Inc()
			}
		}
		return nil
	})
}
