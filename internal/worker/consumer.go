package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gatewire/gatewire/internal/domain/outbox"
	"github.com/gatewire/gatewire/internal/infrastructure/observability"
	infraRedis "github.com/gatewire/gatewire/internal/infrastructure/redis"
	"github.com/gatewire/gatewire/pkg/retry"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// HookEvent is one side-effect trigger as read off the stream.
type HookEvent struct {
	EntryID   string
	Hook      outbox.Hook
	EventType string
	Payload   map[string]any
}

// HookHandler executes one downstream side effect. Handlers must be
// idempotent per (order_id, attempt_id): the stream delivers at least once.
type HookHandler interface {
	Handle(ctx context.Context, evt HookEvent) error
}

// HookHandlerFunc adapts a function to HookHandler.
type HookHandlerFunc func(ctx context.Context, evt HookEvent) error

func (f HookHandlerFunc) Handle(ctx context.Context, evt HookEvent) error { return f(ctx, evt) }

// StreamSource is the stream-consuming surface the consumer needs.
type StreamSource interface {
	Read(ctx context.Context) ([]goredis.XStream, error)
	Ack(ctx context.Context, messageID string) error
}

// DeadLetterSink parks messages that exhausted their retries.
type DeadLetterSink interface {
	PublishToDLQ(ctx context.Context, entryID string, reason string, originalData map[string]any) error
}

// HookConsumer reads hook events off the stream and fans them out to the
// registered handlers. A failed handler is retried with backoff; exhaustion
// sends the message to the DLQ and acks it so the stream keeps moving.
type HookConsumer struct {
	source   StreamSource
	dlq      DeadLetterSink
	handlers map[outbox.Hook]HookHandler
	retryCfg retry.Config
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewHookConsumer creates a consumer over the given source and handlers.
func NewHookConsumer(
	source StreamSource,
	dlq DeadLetterSink,
	handlers map[outbox.Hook]HookHandler,
	retryCfg retry.Config,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *HookConsumer {
	return &HookConsumer{
		source:   source,
		dlq:      dlq,
		handlers: handlers,
		retryCfg: retryCfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run consumes until the context is cancelled.
func (c *HookConsumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		streams, err := c.source.Read(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to read from hook stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handleMessage(ctx, msg)
			}
		}
	}
}

func (c *HookConsumer) handleMessage(ctx context.Context, msg goredis.XMessage) {
	start := time.Now()
	evt, err := decodeHookEvent(msg)
	if err != nil {
		// Malformed message: nothing to retry, park it.
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("malformed hook message")
		c.park(ctx, msg.ID, "malformed: "+err.Error(), nil)
		c.ack(ctx, msg.ID)
		return
	}

	handler, ok := c.handlers[evt.Hook]
	if !ok {
		c.logger.Error().Str("hook", string(evt.Hook)).Str("entry_id", evt.EntryID).Msg("no handler for hook")
		c.park(ctx, evt.EntryID, "no handler for hook "+string(evt.Hook), evt.Payload)
		c.ack(ctx, msg.ID)
		return
	}

	err = retry.Do(ctx, c.retryCfg, func() error {
		return handler.Handle(ctx, *evt)
	})
	if err != nil {
		c.logger.Error().Err(err).
			Str("hook", string(evt.Hook)).
			Str("entry_id", evt.EntryID).
			Msg("hook handler exhausted retries, sending to DLQ")
		c.park(ctx, evt.EntryID, err.Error(), evt.Payload)
		if c.metrics != nil {
			c.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.HookStream, "dlq").Inc()
		}
	} else if c.metrics != nil {
		c.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.HookStream, "success").Inc()
		c.metrics.WorkerProcessingDuration.WithLabelValues(infraRedis.HookStream).Observe(time.Since(start).Seconds())
	}

	c.ack(ctx, msg.ID)
}

// park sends a message to the DLQ. A DLQ write failure is logged loudly:
// the message will be redelivered, but a dead DLQ must be visible.
func (c *HookConsumer) park(ctx context.Context, entryID, reason string, payload map[string]any) {
	if err := c.dlq.PublishToDLQ(ctx, entryID, reason, payload); err != nil {
		c.logger.Error().Err(err).Str("entry_id", entryID).Msg("failed to publish to DLQ")
	}
}

func (c *HookConsumer) ack(ctx context.Context, messageID string) {
	if err := c.source.Ack(ctx, messageID); err != nil {
		c.logger.Error().Err(err).Str("message_id", messageID).Msg("failed to ack hook message")
	}
}

func decodeHookEvent(msg goredis.XMessage) (*HookEvent, error) {
	entryID, _ := msg.Values["entry_id"].(string)
	hook, _ := msg.Values["hook"].(string)
	eventType, _ := msg.Values["event_type"].(string)
	rawPayload, _ := msg.Values["payload"].(string)
	if entryID == "" || hook == "" {
		return nil, fmt.Errorf("message %s missing entry_id or hook", msg.ID)
	}

	var payload map[string]any
	if rawPayload != "" {
		if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
			return nil, fmt.Errorf("message %s payload: %w", msg.ID, err)
		}
	}

	return &HookEvent{
		EntryID:   entryID,
		Hook:      outbox.Hook(hook),
		EventType: eventType,
		Payload:   payload,
	}, nil
}
