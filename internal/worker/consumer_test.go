package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatewire/gatewire/internal/domain/outbox"
	"github.com/gatewire/gatewire/pkg/retry"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	messages []goredis.XMessage
	acked    []string
	ackErr   error
}

func (s *stubSource) Read(ctx context.Context) ([]goredis.XStream, error) {
	if len(s.messages) == 0 {
		return nil, nil
	}
	msgs := s.messages
	s.messages = nil
	return []goredis.XStream{{Stream: "hooks:delivery", Messages: msgs}}, nil
}

func (s *stubSource) Ack(ctx context.Context, messageID string) error {
	if s.ackErr != nil {
		return s.ackErr
	}
	s.acked = append(s.acked, messageID)
	return nil
}

type stubDLQ struct {
	parked []string
	err    error
}

func (s *stubDLQ) PublishToDLQ(ctx context.Context, entryID string, reason string, data map[string]any) error {
	if s.err != nil {
		return s.err
	}
	s.parked = append(s.parked, entryID)
	return nil
}

func hookMessage(id, entryID, hook string) goredis.XMessage {
	return goredis.XMessage{
		ID: id,
		Values: map[string]interface{}{
			"entry_id":   entryID,
			"hook":       hook,
			"event_type": "payment.approved",
			"payload":    `{"order_id":"o-1","attempt_id":"a-1"}`,
		},
	}
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestHookConsumer_DispatchesToHandler(t *testing.T) {
	source := &stubSource{messages: []goredis.XMessage{hookMessage("1-0", "e-1", "commission")}}
	dlq := &stubDLQ{}

	var got []HookEvent
	handlers := map[outbox.Hook]HookHandler{
		outbox.HookCommission: HookHandlerFunc(func(ctx context.Context, evt HookEvent) error {
			got = append(got, evt)
			return nil
		}),
	}
	c := NewHookConsumer(source, dlq, handlers, fastRetry(), nil, zerolog.Nop())

	msgs, err := source.Read(context.Background())
	require.NoError(t, err)
	c.handleMessage(context.Background(), msgs[0].Messages[0])

	require.Len(t, got, 1)
	assert.Equal(t, "e-1", got[0].EntryID)
	assert.Equal(t, outbox.HookCommission, got[0].Hook)
	assert.Equal(t, "o-1", got[0].Payload["order_id"])
	assert.Equal(t, []string{"1-0"}, source.acked)
	assert.Empty(t, dlq.parked)
}

func TestHookConsumer_RetriesThenSucceeds(t *testing.T) {
	source := &stubSource{messages: []goredis.XMessage{hookMessage("1-0", "e-2", "stock")}}
	dlq := &stubDLQ{}

	calls := 0
	handlers := map[outbox.Hook]HookHandler{
		outbox.HookStock: HookHandlerFunc(func(ctx context.Context, evt HookEvent) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}),
	}
	c := NewHookConsumer(source, dlq, handlers, fastRetry(), nil, zerolog.Nop())

	msgs, _ := source.Read(context.Background())
	c.handleMessage(context.Background(), msgs[0].Messages[0])

	assert.Equal(t, 3, calls)
	assert.Empty(t, dlq.parked)
	assert.Equal(t, []string{"1-0"}, source.acked)
}

func TestHookConsumer_ExhaustedRetriesGoToDLQ(t *testing.T) {
	source := &stubSource{messages: []goredis.XMessage{hookMessage("1-0", "e-3", "notification")}}
	dlq := &stubDLQ{}

	handlers := map[outbox.Hook]HookHandler{
		outbox.HookNotification: HookHandlerFunc(func(ctx context.Context, evt HookEvent) error {
			return errors.New("permanent")
		}),
	}
	c := NewHookConsumer(source, dlq, handlers, fastRetry(), nil, zerolog.Nop())

	msgs, _ := source.Read(context.Background())
	c.handleMessage(context.Background(), msgs[0].Messages[0])

	// Parked and acked: the stream keeps moving.
	assert.Equal(t, []string{"e-3"}, dlq.parked)
	assert.Equal(t, []string{"1-0"}, source.acked)
}

func TestHookConsumer_MalformedMessageParked(t *testing.T) {
	source := &stubSource{}
	dlq := &stubDLQ{}
	c := NewHookConsumer(source, dlq, nil, fastRetry(), nil, zerolog.Nop())

	c.handleMessage(context.Background(), goredis.XMessage{ID: "1-0", Values: map[string]interface{}{}})

	assert.Len(t, dlq.parked, 1)
	assert.Equal(t, []string{"1-0"}, source.acked)
}

func TestHookConsumer_UnknownHookParked(t *testing.T) {
	source := &stubSource{}
	dlq := &stubDLQ{}
	c := NewHookConsumer(source, dlq, map[outbox.Hook]HookHandler{}, fastRetry(), nil, zerolog.Nop())

	c.handleMessage(context.Background(), hookMessage("1-0", "e-4", "telemetry"))

	assert.Equal(t, []string{"e-4"}, dlq.parked)
	assert.Equal(t, []string{"1-0"}, source.acked)
}

func TestDecodeHookEvent(t *testing.T) {
	evt, err := decodeHookEvent(hookMessage("1-0", "e-5", "commission"))
	require.NoError(t, err)
	assert.Equal(t, "payment.approved", evt.EventType)
	assert.Equal(t, "a-1", evt.Payload["attempt_id"])

	_, err = decodeHookEvent(goredis.XMessage{ID: "2-0", Values: map[string]interface{}{"entry_id": "x"}})
	assert.Error(t, err)
}

func TestHookConsumer_SurvivesDeadDLQAndAckFailure(t *testing.T) {
	source := &stubSource{
		messages: []goredis.XMessage{hookMessage("1-0", "e-7", "stock")},
		ackErr:   errors.New("connection refused"),
	}
	dlq := &stubDLQ{err: errors.New("stream full")}

	handlers := map[outbox.Hook]HookHandler{
		outbox.HookStock: HookHandlerFunc(func(ctx context.Context, evt HookEvent) error {
			return errors.New("collaborator down")
		}),
	}
	c := NewHookConsumer(source, dlq, handlers, fastRetry(), nil, zerolog.Nop())

	// Both the DLQ write and the ack fail; the consumer must absorb that and
	// keep going, leaving the message for redelivery.
	msgs, _ := source.Read(context.Background())
	c.handleMessage(context.Background(), msgs[0].Messages[0])
	assert.Empty(t, dlq.parked)
	assert.Empty(t, source.acked)

	// A healthy message afterwards is processed normally.
	source.ackErr = nil
	handled := false
	handlers[outbox.HookStock] = HookHandlerFunc(func(ctx context.Context, evt HookEvent) error {
		handled = true
		return nil
	})
	c.handleMessage(context.Background(), hookMessage("2-0", "e-8", "stock"))
	assert.True(t, handled)
	assert.Equal(t, []string{"2-0"}, source.acked)
}
