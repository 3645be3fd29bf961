package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// HTTPHookHandler forwards the event payload to a collaborator service
// (commission, stock, notifications) as a JSON POST.
type HTTPHookHandler struct {
	client *http.Client
	url    string
	logger zerolog.Logger
}

// NewHTTPHookHandler creates a handler that POSTs events to url.
func NewHTTPHookHandler(client *http.Client, url string, logger zerolog.Logger) *HTTPHookHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPHookHandler{client: client, url: url, logger: logger}
}

func (h *HTTPHookHandler) Handle(ctx context.Context, evt HookEvent) error {
	body, err := json.Marshal(map[string]any{
		"event_type": evt.EventType,
		"data":       evt.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal hook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build hook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver hook to %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collaborator %s returned %d", h.url, resp.StatusCode)
	}
	return nil
}

// DedupHandler makes an inner handler idempotent across redeliveries. The
// dedup key covers hook, order and attempt so the same business event is
// executed once even when the outbox re-publishes it.
type DedupHandler struct {
	client *goredis.Client
	ttl    time.Duration
	next   HookHandler
	logger zerolog.Logger
}

// NewDedupHandler wraps next with stream-redelivery deduplication.
func NewDedupHandler(client *goredis.Client, ttl time.Duration, next HookHandler, logger zerolog.Logger) *DedupHandler {
	return &DedupHandler{client: client, ttl: ttl, next: next, logger: logger}
}

func (d *DedupHandler) Handle(ctx context.Context, evt HookEvent) error {
	key := dedupKey(evt)
	set, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis down: run the handler anyway, at-least-once beats never.
		return d.next.Handle(ctx, evt)
	}
	if !set {
		d.logger.Debug().Str("key", key).Msg("hook already executed, skipping redelivery")
		return nil
	}

	if err := d.next.Handle(ctx, evt); err != nil {
		// Free the key so the retry/DLQ replay can run the handler.
		d.client.Del(ctx, key)
		return err
	}
	return nil
}

func dedupKey(evt HookEvent) string {
	orderID, _ := evt.Payload["order_id"].(string)
	attemptID, _ := evt.Payload["attempt_id"].(string)
	if orderID == "" && attemptID == "" {
		return fmt.Sprintf("hook:done:%s:%s", evt.Hook, evt.EntryID)
	}
	return fmt.Sprintf("hook:done:%s:%s:%s:%s", evt.Hook, evt.EventType, orderID, attemptID)
}
