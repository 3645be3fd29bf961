package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gatewire/gatewire/internal/domain/outbox"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHookHandler_DeliversPayload(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := NewHTTPHookHandler(srv.Client(), srv.URL, zerolog.Nop())
	err := h.Handle(context.Background(), HookEvent{
		EntryID:   "e-1",
		Hook:      outbox.HookCommission,
		EventType: "payment.approved",
		Payload:   map[string]any{"order_id": "o-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "payment.approved", received["event_type"])
	data, ok := received["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "o-1", data["order_id"])
}

func TestHTTPHookHandler_CollaboratorErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewHTTPHookHandler(srv.Client(), srv.URL, zerolog.Nop())
	err := h.Handle(context.Background(), HookEvent{EntryID: "e-2", Hook: outbox.HookStock})
	assert.Error(t, err)
}

func TestDedupKey(t *testing.T) {
	withIDs := HookEvent{
		EntryID:   "e-1",
		Hook:      outbox.HookStock,
		EventType: "payment.approved",
		Payload:   map[string]any{"order_id": "o-1", "attempt_id": "a-1"},
	}
	// Same business event from a re-published outbox entry keys identically.
	republished := withIDs
	republished.EntryID = "e-2"
	assert.Equal(t, dedupKey(withIDs), dedupKey(republished))

	// Without identifiers the entry id is the only handle.
	bare := HookEvent{EntryID: "e-3", Hook: outbox.HookStock}
	assert.Contains(t, dedupKey(bare), "e-3")
}
