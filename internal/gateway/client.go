package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
)

const maxResponseSize = 1 << 20

// HTTPCharger submits charge requests over HTTP with a bounded per-call
// timeout on top of whatever deadline the caller's context carries.
type HTTPCharger struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPCharger creates an HTTPCharger. A zero timeout defaults to 10s.
func NewHTTPCharger(timeout time.Duration) *HTTPCharger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCharger{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Do performs the POST and returns the raw response body. Timeouts are
// normalized to ErrGatewayTimeout so callers can treat the attempt as still
// pending rather than failed.
func (c *HTTPCharger) Do(ctx context.Context, req *ChargeRequest) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domainErrors.ErrGatewayTimeout
		}
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, domainErrors.ErrGatewayUnavailable
	}
	if resp.StatusCode >= 400 {
		return nil, domainErrors.ErrGatewayRejected
	}
	return body, nil
}
