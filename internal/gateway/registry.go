package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
)

// Registry dispatches by gateway identifier and owns a circuit breaker per
// gateway for outbound charge calls. Adapters are selected here, never by
// string checks inside the reconciliation logic.
type Registry struct {
	adapters map[attempt.Gateway]Adapter
	breakers map[attempt.Gateway]*gobreaker.CircuitBreaker[[]byte]
	charger  Charger
}

// NewRegistry creates a registry over the given adapters and transport.
func NewRegistry(charger Charger, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[attempt.Gateway]Adapter),
		breakers: make(map[attempt.Gateway]*gobreaker.CircuitBreaker[[]byte]),
		charger:  charger,
	}
	for _, a := range adapters {
		r.register(a)
	}
	return r
}

func (r *Registry) register(a Adapter) {
	r.adapters[a.Name()] = a
	r.breakers[a.Name()] = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        string(a.Name()),
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
	})
}

// Adapter returns the adapter for a gateway.
func (r *Registry) Adapter(gw attempt.Gateway) (Adapter, error) {
	a, ok := r.adapters[gw]
	if !ok {
		return nil, domainErrors.ErrUnknownGateway
	}
	return a, nil
}

// Gateways lists the registered gateway identifiers.
func (r *Registry) Gateways() []attempt.Gateway {
	out := make([]attempt.Gateway, 0, len(r.adapters))
	for gw := range r.adapters {
		out = append(out, gw)
	}
	return out
}

// Charge submits the built request through the gateway's circuit breaker.
// Context deadline expiry surfaces as ErrGatewayTimeout; a tripped breaker as
// ErrGatewayUnavailable.
func (r *Registry) Charge(ctx context.Context, gw attempt.Gateway, req *ChargeRequest) ([]byte, error) {
	breaker, ok := r.breakers[gw]
	if !ok {
		return nil, domainErrors.ErrUnknownGateway
	}

	body, err := breaker.Execute(func() ([]byte, error) {
		return r.charger.Do(ctx, req)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, domainErrors.ErrGatewayUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			return nil, domainErrors.ErrGatewayTimeout
		}
		return nil, err
	}
	return body, nil
}
