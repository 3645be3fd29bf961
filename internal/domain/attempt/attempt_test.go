package attempt

import (
	"errors"
	"testing"

	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAmount(t *testing.T, v string) money.Amount {
	t.Helper()
	a, err := money.FromString(v, "COP")
	require.NoError(t, err)
	return a
}

func TestNew_StartsCreated(t *testing.T) {
	a, err := New(uuid.New(), GatewayPayU, mustAmount(t, "129000"), MethodCard)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, a.Status)
	assert.Nil(t, a.ExternalRef)
}

func TestNew_RejectsNonPositiveAmount(t *testing.T) {
	_, err := New(uuid.New(), GatewayPayU, mustAmount(t, "0"), MethodCard)
	assert.Error(t, err)
}

func TestParseGateway(t *testing.T) {
	gw, err := ParseGateway("wompi")
	require.NoError(t, err)
	assert.Equal(t, GatewayWompi, gw)

	_, err = ParseGateway("stripe")
	assert.True(t, errors.Is(err, domainErrors.ErrUnknownGateway))
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []Status{StatusApproved, StatusDeclined, StatusError, StatusVoided} {
		a, err := New(uuid.New(), GatewayWompi, mustAmount(t, "50000"), MethodBankTransfer)
		require.NoError(t, err)
		require.NoError(t, a.Transition(terminal))
		assert.True(t, a.IsTerminal())

		err = a.Transition(StatusPending)
		assert.True(t, errors.Is(err, domainErrors.ErrInvalidStateTransition))
	}
}

func TestTransition_SyncApprovalFromCreated(t *testing.T) {
	// Cash-code gateways can return a terminal result synchronously.
	a, err := New(uuid.New(), GatewayPayValida, mustAmount(t, "80000"), MethodCashCode)
	require.NoError(t, err)
	assert.NoError(t, a.Transition(StatusApproved))
}

func TestSetExternalRef_WriteOnce(t *testing.T) {
	a, err := New(uuid.New(), GatewayPayU, mustAmount(t, "129000"), MethodCard)
	require.NoError(t, err)

	require.NoError(t, a.SetExternalRef("payu-tx-1"))
	// Idempotent re-assignment of the same value is fine.
	require.NoError(t, a.SetExternalRef("payu-tx-1"))

	err = a.SetExternalRef("payu-tx-2")
	assert.True(t, errors.Is(err, domainErrors.ErrExternalRefAssigned))
	assert.Equal(t, "payu-tx-1", *a.ExternalRef)
}

func TestNewPlaceholder(t *testing.T) {
	a, err := NewPlaceholder(uuid.New(), GatewayWompi, "wompi-evt-ref", mustAmount(t, "42000"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)
	require.NotNil(t, a.ExternalRef)
	assert.Equal(t, "wompi-evt-ref", *a.ExternalRef)
}
