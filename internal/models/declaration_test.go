package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		name    string
		from    DeclarationStatus
		to      DeclarationStatus
		allowed bool
	}{
		{"pending to processed", StatusPending, StatusProcessed, true},
		{"pending to rejected", StatusPending, StatusRejected, true},
		{"processed is terminal", StatusProcessed, StatusPending, false},
		{"processed cannot be rejected", StatusProcessed, StatusRejected, false},
		{"rejected is terminal", StatusRejected, StatusPending, false},
		{"rejected cannot be processed", StatusRejected, StatusProcessed, false},
		{"no self transition", StatusPending, StatusPending, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusProcessed.Terminal())
	assert.True(t, StatusRejected.Terminal())
}

func TestStatusDeletable(t *testing.T) {
	assert.True(t, StatusPending.Deletable())
	assert.True(t, StatusRejected.Deletable())
	assert.False(t, StatusProcessed.Deletable())
}

func TestDefaultRouteFor(t *testing.T) {
	assert.Equal(t, RouteUserDashboard, DefaultRouteFor(RoleUser))
	assert.Equal(t, RouteAgentDashboard, DefaultRouteFor(RoleAgent))
	assert.Equal(t, RouteAdminDashboard, DefaultRouteFor(RoleAdmin))
	assert.Equal(t, RouteHome, DefaultRouteFor(Role("superviseur")))
}

func TestObjectDetailsRoundTrip(t *testing.T) {
	details := ObjectDetails{Category: "Documents", Name: "Passeport", SerialNumber: "CI-123"}
	raw, err := details.Value()
	require.NoError(t, err)

	var decoded ObjectDetails
	require.NoError(t, decoded.Scan(raw))
	assert.Equal(t, details, decoded)

	var fromNil ObjectDetails
	require.NoError(t, fromNil.Scan(nil))
	assert.Zero(t, fromNil)
}
