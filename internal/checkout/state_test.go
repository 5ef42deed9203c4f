package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateInit, StateSessionReady, true},
		{StateSessionReady, StateAwaitingShippingAndCard, true},
		{StateAwaitingShippingAndCard, StateAwaitingToken, true},
		{StateAwaitingToken, StateTokenReceived, true},
		{StateAwaitingToken, StateFailed, true},
		{StateTokenReceived, StateSubmitting, true},
		{StateSubmitting, StateSuccess, true},
		{StateSubmitting, StateFailed, true},
		{StateSubmitting, StateTokenReceived, true},
		{StateFailed, StateAwaitingShippingAndCard, true},

		{StateInit, StateAwaitingToken, false},
		{StateAwaitingShippingAndCard, StateTokenReceived, false},
		{StateTokenReceived, StateSuccess, false},
		{StateSuccess, StateFailed, false},
		{StateSuccess, StateAwaitingShippingAndCard, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestCancelledReachableFromNonTerminalOnly(t *testing.T) {
	for _, s := range []State{StateInit, StateSessionReady, StateAwaitingShippingAndCard, StateAwaitingToken, StateTokenReceived, StateSubmitting, StateFailed} {
		assert.Truef(t, s.CanTransition(StateCancelled), "%s should allow cancellation", s)
	}
	assert.False(t, StateSuccess.CanTransition(StateCancelled))
	assert.False(t, StateCancelled.CanTransition(StateCancelled))
}

func TestTerminal(t *testing.T) {
	assert.True(t, StateSuccess.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateFailed.Terminal(), "FAILED keeps a retry path")
}
