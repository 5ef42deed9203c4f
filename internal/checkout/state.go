package checkout

// State is the orchestrator's position in the checkout flow. Exactly one
// attempt owns a state value at a time; every mutation goes through the
// orchestrator under the attempt lock.
type State string

const (
	StateInit                    State = "INIT"
	StateSessionReady            State = "SESSION_READY"
	StateAwaitingShippingAndCard State = "AWAITING_SHIPPING_AND_CARD"
	StateAwaitingToken           State = "AWAITING_TOKEN"
	StateTokenReceived           State = "TOKEN_RECEIVED"
	StateSubmitting              State = "SUBMITTING"
	StateSuccess                 State = "SUCCESS"
	StateFailed                  State = "FAILED"
	StateCancelled               State = "CANCELLED"
)

var transitions = map[State][]State{
	StateInit:                    {StateSessionReady, StateFailed},
	StateSessionReady:            {StateAwaitingShippingAndCard},
	StateAwaitingShippingAndCard: {StateAwaitingToken},
	StateAwaitingToken:           {StateTokenReceived, StateFailed},
	StateTokenReceived:           {StateSubmitting},
	StateSubmitting:              {StateSuccess, StateTokenReceived, StateFailed},
	// Retry path: a failed attempt re-enters the shipping+card stage,
	// which invalidates any previously received token.
	StateFailed: {StateAwaitingShippingAndCard},
}

// CanTransition reports whether next is a legal successor of s. CANCELLED
// is reachable from any non-terminal state and is handled separately.
func (s State) CanTransition(next State) bool {
	if next == StateCancelled {
		return !s.Terminal()
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal states accept no further transitions. FAILED is not terminal:
// it keeps a retry path back to AWAITING_SHIPPING_AND_CARD.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateCancelled
}
