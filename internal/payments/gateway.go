package payments

import "errors"

// ErrUntrustedMessage marks a return message whose signature did not match.
// Callers drop these silently; an attacker-crafted payload is not a
// response to anything we sent.
var ErrUntrustedMessage = errors.New("gateway message signature mismatch")

// TokenizationGateway is the common interface for card tokenization
// providers. One gateway strategy is registered per deployment; sessions are
// never shared across strategies.
type TokenizationGateway interface {
	Name() string

	// VerifyOrigin reports whether a browser-supplied Origin/Referer
	// value belongs to the gateway's result-message origin.
	VerifyOrigin(origin string) bool

	// TokenizationForm builds the signed hidden-form field set for one
	// attempt. The form targets the gateway's tokenization endpoint via a
	// uniquely named hidden frame; submission is fire-and-forget and the
	// result arrives later as a ReturnMessage.
	TokenizationForm(req TokenizationRequest) (*Form, error)

	// ParseReturn verifies and classifies an asynchronous gateway message.
	// Returns ErrUntrustedMessage when the signature does not check out.
	ParseReturn(params map[string]string) (ReturnMessage, error)
}
