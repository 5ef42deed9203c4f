package checkout

import (
	"errors"
	"fmt"
)

// ErrorCode identifies where in the flow a failure originated and whether
// the shopper has a way back.
type ErrorCode string

const (
	// CodeSession: payment session creation failed; retryable from INIT.
	CodeSession ErrorCode = "SESSION_ERROR"
	// CodeVerification: order reference never resolved; fatal for this
	// attempt, a fresh reference is required.
	CodeVerification ErrorCode = "VERIFICATION_ERROR"
	// CodePrecondition: shopper-fixable missing or malformed input; no
	// network call was made.
	CodePrecondition ErrorCode = "PRECONDITION_ERROR"
	// CodeTokenization: the gateway rejected the card.
	CodeTokenization ErrorCode = "TOKENIZATION_ERROR"
	// CodeTimeout: no gateway message arrived in time.
	CodeTimeout ErrorCode = "TIMEOUT_ERROR"
	// CodeCharge: the merchant backend rejected the token.
	CodeCharge ErrorCode = "CHARGE_ERROR"
	// CodeIntegrity: verified amount/currency does not match what would
	// be charged. Hard stop, never coerced or retried.
	CodeIntegrity ErrorCode = "INTEGRITY_ERROR"
)

// ErrUnknownAttempt is returned for references that map to no live attempt.
var ErrUnknownAttempt = errors.New("unknown payment reference")

// FlowError is the one error type the orchestrator surfaces. Every FAILED
// transition carries one, with a message fit to show the shopper.
type FlowError struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *FlowError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error { return e.cause }

// Retryable reports whether the shopper can re-enter the flow after this
// error without a fresh checkout attempt.
func (e *FlowError) Retryable() bool {
	switch e.Code {
	case CodeVerification, CodeIntegrity:
		return false
	default:
		return true
	}
}

func flowErr(code ErrorCode, message string, cause error) *FlowError {
	return &FlowError{Code: code, Message: message, cause: cause}
}

// AsFlowError unwraps err to a *FlowError if there is one in the chain.
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
