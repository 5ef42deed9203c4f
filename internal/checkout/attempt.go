package checkout

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cartjo/internal/payments"
)

// Attempt is one shopper's live checkout. All fields past the identifiers
// are guarded by mu; callers outside this package only see copies via
// Status().
type Attempt struct {
	mu sync.Mutex

	ID         string // internal uuid
	Ref        string // public payment reference
	CustomerID int64

	state    State
	session  payments.Session
	order    VerifiedOrder
	shipping *ShippingAddress

	// Cart total as requested at start; cross-checked against the
	// verified order before any charge.
	amount   decimal.Decimal
	currency string
	email    string

	form  *payments.Form
	token string
	// tokenSeq increments on every entry into AWAITING_TOKEN; messages and
	// timeouts carrying a stale sequence belong to a superseded attempt
	// and are dropped.
	tokenSeq int

	flowErr        *FlowError
	redirectURL    string
	redirectIssued bool

	cancelled    bool
	timeoutTimer *time.Timer

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Status is the externally visible view of an attempt.
type Status struct {
	Ref            string          `json:"ref"`
	State          State           `json:"state"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	OrderID        string          `json:"order_id,omitempty"`
	FailureCode    string          `json:"failure_code,omitempty"`
	FailureMessage string          `json:"failure_message,omitempty"`
	Retryable      bool            `json:"retryable"`
	RedirectURL    string          `json:"redirect_url,omitempty"`
}

func (a *Attempt) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

func (a *Attempt) statusLocked() Status {
	s := Status{
		Ref:      a.Ref,
		State:    a.state,
		Amount:   a.amount,
		Currency: a.currency,
		OrderID:  a.order.OrderID,
	}
	if a.flowErr != nil {
		s.FailureCode = string(a.flowErr.Code)
		s.FailureMessage = a.flowErr.Message
		s.Retryable = a.flowErr.Retryable()
	}
	// The confirmation redirect is handed out exactly once, and never
	// after teardown.
	if a.state == StateSuccess && !a.redirectIssued && !a.cancelled {
		s.RedirectURL = a.redirectURL
		a.redirectIssued = true
	}
	return s
}

func (a *Attempt) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Ref:               a.Ref,
		CustomerID:        a.CustomerID,
		State:             a.state,
		MerchantReference: a.session.MerchantReference,
		OrderID:           a.order.OrderID,
		Amount:            a.amount,
		Currency:          a.currency,
		CustomerEmail:     a.email,
	}
	if a.flowErr != nil {
		snap.FailureCode = string(a.flowErr.Code)
		snap.FailureMessage = a.flowErr.Message
	}
	return snap
}

// transitionLocked moves the attempt to next if legal. Call with mu held.
func (a *Attempt) transitionLocked(next State) bool {
	if a.cancelled && next != StateCancelled {
		return false
	}
	if !a.state.CanTransition(next) {
		return false
	}
	a.state = next
	a.UpdatedAt = time.Now()
	return true
}

func (a *Attempt) stopTimeoutLocked() {
	if a.timeoutTimer != nil {
		a.timeoutTimer.Stop()
		a.timeoutTimer = nil
	}
}
