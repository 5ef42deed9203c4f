package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cartjo/internal/card"
	"cartjo/internal/payments"
)

// RefFunc turns a persisted attempt row id into the public payment
// reference shoppers see.
type RefFunc func(id int64) (string, error)

type Config struct {
	Backend  BackendAPI
	Gateway  payments.TokenizationGateway
	Recorder Recorder
	Notifier Notifier
	Logger   *zap.SugaredLogger

	// TokenTimeout bounds AWAITING_TOKEN; gateway latency is unbounded
	// and silently waiting forever is not acceptable.
	TokenTimeout time.Duration
	// ConfirmPath is the storefront confirmation route, parameterized by
	// the final order id.
	ConfirmPath string
	Ref         RefFunc
}

// Orchestrator owns every live checkout attempt and is the only writer of
// attempt state. Events (HTTP calls, gateway messages, timeouts) interleave
// under per-attempt locks; there is no cross-attempt coordination.
type Orchestrator struct {
	backend  BackendAPI
	gateway  payments.TokenizationGateway
	recorder Recorder
	notifier Notifier
	logger   *zap.SugaredLogger

	tokenTimeout time.Duration
	confirmPath  string
	refFn        RefFunc

	mu       sync.RWMutex
	attempts map[string]*Attempt // by public ref
	byMref   map[string]string   // merchant reference -> public ref
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	timeout := cfg.TokenTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	refFn := cfg.Ref
	if refFn == nil {
		refFn = func(id int64) (string, error) {
			return fmt.Sprintf("PAY-%d", id), nil
		}
	}
	return &Orchestrator{
		backend:      cfg.Backend,
		gateway:      cfg.Gateway,
		recorder:     cfg.Recorder,
		notifier:     notifier,
		logger:       logger,
		tokenTimeout: timeout,
		confirmPath:  strings.TrimRight(cfg.ConfirmPath, "/"),
		refFn:        refFn,
		attempts:     make(map[string]*Attempt),
		byMref:       make(map[string]string),
	}
}

type StartInput struct {
	CustomerID     int64
	Amount         decimal.Decimal
	Currency       string
	CustomerEmail  string
	OrderReference string // encrypted reference issued by the backend
}

// Start mints a payment session and verifies the order reference. On
// success the attempt lands in AWAITING_SHIPPING_AND_CARD; on failure
// nothing is registered and the shopper retries by starting again, which
// re-invokes session creation with fresh credentials.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (*Attempt, error) {
	if !in.Amount.IsPositive() {
		return nil, flowErr(CodePrecondition, "cart total must be positive", nil)
	}
	if len(in.Currency) != 3 {
		return nil, flowErr(CodePrecondition, "unsupported currency", nil)
	}
	if in.OrderReference == "" {
		return nil, flowErr(CodePrecondition, "order reference is required", nil)
	}

	session, err := o.backend.InitializeSession(ctx, in.Amount, in.Currency, in.CustomerEmail)
	if err != nil {
		return nil, flowErr(CodeSession, "could not start a payment session", err)
	}

	// Verification success is a hard precondition for tokenization, not a
	// best-effort enrichment.
	order, err := o.backend.VerifyOrder(ctx, in.OrderReference)
	if err != nil || !order.Present() {
		return nil, flowErr(CodeVerification, "order could not be verified", err)
	}

	a := &Attempt{
		ID:         uuid.NewString(),
		CustomerID: in.CustomerID,
		state:      StateInit,
		session:    session,
		order:      order,
		amount:     in.Amount,
		currency:   strings.ToUpper(in.Currency),
		email:      in.CustomerEmail,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	a.transitionLocked(StateSessionReady)
	// SESSION_READY is a pass-through; the attempt waits here for both
	// shipping and card input.
	a.transitionLocked(StateAwaitingShippingAndCard)

	id, err := o.recorder.Create(ctx, a.snapshotLocked())
	if err != nil {
		return nil, flowErr(CodeSession, "could not record the checkout attempt", err)
	}
	ref, err := o.refFn(id)
	if err != nil {
		return nil, flowErr(CodeSession, "could not assign a payment reference", err)
	}
	a.Ref = ref

	o.mu.Lock()
	o.attempts[a.Ref] = a
	o.byMref[session.MerchantReference] = a.Ref
	o.mu.Unlock()

	o.persist(ctx, a)
	o.logEvent(ctx, a.Ref, "session_ready", map[string]any{
		"merchant_reference": session.MerchantReference,
		"order_id":           order.OrderID,
	})
	return a, nil
}

// Get returns a live attempt by its public reference.
func (o *Orchestrator) Get(ref string) (*Attempt, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.attempts[ref]
	return a, ok
}

// AttachShipping records the captured shipping address. It is accepted any
// time before tokenization starts.
func (o *Orchestrator) AttachShipping(ctx context.Context, ref string, addr ShippingAddress) error {
	a, ok := o.Get(ref)
	if !ok {
		return ErrUnknownAttempt
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateAwaitingShippingAndCard {
		return flowErr(CodePrecondition, fmt.Sprintf("shipping cannot be changed in state %s", a.state), nil)
	}
	if addr == (ShippingAddress{}) {
		return flowErr(CodePrecondition, "shipping address is required", nil)
	}
	a.shipping = &addr
	a.UpdatedAt = time.Now()
	return nil
}

// SubmitCard validates every precondition, builds the one-shot tokenization
// form and moves the attempt into AWAITING_TOKEN. The returned form is
// rendered to the shopper and auto-posted into a hidden frame; the result
// arrives later through HandleGatewayMessage. Card fields are used for the
// form build only and are not retained.
func (o *Orchestrator) SubmitCard(ctx context.Context, ref string, fields card.Fields) (*payments.Form, error) {
	a, ok := o.Get(ref)
	if !ok {
		return nil, ErrUnknownAttempt
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancelled {
		return nil, flowErr(CodePrecondition, "checkout was cancelled", nil)
	}
	// A second submit while a tokenization is in flight is rejected, not
	// queued: two hidden-form submissions must never race for the same
	// return message.
	if a.state == StateAwaitingToken {
		return nil, flowErr(CodePrecondition, "a tokenization attempt is already in flight", nil)
	}
	if a.state != StateAwaitingShippingAndCard {
		return nil, flowErr(CodePrecondition, fmt.Sprintf("cannot submit card in state %s", a.state), nil)
	}

	// Preconditions, checked before any network or gateway activity.
	if !a.session.Valid() {
		return nil, flowErr(CodePrecondition, "payment session is missing", nil)
	}
	if !a.order.Present() {
		return nil, flowErr(CodePrecondition, "verified order is missing", nil)
	}
	if a.shipping == nil {
		return nil, flowErr(CodePrecondition, "shipping address is missing", nil)
	}
	if err := fields.Validate(time.Now()); err != nil {
		return nil, flowErr(CodePrecondition, err.Error(), err)
	}

	form, err := o.gateway.TokenizationForm(payments.TokenizationRequest{
		Session:  a.session,
		Card:     fields,
		Amount:   a.amount,
		Currency: a.currency,
	})
	if err != nil {
		return nil, flowErr(CodeTokenization, "could not prepare the payment form", err)
	}
	a.form = form
	fields = card.Fields{} // drop the raw fields as soon as the form holds them

	if !a.transitionLocked(StateAwaitingToken) {
		return nil, flowErr(CodePrecondition, "checkout is no longer accepting card input", nil)
	}
	a.tokenSeq++
	seq := a.tokenSeq

	a.stopTimeoutLocked()
	a.timeoutTimer = time.AfterFunc(o.tokenTimeout, func() {
		o.onTokenTimeout(ref, seq)
	})

	o.persist(ctx, a)
	o.logEvent(ctx, a.Ref, "tokenization_submitted", map[string]any{
		"fields": form.FieldCount(),
		"frame":  form.Frame(),
	})
	return form, nil
}

// HandleGatewayMessage processes one asynchronous gateway message. A
// message from an untrusted origin, with a bad signature, or of an
// unrelated shape is ignored without touching any state: it is simply not
// a response to anything we sent.
func (o *Orchestrator) HandleGatewayMessage(ctx context.Context, origin string, params map[string]string) {
	if !o.gateway.VerifyOrigin(origin) {
		o.logger.Debugw("gateway message from untrusted origin dropped", "origin", origin)
		return
	}

	msg, err := o.gateway.ParseReturn(params)
	if err != nil {
		o.logger.Debugw("gateway message failed verification", "err", err.Error())
		return
	}
	if msg.Kind == payments.MessageUnrelated {
		return
	}

	o.mu.RLock()
	ref, ok := o.byMref[msg.MerchantReference]
	o.mu.RUnlock()
	if !ok {
		o.logger.Debugw("gateway message for unknown merchant reference", "merchant_reference", msg.MerchantReference)
		return
	}
	a, ok := o.Get(ref)
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancelled {
		// Torn down mid-flight: the listener is gone, late messages are
		// no-ops.
		return
	}
	// Only the first applicable message per attempt is processed;
	// duplicate delivery of the same success message is idempotent.
	if a.state != StateAwaitingToken {
		o.logger.Debugw("gateway message ignored in state", "ref", ref, "state", a.state)
		return
	}

	a.stopTimeoutLocked()
	// The hidden form has served its single submission; card fields do
	// not outlive it.
	if a.form != nil {
		a.form.Reset()
	}

	switch msg.Kind {
	case payments.MessageToken:
		a.token = msg.Token
		a.transitionLocked(StateTokenReceived)
		o.logEvent(ctx, a.Ref, "token_received", map[string]any{"response_code": msg.ResponseCode})
		o.submitLocked(ctx, a)

	case payments.MessageFailure:
		o.failLocked(ctx, a, flowErr(CodeTokenization, msg.ResponseMessage, nil))
		o.logEvent(ctx, a.Ref, "tokenization_failed", map[string]any{
			"response_code": msg.ResponseCode,
		})
	}
}

// RetryCharge re-submits the charge for an attempt whose token the gateway
// reported still valid after a charge failure.
func (o *Orchestrator) RetryCharge(ctx context.Context, ref string) error {
	a, ok := o.Get(ref)
	if !ok {
		return ErrUnknownAttempt
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelled || a.state != StateTokenReceived || a.token == "" {
		return flowErr(CodePrecondition, "no charge to retry", nil)
	}
	o.submitLocked(ctx, a)
	if a.flowErr != nil {
		return a.flowErr
	}
	return nil
}

// Retry returns a FAILED attempt to the shipping+card stage. Any token
// from the previous round is invalidated: a new charge needs a new token.
func (o *Orchestrator) Retry(ctx context.Context, ref string) error {
	a, ok := o.Get(ref)
	if !ok {
		return ErrUnknownAttempt
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	// Integrity and verification failures hard-stop the flow; there is no
	// path back for them.
	if a.flowErr != nil && !a.flowErr.Retryable() {
		return a.flowErr
	}
	if !a.transitionLocked(StateAwaitingShippingAndCard) {
		return flowErr(CodePrecondition, fmt.Sprintf("cannot retry from state %s", a.state), nil)
	}
	a.token = ""
	a.flowErr = nil
	a.tokenSeq++ // invalidate any in-flight correlation
	if a.form != nil {
		a.form.Reset()
	}
	o.persist(ctx, a)
	o.logEvent(ctx, a.Ref, "retry", nil)
	return nil
}

// Teardown cancels an attempt (navigation away, storefront unmount). All
// pending async effects become no-ops: the timeout is disarmed and any
// late gateway message or in-flight continuation finds the cancelled flag.
func (o *Orchestrator) Teardown(ctx context.Context, ref string) error {
	a, ok := o.Get(ref)
	if !ok {
		return ErrUnknownAttempt
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Terminal() {
		return nil
	}
	a.cancelled = true
	a.stopTimeoutLocked()
	if a.form != nil {
		a.form.Reset()
	}
	a.transitionLocked(StateCancelled)
	o.persist(ctx, a)
	o.logEvent(ctx, a.Ref, "cancelled", nil)
	return nil
}

// submitLocked drives TOKEN_RECEIVED -> SUBMITTING -> SUCCESS. Call with
// the attempt lock held; the lock is dropped for the duration of the
// charge call and reacquired before returning.
func (o *Orchestrator) submitLocked(ctx context.Context, a *Attempt) {
	a.flowErr = nil
	if !a.transitionLocked(StateSubmitting) {
		return
	}

	// The amount and currency about to be charged must match what was
	// verified. A mismatch is a fatal integrity failure, never coerced.
	if !a.order.Amount.Equal(a.amount) || !strings.EqualFold(a.order.Currency, a.currency) {
		a.transitionLocked(StateFailed)
		a.flowErr = flowErr(CodeIntegrity, "charge amount does not match the verified order", nil)
		a.token = ""
		o.persist(ctx, a)
		o.logEvent(ctx, a.Ref, "integrity_failure", map[string]any{
			"verified": a.order.Amount.String() + " " + a.order.Currency,
			"charging": a.amount.String() + " " + a.currency,
		})
		return
	}

	shipping := ShippingAddress{}
	if a.shipping != nil {
		shipping = *a.shipping
	}
	token := a.token
	order := a.order
	seq := a.tokenSeq

	// The charge is a network call; holding the attempt lock across it
	// would block teardown and status reads for its whole duration. The
	// sequence correlates the result back to this submission.
	a.mu.Unlock()
	result, err := o.backend.SubmitCharge(ctx, token, order, shipping)
	a.mu.Lock()

	if a.cancelled || a.tokenSeq != seq || a.state != StateSubmitting {
		// Torn down or superseded while the charge was in flight: do not
		// mutate state or trigger a redirect.
		return
	}

	if err != nil {
		if stillValid(err) {
			// Token survives this failure; back to the retry point
			// without re-tokenizing.
			a.transitionLocked(StateTokenReceived)
			a.flowErr = flowErr(CodeCharge, "the payment was declined, you may try again", err)
		} else {
			a.token = ""
			a.transitionLocked(StateFailed)
			a.flowErr = flowErr(CodeCharge, "the payment could not be completed", err)
		}
		o.persist(ctx, a)
		o.logEvent(ctx, a.Ref, "charge_failed", map[string]any{"token_still_valid": stillValid(err)})
		return
	}

	a.order.OrderID = result.OrderID
	a.redirectURL = fmt.Sprintf("%s/%s", o.confirmPath, result.OrderID)
	a.transitionLocked(StateSuccess)
	o.persist(ctx, a)
	o.logEvent(ctx, a.Ref, "charged", map[string]any{"order_id": result.OrderID})

	snap := *a.snapshotLocked()
	go o.notifier.PaymentResult(context.WithoutCancel(ctx), snap, true)
}

func (o *Orchestrator) failLocked(ctx context.Context, a *Attempt, fe *FlowError) {
	a.transitionLocked(StateFailed)
	a.flowErr = fe
	a.token = ""
	o.persist(ctx, a)

	snap := *a.snapshotLocked()
	go o.notifier.PaymentResult(context.WithoutCancel(ctx), snap, false)
}

func (o *Orchestrator) onTokenTimeout(ref string, seq int) {
	a, ok := o.Get(ref)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	// A stale sequence means this timer belongs to a superseded attempt.
	if a.cancelled || a.state != StateAwaitingToken || a.tokenSeq != seq {
		return
	}
	if a.form != nil {
		a.form.Reset()
	}
	ctx := context.Background()
	o.failLocked(ctx, a, flowErr(CodeTimeout, "the payment gateway did not respond in time", nil))
	o.logEvent(ctx, a.Ref, "token_timeout", nil)
}

// PruneTerminal evicts terminal attempts untouched since olderThan from
// the live registry and returns how many were dropped. Their persisted
// snapshots remain queryable through the recorder; late gateway messages
// for an evicted attempt no longer correlate and are ignored.
func (o *Orchestrator) PruneTerminal(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	o.mu.Lock()
	defer o.mu.Unlock()
	pruned := 0
	for ref, a := range o.attempts {
		a.mu.Lock()
		stale := a.state.Terminal() && a.UpdatedAt.Before(cutoff)
		mref := a.session.MerchantReference
		a.mu.Unlock()
		if !stale {
			continue
		}
		delete(o.attempts, ref)
		delete(o.byMref, mref)
		pruned++
	}
	return pruned
}

func (o *Orchestrator) persist(ctx context.Context, a *Attempt) {
	if err := o.recorder.Save(ctx, a.snapshotLocked()); err != nil {
		o.logger.Errorw("persisting attempt snapshot", "ref", a.Ref, "err", err.Error())
	}
}

func (o *Orchestrator) logEvent(ctx context.Context, ref, kind string, payload any) {
	if err := o.recorder.LogEvent(ctx, ref, kind, payload); err != nil {
		o.logger.Errorw("recording attempt event", "ref", ref, "kind", kind, "err", err.Error())
	}
}

// TokenStillValidError is implemented by backend charge errors that carry
// the gateway's token-reusability verdict.
type TokenStillValidError interface {
	TokenStillValid() bool
}

func stillValid(err error) bool {
	var tv TokenStillValidError
	if errors.As(err, &tv) {
		return tv.TokenStillValid()
	}
	return false
}
