package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartjo/internal/card"
	"cartjo/internal/payments"
)

const (
	testRespPhrase    = "respphrase"
	testGatewayOrigin = "https://sbcheckout.payfort.com"
)

type chargeFailure struct {
	msg        string
	tokenValid bool
}

func (e *chargeFailure) Error() string         { return e.msg }
func (e *chargeFailure) TokenStillValid() bool { return e.tokenValid }

type fakeBackend struct {
	mu sync.Mutex

	sessionErr error
	verifyErr  error
	order      VerifiedOrder
	chargeRes  ChargeResult
	chargeErr  error

	// Optional hooks for tests that need a charge held in flight.
	chargeStarted chan struct{}
	chargeRelease chan struct{}

	sessionCalls int
	verifyCalls  int
	chargeCalls  int
	chargedToken string
}

func (b *fakeBackend) InitializeSession(_ context.Context, amount decimal.Decimal, currency, email string) (payments.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionCalls++
	if b.sessionErr != nil {
		return payments.Session{}, b.sessionErr
	}
	return payments.Session{
		MerchantReference: fmt.Sprintf("mref-%d", b.sessionCalls),
		AccessCredential:  "ACCESS",
		Signature:         "sig",
		ReturnURL:         "https://shop.example/v1/checkout/gateway/return",
		Currency:          currency,
	}, nil
}

func (b *fakeBackend) VerifyOrder(_ context.Context, ref string) (VerifiedOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifyCalls++
	if b.verifyErr != nil {
		return VerifiedOrder{}, b.verifyErr
	}
	return b.order, nil
}

func (b *fakeBackend) SubmitCharge(_ context.Context, token string, _ VerifiedOrder, _ ShippingAddress) (ChargeResult, error) {
	b.mu.Lock()
	b.chargeCalls++
	b.chargedToken = token
	started, release := b.chargeStarted, b.chargeRelease
	res, err := b.chargeRes, b.chargeErr
	b.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return ChargeResult{}, err
	}
	return res, nil
}

type memRecorder struct {
	mu     sync.Mutex
	nextID int64
	snaps  map[string]Snapshot
	events []string
}

func newMemRecorder() *memRecorder {
	return &memRecorder{snaps: make(map[string]Snapshot)}
}

func (r *memRecorder) Create(_ context.Context, snap *Snapshot) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID, nil
}

func (r *memRecorder) Save(_ context.Context, snap *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps[snap.Ref] = *snap
	return nil
}

func (r *memRecorder) LogEvent(_ context.Context, ref, kind string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ref+":"+kind)
	return nil
}

// signParams mirrors the gateway's response signature so tests can forge
// legitimate-looking messages.
func signParams(params map[string]string) map[string]string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(testRespPhrase)
	for _, k := range keys {
		b.WriteString(k + "=" + params[k])
	}
	b.WriteString(testRespPhrase)
	sum := sha256.Sum256([]byte(b.String()))

	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["signature"] = hex.EncodeToString(sum[:])
	return out
}

func successMessage(mref, token string) map[string]string {
	return signParams(map[string]string{
		"service_command":    "TOKENIZATION",
		"merchant_reference": mref,
		"response_code":      "18000",
		"response_message":   "Success",
		"token_name":         token,
	})
}

func failureMessage(mref string) map[string]string {
	return signParams(map[string]string{
		"service_command":    "TOKENIZATION",
		"merchant_reference": mref,
		"response_code":      "00005",
		"response_message":   "Invalid card number",
	})
}

type fixture struct {
	orch    *Orchestrator
	backend *fakeBackend
	rec     *memRecorder
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	backend := &fakeBackend{
		order:     VerifiedOrder{OrderID: "ord_123", Amount: decimal.RequireFromString("25.00"), Currency: "JOD", CustomerEmail: "shopper@example.com"},
		chargeRes: ChargeResult{OrderID: "ord_123"},
	}
	rec := newMemRecorder()
	cfg := Config{
		Backend:      backend,
		Gateway:      payments.NewPayFortAdapter("ACCESS", "MERCHANT", "reqphrase", testRespPhrase, false),
		Recorder:     rec,
		TokenTimeout: time.Minute,
		ConfirmPath:  "/checkout/confirmation",
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &fixture{orch: New(cfg), backend: backend, rec: rec}
}

func (f *fixture) start(t *testing.T, amount string) *Attempt {
	t.Helper()
	a, err := f.orch.Start(context.Background(), StartInput{
		CustomerID:     7,
		Amount:         decimal.RequireFromString(amount),
		Currency:       "JOD",
		CustomerEmail:  "shopper@example.com",
		OrderReference: "enc-ref",
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) startReady(t *testing.T, amount string) *Attempt {
	t.Helper()
	a := f.start(t, amount)
	require.NoError(t, f.orch.AttachShipping(context.Background(), a.Ref, testShipping()))
	return a
}

func testShipping() ShippingAddress {
	return ShippingAddress{Name: "Huthaifa Altiti", Phone: "0790000000", Line1: "Rainbow St 5", City: "Amman", Country: "JO"}
}

func testCardFields() card.Fields {
	return card.Fields{Number: "4111111111111111", ExpiryMonth: "09", ExpiryYear: "28", CVV: "123", HolderName: "Huthaifa Altiti"}
}

func mref(a *Attempt) string { return a.session.MerchantReference }

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Start(ctx, StartInput{Amount: decimal.Zero, Currency: "JOD", OrderReference: "enc"})
	fe, ok := AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, CodePrecondition, fe.Code)
	assert.Zero(t, f.backend.sessionCalls, "no network call on bad input")

	_, err = f.orch.Start(ctx, StartInput{Amount: decimal.NewFromInt(10), Currency: "JOD"})
	fe, _ = AsFlowError(err)
	assert.Equal(t, CodePrecondition, fe.Code)
}

func TestStartSessionFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.backend.sessionErr = fmt.Errorf("backend unavailable")

	_, err := f.orch.Start(context.Background(), StartInput{
		Amount: decimal.NewFromInt(10), Currency: "JOD", OrderReference: "enc",
	})
	fe, ok := AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, CodeSession, fe.Code)
	assert.True(t, fe.Retryable())
	assert.Zero(t, f.backend.verifyCalls, "verification never runs without a session")

	// Retrying re-invokes session creation with fresh credentials.
	f.backend.sessionErr = nil
	a := f.start(t, "25.00")
	assert.Equal(t, "mref-2", mref(a))
}

func TestStartVerificationFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.backend.verifyErr = fmt.Errorf("reference expired")

	_, err := f.orch.Start(context.Background(), StartInput{
		Amount: decimal.NewFromInt(10), Currency: "JOD", OrderReference: "enc",
	})
	fe, ok := AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, CodeVerification, fe.Code)
	assert.False(t, fe.Retryable())
}

func TestSubmitBeforePreconditionsMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Missing shipping address.
	a := f.start(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	fe, ok := AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, CodePrecondition, fe.Code)
	assert.Equal(t, StateAwaitingShippingAndCard, a.Status().State)

	// Missing/malformed card fields.
	require.NoError(t, f.orch.AttachShipping(ctx, a.Ref, testShipping()))
	_, err = f.orch.SubmitCard(ctx, a.Ref, card.Fields{})
	fe, _ = AsFlowError(err)
	assert.Equal(t, CodePrecondition, fe.Code)

	bad := testCardFields()
	bad.Number = "4111111111111112"
	_, err = f.orch.SubmitCard(ctx, a.Ref, bad)
	fe, _ = AsFlowError(err)
	assert.Equal(t, CodePrecondition, fe.Code)

	assert.Zero(t, f.backend.chargeCalls)
	assert.Equal(t, StateAwaitingShippingAndCard, a.Status().State)
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	form, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)
	assert.NotNil(t, form)
	assert.Equal(t, StateAwaitingToken, a.Status().State)

	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(a), "tok_abc"))

	st := a.Status()
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, "ord_123", st.OrderID)
	assert.Equal(t, "/checkout/confirmation/ord_123", st.RedirectURL)
	assert.Equal(t, "tok_abc", f.backend.chargedToken)
	assert.Equal(t, 1, f.backend.chargeCalls)

	// The redirect is issued exactly once.
	assert.Empty(t, a.Status().RedirectURL)
}

func TestDuplicateSuccessMessageProcessedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	msg := successMessage(mref(a), "tok_abc")
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, msg)
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, msg)

	assert.Equal(t, 1, f.backend.chargeCalls)
	assert.Equal(t, StateSuccess, a.Status().State)
}

func TestUntrustedOriginNeverChangesState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	f.orch.HandleGatewayMessage(ctx, "https://evil.example", successMessage(mref(a), "tok_abc"))
	assert.Equal(t, StateAwaitingToken, a.Status().State)
	assert.Zero(t, f.backend.chargeCalls)

	// A tampered payload from the right origin is equally ignored.
	tampered := successMessage(mref(a), "tok_abc")
	tampered["token_name"] = "tok_evil"
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, tampered)
	assert.Equal(t, StateAwaitingToken, a.Status().State)

	// An unrelated message shape is ignored silently.
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, map[string]string{"hello": "world"})
	assert.Equal(t, StateAwaitingToken, a.Status().State)
}

func TestSecondSubmitWhileAwaitingTokenRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	_, err = f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	fe, ok := AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, CodePrecondition, fe.Code)
	assert.Equal(t, StateAwaitingToken, a.Status().State)
}

func TestTokenizationFailureThenRetryHasNoStaleFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	form1, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)
	firstCount := form1.FieldCount()
	firstFrame := form1.Frame()

	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, failureMessage(mref(a)))
	st := a.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, string(CodeTokenization), st.FailureCode)
	assert.Equal(t, "Invalid card number", st.FailureMessage)
	assert.True(t, st.Retryable)
	assert.Zero(t, f.backend.chargeCalls, "no charge call after tokenization failure")

	require.NoError(t, f.orch.Retry(ctx, a.Ref))
	form2, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	// Clean re-population: same field count, nothing accumulated from the
	// failed attempt, fresh frame.
	assert.Equal(t, firstCount, form2.FieldCount())
	assert.NotEqual(t, firstFrame, form2.Frame())
}

func TestLateSuccessAfterFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, failureMessage(mref(a)))
	require.Equal(t, StateFailed, a.Status().State)

	// The previous attempt's correlation is invalid; a late token for it
	// must not resurrect the flow.
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(a), "tok_late"))
	assert.Equal(t, StateFailed, a.Status().State)
	assert.Zero(t, f.backend.chargeCalls)
}

func TestCancelDuringAwaitingTokenSuppressesLateMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	require.NoError(t, f.orch.Teardown(ctx, a.Ref))
	assert.Equal(t, StateCancelled, a.Status().State)

	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(a), "tok_abc"))

	st := a.Status()
	assert.Equal(t, StateCancelled, st.State)
	assert.Empty(t, st.RedirectURL, "no redirect after teardown")
	assert.Zero(t, f.backend.chargeCalls)
}

func TestTokenTimeout(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.TokenTimeout = 15 * time.Millisecond })
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	form, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return a.Status().State == StateFailed
	}, time.Second, 5*time.Millisecond)

	st := a.Status()
	assert.Equal(t, string(CodeTimeout), st.FailureCode)
	assert.True(t, st.Retryable)
	assert.NotContains(t, fmt.Sprintf("%+v", form.Fields()), "card_number")

	// A token arriving after the timeout belongs to a dead attempt.
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(a), "tok_abc"))
	assert.Equal(t, StateFailed, a.Status().State)
	assert.Zero(t, f.backend.chargeCalls)
}

func TestIntegrityMismatchHardStops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Verified order says 25.00 but the attempt would charge 30.00.
	a := f.startReady(t, "30.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(a), "tok_abc"))

	st := a.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, string(CodeIntegrity), st.FailureCode)
	assert.False(t, st.Retryable, "integrity failures offer no retry path")
	assert.Zero(t, f.backend.chargeCalls, "the mismatched charge is never sent")

	err = f.orch.Retry(ctx, a.Ref)
	fe, ok := AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, CodeIntegrity, fe.Code)
	assert.Equal(t, StateFailed, a.Status().State)
}

func TestChargeFailureWithReusableToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.chargeErr = &chargeFailure{msg: "insufficient funds", tokenValid: true}

	a := f.startReady(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(a), "tok_abc"))

	st := a.Status()
	assert.Equal(t, StateTokenReceived, st.State, "token survives, no re-tokenization needed")
	assert.Equal(t, string(CodeCharge), st.FailureCode)

	// Funds arrive; the same token is charged again.
	f.backend.chargeErr = nil
	require.NoError(t, f.orch.RetryCharge(ctx, a.Ref))
	assert.Equal(t, StateSuccess, a.Status().State)
	assert.Equal(t, 2, f.backend.chargeCalls)
	assert.Equal(t, "tok_abc", f.backend.chargedToken)
}

func TestChargeFailureWithDeadTokenRequiresRetokenization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.chargeErr = &chargeFailure{msg: "token expired", tokenValid: false}

	a := f.startReady(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(a), "tok_abc"))

	st := a.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, string(CodeCharge), st.FailureCode)
	assert.True(t, st.Retryable)

	// RetryCharge has nothing to work with; the flow goes back through
	// tokenization.
	err = f.orch.RetryCharge(ctx, a.Ref)
	fe, ok := AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, CodePrecondition, fe.Code)

	require.NoError(t, f.orch.Retry(ctx, a.Ref))
	assert.Equal(t, StateAwaitingShippingAndCard, a.Status().State)
}

func TestCardFieldsClearedOnceTokenArrives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	form, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(a), "tok_abc"))
	require.Equal(t, StateSuccess, a.Status().State)

	// Only the static session credentials survive; the hidden card fields
	// are gone the moment the submission is answered.
	dump := fmt.Sprintf("%+v", form.Fields())
	assert.NotContains(t, dump, "4111111111111111")
	assert.NotContains(t, dump, "card_number")
	assert.NotContains(t, dump, "card_security_code")
	assert.NotContains(t, dump, "card_holder_name")
}

func TestCardFieldsClearedOnTeardown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	form, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	require.NoError(t, f.orch.Teardown(ctx, a.Ref))

	dump := fmt.Sprintf("%+v", form.Fields())
	assert.NotContains(t, dump, "4111111111111111")
	assert.NotContains(t, dump, "card_security_code")
}

func TestTeardownDuringChargeInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.chargeStarted = make(chan struct{}, 1)
	f.backend.chargeRelease = make(chan struct{})

	a := f.startReady(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(a), "tok_abc"))
	}()

	// With the charge held open, teardown and status reads must not block
	// behind it.
	<-f.backend.chargeStarted
	assert.Equal(t, StateSubmitting, a.Status().State)
	require.NoError(t, f.orch.Teardown(ctx, a.Ref))
	close(f.backend.chargeRelease)
	<-done

	st := a.Status()
	assert.Equal(t, StateCancelled, st.State)
	assert.Empty(t, st.RedirectURL, "a cancelled attempt never redirects")
}

func TestPruneTerminalEvictsFinishedAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	finished := f.startReady(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, finished.Ref, testCardFields())
	require.NoError(t, err)
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(finished), "tok_abc"))
	require.Equal(t, StateSuccess, finished.Status().State)

	live := f.startReady(t, "25.00")

	assert.Equal(t, 1, f.orch.PruneTerminal(0))

	_, ok := f.orch.Get(finished.Ref)
	assert.False(t, ok, "terminal attempts leave the registry")
	_, ok = f.orch.Get(live.Ref)
	assert.True(t, ok, "in-flight attempts stay")

	// A late message for the evicted attempt no longer correlates.
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(finished), "tok_late"))
	assert.Equal(t, 1, f.backend.chargeCalls)
}

func TestSnapshotsNeverCarryCardData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.startReady(t, "25.00")
	_, err := f.orch.SubmitCard(ctx, a.Ref, testCardFields())
	require.NoError(t, err)
	f.orch.HandleGatewayMessage(ctx, testGatewayOrigin, successMessage(mref(a), "tok_abc"))

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	for _, snap := range f.rec.snaps {
		dump := fmt.Sprintf("%+v", snap)
		assert.NotContains(t, dump, "4111111111111111")
		assert.NotContains(t, dump, "411111")
	}
}
