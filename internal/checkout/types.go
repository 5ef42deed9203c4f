package checkout

import (
	"context"

	"github.com/shopspring/decimal"

	"cartjo/internal/payments"
)

// VerifiedOrder is the backend's answer to verifying an encrypted order
// reference. Read-only once set; the amount and currency here are the
// source of truth the eventual charge is cross-checked against.
type VerifiedOrder struct {
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customerEmail"`
}

func (o VerifiedOrder) Present() bool { return o.OrderID != "" }

// ShippingAddress is produced by the storefront's address capture. The
// orchestrator treats it as an opaque required input; only the backend
// charge call reads its fields.
type ShippingAddress struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

// ChargeResult is the backend's confirmation of a captured charge.
type ChargeResult struct {
	OrderID string
}

// BackendAPI is the merchant backend surface the orchestrator drives. The
// token is the only card-derived value that ever crosses it.
type BackendAPI interface {
	InitializeSession(ctx context.Context, amount decimal.Decimal, currency, customerEmail string) (payments.Session, error)
	VerifyOrder(ctx context.Context, encryptedReference string) (VerifiedOrder, error)
	SubmitCharge(ctx context.Context, token string, order VerifiedOrder, shipping ShippingAddress) (ChargeResult, error)
}

// Recorder persists attempt snapshots and redacted event logs so a shopper
// returning after a page gap can re-hydrate status. Persistence failures
// are logged, never allowed to fail the flow.
type Recorder interface {
	Create(ctx context.Context, snap *Snapshot) (int64, error)
	Save(ctx context.Context, snap *Snapshot) error
	LogEvent(ctx context.Context, ref, kind string, payload any) error
}

// Snapshot is the persistable view of an attempt. Card fields never appear
// here.
type Snapshot struct {
	Ref               string
	CustomerID        int64
	State             State
	MerchantReference string
	OrderID           string
	Amount            decimal.Decimal
	Currency          string
	CustomerEmail     string
	FailureCode       string
	FailureMessage    string
}

// Notifier is told about terminal payment results (push, receipt email).
// Implementations run out of the request path.
type Notifier interface {
	PaymentResult(ctx context.Context, snap Snapshot, succeeded bool)
}

// NopNotifier is used where no notification channel is wired.
type NopNotifier struct{}

func (NopNotifier) PaymentResult(context.Context, Snapshot, bool) {}
