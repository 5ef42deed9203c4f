package attempts

import (
	"context"
	"encoding/json"
	"time"

	"cartjo/internal/checkout"
)

const QueryTimeoutDuration = time.Second * 5

// Record is the persisted view of a checkout attempt. Card data never
// reaches this table; the snapshot carries references and money only.
type Record struct {
	ID                int64          `json:"id"`
	Ref               string         `json:"ref"`
	CustomerID        int64          `json:"customer_id"`
	State             checkout.State `json:"state"`
	MerchantReference string         `json:"merchant_reference"`
	OrderID           *string        `json:"order_id,omitempty"`
	Amount            string         `json:"amount"`
	Currency          string         `json:"currency"`
	CustomerEmail     string         `json:"customer_email"`
	FailureCode       *string        `json:"failure_code,omitempty"`
	FailureMessage    *string        `json:"failure_message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Event is one redacted line of the attempt's audit trail, kept for
// support and reconciliation.
type Event struct {
	ID        int64           `json:"id"`
	Ref       string          `json:"ref"`
	Kind      string          `json:"kind"` // session_ready, tokenization_submitted, token_received, ...
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Store interface {
	Create(ctx context.Context, snap *checkout.Snapshot) (int64, error)
	Save(ctx context.Context, snap *checkout.Snapshot) error
	GetByRef(ctx context.Context, ref string) (*Record, error)
	ListByCustomer(ctx context.Context, customerID int64, limit, offset int) ([]Record, error)

	LogEvent(ctx context.Context, ref, kind string, payload any) error
	ListEvents(ctx context.Context, ref string, limit int) ([]Event, error)
}
