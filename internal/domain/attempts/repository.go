package attempts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cartjo/internal/checkout"
	"cartjo/internal/infra/dbx"
)

var ErrNotFound = errors.New("attempt not found")

type Repository struct {
	q dbx.Querier
}

func NewRepository(q dbx.Querier) *Repository {
	return &Repository{q: q}
}

// Create inserts the initial snapshot and returns the row id the public
// payment reference is derived from. The ref column is filled by the first
// Save once the reference exists.
func (r *Repository) Create(ctx context.Context, snap *checkout.Snapshot) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	var id int64
	err := r.q.QueryRow(ctx, `
INSERT INTO checkout_attempts
  (ref, customer_id, state, merchant_reference, amount, currency, customer_email, created_at, updated_at)
VALUES ('', $1, $2, $3, $4, $5, $6, NOW(), NOW())
RETURNING id`,
		snap.CustomerID, snap.State, snap.MerchantReference,
		snap.Amount.String(), snap.Currency, snap.CustomerEmail,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create attempt: %w", err)
	}
	return id, nil
}

// Save upserts the current snapshot keyed by merchant reference, which is
// stable from the moment the session is minted.
func (r *Repository) Save(ctx context.Context, snap *checkout.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	_, err := r.q.Exec(ctx, `
UPDATE checkout_attempts
SET ref=$2, state=$3, order_id=NULLIF($4,''), failure_code=NULLIF($5,''),
    failure_message=NULLIF($6,''), updated_at=NOW()
WHERE merchant_reference=$1`,
		snap.MerchantReference, snap.Ref, snap.State,
		snap.OrderID, snap.FailureCode, snap.FailureMessage,
	)
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", snap.Ref, err)
	}
	return nil
}

func (r *Repository) GetByRef(ctx context.Context, ref string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	var rec Record
	err := r.q.QueryRow(ctx, `
SELECT id, ref, customer_id, state, merchant_reference, order_id,
       amount, currency, customer_email, failure_code, failure_message,
       created_at, updated_at
FROM checkout_attempts WHERE ref=$1`, ref).
		Scan(&rec.ID, &rec.Ref, &rec.CustomerID, &rec.State, &rec.MerchantReference,
			&rec.OrderID, &rec.Amount, &rec.Currency, &rec.CustomerEmail,
			&rec.FailureCode, &rec.FailureMessage, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID int64, limit, offset int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := r.q.Query(ctx, `
SELECT id, ref, customer_id, state, merchant_reference, order_id,
       amount, currency, customer_email, failure_code, failure_message,
       created_at, updated_at
FROM checkout_attempts
WHERE customer_id=$1
ORDER BY id DESC
LIMIT $2 OFFSET $3`, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Ref, &rec.CustomerID, &rec.State, &rec.MerchantReference,
			&rec.OrderID, &rec.Amount, &rec.Currency, &rec.CustomerEmail,
			&rec.FailureCode, &rec.FailureMessage, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LogEvent appends one redacted audit line. Payloads come from the
// orchestrator, which never puts card data in them.
func (r *Repository) LogEvent(ctx context.Context, ref, kind string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}

	_, err := r.q.Exec(ctx, `
INSERT INTO checkout_attempt_events (ref, kind, payload, created_at)
VALUES ($1, $2, $3, NOW())`, ref, kind, raw)
	return err
}

func (r *Repository) ListEvents(ctx context.Context, ref string, limit int) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.q.Query(ctx, `
SELECT id, ref, kind, payload, created_at
FROM checkout_attempt_events
WHERE ref=$1
ORDER BY id ASC
LIMIT $2`, ref, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Ref, &ev.Kind, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
