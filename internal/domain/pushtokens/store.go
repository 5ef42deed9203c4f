package pushtokens

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cartjo/internal/infra/dbx"
)

const QueryTimeoutDuration = time.Second * 5

type Store interface {
	AddOrUpdate(ctx context.Context, customerID int64, token string, deviceInfo json.RawMessage) error
	Remove(ctx context.Context, customerID int64, token string) error
	RemoveByTokenList(ctx context.Context, tokens []string) error
	GetTokensByCustomerIDs(ctx context.Context, customerIDs []int64) (map[int64][]string, error)
	PruneStale(ctx context.Context, olderThan time.Duration) error
}

type Repository struct {
	q dbx.Querier
}

func NewRepository(q dbx.Querier) Store {
	return &Repository{q: q}
}

// AddOrUpdate upserts token + device info and refreshes last_updated.
func (r *Repository) AddOrUpdate(ctx context.Context, customerID int64, token string, deviceInfo json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	q := `
	INSERT INTO customer_push_tokens (customer_id, expo_push_token, device_info, last_updated)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (customer_id, expo_push_token)
	DO UPDATE SET device_info = EXCLUDED.device_info, last_updated = NOW();
	`

	_, err := r.q.Exec(ctx, q, customerID, token, deviceInfo)
	return err
}

func (r *Repository) Remove(ctx context.Context, customerID int64, token string) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	q := `DELETE FROM customer_push_tokens WHERE customer_id = $1 AND expo_push_token = $2`
	_, err := r.q.Exec(ctx, q, customerID, token)
	return err
}

// RemoveByTokenList deletes tokens Expo reported as dead receipts.
func (r *Repository) RemoveByTokenList(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	q := `DELETE FROM customer_push_tokens WHERE expo_push_token = ANY($1)`
	_, err := r.q.Exec(ctx, q, tokens)
	return err
}

// GetTokensByCustomerIDs returns every registered token for the given
// customers, keyed by customer id. A customer with no devices gets no key.
func (r *Repository) GetTokensByCustomerIDs(ctx context.Context, customerIDs []int64) (map[int64][]string, error) {
	result := make(map[int64][]string)
	if len(customerIDs) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	q := `SELECT customer_id, expo_push_token FROM customer_push_tokens WHERE customer_id = ANY($1)`
	rows, err := r.q.Query(ctx, q, customerIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cid int64
	var token string
	for rows.Next() {
		if err := rows.Scan(&cid, &token); err != nil {
			return nil, err
		}
		result[cid] = append(result[cid], token)
	}
	return result, rows.Err()
}

// PruneStale deletes tokens not updated in olderThan duration.
func (r *Repository) PruneStale(ctx context.Context, olderThan time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	interval := fmt.Sprintf("%d seconds", int64(olderThan.Seconds()))
	q := `DELETE FROM customer_push_tokens WHERE last_updated < NOW() - $1::interval`
	_, err := r.q.Exec(ctx, q, interval)
	return err
}
