// Package backend is the HTTP client for the merchant backend API. It is
// the only component that talks to the merchant's own servers, and the
// opaque token is the only card-derived value it ever transmits.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cartjo/internal/checkout"
	"cartjo/internal/payments"
)

// APIError is a non-success answer from the merchant backend.
type APIError struct {
	StatusCode int
	Message    string
	TokenValid bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("merchant backend: http=%d message=%q", e.StatusCode, e.Message)
}

// TokenStillValid reports whether the gateway token survived a failed
// charge, per the backend's relay of the gateway error code.
func (e *APIError) TokenStillValid() bool { return e.TokenValid }

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// envelope is the merchant backend's uniform response shape.
type envelope struct {
	IsSuccess       bool            `json:"isSuccess"`
	Data            json.RawMessage `json:"data"`
	Message         string          `json:"message"`
	TokenStillValid bool            `json:"tokenStillValid"`
}

// InitializeSession mints a signed payment session for the cart total. The
// credentials are good for a single tokenization attempt; callers discard
// the session and re-initialize rather than reusing stale credentials.
// Amounts cross this boundary in the gateway's integer minor-unit
// convention; the backend relays them to the gateway verbatim.
func (c *Client) InitializeSession(ctx context.Context, amount decimal.Decimal, currency, customerEmail string) (payments.Session, error) {
	payload := map[string]any{
		"amount":        payments.MinorUnits(amount, currency),
		"currency":      currency,
		"customerEmail": customerEmail,
	}

	var session payments.Session
	if err := c.post(ctx, "/payments/sessions", payload, &session); err != nil {
		return payments.Session{}, fmt.Errorf("initialize session: %w", err)
	}
	if !session.Valid() {
		return payments.Session{}, fmt.Errorf("initialize session: backend returned incomplete credentials")
	}
	return session, nil
}

// VerifyOrder exchanges an encrypted order reference for the verified
// order. Idempotent on the backend: verifying the same reference twice
// returns the same order and touches no ledger.
func (c *Client) VerifyOrder(ctx context.Context, encryptedReference string) (checkout.VerifiedOrder, error) {
	payload := map[string]string{"encryptedReference": encryptedReference}

	var order checkout.VerifiedOrder
	if err := c.post(ctx, "/orders/verify", payload, &order); err != nil {
		return checkout.VerifiedOrder{}, fmt.Errorf("verify order: %w", err)
	}
	return order, nil
}

// SubmitCharge exchanges the opaque token for a captured charge.
func (c *Client) SubmitCharge(ctx context.Context, token string, order checkout.VerifiedOrder, shipping checkout.ShippingAddress) (checkout.ChargeResult, error) {
	payload := map[string]any{
		"token":           token,
		"orderId":         order.OrderID,
		"amount":          payments.MinorUnits(order.Amount, order.Currency),
		"currency":        order.Currency,
		"shippingAddress": shipping,
	}

	var data struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	if err := c.post(ctx, "/payments/charge", payload, &data); err != nil {
		return checkout.ChargeResult{}, fmt.Errorf("submit charge: %w", err)
	}
	if data.Order.ID == "" {
		return checkout.ChargeResult{}, fmt.Errorf("submit charge: backend returned no order id")
	}
	return checkout.ChargeResult{OrderID: data.Order.ID}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w body=%s", err, truncate(raw))
	}
	if !env.IsSuccess {
		msg := env.Message
		if msg == "" {
			msg = "request rejected"
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg, TokenValid: env.TokenStillValid}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

func truncate(raw []byte) string {
	const max = 512
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
