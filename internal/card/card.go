// Package card holds the transient card-field state for a single checkout
// attempt. Fields live in memory only: they are never written to the
// database, never forwarded to the merchant backend and never logged in
// clear (use Masked for any diagnostic output).
package card

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	ErrNumberInvalid = errors.New("card number failed check digit validation")
	ErrNumberLength  = errors.New("card number must be 12-19 digits")
	ErrExpiryInvalid = errors.New("card expiry is malformed")
	ErrExpired       = errors.New("card is expired")
	ErrCVVInvalid    = errors.New("security code must be 3 or 4 digits")
	ErrHolderMissing = errors.New("card holder name is required")
)

type Brand string

const (
	BrandVisa       Brand = "visa"
	BrandMastercard Brand = "mastercard"
	BrandAmex       Brand = "amex"
	BrandUnknown    Brand = "unknown"
)

// Fields is the raw card input for one tokenization attempt.
type Fields struct {
	Number      string
	ExpiryMonth string // "01".."12"
	ExpiryYear  string // 2-digit or 4-digit
	CVV         string
	HolderName  string
}

// Normalized returns a copy with spaces and dashes stripped from the number
// and a 2-digit year, the shape the gateway form expects.
func (f Fields) Normalized() Fields {
	f.Number = digitsOnly(f.Number)
	f.HolderName = strings.TrimSpace(f.HolderName)
	if len(f.ExpiryYear) == 4 {
		f.ExpiryYear = f.ExpiryYear[2:]
	}
	if len(f.ExpiryMonth) == 1 {
		f.ExpiryMonth = "0" + f.ExpiryMonth
	}
	return f
}

// Validate reports whether the fields are well-formed enough to hand to the
// gateway. It checks shape only; whether the card is chargeable is the
// gateway's call.
func (f Fields) Validate(now time.Time) error {
	n := f.Normalized()

	if len(n.Number) < 12 || len(n.Number) > 19 {
		return ErrNumberLength
	}
	if !Luhn(n.Number) {
		return ErrNumberInvalid
	}

	month, err := strconv.Atoi(n.ExpiryMonth)
	if err != nil || month < 1 || month > 12 {
		return ErrExpiryInvalid
	}
	year, err := strconv.Atoi(n.ExpiryYear)
	if err != nil || len(n.ExpiryYear) != 2 {
		return ErrExpiryInvalid
	}
	year += 2000
	// A card is valid through the last day of its expiry month.
	expiry := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.Before(expiry) {
		return ErrExpired
	}

	cvvLen := 3
	if n.Brand() == BrandAmex {
		cvvLen = 4
	}
	if len(n.CVV) != cvvLen || digitsOnly(n.CVV) != n.CVV {
		return ErrCVVInvalid
	}

	if n.HolderName == "" {
		return ErrHolderMissing
	}
	return nil
}

// Present reports whether any card input was supplied at all.
func (f Fields) Present() bool {
	return f.Number != "" || f.CVV != "" || f.ExpiryMonth != "" || f.ExpiryYear != ""
}

func (f Fields) Brand() Brand {
	n := digitsOnly(f.Number)
	switch {
	case strings.HasPrefix(n, "4"):
		return BrandVisa
	case len(n) >= 2 && n[0] == '5' && n[1] >= '1' && n[1] <= '5':
		return BrandMastercard
	case strings.HasPrefix(n, "34") || strings.HasPrefix(n, "37"):
		return BrandAmex
	default:
		return BrandUnknown
	}
}

// Masked returns the first-6/last-4 form safe for logs and support tooling.
func (f Fields) Masked() string {
	n := digitsOnly(f.Number)
	if len(n) < 10 {
		return strings.Repeat("*", len(n))
	}
	return fmt.Sprintf("%s%s%s", n[:6], strings.Repeat("*", len(n)-10), n[len(n)-4:])
}

// GatewayExpiry is YYMM, the wire format the tokenization form expects.
func (f Fields) GatewayExpiry() string {
	n := f.Normalized()
	return n.ExpiryYear + n.ExpiryMonth
}

// Luhn runs the standard mod-10 check digit algorithm.
func Luhn(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
