package card

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)

func validFields() Fields {
	return Fields{
		Number:      "4111 1111 1111 1111",
		ExpiryMonth: "09",
		ExpiryYear:  "28",
		CVV:         "123",
		HolderName:  "Huthaifa Altiti",
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validFields().Validate(now))

	t.Run("luhn failure", func(t *testing.T) {
		f := validFields()
		f.Number = "4111111111111112"
		assert.ErrorIs(t, f.Validate(now), ErrNumberInvalid)
	})

	t.Run("too short", func(t *testing.T) {
		f := validFields()
		f.Number = "41111111"
		assert.ErrorIs(t, f.Validate(now), ErrNumberLength)
	})

	t.Run("expired card", func(t *testing.T) {
		f := validFields()
		f.ExpiryMonth = "02"
		f.ExpiryYear = "26"
		assert.ErrorIs(t, f.Validate(now), ErrExpired)
	})

	t.Run("valid through end of expiry month", func(t *testing.T) {
		f := validFields()
		f.ExpiryMonth = "03"
		f.ExpiryYear = "26"
		assert.NoError(t, f.Validate(now))
	})

	t.Run("four digit year accepted", func(t *testing.T) {
		f := validFields()
		f.ExpiryYear = "2028"
		assert.NoError(t, f.Validate(now))
	})

	t.Run("bad month", func(t *testing.T) {
		f := validFields()
		f.ExpiryMonth = "13"
		assert.ErrorIs(t, f.Validate(now), ErrExpiryInvalid)
	})

	t.Run("cvv wrong length", func(t *testing.T) {
		f := validFields()
		f.CVV = "12"
		assert.ErrorIs(t, f.Validate(now), ErrCVVInvalid)
	})

	t.Run("amex wants 4 digit cvv", func(t *testing.T) {
		f := validFields()
		f.Number = "378282246310005"
		f.CVV = "123"
		assert.ErrorIs(t, f.Validate(now), ErrCVVInvalid)
		f.CVV = "1234"
		assert.NoError(t, f.Validate(now))
	})

	t.Run("missing holder", func(t *testing.T) {
		f := validFields()
		f.HolderName = "   "
		assert.ErrorIs(t, f.Validate(now), ErrHolderMissing)
	})
}

func TestBrand(t *testing.T) {
	assert.Equal(t, BrandVisa, Fields{Number: "4111111111111111"}.Brand())
	assert.Equal(t, BrandMastercard, Fields{Number: "5500005555555559"}.Brand())
	assert.Equal(t, BrandAmex, Fields{Number: "378282246310005"}.Brand())
	assert.Equal(t, BrandUnknown, Fields{Number: "6011000990139424"}.Brand())
}

func TestMasked(t *testing.T) {
	assert.Equal(t, "411111******1111", validFields().Masked())
	assert.Equal(t, "****", Fields{Number: "1234"}.Masked())
}

func TestGatewayExpiry(t *testing.T) {
	f := validFields()
	assert.Equal(t, "2809", f.GatewayExpiry())

	f.ExpiryMonth = "3"
	f.ExpiryYear = "2027"
	assert.Equal(t, "2703", f.GatewayExpiry())
}

func TestLuhn(t *testing.T) {
	assert.True(t, Luhn("4111111111111111"))
	assert.False(t, Luhn("4111111111111112"))
	assert.False(t, Luhn("41111111x1111111"))
}
