package payments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartjo/internal/card"
)

func testAdapter() *PayFortAdapter {
	return NewPayFortAdapter("ACCESS", "MERCHANT", "reqphrase", "respphrase", false)
}

func testSession() Session {
	return Session{
		MerchantReference: "mref-42",
		AccessCredential:  "ACCESS",
		Signature:         "sig",
		ReturnURL:         "https://shop.example/v1/checkout/gateway/return",
		Currency:          "JOD",
	}
}

func testCard() card.Fields {
	return card.Fields{
		Number:      "4111111111111111",
		ExpiryMonth: "09",
		ExpiryYear:  "28",
		CVV:         "123",
		HolderName:  "Huthaifa Altiti",
	}
}

// signedResponse builds a gateway message signed with the response phrase,
// the way the sandbox gateway would.
func signedResponse(a *PayFortAdapter, params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["signature"] = a.sign(params, a.SHAResponsePhrase)
	return out
}

func TestTokenizationFormFields(t *testing.T) {
	a := testAdapter()

	form, err := a.TokenizationForm(TokenizationRequest{
		Session:  testSession(),
		Card:     testCard(),
		Amount:   decimal.RequireFromString("25.00"),
		Currency: "JOD",
	})
	require.NoError(t, err)

	byName := map[string]string{}
	for _, f := range form.Fields() {
		byName[f.Name] = f.Value
	}

	assert.Equal(t, "TOKENIZATION", byName["service_command"])
	assert.Equal(t, "mref-42", byName["merchant_reference"])
	assert.Equal(t, "4111111111111111", byName["card_number"])
	assert.Equal(t, "2809", byName["expiry_date"])
	assert.NotEmpty(t, byName["signature"])
	assert.Equal(t, a.TokenizationURL, form.Action())
	assert.NotEmpty(t, form.Frame())

	// Card fields stay out of the signed material: the same session must
	// produce the same signature regardless of the card.
	other := testCard()
	other.Number = "5500005555555559"
	form2, err := a.TokenizationForm(TokenizationRequest{Session: testSession(), Card: other})
	require.NoError(t, err)
	for _, f := range form2.Fields() {
		if f.Name == "signature" {
			assert.Equal(t, byName["signature"], f.Value)
		}
	}
}

func TestTokenizationFormRequiresSession(t *testing.T) {
	a := testAdapter()
	_, err := a.TokenizationForm(TokenizationRequest{Card: testCard()})
	assert.Error(t, err)
}

func TestParseReturnSuccess(t *testing.T) {
	a := testAdapter()
	params := signedResponse(a, map[string]string{
		"service_command":    "TOKENIZATION",
		"merchant_reference": "mref-42",
		"response_code":      "18000",
		"response_message":   "Success",
		"token_name":         "tok_abc",
	})

	msg, err := a.ParseReturn(params)
	require.NoError(t, err)
	assert.Equal(t, MessageToken, msg.Kind)
	assert.Equal(t, "tok_abc", msg.Token)
	assert.Equal(t, "mref-42", msg.MerchantReference)
}

func TestParseReturnFailure(t *testing.T) {
	a := testAdapter()
	params := signedResponse(a, map[string]string{
		"service_command":    "TOKENIZATION",
		"merchant_reference": "mref-42",
		"response_code":      "00005",
		"response_message":   "Invalid card number",
	})

	msg, err := a.ParseReturn(params)
	require.NoError(t, err)
	assert.Equal(t, MessageFailure, msg.Kind)
	assert.Equal(t, "Invalid card number", msg.ResponseMessage)
	assert.False(t, msg.TokenStillValid)
}

func TestParseReturnReusableTokenCode(t *testing.T) {
	a := testAdapter()
	params := signedResponse(a, map[string]string{
		"service_command":    "PURCHASE",
		"merchant_reference": "mref-42",
		"response_code":      "00016",
		"response_message":   "Insufficient funds",
	})

	msg, err := a.ParseReturn(params)
	require.NoError(t, err)
	assert.Equal(t, MessageFailure, msg.Kind)
	assert.True(t, msg.TokenStillValid)
}

func TestParseReturnTamperedSignature(t *testing.T) {
	a := testAdapter()
	params := signedResponse(a, map[string]string{
		"service_command":    "TOKENIZATION",
		"merchant_reference": "mref-42",
		"response_code":      "18000",
		"token_name":         "tok_abc",
	})
	params["response_code"] = "00004" // tampered after signing

	_, err := a.ParseReturn(params)
	assert.ErrorIs(t, err, ErrUntrustedMessage)
}

func TestParseReturnUnrelatedShapes(t *testing.T) {
	a := testAdapter()

	// No signature at all: not a gateway message.
	msg, err := a.ParseReturn(map[string]string{"hello": "world"})
	require.NoError(t, err)
	assert.Equal(t, MessageUnrelated, msg.Kind)

	// Properly signed but not a command we ever issue.
	params := signedResponse(a, map[string]string{
		"service_command":    "SDK_TOKEN",
		"merchant_reference": "mref-42",
	})
	msg, err = a.ParseReturn(params)
	require.NoError(t, err)
	assert.Equal(t, MessageUnrelated, msg.Kind)
}

func TestVerifyOrigin(t *testing.T) {
	a := testAdapter()
	assert.True(t, a.VerifyOrigin("https://sbcheckout.payfort.com"))
	assert.True(t, a.VerifyOrigin("https://sbcheckout.payfort.com/FortAPI/paymentPage"))
	assert.False(t, a.VerifyOrigin("https://evil.example"))
	assert.False(t, a.VerifyOrigin("http://sbcheckout.payfort.com"))
	assert.False(t, a.VerifyOrigin(""))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, "25000", MinorUnits(decimal.RequireFromString("25.00"), "JOD"))
	assert.Equal(t, "2500", MinorUnits(decimal.RequireFromString("25.00"), "USD"))
	assert.Equal(t, "1999", MinorUnits(decimal.RequireFromString("19.999"), "usd"))
}
