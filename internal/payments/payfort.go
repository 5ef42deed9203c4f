package payments

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	cmdTokenization = "TOKENIZATION"
	cmdPurchase     = "PURCHASE"

	// Two leading digits of response_code carry the status; "18" is
	// tokenization success.
	statusTokenizationOK = "18"
)

// Charge-stage decline reasons after which the gateway keeps the token
// usable, so the shopper may retry the purchase without re-tokenizing.
var reusableTokenCodes = map[string]bool{
	"00016": true, // insufficient funds
	"00072": true, // transaction amount exceeds limit
	"00779": true, // transaction declined, retry allowed
}

// PayFortAdapter integrates the PayFort-style hosted tokenization flow: a
// signed form posted from a hidden frame to the gateway, with the result
// coming back asynchronously to the configured return URL.
type PayFortAdapter struct {
	AccessCode         string
	MerchantIdentifier string
	SHARequestPhrase   string
	SHAResponsePhrase  string
	TokenizationURL    string
	GatewayOrigin      string
	IsProduction       bool
}

func NewPayFortAdapter(accessCode, merchantID, reqPhrase, respPhrase string, isProd bool) *PayFortAdapter {
	a := &PayFortAdapter{
		AccessCode:         accessCode,
		MerchantIdentifier: merchantID,
		SHARequestPhrase:   reqPhrase,
		SHAResponsePhrase:  respPhrase,
		IsProduction:       isProd,
	}
	if isProd {
		a.TokenizationURL = "https://checkout.payfort.com/FortAPI/paymentPage"
		a.GatewayOrigin = "https://checkout.payfort.com"
	} else {
		a.TokenizationURL = "https://sbcheckout.payfort.com/FortAPI/paymentPage"
		a.GatewayOrigin = "https://sbcheckout.payfort.com"
	}
	return a
}

func (a *PayFortAdapter) Name() string { return "payfort" }

// TokenizationForm builds the hidden-form field set for one attempt. The
// signature covers the merchant parameters only; card fields are posted
// alongside but are never part of the signed material, so they cannot end
// up in any signature log.
func (a *PayFortAdapter) TokenizationForm(req TokenizationRequest) (*Form, error) {
	if !req.Session.Valid() {
		return nil, fmt.Errorf("payfort: incomplete session credentials")
	}

	lang := req.Language
	if lang == "" {
		lang = "en"
	}

	signed := map[string]string{
		"service_command":     cmdTokenization,
		"access_code":         a.AccessCode,
		"merchant_identifier": a.MerchantIdentifier,
		"merchant_reference":  req.Session.MerchantReference,
		"language":            lang,
		"return_url":          req.Session.ReturnURL,
	}
	signed["signature"] = a.sign(signed, a.SHARequestPhrase)

	form := NewForm(a.TokenizationURL, signed)

	n := req.Card.Normalized()
	form.Set("card_number", n.Number)
	form.Set("expiry_date", n.GatewayExpiry())
	form.Set("card_security_code", n.CVV)
	form.Set("card_holder_name", n.HolderName)

	return form, nil
}

// ParseReturn verifies the response signature and classifies the message.
// A missing or mismatched signature yields ErrUntrustedMessage; a payload
// that is not a tokenization result at all is MessageUnrelated.
func (a *PayFortAdapter) ParseReturn(params map[string]string) (ReturnMessage, error) {
	gotSig, ok := params["signature"]
	if !ok {
		return ReturnMessage{Kind: MessageUnrelated}, nil
	}

	unsigned := make(map[string]string, len(params))
	for k, v := range params {
		if k == "signature" {
			continue
		}
		unsigned[k] = v
	}
	want := a.sign(unsigned, a.SHAResponsePhrase)
	if subtle.ConstantTimeCompare([]byte(want), []byte(gotSig)) != 1 {
		return ReturnMessage{}, ErrUntrustedMessage
	}

	cmd := params["service_command"]
	if cmd != cmdTokenization && cmd != cmdPurchase {
		return ReturnMessage{Kind: MessageUnrelated}, nil
	}

	msg := ReturnMessage{
		MerchantReference: params["merchant_reference"],
		ResponseCode:      params["response_code"],
		ResponseMessage:   params["response_message"],
	}

	if strings.HasPrefix(msg.ResponseCode, statusTokenizationOK) && params["token_name"] != "" {
		msg.Kind = MessageToken
		msg.Token = params["token_name"]
		return msg, nil
	}

	msg.Kind = MessageFailure
	msg.TokenStillValid = reusableTokenCodes[msg.ResponseCode]
	if msg.ResponseMessage == "" {
		msg.ResponseMessage = "the card could not be tokenized"
	}
	return msg, nil
}

// VerifyOrigin checks a browser-supplied Origin/Referer value against the
// gateway origin. Scheme and host must match; paths are ignored.
func (a *PayFortAdapter) VerifyOrigin(origin string) bool {
	return SameOrigin(origin, a.GatewayOrigin)
}

// sign implements the gateway's signature scheme: parameters sorted by
// name, concatenated as key=value, wrapped with the SHA phrase on both
// sides, then SHA-256 hex.
func (a *PayFortAdapter) sign(params map[string]string, phrase string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(phrase)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	b.WriteString(phrase)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// SameOrigin compares two origin strings on scheme and host.
func SameOrigin(got, want string) bool {
	gu, err := url.Parse(strings.TrimSpace(got))
	if err != nil || gu.Host == "" {
		return false
	}
	wu, err := url.Parse(want)
	if err != nil {
		return false
	}
	return strings.EqualFold(gu.Scheme, wu.Scheme) && strings.EqualFold(gu.Host, wu.Host)
}

// MinorUnits renders a decimal amount in the gateway's integer minor-unit
// convention. Jordanian dinar and the other three-decimal currencies get a
// 1000 multiplier, everything else 100.
func MinorUnits(amount decimal.Decimal, currency string) string {
	exp := int32(2)
	switch strings.ToUpper(currency) {
	case "JOD", "KWD", "BHD", "OMR", "TND":
		exp = 3
	}
	return amount.Shift(exp).Truncate(0).String()
}
