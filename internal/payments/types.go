package payments

import (
	"github.com/shopspring/decimal"

	"cartjo/internal/card"
)

// Session is a gateway payment session minted by the merchant backend for a
// single checkout attempt. It is immutable; a session-invalidating error
// means discarding it and minting a new one, never patching it in place.
type Session struct {
	MerchantReference string `json:"merchantReference"`
	AccessCredential  string `json:"accessCredential"`
	Signature         string `json:"signature"`
	ReturnURL         string `json:"returnUrl"`
	Currency          string `json:"currency"`
}

func (s Session) Valid() bool {
	return s.MerchantReference != "" && s.AccessCredential != "" && s.Signature != ""
}

// TokenizationRequest carries everything the gateway form needs for one
// attempt. Card fields transit here in memory only.
type TokenizationRequest struct {
	Session  Session
	Card     card.Fields
	Amount   decimal.Decimal
	Currency string
	Language string
}

type MessageKind int

const (
	// MessageUnrelated is any payload that does not look like a
	// tokenization result. It is ignored, not treated as an error.
	MessageUnrelated MessageKind = iota
	MessageToken
	MessageFailure
)

// ReturnMessage is the gateway's asynchronous answer to a tokenization form
// submission, already signature-verified by the adapter.
type ReturnMessage struct {
	Kind              MessageKind
	MerchantReference string
	Token             string
	ResponseCode      string
	ResponseMessage   string
	// TokenStillValid is set on charge-stage failure codes where the
	// gateway reports the token as reusable, so the shopper can retry
	// without re-entering the card.
	TokenStillValid bool
}
