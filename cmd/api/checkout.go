package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"cartjo/internal/card"
	"cartjo/internal/checkout"
	"cartjo/internal/domain/attempts"
	"cartjo/internal/params"
)

// CreateCheckoutRequest starts a payment attempt for a verified cart.
type CreateCheckoutRequest struct {
	Amount         string `json:"amount" validate:"required"`
	Currency       string `json:"currency" validate:"required,len=3"`
	CustomerEmail  string `json:"customer_email" validate:"required,email"`
	OrderReference string `json:"order_reference" validate:"required"`
}

// ShippingRequest carries the delivery address collected on the payment page.
type ShippingRequest struct {
	Name       string `json:"name" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" validate:"required,len=2"`
}

// PayRequest carries card fields. They live in this request and the hidden
// form only; nothing here is ever persisted or logged.
type PayRequest struct {
	CardNumber  string `json:"card_number" validate:"required,cardnumber"`
	ExpiryMonth string `json:"expiry_month" validate:"required,expirymonth"`
	ExpiryYear  string `json:"expiry_year" validate:"required,len=4"`
	CVV         string `json:"cvv" validate:"required,min=3,max=4"`
	HolderName  string `json:"holder_name" validate:"required"`
}

// CreateCheckout godoc
//
//	@Summary		Start a checkout attempt
//	@Description	Mints a payment session, verifies the order reference and returns the attempt reference
//	@Tags			Checkout
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		CreateCheckoutRequest	true	"Cart total and order reference"
//	@Success		201		{object}	checkout.Status
//	@Failure		400		{object}	error	"Bad Request"
//	@Failure		401		{object}	error	"Unauthorized"
//	@Failure		422		{object}	error	"Verification failed"
//	@Security		ApiKeyAuth
//	@Router			/checkout [post]
func (app *application) createCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var payload CreateCheckoutRequest
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		app.badRequestResponse(w, r, errors.New("amount is not a valid decimal"))
		return
	}

	attempt, err := app.checkout.Start(r.Context(), checkout.StartInput{
		CustomerID:     getCustomerIDFromContext(r),
		Amount:         amount,
		Currency:       payload.Currency,
		CustomerEmail:  payload.CustomerEmail,
		OrderReference: payload.OrderReference,
	})
	if err != nil {
		app.flowErrorResponse(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusCreated, attempt.Status())
}

// AttachShipping godoc
//
//	@Summary		Attach a shipping address
//	@Tags			Checkout
//	@Accept			json
//	@Produce		json
//	@Param			ref		path	string			true	"Payment reference"
//	@Param			payload	body	ShippingRequest	true	"Shipping address"
//	@Success		200	{object}	checkout.Status
//	@Failure		404	{object}	error	"Not Found"
//	@Security		ApiKeyAuth
//	@Router			/checkout/{ref}/shipping [post]
func (app *application) attachShippingHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if !app.ownedAttempt(w, r, ref) {
		return
	}

	var payload ShippingRequest
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err := app.checkout.AttachShipping(r.Context(), ref, checkout.ShippingAddress{
		Name:       payload.Name,
		Phone:      payload.Phone,
		Line1:      payload.Line1,
		City:       payload.City,
		PostalCode: payload.PostalCode,
		Country:    payload.Country,
	})
	if err != nil {
		app.flowErrorResponse(w, r, err)
		return
	}

	app.statusResponse(w, r, ref)
}

// SubmitCard godoc
//
//	@Summary		Submit card details for tokenization
//	@Description	Builds the signed gateway form and returns it as an auto-posting HTML page
//	@Tags			Checkout
//	@Accept			json
//	@Produce		html
//	@Param			ref		path	string		true	"Payment reference"
//	@Param			payload	body	PayRequest	true	"Card details"
//	@Success		200	{string}	string	"Auto-posting tokenization form"
//	@Failure		400	{object}	error	"Bad Request"
//	@Failure		409	{object}	error	"Tokenization already in flight"
//	@Security		ApiKeyAuth
//	@Router			/checkout/{ref}/pay [post]
func (app *application) submitCardHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if !app.ownedAttempt(w, r, ref) {
		return
	}

	var payload PayRequest
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	fields := card.Fields{
		Number:      payload.CardNumber,
		ExpiryMonth: payload.ExpiryMonth,
		ExpiryYear:  payload.ExpiryYear,
		CVV:         payload.CVV,
		HolderName:  payload.HolderName,
	}

	form, err := app.checkout.SubmitCard(r.Context(), ref, fields)
	if err != nil {
		app.flowErrorResponse(w, r, err)
		return
	}

	app.renderAutoPostForm(w, r, form)
}

// GetCheckout godoc
//
//	@Summary	Current state of a checkout attempt
//	@Tags		Checkout
//	@Produce	json
//	@Param		ref	path		string	true	"Payment reference"
//	@Success	200	{object}	checkout.Status
//	@Failure	404	{object}	error	"Not Found"
//	@Security	ApiKeyAuth
//	@Router		/checkout/{ref} [get]
func (app *application) getCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if _, err := app.refs.Decode(ref); err != nil {
		app.notFoundResponse(w, r, err)
		return
	}

	if !app.ownedAttempt(w, r, ref) {
		return
	}

	// Live attempts answer from memory. Attempts that did not survive a
	// restart are served from their last persisted snapshot.
	if attempt, ok := app.checkout.Get(ref); ok {
		app.jsonResponse(w, http.StatusOK, attempt.Status())
		return
	}

	rec, err := app.attempts.GetByRef(r.Context(), ref)
	if err != nil {
		if errors.Is(err, attempts.ErrNotFound) {
			app.notFoundResponse(w, r, err)
			return
		}
		app.internalServerError(w, r, err)
		return
	}
	if rec.CustomerID != getCustomerIDFromContext(r) {
		app.notFoundResponse(w, r, errors.New("attempt not found"))
		return
	}

	app.jsonResponse(w, http.StatusOK, rec)
}

// ListAttempts godoc
//
//	@Summary	List the caller's checkout attempts
//	@Tags		Checkout
//	@Produce	json
//	@Param		page	query		int	false	"Page number"
//	@Param		limit	query		int	false	"Items per page"
//	@Success	200		{array}		attempts.Record
//	@Security	ApiKeyAuth
//	@Router		/checkout [get]
func (app *application) listAttemptsHandler(w http.ResponseWriter, r *http.Request) {
	p := params.ParsePagination(r.URL.Query())

	recs, err := app.attempts.ListByCustomer(r.Context(), getCustomerIDFromContext(r), p.Limit, p.Offset)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, recs)
}

// ListAttemptEvents godoc
//
//	@Summary	Audit trail for a checkout attempt
//	@Tags		Checkout
//	@Produce	json
//	@Param		ref	path		string	true	"Payment reference"
//	@Success	200	{array}		attempts.Event
//	@Failure	404	{object}	error	"Not Found"
//	@Security	ApiKeyAuth
//	@Router		/checkout/{ref}/events [get]
func (app *application) listAttemptEventsHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if !app.ownedAttempt(w, r, ref) {
		return
	}

	rec, err := app.attempts.GetByRef(r.Context(), ref)
	if err != nil {
		if errors.Is(err, attempts.ErrNotFound) {
			app.notFoundResponse(w, r, err)
			return
		}
		app.internalServerError(w, r, err)
		return
	}
	if rec.CustomerID != getCustomerIDFromContext(r) {
		app.notFoundResponse(w, r, errors.New("attempt not found"))
		return
	}

	events, err := app.attempts.ListEvents(r.Context(), ref, 100)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, events)
}

// CancelCheckout godoc
//
//	@Summary		Cancel a checkout attempt
//	@Description	Tears the attempt down; any in-flight gateway response will be ignored
//	@Tags			Checkout
//	@Param			ref	path	string	true	"Payment reference"
//	@Success		204
//	@Failure		404	{object}	error	"Not Found"
//	@Security		ApiKeyAuth
//	@Router			/checkout/{ref} [delete]
func (app *application) cancelCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if !app.ownedAttempt(w, r, ref) {
		return
	}

	if err := app.checkout.Teardown(r.Context(), ref); err != nil {
		app.flowErrorResponse(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RetryCheckout godoc
//
//	@Summary		Retry a failed attempt
//	@Description	Clears the failure and returns to card entry; refused after non-retryable failures
//	@Tags			Checkout
//	@Produce		json
//	@Param			ref	path		string	true	"Payment reference"
//	@Success		200	{object}	checkout.Status
//	@Failure		409	{object}	error	"Not retryable"
//	@Security		ApiKeyAuth
//	@Router			/checkout/{ref}/retry [post]
func (app *application) retryCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if !app.ownedAttempt(w, r, ref) {
		return
	}

	if err := app.checkout.Retry(r.Context(), ref); err != nil {
		app.flowErrorResponse(w, r, err)
		return
	}

	app.statusResponse(w, r, ref)
}

// RetryCharge godoc
//
//	@Summary		Re-submit the charge with the already issued token
//	@Description	Only valid after a charge failure where the gateway kept the token alive
//	@Tags			Checkout
//	@Produce		json
//	@Param			ref	path		string	true	"Payment reference"
//	@Success		200	{object}	checkout.Status
//	@Failure		409	{object}	error	"No reusable token"
//	@Security		ApiKeyAuth
//	@Router			/checkout/{ref}/retry-charge [post]
func (app *application) retryChargeHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if !app.ownedAttempt(w, r, ref) {
		return
	}

	if err := app.checkout.RetryCharge(r.Context(), ref); err != nil {
		app.flowErrorResponse(w, r, err)
		return
	}

	app.statusResponse(w, r, ref)
}

// ownedAttempt hides other customers' attempts behind a 404. Unknown refs
// fall through; the orchestrator answers those itself.
func (app *application) ownedAttempt(w http.ResponseWriter, r *http.Request, ref string) bool {
	if attempt, ok := app.checkout.Get(ref); ok && attempt.CustomerID != getCustomerIDFromContext(r) {
		app.notFoundResponse(w, r, errors.New("attempt not found"))
		return false
	}
	return true
}

func (app *application) statusResponse(w http.ResponseWriter, r *http.Request, ref string) {
	attempt, ok := app.checkout.Get(ref)
	if !ok {
		app.notFoundResponse(w, r, errors.New("attempt not found"))
		return
	}
	app.jsonResponse(w, http.StatusOK, attempt.Status())
}

// flowErrorResponse maps orchestration failures onto HTTP. Unknown errors
// fall through as 500s without leaking their message.
func (app *application) flowErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	fe, ok := checkout.AsFlowError(err)
	if !ok {
		if errors.Is(err, checkout.ErrUnknownAttempt) {
			app.notFoundResponse(w, r, err)
			return
		}
		app.internalServerError(w, r, err)
		return
	}

	switch fe.Code {
	case checkout.CodePrecondition:
		app.badRequestResponse(w, r, fe)
	case checkout.CodeVerification, checkout.CodeIntegrity:
		writeJSONError(w, http.StatusUnprocessableEntity, fe.Message)
	case checkout.CodeSession, checkout.CodeTokenization, checkout.CodeCharge, checkout.CodeTimeout:
		app.conflictResponse(w, r, fe)
	default:
		app.internalServerError(w, r, fe)
	}
}
