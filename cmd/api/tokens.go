package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// CreateTokenRequest is posted by the storefront after it has authenticated
// the customer on its own side.
type CreateTokenRequest struct {
	CustomerID int64 `json:"customer_id" validate:"required,min=1"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// CreateToken godoc
//
//	@Summary		Mint a customer token pair
//	@Description	Issues access and refresh tokens for an already authenticated customer; callers authenticate with basic credentials
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		CreateTokenRequest	true	"Customer identity"
//	@Success		201		{object}	tokenPairResponse
//	@Failure		400		{object}	error	"Bad Request"
//	@Failure		401		{object}	error	"Unauthorized"
//	@Security		BasicAuth
//	@Router			/tokens [post]
func (app *application) createTokenHandler(w http.ResponseWriter, r *http.Request) {
	var payload CreateTokenRequest
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	access, refresh, err := app.authenticator.GenerateTokens(payload.CustomerID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusCreated, tokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

// RefreshToken godoc
//
//	@Summary	Exchange a refresh token for a fresh pair
//	@Tags		Auth
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		RefreshTokenRequest	true	"Refresh token"
//	@Success	200		{object}	tokenPairResponse
//	@Failure	401		{object}	error	"Unauthorized"
//	@Router		/tokens/refresh [post]
func (app *application) refreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	var payload RefreshTokenRequest
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	jwtToken, err := app.authenticator.ValidateRefreshToken(payload.RefreshToken)
	if err != nil {
		app.unauthorizedErrorResponse(w, r, err)
		return
	}

	claims, _ := jwtToken.Claims.(jwt.MapClaims)
	customerID, err := strconv.ParseInt(fmt.Sprintf("%.f", claims["sub"]), 10, 64)
	if err != nil {
		app.unauthorizedErrorResponse(w, r, err)
		return
	}

	access, refresh, err := app.authenticator.GenerateTokens(customerID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, tokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
	})
}
