package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseWithSecret(t *testing.T, token, secret string) *jwt.Token {
	t.Helper()
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	require.NoError(t, err)
	return parsed
}

func TestGenerateTokensSigningSecrets(t *testing.T) {
	a := NewJWTAuthenticator("access-secret", "refresh-secret", "cartjo", "cartjo")

	access, refresh, err := a.GenerateTokens(42)
	require.NoError(t, err)

	// The access token verifies against the access secret, the refresh
	// token against the refresh secret, and never the other way around.
	parseWithSecret(t, access, "access-secret")
	parseWithSecret(t, refresh, "refresh-secret")

	_, err = jwt.Parse(access, func(t *jwt.Token) (any, error) {
		return []byte("refresh-secret"), nil
	})
	assert.Error(t, err)

	tok, err := a.ValidateAccessToken(access)
	require.NoError(t, err)
	claims, ok := tok.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.EqualValues(t, 42, claims["sub"])

	_, err = a.ValidateAccessToken(refresh)
	assert.Error(t, err, "refresh tokens are not accepted as access tokens")

	_, err = a.ValidateRefreshToken(refresh)
	assert.NoError(t, err)
}
