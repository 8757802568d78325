package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hycredit/internal/models"
)

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	svc, err := NewJWTService(JWTConfig{
		Secret:         []byte("super-secret"),
		Issuer:         "hycredit",
		AccessTokenTTL: time.Hour,
		Clock:          now,
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{
		PartyID:       "producer-1",
		Role:          models.RoleProducer,
		Name:          "Nordic Electrolysis",
		Organization:  "Nordic H2",
		WalletAddress: "0x71c7656ec7ab88b098defb751b7401b5f6d8976f",
		Audience:      []string{"api"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)

	require.Equal(t, "producer-1", claims.PartyID)
	require.Equal(t, models.RoleProducer, claims.Role)
	require.Equal(t, "Nordic H2", claims.Organization)
	require.Equal(t, "0x71c7656ec7ab88b098defb751b7401b5f6d8976f", claims.WalletAddress)
	require.Equal(t, "hycredit", claims.Issuer)
	require.Equal(t, jwt.ClaimStrings{"api"}, claims.Audience)
	require.True(t, claims.IssuedAt.Time.Equal(current))
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestGenerateAccessTokenRejectsUnknownRole(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: []byte("secret")})
	require.NoError(t, err)

	_, err = svc.GenerateAccessToken(AccessTokenInput{PartyID: "p-1", Role: "ADMIN"})
	require.Error(t, err)

	_, err = svc.GenerateAccessToken(AccessTokenInput{Role: models.RoleOperator})
	require.Error(t, err)
}

func TestValidateAccessTokenInvalidSignature(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC) }

	issuer, err := NewJWTService(JWTConfig{
		Secret:         []byte("issuer-secret"),
		AccessTokenTTL: time.Minute,
		Clock:          now,
	})
	require.NoError(t, err)

	token, err := issuer.GenerateAccessToken(AccessTokenInput{PartyID: "certifier-1", Role: models.RoleCertifier})
	require.NoError(t, err)

	verifier, err := NewJWTService(JWTConfig{
		Secret:         []byte("other-secret"),
		AccessTokenTTL: time.Minute,
		Clock:          now,
	})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
}

func TestValidateAccessTokenExpired(t *testing.T) {
	current := time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	svc, err := NewJWTService(JWTConfig{
		Secret:         []byte("secret"),
		AccessTokenTTL: time.Minute,
		Clock:          now,
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{PartyID: "producer-1", Role: models.RoleProducer})
	require.NoError(t, err)

	// Move time forward beyond expiry.
	current = current.Add(2 * time.Minute)

	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestValidateAccessTokenIssuerMismatch(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC) }

	issuer, err := NewJWTService(JWTConfig{Secret: []byte("shared"), Issuer: "identity-a", Clock: now})
	require.NoError(t, err)
	verifier, err := NewJWTService(JWTConfig{Secret: []byte("shared"), Issuer: "identity-b", Clock: now})
	require.NoError(t, err)

	token, err := issuer.GenerateAccessToken(AccessTokenInput{PartyID: "operator-1", Role: models.RoleOperator})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(token)
	require.EqualError(t, err, "jwt: invalid issuer")
}
