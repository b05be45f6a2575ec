package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTServiceRoundTrip(t *testing.T) {
	current := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{
		Secret: "test-secret",
		Issuer: "duet",
		Clock:  func() time.Time { return current },
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, "u1@example.com", claims.Email)
	require.Equal(t, "duet", claims.Issuer)
}

func TestJWTServiceRejectsExpiredToken(t *testing.T) {
	current := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Hour,
		Clock:          func() time.Time { return current },
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: "u1"})
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestJWTServiceRejectsWrongIssuer(t *testing.T) {
	issue, err := NewJWTService(JWTConfig{Secret: "s", Issuer: "someone-else"})
	require.NoError(t, err)
	verify, err := NewJWTService(JWTConfig{Secret: "s", Issuer: "duet"})
	require.NoError(t, err)

	token, err := issue.GenerateAccessToken(AccessTokenInput{UserID: "u1"})
	require.NoError(t, err)

	_, err = verify.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
}
