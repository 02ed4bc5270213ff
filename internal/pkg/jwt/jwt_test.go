package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	secret := []byte("secret")
	token, err := GenerateToken("u1", "u1@example.com", secret, time.Hour)
	require.NoError(t, err)
	claims, err := ParseToken(token, secret)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Identity())
	require.Equal(t, "u1@example.com", claims.Email)

	_, err = ParseToken(token, []byte("other"))
	require.Error(t, err)
}

func TestParseLegacyUserIDClaim(t *testing.T) {
	secret := []byte("secret")
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{
		UserID: "legacy",
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString(secret)
	require.NoError(t, err)
	claims, err := ParseToken(token, secret)
	require.NoError(t, err)
	require.Equal(t, "legacy", claims.Identity())
}

func TestParseRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	token, err := GenerateToken("u1", "", secret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(token, secret)
	require.Error(t, err)
}
