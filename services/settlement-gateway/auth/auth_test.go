package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	signed, err := IssueToken("secret", "ops@example.com", RoleOperator, time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken("secret", signed)
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", claims.Subject)
	require.Equal(t, string(RoleOperator), claims.Role)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	signed, err := IssueToken("secret", "ops@example.com", RoleViewer, time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("other-secret", signed)
	require.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	signed, err := IssueToken("secret", "ops@example.com", RoleViewer, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("secret", signed)
	require.Error(t, err)
}

func TestParseTokenRejectsUnknownRole(t *testing.T) {
	claims := &Claims{
		Role: "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ParseToken("secret", signed)
	require.Error(t, err)
}

func TestParseTokenRequiresSubject(t *testing.T) {
	claims := &Claims{
		Role: string(RoleViewer),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ParseToken("secret", signed)
	require.Error(t, err)
}
