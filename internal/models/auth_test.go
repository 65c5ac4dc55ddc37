package models

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := &JWTClaims{
		UserID: "u1",
		Role:   RoleUser,
		Email:  "user@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestInspectTokenValid(t *testing.T) {
	raw := signedToken(t, time.Now().Add(time.Hour))

	inspection := InspectToken(raw)
	assert.Equal(t, TokenValid, inspection.State)
	require.NotNil(t, inspection.Claims)
	assert.Equal(t, "u1", inspection.Claims.UserID)
	assert.Equal(t, RoleUser, inspection.Claims.Role)
	assert.False(t, inspection.ExpiresAt.IsZero())
}

func TestInspectTokenExpired(t *testing.T) {
	raw := signedToken(t, time.Now().Add(-time.Minute))

	inspection := InspectToken(raw)
	assert.Equal(t, TokenExpired, inspection.State)
	require.NotNil(t, inspection.Claims)
	assert.Equal(t, "u1", inspection.Claims.UserID)
}

func TestInspectTokenMalformed(t *testing.T) {
	assert.Equal(t, TokenMalformed, InspectToken("").State)
	assert.Equal(t, TokenMalformed, InspectToken("not-a-jwt").State)
	assert.Equal(t, TokenMalformed, InspectToken("a.b").State)
}
