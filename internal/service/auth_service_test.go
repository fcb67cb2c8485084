package service_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/hourglass/internal/service"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := service.NewAuthService("secret", time.Hour)

	token, err := auth.GenerateToken(41, service.RoleStudent)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 41, claims.UserID)
	assert.Equal(t, service.RoleStudent, claims.Role)
	assert.Equal(t, "41", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestAuthService_RejectsExpired(t *testing.T) {
	auth := service.NewAuthService("secret", -time.Minute)

	token, err := auth.GenerateToken(1, service.RoleProctor)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestAuthService_RejectsForeignSecret(t *testing.T) {
	token, err := service.NewAuthService("one", time.Hour).GenerateToken(1, service.RoleStudent)
	require.NoError(t, err)

	_, err = service.NewAuthService("two", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestAuthService_RejectsUnknownRole(t *testing.T) {
	auth := service.NewAuthService("secret", time.Hour)

	token, err := auth.GenerateToken(1, service.Role("admin"))
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.ErrorContains(t, err, "unknown role")
}

func TestAuthService_RejectsGarbage(t *testing.T) {
	_, err := service.NewAuthService("secret", time.Hour).ValidateToken("not.a.token")
	assert.Error(t, err)
}
