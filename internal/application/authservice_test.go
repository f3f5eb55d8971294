package application_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z871327332/kiropanel/internal/application"
)

func TestLogin_ValidPassword(t *testing.T) {
	svc := application.NewAuthService("hunter2", "session-secret", time.Hour)

	token, err := svc.Login("hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	assert.NoError(t, svc.Verify(token))
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := application.NewAuthService("hunter2", "session-secret", time.Hour)

	_, err := svc.Login("hunter3")
	assert.ErrorIs(t, err, application.ErrInvalidPassword)

	_, err = svc.Login("")
	assert.ErrorIs(t, err, application.ErrInvalidPassword)
}

func TestVerify_Garbage(t *testing.T) {
	svc := application.NewAuthService("hunter2", "session-secret", time.Hour)

	assert.ErrorIs(t, svc.Verify("not-a-jwt"), application.ErrInvalidToken)
	assert.ErrorIs(t, svc.Verify(""), application.ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	issuer := application.NewAuthService("hunter2", "secret-a", time.Hour)
	verifier := application.NewAuthService("hunter2", "secret-b", time.Hour)

	token, err := issuer.Login("hunter2")
	require.NoError(t, err)

	assert.ErrorIs(t, verifier.Verify(token), application.ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	svc := application.NewAuthService("hunter2", "session-secret", -time.Minute)

	token, err := svc.Login("hunter2")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Verify(token), application.ErrInvalidToken)
}

func TestVerify_RejectsUnsignedToken(t *testing.T) {
	svc := application.NewAuthService("hunter2", "session-secret", time.Hour)

	claims := jwt.RegisteredClaims{
		Issuer:    "kiropanel",
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Verify(unsigned), application.ErrInvalidToken)
}
