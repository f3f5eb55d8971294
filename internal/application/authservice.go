package application

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidPassword is returned when a login attempt fails.
var ErrInvalidPassword = errors.New("invalid password")

// ErrInvalidToken is returned when a session token fails verification.
var ErrInvalidToken = errors.New("invalid session token")

const sessionIssuer = "kiropanel"

// AuthService issues and verifies dashboard session tokens. Login is a single
// shared admin password; sessions are signed HS256 JWTs.
type AuthService struct {
	password []byte
	secret   []byte
	ttl      time.Duration
}

// NewAuthService creates an AuthService. password is the admin password,
// secret signs session tokens, ttl bounds session lifetime.
func NewAuthService(password, secret string, ttl time.Duration) *AuthService {
	return &AuthService{
		password: []byte(password),
		secret:   []byte(secret),
		ttl:      ttl,
	}
}

// Login checks the password and returns a signed session token.
func (s *AuthService) Login(password string) (string, error) {
	if subtle.ConstantTimeCompare([]byte(password), s.password) != 1 {
		return "", ErrInvalidPassword
	}

	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// Verify checks a session token's signature and expiry.
func (s *AuthService) Verify(token string) error {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(sessionIssuer),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
