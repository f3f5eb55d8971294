package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Credential is one Kiro account in the upstream pool. The raw refresh token
// never leaves the upstream service; only its SHA-256 hash is exposed here.
type Credential struct {
	ID           int64
	TokenHash    string
	Email        string
	Region       string
	Disabled     bool
	FailureCount int
	CreatedAt    time.Time

	// Balance is the last known usage snapshot for this credential.
	// Nil when no balance has been fetched yet.
	Balance *Balance

	// BalanceCheckedAt records when Balance was last refreshed from upstream.
	BalanceCheckedAt time.Time
}

// NewCredential is the payload for creating a credential upstream.
// Token is the raw refresh token; Email and Region are optional hints.
type NewCredential struct {
	Token  string
	Email  string
	Region string
}

// HashToken returns the lowercase hex SHA-256 digest of a raw token. The same
// hashing is applied upstream, so local hashes are comparable with pool state
// for duplicate detection.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
