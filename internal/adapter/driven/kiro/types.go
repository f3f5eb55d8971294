package kiro

import (
	"time"

	"github.com/z871327332/kiropanel/internal/domain/model"
)

// credentialListJSON is the wire shape of GET /admin/credentials.
type credentialListJSON struct {
	Credentials []credentialJSON `json:"credentials"`
	Count       int              `json:"count"`
}

// credentialJSON is the wire shape of one pool credential.
type credentialJSON struct {
	ID           int64        `json:"id"`
	TokenHash    string       `json:"token_hash"`
	Email        string       `json:"email"`
	Region       string       `json:"region"`
	Disabled     bool         `json:"disabled"`
	FailureCount int          `json:"failure_count"`
	CreatedAt    time.Time    `json:"created_at"`
	Balance      *balanceJSON `json:"balance,omitempty"`
}

// balanceJSON is the wire shape of a usage/limit pair.
type balanceJSON struct {
	Usage float64 `json:"usage"`
	Limit float64 `json:"limit"`
}

// addCredentialJSON is the request body of POST /admin/credentials.
type addCredentialJSON struct {
	RefreshToken string `json:"refresh_token"`
	Email        string `json:"email,omitempty"`
	Region       string `json:"region,omitempty"`
}

// setDisabledJSON is the request body of PUT /admin/credentials/{id}/disabled.
type setDisabledJSON struct {
	Disabled bool `json:"disabled"`
}

// loadBalancingJSON is the wire shape of GET/PUT /admin/load-balancing.
type loadBalancingJSON struct {
	Mode string `json:"mode"`
}

// mapCredential converts a wire credential to a domain model Credential.
func mapCredential(wc credentialJSON) model.Credential {
	cred := model.Credential{
		ID:           wc.ID,
		TokenHash:    wc.TokenHash,
		Email:        wc.Email,
		Region:       wc.Region,
		Disabled:     wc.Disabled,
		FailureCount: wc.FailureCount,
		CreatedAt:    wc.CreatedAt,
	}

	if wc.Balance != nil {
		cred.Balance = &model.Balance{Usage: wc.Balance.Usage, Limit: wc.Balance.Limit}
	}

	return cred
}
