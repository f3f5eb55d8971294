package driven

import (
	"context"
	"errors"

	"github.com/z871327332/kiropanel/internal/domain/model"
)

// Sentinel errors mapped from upstream admin API status codes. Adapters wrap
// them with request context; callers test with errors.Is.
var (
	// ErrUnauthorized indicates the admin token was rejected upstream.
	ErrUnauthorized = errors.New("upstream rejected admin token")
	// ErrCredentialNotFound indicates the referenced credential no longer exists.
	ErrCredentialNotFound = errors.New("credential not found upstream")
	// ErrDuplicateCredential indicates the upstream already holds a credential
	// with the same token hash.
	ErrDuplicateCredential = errors.New("credential already exists upstream")
)

// KiroClient defines the driven port for the remote credential-management API.
// All mutations happen upstream; this port only reflects them.
type KiroClient interface {
	// ListCredentials returns the full pool as the upstream sees it.
	ListCredentials(ctx context.Context) ([]model.Credential, error)

	// AddCredential creates a credential from raw token material and returns
	// the created record. Returns ErrDuplicateCredential when the token hash
	// already exists in the pool.
	AddCredential(ctx context.Context, nc model.NewCredential) (*model.Credential, error)

	// DeleteCredential removes a credential by ID.
	DeleteCredential(ctx context.Context, id int64) error

	// SetDisabled sets or clears the disabled flag on a credential.
	SetDisabled(ctx context.Context, id int64, disabled bool) error

	// FetchBalance returns the current usage/limit pair for a credential.
	// A failed fetch is the upstream's signal that the credential is unusable.
	FetchBalance(ctx context.Context, id int64) (*model.Balance, error)

	// LoadBalancingMode returns the pool's current balancing mode.
	LoadBalancingMode(ctx context.Context) (model.LoadBalancingMode, error)

	// SetLoadBalancingMode switches the pool's balancing mode.
	SetLoadBalancingMode(ctx context.Context, mode model.LoadBalancingMode) error
}
