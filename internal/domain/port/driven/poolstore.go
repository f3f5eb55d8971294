package driven

import (
	"context"
	"time"

	"github.com/z871327332/kiropanel/internal/domain/model"
)

// PoolStore defines the driven port for the local credential snapshot.
// The snapshot always reflects the last successful upstream fetch; a failed
// refresh must leave the previous snapshot intact.
type PoolStore interface {
	// ReplaceAll swaps the entire snapshot for the given list in one
	// transaction and records fetchedAt as the snapshot time. Balances
	// already stored for surviving credential IDs are preserved.
	ReplaceAll(ctx context.Context, creds []model.Credential, fetchedAt time.Time) error

	// List returns the snapshot ordered by credential ID.
	List(ctx context.Context) ([]model.Credential, error)

	// Get returns a single snapshot entry by ID, or nil, nil when absent.
	Get(ctx context.Context, id int64) (*model.Credential, error)

	// UpdateBalance stores a freshly fetched balance for one credential.
	UpdateBalance(ctx context.Context, id int64, balance model.Balance, checkedAt time.Time) error

	// LastRefreshAt returns the snapshot time of the last successful refresh,
	// or the zero time when no refresh has succeeded yet.
	LastRefreshAt(ctx context.Context) (time.Time, error)
}
