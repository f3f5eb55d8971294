package driven

import (
	"context"

	"github.com/z871327332/kiropanel/internal/domain/model"
)

// AuditStore defines the driven port for the operator action trail.
type AuditStore interface {
	// Append records one audit event. CreatedAt is assigned by the store.
	Append(ctx context.Context, event model.AuditEvent) error

	// ListRecent returns up to limit events, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.AuditEvent, error)
}
