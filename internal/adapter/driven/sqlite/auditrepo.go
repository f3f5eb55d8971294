package sqlite

import (
	"context"
	"fmt"

	"github.com/z871327332/kiropanel/internal/domain/model"
	"github.com/z871327332/kiropanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditStore = (*AuditRepo)(nil)

// defaultAuditLimit caps ListRecent when the caller passes a non-positive limit.
const defaultAuditLimit = 100

// AuditRepo is the SQLite implementation of the AuditStore port interface.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new AuditRepo backed by the given DB.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append records one audit event. CreatedAt is assigned by SQLite.
func (r *AuditRepo) Append(ctx context.Context, event model.AuditEvent) error {
	const query = `
		INSERT INTO audit_events (action, subject, success, detail)
		VALUES (?, ?, ?, ?)
	`

	success := 0
	if event.Success {
		success = 1
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		string(event.Action), event.Subject, success, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("append audit event %q: %w", event.Action, err)
	}

	return nil
}

// ListRecent returns up to limit events, newest first.
func (r *AuditRepo) ListRecent(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	const query = `
		SELECT id, action, subject, success, detail, created_at
		FROM audit_events
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var event model.AuditEvent
		var action string
		var success int
		var createdAt string

		if err := rows.Scan(&event.ID, &action, &event.Subject, &success, &event.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Action = model.AuditAction(action)
		event.Success = success != 0

		event.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}
