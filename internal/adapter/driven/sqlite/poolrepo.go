package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/z871327332/kiropanel/internal/domain/model"
	"github.com/z871327332/kiropanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PoolStore = (*PoolRepo)(nil)

// PoolRepo is the SQLite implementation of the PoolStore port interface.
// It holds the local snapshot of the upstream credential pool.
type PoolRepo struct {
	db *DB
}

// NewPoolRepo creates a new PoolRepo backed by the given DB.
func NewPoolRepo(db *DB) *PoolRepo {
	return &PoolRepo{db: db}
}

// ReplaceAll swaps the snapshot for the given credential list in a single
// transaction. Credentials that survive the refresh keep their stored balance
// when the incoming record carries none; credentials absent from the new list
// are removed.
func (r *PoolRepo) ReplaceAll(ctx context.Context, creds []model.Credential, fetchedAt time.Time) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const upsert = `
		INSERT INTO credentials (
			id, token_hash, email, region, disabled, failure_count, created_at,
			balance_usage, balance_limit, balance_checked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token_hash = excluded.token_hash,
			email = excluded.email,
			region = excluded.region,
			disabled = excluded.disabled,
			failure_count = excluded.failure_count,
			created_at = excluded.created_at,
			balance_usage = COALESCE(excluded.balance_usage, balance_usage),
			balance_limit = COALESCE(excluded.balance_limit, balance_limit),
			balance_checked_at = COALESCE(excluded.balance_checked_at, balance_checked_at)
	`

	keep := make([]any, 0, len(creds))
	for _, cred := range creds {
		disabled := 0
		if cred.Disabled {
			disabled = 1
		}

		var usage, limit any
		var checkedAt any
		if cred.Balance != nil {
			usage = cred.Balance.Usage
			limit = cred.Balance.Limit
			checkedAt = cred.BalanceCheckedAt.UTC().Format(time.RFC3339)
		}

		if _, err := tx.ExecContext(ctx, upsert,
			cred.ID, cred.TokenHash, cred.Email, cred.Region, disabled,
			cred.FailureCount, cred.CreatedAt.UTC().Format(time.RFC3339),
			usage, limit, checkedAt,
		); err != nil {
			return fmt.Errorf("upsert credential %d: %w", cred.ID, err)
		}

		keep = append(keep, cred.ID)
	}

	if err := deleteMissing(ctx, tx, keep); err != nil {
		return err
	}

	const meta = `
		INSERT INTO snapshot_meta (id, refreshed_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET refreshed_at = excluded.refreshed_at
	`
	if _, err := tx.ExecContext(ctx, meta, fetchedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("update snapshot meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot replace: %w", err)
	}

	return nil
}

// deleteMissing removes snapshot rows whose IDs are not in keep.
func deleteMissing(ctx context.Context, tx *sql.Tx, keep []any) error {
	if len(keep) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
			return fmt.Errorf("clear credentials: %w", err)
		}
		return nil
	}

	placeholders := "?"
	for i := 1; i < len(keep); i++ {
		placeholders += ", ?"
	}

	query := fmt.Sprintf(`DELETE FROM credentials WHERE id NOT IN (%s)`, placeholders)
	if _, err := tx.ExecContext(ctx, query, keep...); err != nil {
		return fmt.Errorf("delete stale credentials: %w", err)
	}

	return nil
}

// List returns the snapshot ordered by credential ID.
func (r *PoolRepo) List(ctx context.Context) ([]model.Credential, error) {
	const query = `
		SELECT id, token_hash, email, region, disabled, failure_count, created_at,
		       balance_usage, balance_limit, balance_checked_at
		FROM credentials
		ORDER BY id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// Get returns a single snapshot entry by ID. Returns nil, nil when the
// credential is not in the snapshot.
func (r *PoolRepo) Get(ctx context.Context, id int64) (*model.Credential, error) {
	const query = `
		SELECT id, token_hash, email, region, disabled, failure_count, created_at,
		       balance_usage, balance_limit, balance_checked_at
		FROM credentials
		WHERE id = ?
	`

	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %d: %w", id, err)
	}

	return cred, nil
}

// UpdateBalance stores a freshly fetched balance for one credential.
func (r *PoolRepo) UpdateBalance(ctx context.Context, id int64, balance model.Balance, checkedAt time.Time) error {
	const query = `
		UPDATE credentials
		SET balance_usage = ?, balance_limit = ?, balance_checked_at = ?
		WHERE id = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		balance.Usage, balance.Limit, checkedAt.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("update balance for credential %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential %d not in snapshot", id)
	}

	return nil
}

// LastRefreshAt returns the snapshot time of the last successful refresh, or
// the zero time when no refresh has succeeded yet.
func (r *PoolRepo) LastRefreshAt(ctx context.Context) (time.Time, error) {
	const query = `SELECT refreshed_at FROM snapshot_meta WHERE id = 1`

	var refreshedAt string
	err := r.db.Reader.QueryRowContext(ctx, query).Scan(&refreshedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get snapshot meta: %w", err)
	}

	t, err := parseTime(refreshedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse refreshed_at: %w", err)
	}

	return t, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*model.Credential, error) {
	var cred model.Credential
	var disabled int
	var createdAt string
	var usage, limit sql.NullFloat64
	var checkedAt sql.NullString

	err := s.Scan(
		&cred.ID, &cred.TokenHash, &cred.Email, &cred.Region, &disabled,
		&cred.FailureCount, &createdAt, &usage, &limit, &checkedAt,
	)
	if err != nil {
		return nil, err
	}

	cred.Disabled = disabled != 0

	cred.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	if usage.Valid && limit.Valid {
		cred.Balance = &model.Balance{Usage: usage.Float64, Limit: limit.Float64}
	}

	if checkedAt.Valid && checkedAt.String != "" {
		cred.BalanceCheckedAt, err = parseTime(checkedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse balance_checked_at: %w", err)
		}
	}

	return &cred, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
