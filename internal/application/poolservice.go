// Package application contains use-case orchestration services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/z871327332/kiropanel/internal/domain/model"
	"github.com/z871327332/kiropanel/internal/domain/port/driven"
)

// refreshRequest represents a manual refresh trigger.
type refreshRequest struct {
	done chan error
}

// BatchResult summarizes a batch operation over existing credentials.
// Per-item failures are counted, not fatal; Errors carries their messages in
// input order.
type BatchResult struct {
	Requested int
	Succeeded int
	Skipped   int
	Failed    int
	Errors    []string
}

// PoolService orchestrates snapshot refreshes and all single and batch
// operations on the upstream credential pool.
type PoolService struct {
	provider   *KiroClientProvider
	poolStore  driven.PoolStore
	auditStore driven.AuditStore
	interval   time.Duration
	itemDelay  time.Duration
	refreshCh  chan refreshRequest
}

// NewPoolService creates a new PoolService. interval is the periodic refresh
// cadence; itemDelay is the fixed pause between items in batch loops, kept
// above zero in production to avoid tripping upstream rate limits.
func NewPoolService(
	provider *KiroClientProvider,
	poolStore driven.PoolStore,
	auditStore driven.AuditStore,
	interval time.Duration,
	itemDelay time.Duration,
) *PoolService {
	return &PoolService{
		provider:   provider,
		poolStore:  poolStore,
		auditStore: auditStore,
		interval:   interval,
		itemDelay:  itemDelay,
		refreshCh:  make(chan refreshRequest),
	}
}

// Start begins the refresh loop. It runs an immediate refresh, then refreshes
// on the configured interval, and also serves manual refresh requests.
// Start blocks until the context is canceled.
func (s *PoolService) Start(ctx context.Context) {
	if err := s.refresh(ctx); err != nil {
		slog.Error("initial refresh failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pool service stopped")
			return
		case <-ticker.C:
			if err := s.refresh(ctx); err != nil {
				slog.Error("refresh cycle failed", "error", err)
			}
		case req := <-s.refreshCh:
			req.done <- s.refresh(ctx)
		}
	}
}

// Refresh triggers a manual snapshot refresh, bypassing the interval.
// It blocks until the refresh completes or the context is canceled.
func (s *PoolService) Refresh(ctx context.Context) error {
	done := make(chan error, 1)

	select {
	case s.refreshCh <- refreshRequest{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh fetches the pool from upstream and replaces the local snapshot.
// On fetch failure the previous snapshot is left intact.
func (s *PoolService) refresh(ctx context.Context) error {
	client := s.provider.Get()
	if client == nil {
		slog.Debug("refresh skipped, upstream not configured")
		return nil
	}

	start := time.Now()

	creds, err := client.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("fetch credential pool: %w", err)
	}

	if err := s.poolStore.ReplaceAll(ctx, creds, time.Now().UTC()); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	slog.Info("pool refreshed",
		"credentials", len(creds),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return nil
}

// List returns the local snapshot, which reflects the last successful fetch.
func (s *PoolService) List(ctx context.Context) ([]model.Credential, error) {
	return s.poolStore.List(ctx)
}

// Add checks the raw token's hash against the snapshot, creates the
// credential upstream, and refreshes the snapshot. Duplicate hashes are
// rejected before any upstream call.
func (s *PoolService) Add(ctx context.Context, nc model.NewCredential) (*model.Credential, error) {
	client := s.provider.Get()
	if client == nil {
		return nil, ErrNoClient
	}

	hash := model.HashToken(nc.Token)
	existing, err := s.poolStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("check duplicates: %w", err)
	}
	for _, cred := range existing {
		if cred.TokenHash == hash {
			return nil, fmt.Errorf("credential %d: %w", cred.ID, driven.ErrDuplicateCredential)
		}
	}

	cred, err := client.AddCredential(ctx, nc)
	s.audit(ctx, model.AuditCredentialAdded, hash[:12], err, "email="+nc.Email)
	if err != nil {
		return nil, err
	}

	s.refreshAfterMutation(ctx)
	return cred, nil
}

// Delete removes a credential upstream and refreshes the snapshot.
func (s *PoolService) Delete(ctx context.Context, id int64) error {
	client := s.provider.Get()
	if client == nil {
		return ErrNoClient
	}

	err := client.DeleteCredential(ctx, id)
	s.audit(ctx, model.AuditCredentialDeleted, strconv.FormatInt(id, 10), err, "")
	if err != nil {
		return err
	}

	s.refreshAfterMutation(ctx)
	return nil
}

// SetDisabled sets or clears the disabled flag upstream and refreshes the
// snapshot.
func (s *PoolService) SetDisabled(ctx context.Context, id int64, disabled bool) error {
	client := s.provider.Get()
	if client == nil {
		return ErrNoClient
	}

	action := model.AuditCredentialEnabled
	if disabled {
		action = model.AuditCredentialDisabled
	}

	err := client.SetDisabled(ctx, id, disabled)
	s.audit(ctx, action, strconv.FormatInt(id, 10), err, "")
	if err != nil {
		return err
	}

	s.refreshAfterMutation(ctx)
	return nil
}

// Verify probes a credential's balance upstream. A successful probe persists
// the balance in the snapshot; a failed probe is the upstream's signal that
// the credential is unusable.
func (s *PoolService) Verify(ctx context.Context, id int64) (*model.Balance, error) {
	client := s.provider.Get()
	if client == nil {
		return nil, ErrNoClient
	}

	balance, err := client.FetchBalance(ctx, id)
	s.audit(ctx, model.AuditCredentialVerified, strconv.FormatInt(id, 10), err, "")
	if err != nil {
		return nil, err
	}

	if err := s.poolStore.UpdateBalance(ctx, id, *balance, time.Now().UTC()); err != nil {
		slog.Error("persist balance failed", "credential", id, "error", err)
	}

	return balance, nil
}

// BatchDelete deletes the given credentials sequentially. Non-disabled
// credentials are skipped, not deleted; per-item failures are counted and do
// not abort the loop. A fixed delay separates items.
func (s *PoolService) BatchDelete(ctx context.Context, ids []int64) (*BatchResult, error) {
	client := s.provider.Get()
	if client == nil {
		return nil, ErrNoClient
	}

	result := &BatchResult{Requested: len(ids)}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if i > 0 {
			s.pause(ctx)
		}

		cred, err := s.poolStore.Get(ctx, id)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("credential %d: %v", id, err))
			continue
		}
		if cred == nil || !cred.Disabled {
			// Only disabled credentials may be batch-deleted.
			result.Skipped++
			continue
		}

		if err := client.DeleteCredential(ctx, id); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("credential %d: %v", id, err))
			slog.Error("batch delete item failed", "credential", id, "error", err)
			continue
		}
		result.Succeeded++
	}

	s.auditBatch(ctx, model.AuditCredentialDeleted, "batch", result)
	s.refreshAfterMutation(ctx)
	return result, nil
}

// BatchSetDisabled flips the disabled flag on the given credentials
// sequentially, counting per-item failures.
func (s *PoolService) BatchSetDisabled(ctx context.Context, ids []int64, disabled bool) (*BatchResult, error) {
	client := s.provider.Get()
	if client == nil {
		return nil, ErrNoClient
	}

	result := &BatchResult{Requested: len(ids)}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if i > 0 {
			s.pause(ctx)
		}

		if err := client.SetDisabled(ctx, id, disabled); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("credential %d: %v", id, err))
			slog.Error("batch disable item failed", "credential", id, "disabled", disabled, "error", err)
			continue
		}
		result.Succeeded++
	}

	action := model.AuditCredentialEnabled
	if disabled {
		action = model.AuditCredentialDisabled
	}
	s.auditBatch(ctx, action, "batch", result)
	s.refreshAfterMutation(ctx)
	return result, nil
}

// BatchVerify probes balances for the given credentials sequentially with a
// fixed delay between probes, counting per-item failures.
func (s *PoolService) BatchVerify(ctx context.Context, ids []int64) (*BatchResult, error) {
	client := s.provider.Get()
	if client == nil {
		return nil, ErrNoClient
	}

	result := &BatchResult{Requested: len(ids)}
	now := time.Now().UTC()

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if i > 0 {
			s.pause(ctx)
		}

		balance, err := client.FetchBalance(ctx, id)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("credential %d: %v", id, err))
			continue
		}

		if err := s.poolStore.UpdateBalance(ctx, id, *balance, now); err != nil {
			slog.Error("persist balance failed", "credential", id, "error", err)
		}
		result.Succeeded++
	}

	s.auditBatch(ctx, model.AuditCredentialVerified, "batch", result)
	return result, nil
}

// Mode returns the pool's current load-balancing mode from upstream.
func (s *PoolService) Mode(ctx context.Context) (model.LoadBalancingMode, error) {
	client := s.provider.Get()
	if client == nil {
		return "", ErrNoClient
	}
	return client.LoadBalancingMode(ctx)
}

// SetMode switches the pool's load-balancing mode upstream.
func (s *PoolService) SetMode(ctx context.Context, mode model.LoadBalancingMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid load-balancing mode %q", mode)
	}

	client := s.provider.Get()
	if client == nil {
		return ErrNoClient
	}

	err := client.SetLoadBalancingMode(ctx, mode)
	s.audit(ctx, model.AuditModeChanged, string(mode), err, "")
	return err
}

// Health assembles the aggregate pool view from the snapshot. Mode is left
// empty when the upstream is unreachable; the snapshot counters still apply.
func (s *PoolService) Health(ctx context.Context) (*model.PoolHealth, error) {
	creds, err := s.poolStore.List(ctx)
	if err != nil {
		return nil, err
	}

	health := model.ComputePoolHealth(creds)

	health.LastRefreshAt, err = s.poolStore.LastRefreshAt(ctx)
	if err != nil {
		slog.Error("load snapshot meta failed", "error", err)
	}

	if client := s.provider.Get(); client != nil {
		mode, err := client.LoadBalancingMode(ctx)
		if err != nil {
			slog.Warn("fetch load-balancing mode failed", "error", err)
		} else {
			health.Mode = mode
		}
	}

	return &health, nil
}

// pause waits the configured inter-item delay, returning early on context
// cancellation.
func (s *PoolService) pause(ctx context.Context) {
	if s.itemDelay <= 0 {
		return
	}
	select {
	case <-time.After(s.itemDelay):
	case <-ctx.Done():
	}
}

// audit appends one audit event, logging (not propagating) store failures.
func (s *PoolService) audit(ctx context.Context, action model.AuditAction, subject string, opErr error, detail string) {
	event := model.AuditEvent{
		Action:  action,
		Subject: subject,
		Success: opErr == nil,
		Detail:  detail,
	}
	if opErr != nil {
		event.Detail = opErr.Error()
	}

	if err := s.auditStore.Append(ctx, event); err != nil {
		slog.Error("append audit event failed", "action", action, "error", err)
	}
}

// auditBatch summarizes a batch result as one audit event.
func (s *PoolService) auditBatch(ctx context.Context, action model.AuditAction, subject string, result *BatchResult) {
	detail := fmt.Sprintf("requested=%d succeeded=%d skipped=%d failed=%d",
		result.Requested, result.Succeeded, result.Skipped, result.Failed)

	if err := s.auditStore.Append(ctx, model.AuditEvent{
		Action:  action,
		Subject: subject,
		Success: result.Failed == 0,
		Detail:  detail,
	}); err != nil {
		slog.Error("append audit event failed", "action", action, "error", err)
	}
}

// refreshAfterMutation re-syncs the snapshot so reads reflect the mutation.
// Failures only degrade freshness, so they are logged and swallowed.
func (s *PoolService) refreshAfterMutation(ctx context.Context) {
	if err := s.refresh(ctx); err != nil {
		slog.Error("post-mutation refresh failed", "error", err)
	}
}
