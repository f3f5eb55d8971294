package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/z871327332/kiropanel/internal/domain/model"
	"github.com/z871327332/kiropanel/internal/domain/port/driven"
)

// ErrJobNotFound is returned when an import job ID is unknown.
var ErrJobNotFound = errors.New("import job not found")

// ErrEmptyImport is returned when an import is started with no entries.
var ErrEmptyImport = errors.New("import contains no entries")

// importJob pairs the visible job state with its cancel flag. The flag is
// checked between iterations only, so cancellation never interrupts an item
// mid-flight.
type importJob struct {
	mu       sync.Mutex
	state    model.ImportJob
	canceled atomic.Bool
}

// snapshot returns a copy of the job state safe for the caller to retain.
func (j *importJob) snapshot() model.ImportJob {
	j.mu.Lock()
	defer j.mu.Unlock()

	copied := j.state
	copied.Items = make([]model.ImportItemResult, len(j.state.Items))
	copy(copied.Items, j.state.Items)
	return copied
}

// ImportService runs batch import/verify jobs: sequential per-item create and
// verify calls against the upstream, with duplicate detection by token hash,
// best-effort rollback of partially created credentials, and cooperative
// cancellation.
type ImportService struct {
	provider   *KiroClientProvider
	poolStore  driven.PoolStore
	auditStore driven.AuditStore
	refresher  interface{ Refresh(ctx context.Context) error }
	itemDelay  time.Duration

	mu   sync.Mutex
	jobs map[string]*importJob
}

// NewImportService creates a new ImportService. refresher re-syncs the
// snapshot when a job finishes; itemDelay is the fixed pause between entries.
func NewImportService(
	provider *KiroClientProvider,
	poolStore driven.PoolStore,
	auditStore driven.AuditStore,
	refresher interface{ Refresh(ctx context.Context) error },
	itemDelay time.Duration,
) *ImportService {
	return &ImportService{
		provider:   provider,
		poolStore:  poolStore,
		auditStore: auditStore,
		refresher:  refresher,
		itemDelay:  itemDelay,
		jobs:       make(map[string]*importJob),
	}
}

// Start validates the entries, registers a job, and runs it in the
// background. It returns the job ID immediately; progress is available via
// Progress. The job runs on a background context because the HTTP request
// context that started it is canceled once the response is sent.
func (s *ImportService) Start(ctx context.Context, entries []model.ImportEntry) (string, error) {
	if len(entries) == 0 {
		return "", ErrEmptyImport
	}
	if s.provider.Get() == nil {
		return "", ErrNoClient
	}

	// Seed duplicate detection with the hashes already in the pool.
	existing, err := s.poolStore.List(ctx)
	if err != nil {
		return "", fmt.Errorf("load snapshot for duplicate check: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, cred := range existing {
		seen[cred.TokenHash] = true
	}

	job := &importJob{
		state: model.ImportJob{
			ID:        uuid.NewString(),
			State:     model.ImportJobRunning,
			Total:     len(entries),
			StartedAt: time.Now().UTC(),
		},
	}

	s.mu.Lock()
	s.jobs[job.state.ID] = job
	s.mu.Unlock()

	go s.run(context.Background(), job, entries, seen)

	return job.state.ID, nil
}

// Progress returns the current state of a job.
func (s *ImportService) Progress(jobID string) (model.ImportJob, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()

	if !ok {
		return model.ImportJob{}, ErrJobNotFound
	}
	return job.snapshot(), nil
}

// Cancel requests cooperative cancellation of a running job. The job stops
// before processing its next entry; the entry in flight always completes
// (including any rollback).
func (s *ImportService) Cancel(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()

	if !ok {
		return ErrJobNotFound
	}

	job.canceled.Store(true)
	return nil
}

// run executes the sequential import loop.
func (s *ImportService) run(ctx context.Context, job *importJob, entries []model.ImportEntry, seen map[string]bool) {
	client := s.provider.Get()

	for i, entry := range entries {
		if job.canceled.Load() || client == nil {
			s.markRemainingSkipped(job, entries, i)
			break
		}
		if i > 0 {
			s.pause(ctx)
		}

		result := s.processEntry(ctx, client, entry, seen)
		result.Index = i

		job.mu.Lock()
		job.state.Processed++
		job.state.Items = append(job.state.Items, result)
		switch result.Status {
		case model.ImportItemCreated:
			job.state.Created++
		case model.ImportItemDuplicate:
			job.state.Duplicates++
		case model.ImportItemFailed:
			job.state.Failed++
		case model.ImportItemRolledBack:
			job.state.Failed++
			job.state.RolledBack++
		case model.ImportItemRollbackFailed:
			job.state.Failed++
			job.state.RollbackFailed++
		}
		job.mu.Unlock()
	}

	job.mu.Lock()
	if job.canceled.Load() {
		job.state.State = model.ImportJobCanceled
	} else {
		job.state.State = model.ImportJobDone
	}
	job.state.FinishedAt = time.Now().UTC()
	summary := job.state
	job.mu.Unlock()

	s.finish(ctx, summary)
}

// processEntry imports one entry: duplicate check, create, verify, and
// best-effort rollback when verification fails.
func (s *ImportService) processEntry(ctx context.Context, client driven.KiroClient, entry model.ImportEntry, seen map[string]bool) model.ImportItemResult {
	hash := model.HashToken(entry.Token)
	result := model.ImportItemResult{
		TokenHash: hash,
		Email:     entry.Email,
	}

	if seen[hash] {
		result.Status = model.ImportItemDuplicate
		return result
	}

	cred, err := client.AddCredential(ctx, model.NewCredential{
		Token:  entry.Token,
		Email:  entry.Email,
		Region: entry.Region,
	})
	if err != nil {
		// The upstream may know hashes our snapshot has not seen yet.
		if errors.Is(err, driven.ErrDuplicateCredential) {
			seen[hash] = true
			result.Status = model.ImportItemDuplicate
			return result
		}
		result.Status = model.ImportItemFailed
		result.Error = err.Error()
		return result
	}

	if _, err := client.FetchBalance(ctx, cred.ID); err != nil {
		return s.rollback(ctx, client, cred.ID, err, result)
	}

	seen[hash] = true
	result.Status = model.ImportItemCreated
	return result
}

// rollback disables then deletes a credential whose verification failed.
// Rollback success and failure are reported distinctly so the operator knows
// whether a partial credential is still in the pool.
func (s *ImportService) rollback(ctx context.Context, client driven.KiroClient, id int64, verifyErr error, result model.ImportItemResult) model.ImportItemResult {
	slog.Warn("verification failed, rolling back credential", "credential", id, "error", verifyErr)

	disableErr := client.SetDisabled(ctx, id, true)
	deleteErr := client.DeleteCredential(ctx, id)

	if disableErr != nil || deleteErr != nil {
		result.Status = model.ImportItemRollbackFailed
		result.Error = fmt.Sprintf("verify: %v; rollback: disable=%v delete=%v", verifyErr, disableErr, deleteErr)
		slog.Error("rollback failed, partial credential remains",
			"credential", id, "disable_error", disableErr, "delete_error", deleteErr)
		return result
	}

	result.Status = model.ImportItemRolledBack
	result.Error = fmt.Sprintf("verify: %v", verifyErr)
	return result
}

// markRemainingSkipped records unprocessed entries as skipped after a cancel.
func (s *ImportService) markRemainingSkipped(job *importJob, entries []model.ImportEntry, from int) {
	job.mu.Lock()
	defer job.mu.Unlock()

	for i := from; i < len(entries); i++ {
		job.state.Items = append(job.state.Items, model.ImportItemResult{
			Index:     i,
			TokenHash: model.HashToken(entries[i].Token),
			Email:     entries[i].Email,
			Status:    model.ImportItemSkipped,
		})
	}
}

// finish audits the job summary and re-syncs the snapshot.
func (s *ImportService) finish(ctx context.Context, summary model.ImportJob) {
	detail := fmt.Sprintf(
		"total=%d created=%d duplicates=%d failed=%d rolled_back=%d rollback_failed=%d",
		summary.Total, summary.Created, summary.Duplicates,
		summary.Failed, summary.RolledBack, summary.RollbackFailed,
	)

	if err := s.auditStore.Append(ctx, model.AuditEvent{
		Action:  model.AuditImportFinished,
		Subject: summary.ID,
		Success: summary.Failed == 0 && summary.State == model.ImportJobDone,
		Detail:  detail,
	}); err != nil {
		slog.Error("append audit event failed", "job", summary.ID, "error", err)
	}

	if summary.Created > 0 && s.refresher != nil {
		if err := s.refresher.Refresh(ctx); err != nil {
			slog.Error("post-import refresh failed", "job", summary.ID, "error", err)
		}
	}

	slog.Info("import finished",
		"job", summary.ID,
		"state", string(summary.State),
		"created", summary.Created,
		"duplicates", summary.Duplicates,
		"failed", summary.Failed,
	)
}

// pause waits the configured inter-item delay, returning early on context
// cancellation.
func (s *ImportService) pause(ctx context.Context) {
	if s.itemDelay <= 0 {
		return
	}
	select {
	case <-time.After(s.itemDelay):
	case <-ctx.Done():
	}
}
