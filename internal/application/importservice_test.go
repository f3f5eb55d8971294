package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z871327332/kiropanel/internal/application"
	"github.com/z871327332/kiropanel/internal/domain/model"
	"github.com/z871327332/kiropanel/internal/domain/port/driven"
)

type mockRefresher struct {
	calls int
}

func (m *mockRefresher) Refresh(_ context.Context) error {
	m.calls++
	return nil
}

func newImportService(client driven.KiroClient, store *mockPoolStore, audit *mockAuditStore, refresher *mockRefresher) *application.ImportService {
	provider := application.NewKiroClientProvider(client)
	return application.NewImportService(provider, store, audit, refresher, 0)
}

// waitForJob polls until the job leaves the running state.
func waitForJob(t *testing.T, svc *application.ImportService, jobID string) model.ImportJob {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Progress(jobID)
		require.NoError(t, err)
		if job.State != model.ImportJobRunning {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("import job %s did not finish", jobID)
	return model.ImportJob{}
}

func TestImport_CreatesAndVerifies(t *testing.T) {
	var nextID int64
	client := &mockKiroClient{
		addCredential: func(_ context.Context, nc model.NewCredential) (*model.Credential, error) {
			nextID++
			return &model.Credential{ID: nextID, TokenHash: model.HashToken(nc.Token)}, nil
		},
		fetchBalance: func(_ context.Context, _ int64) (*model.Balance, error) {
			return &model.Balance{Usage: 0, Limit: 100}, nil
		},
	}
	audit := &mockAuditStore{}
	refresher := &mockRefresher{}
	svc := newImportService(client, &mockPoolStore{}, audit, refresher)

	jobID, err := svc.Start(context.Background(), []model.ImportEntry{
		{Token: "tok-1", Email: "a@b.c"},
		{Token: "tok-2", Email: "d@e.f"},
	})
	require.NoError(t, err)

	job := waitForJob(t, svc, jobID)
	assert.Equal(t, model.ImportJobDone, job.State)
	assert.Equal(t, 2, job.Total)
	assert.Equal(t, 2, job.Processed)
	assert.Equal(t, 2, job.Created)
	assert.Zero(t, job.Failed)
	require.Len(t, job.Items, 2)
	assert.Equal(t, model.ImportItemCreated, job.Items[0].Status)

	// A finished import with new credentials re-syncs the snapshot and is
	// recorded in the audit log.
	assert.Equal(t, 1, refresher.calls)
	require.Len(t, audit.events, 1)
	assert.Equal(t, model.AuditImportFinished, audit.events[0].Action)
	assert.True(t, audit.events[0].Success)
}

func TestImport_FlagsDuplicates(t *testing.T) {
	client := &mockKiroClient{
		addCredential: func(_ context.Context, nc model.NewCredential) (*model.Credential, error) {
			return &model.Credential{ID: 1, TokenHash: model.HashToken(nc.Token)}, nil
		},
		fetchBalance: func(_ context.Context, _ int64) (*model.Balance, error) {
			return &model.Balance{Limit: 100}, nil
		},
	}
	// tok-known is already in the snapshot; tok-new appears twice in the batch.
	store := &mockPoolStore{
		stored: []model.Credential{{ID: 9, TokenHash: model.HashToken("tok-known")}},
	}
	svc := newImportService(client, store, &mockAuditStore{}, &mockRefresher{})

	jobID, err := svc.Start(context.Background(), []model.ImportEntry{
		{Token: "tok-known"},
		{Token: "tok-new"},
		{Token: "tok-new"},
	})
	require.NoError(t, err)

	job := waitForJob(t, svc, jobID)
	assert.Equal(t, 1, job.Created)
	assert.Equal(t, 2, job.Duplicates)
	assert.Equal(t, model.ImportItemDuplicate, job.Items[0].Status)
	assert.Equal(t, model.ImportItemCreated, job.Items[1].Status)
	assert.Equal(t, model.ImportItemDuplicate, job.Items[2].Status)
}

func TestImport_UpstreamDuplicateCountsAsDuplicate(t *testing.T) {
	client := &mockKiroClient{
		addCredential: func(_ context.Context, _ model.NewCredential) (*model.Credential, error) {
			return nil, driven.ErrDuplicateCredential
		},
	}
	svc := newImportService(client, &mockPoolStore{}, &mockAuditStore{}, &mockRefresher{})

	jobID, err := svc.Start(context.Background(), []model.ImportEntry{{Token: "tok"}})
	require.NoError(t, err)

	job := waitForJob(t, svc, jobID)
	assert.Equal(t, 1, job.Duplicates)
	assert.Zero(t, job.Failed)
}

func TestImport_RollbackOnVerifyFailure(t *testing.T) {
	var disabled, deleted []int64
	client := &mockKiroClient{
		addCredential: func(_ context.Context, nc model.NewCredential) (*model.Credential, error) {
			return &model.Credential{ID: 42, TokenHash: model.HashToken(nc.Token)}, nil
		},
		fetchBalance: func(_ context.Context, _ int64) (*model.Balance, error) {
			return nil, errors.New("token expired")
		},
		setDisabled: func(_ context.Context, id int64, d bool) error {
			assert.True(t, d)
			disabled = append(disabled, id)
			return nil
		},
		deleteCredential: func(_ context.Context, id int64) error {
			deleted = append(deleted, id)
			return nil
		},
	}
	audit := &mockAuditStore{}
	refresher := &mockRefresher{}
	svc := newImportService(client, &mockPoolStore{}, audit, refresher)

	jobID, err := svc.Start(context.Background(), []model.ImportEntry{{Token: "bad-tok"}})
	require.NoError(t, err)

	job := waitForJob(t, svc, jobID)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, 1, job.RolledBack)
	assert.Zero(t, job.RollbackFailed)
	require.Len(t, job.Items, 1)
	assert.Equal(t, model.ImportItemRolledBack, job.Items[0].Status)
	assert.Contains(t, job.Items[0].Error, "token expired")

	// The partial credential was disabled then deleted.
	assert.Equal(t, []int64{42}, disabled)
	assert.Equal(t, []int64{42}, deleted)

	// Nothing was created, so no refresh; the failure is still audited.
	assert.Zero(t, refresher.calls)
	require.Len(t, audit.events, 1)
	assert.False(t, audit.events[0].Success)
}

func TestImport_RollbackFailureReportedDistinctly(t *testing.T) {
	client := &mockKiroClient{
		addCredential: func(_ context.Context, nc model.NewCredential) (*model.Credential, error) {
			return &model.Credential{ID: 42, TokenHash: model.HashToken(nc.Token)}, nil
		},
		fetchBalance: func(_ context.Context, _ int64) (*model.Balance, error) {
			return nil, errors.New("token expired")
		},
		setDisabled: func(_ context.Context, _ int64, _ bool) error {
			return nil
		},
		deleteCredential: func(_ context.Context, _ int64) error {
			return errors.New("upstream down")
		},
	}
	svc := newImportService(client, &mockPoolStore{}, &mockAuditStore{}, &mockRefresher{})

	jobID, err := svc.Start(context.Background(), []model.ImportEntry{{Token: "bad-tok"}})
	require.NoError(t, err)

	job := waitForJob(t, svc, jobID)
	assert.Equal(t, 1, job.Failed)
	assert.Zero(t, job.RolledBack)
	assert.Equal(t, 1, job.RollbackFailed)
	assert.Equal(t, model.ImportItemRollbackFailed, job.Items[0].Status)
	assert.Contains(t, job.Items[0].Error, "upstream down")
}

func TestImport_Cancel(t *testing.T) {
	started := make(chan struct{})
	gate := make(chan struct{})

	client := &mockKiroClient{
		addCredential: func(_ context.Context, nc model.NewCredential) (*model.Credential, error) {
			close(started)
			<-gate
			return &model.Credential{ID: 1, TokenHash: model.HashToken(nc.Token)}, nil
		},
		fetchBalance: func(_ context.Context, _ int64) (*model.Balance, error) {
			return &model.Balance{Limit: 100}, nil
		},
	}
	svc := newImportService(client, &mockPoolStore{}, &mockAuditStore{}, &mockRefresher{})

	jobID, err := svc.Start(context.Background(), []model.ImportEntry{
		{Token: "tok-1"},
		{Token: "tok-2"},
		{Token: "tok-3"},
	})
	require.NoError(t, err)

	// Cancel while the first entry is in flight; it completes, the rest are
	// skipped.
	<-started
	require.NoError(t, svc.Cancel(jobID))
	close(gate)

	job := waitForJob(t, svc, jobID)
	assert.Equal(t, model.ImportJobCanceled, job.State)
	assert.Equal(t, 1, job.Processed)
	assert.Equal(t, 1, job.Created)
	require.Len(t, job.Items, 3)
	assert.Equal(t, model.ImportItemCreated, job.Items[0].Status)
	assert.Equal(t, model.ImportItemSkipped, job.Items[1].Status)
	assert.Equal(t, model.ImportItemSkipped, job.Items[2].Status)
}

func TestImport_EmptyEntries(t *testing.T) {
	svc := newImportService(&mockKiroClient{}, &mockPoolStore{}, &mockAuditStore{}, &mockRefresher{})
	_, err := svc.Start(context.Background(), nil)
	assert.ErrorIs(t, err, application.ErrEmptyImport)
}

func TestImport_NoClient(t *testing.T) {
	svc := newImportService(nil, &mockPoolStore{}, &mockAuditStore{}, &mockRefresher{})
	_, err := svc.Start(context.Background(), []model.ImportEntry{{Token: "tok"}})
	assert.ErrorIs(t, err, application.ErrNoClient)
}

func TestImport_UnknownJob(t *testing.T) {
	svc := newImportService(&mockKiroClient{}, &mockPoolStore{}, &mockAuditStore{}, &mockRefresher{})

	_, err := svc.Progress("nope")
	assert.ErrorIs(t, err, application.ErrJobNotFound)
	assert.ErrorIs(t, svc.Cancel("nope"), application.ErrJobNotFound)
}
