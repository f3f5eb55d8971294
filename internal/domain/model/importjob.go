package model

import "time"

// ImportEntry is one line of a batch import: a raw token plus optional hints.
type ImportEntry struct {
	Token  string
	Email  string
	Region string
}

// ImportItemStatus is the outcome of a single import entry.
type ImportItemStatus string

const (
	ImportItemCreated        ImportItemStatus = "created"
	ImportItemDuplicate      ImportItemStatus = "duplicate"
	ImportItemFailed         ImportItemStatus = "failed"
	ImportItemRolledBack     ImportItemStatus = "rolled_back"
	ImportItemRollbackFailed ImportItemStatus = "rollback_failed"
	ImportItemSkipped        ImportItemStatus = "skipped" // canceled before processing
)

// ImportItemResult reports what happened to one entry. TokenHash identifies
// the entry without exposing the raw token. Error carries the failure message
// for failed and rollback_failed items.
type ImportItemResult struct {
	Index     int
	TokenHash string
	Email     string
	Status    ImportItemStatus
	Error     string
}

// ImportJobState is the lifecycle of an import job.
type ImportJobState string

const (
	ImportJobRunning  ImportJobState = "running"
	ImportJobDone     ImportJobState = "done"
	ImportJobCanceled ImportJobState = "canceled"
)

// ImportJob is the progress and summary of a batch import. Counters are
// cumulative; Processed == Created + Duplicates + Failed where failed items
// that were rolled back (successfully or not) still count as Failed.
type ImportJob struct {
	ID        string
	State     ImportJobState
	Total     int
	Processed int

	Created        int
	Duplicates     int
	Failed         int
	RolledBack     int
	RollbackFailed int

	Items      []ImportItemResult
	StartedAt  time.Time
	FinishedAt time.Time
}
