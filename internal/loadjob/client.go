// Package loadjob implements the warehouse-facing half of the pipeline: the
// Client capability set a LoadExecutor drives per destination, plus the
// concrete synchronous-SQL and server-managed-async job families.
package loadjob

import (
	"context"

	"ingestpipe/internal/schema"
	"ingestpipe/internal/storage"
)

// Status is a job's position in the new -> started -> {completed|failed|retry}
// state machine.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetry     Status = "retry"
)

// Job is a handle to one in-flight or completed file load.
type Job interface {
	// ID is the deterministic, canonicalized job identity derived from the
	// file name; restoring the same file always yields the same ID.
	ID() string
	// Status reports the job's current state. For a SyncSQLJobClient job
	// this is always StatusCompleted once returned, since the insert ran
	// to commit inside StartFileLoad itself.
	Status(ctx context.Context) (Status, error)
	// Err returns the terminal error that produced StatusFailed, if any.
	Err() error
}

// Capabilities describes what a Client backend supports, consulted by the
// executor and by Schema reconciliation before a load is attempted.
type Capabilities struct {
	// PreferredFileFormat is the loader file extension this backend wants
	// to receive (storage.ExtJSONL for most server-managed backends,
	// storage.ExtInsertValues for a synchronous SQL backend).
	PreferredFileFormat string
	// SupportedWriteDispositions beyond the mandatory append/replace pair.
	SupportedWriteDispositions []schema.WriteDisposition
	// MaxIdentifierLength bounds table/column name length for this backend.
	MaxIdentifierLength int
}

// SupportsDisposition reports whether d is append, replace (always
// mandatory), or explicitly listed among c.SupportedWriteDispositions.
func (c Capabilities) SupportsDisposition(d schema.WriteDisposition) bool {
	if d == schema.DispositionAppend || d == schema.DispositionReplace {
		return true
	}
	for _, supported := range c.SupportedWriteDispositions {
		if supported == d {
			return true
		}
	}
	return false
}

// Client is the capability set every warehouse backend implements: the job
// client interface of spec §4.4.
type Client interface {
	Capabilities() Capabilities

	// InitializeStorage idempotently creates the destination namespace
	// (database/dataset/schema) if it does not already exist.
	InitializeStorage(ctx context.Context) error

	// UpdateStorageSchema reconciles s against the remote: missing tables
	// are created (hints materialized only here), columns present only in
	// s are appended via ALTER TABLE, and the schema version is recorded
	// in the destination's load ledger. Returns *SchemaWillNotUpdateError
	// (terminal) if s adds a hinted column to an already-existing table.
	UpdateStorageSchema(ctx context.Context, s *schema.Schema) error

	// StartFileLoad begins loading file for table and returns a handle.
	// Idempotent by Job.ID: a second call with the same file rebinds to the
	// already-started/-completed server-side job instead of re-running it.
	StartFileLoad(ctx context.Context, table string, file storage.FileName, path string) (Job, error)

	// RestoreFileLoad rebinds to a load that was already started in a
	// previous, possibly-crashed run, by the file's deterministic job ID.
	RestoreFileLoad(ctx context.Context, table string, file storage.FileName, path string) (Job, error)

	// CompleteLoad runs any post-package cleanup for loadID (e.g. dropping
	// a replace-disposition staging table).
	CompleteLoad(ctx context.Context, loadID string) error
}
