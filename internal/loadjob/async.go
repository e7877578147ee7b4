package loadjob

import (
	"context"
	"fmt"

	"ingestpipe/internal/schema"
	"ingestpipe/internal/storage"
)

// StartFunc begins a server-managed load and returns the backend's own job
// identifier (e.g. a BigQuery load-job ID), used to poll status later.
type StartFunc func(ctx context.Context, table string, file storage.FileName, path string) (remoteID string, err error)

// PollFunc checks a server-managed job's current state.
type PollFunc func(ctx context.Context, remoteID string) (Status, error)

// InitFunc idempotently creates the destination namespace.
type InitFunc func(ctx context.Context) error

// SchemaFunc reconciles s against the remote destination.
type SchemaFunc func(ctx context.Context, s *schema.Schema) error

// CompleteFunc runs post-package cleanup.
type CompleteFunc func(ctx context.Context, loadID string) error

// AsyncJobClient is family (a) of spec §4.4: a server-managed backend whose
// job reaches a terminal state asynchronously (BigQuery/Redshift-shaped).
// It is deliberately interface-only here, per spec §1's scope boundary —
// real cloud-SDK wiring is left to StartFunc/PollFunc implementations
// supplied by the caller; tests exercise it with in-memory fakes.
type AsyncJobClient struct {
	Caps     Capabilities
	Init     InitFunc
	Schema   SchemaFunc
	Start    StartFunc
	Poll     PollFunc
	Complete CompleteFunc
}

func (c *AsyncJobClient) Capabilities() Capabilities { return c.Caps }

func (c *AsyncJobClient) InitializeStorage(ctx context.Context) error {
	if c.Init == nil {
		return nil
	}
	return c.Init(ctx)
}

func (c *AsyncJobClient) UpdateStorageSchema(ctx context.Context, s *schema.Schema) error {
	if c.Schema == nil {
		return fmt.Errorf("loadjob: AsyncJobClient has no SchemaFunc configured")
	}
	return c.Schema(ctx, s)
}

func (c *AsyncJobClient) StartFileLoad(ctx context.Context, table string, file storage.FileName, path string) (Job, error) {
	remoteID, err := c.Start(ctx, table, file, path)
	if err != nil {
		return nil, err
	}
	return &asyncJob{id: canonicalJobID(table, file), remoteID: remoteID, poll: c.Poll}, nil
}

func (c *AsyncJobClient) RestoreFileLoad(ctx context.Context, table string, file storage.FileName, path string) (Job, error) {
	// The caller's StartFunc is expected to be idempotent on the backend's
	// own job_id (spec §4.4), so restoring replays the same call and the
	// backend rebinds to its existing job rather than starting a new one.
	return c.StartFileLoad(ctx, table, file, path)
}

func (c *AsyncJobClient) CompleteLoad(ctx context.Context, loadID string) error {
	if c.Complete == nil {
		return nil
	}
	return c.Complete(ctx, loadID)
}

// asyncJob polls the backend's own job id through PollFunc on every Status
// call, caching the last-seen terminal error.
type asyncJob struct {
	id       string
	remoteID string
	poll     PollFunc
	lastErr  error
}

func (j *asyncJob) ID() string { return j.id }

func (j *asyncJob) Status(ctx context.Context) (Status, error) {
	status, err := j.poll(ctx, j.remoteID)
	if err != nil {
		j.lastErr = err
		return StatusFailed, err
	}
	if status == StatusFailed {
		j.lastErr = fmt.Errorf("loadjob: remote job %s reported failed", j.remoteID)
	}
	return status, nil
}

func (j *asyncJob) Err() error { return j.lastErr }
