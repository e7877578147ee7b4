// Package executor drives the destination-facing half of a load package
// through its per-file job state machine: spool new jobs, restore jobs that
// survived a crash, poll live jobs to a terminal state, and archive the
// package once every file has settled.
package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ingestpipe/internal/loadjob"
	"ingestpipe/internal/schema"
	"ingestpipe/internal/storage"
)

const (
	stageNew       storage.Stage = "new"
	stageStarted   storage.Stage = "started"
	stageFailed    storage.Stage = "failed"
	stageCompleted storage.Stage = "completed"

	schemaFileName    = "schema.yaml"
	updatesSentinel   = "schema_updates.json"
	archiveFolderName = "completed"
)

// Executor runs one tick of the load package state machine over Root, a
// directory holding one subdirectory per load package (load_id) plus an
// "completed" archive folder for settled packages.
type Executor struct {
	Fs      afero.Fs
	Root    string
	Workers int
	Client  loadjob.Client
	Metrics *Metrics

	// PollInterval is the sleep between status polls of live jobs; defaults
	// to 1s, matching spec §4.5. Tests override it to keep runtime short.
	PollInterval time.Duration
}

// New builds an Executor with sane defaults: 4 workers, a private metrics
// registry, a 1-second poll interval.
func New(fs afero.Fs, root string, client loadjob.Client) *Executor {
	return &Executor{
		Fs:           fs,
		Root:         root,
		Workers:      4,
		Client:       client,
		Metrics:      NewMetrics(),
		PollInterval: time.Second,
	}
}

// TickResult reports what one Tick call did.
type TickResult struct {
	Idle            bool
	LoadID          string
	PackageArchived bool
}

// jobRecord tracks one in-flight job alongside the stage its staged file
// currently occupies, so a terminal status can be turned into the right
// Move call. origin is started for a job that was started or restored from
// a previous run (its file sits in started/), and new for a job whose start
// failed terminally (its file never left new/).
type jobRecord struct {
	name        string
	job         loadjob.Job
	origin      storage.Stage
	submittedAt time.Time
	settled     bool
}

// Tick runs the seven numbered steps of spec §4.5 once.
func (e *Executor) Tick(ctx context.Context) (TickResult, error) {
	loadID, ok, err := e.nextPackage()
	if err != nil {
		return TickResult{}, err
	}
	if !ok {
		return TickResult{Idle: true}, nil
	}

	e.Metrics.resetPackageCounters()

	packageDir := filepath.Join(e.Root, loadID)
	store, err := storage.NewStagedStore(e.Fs, packageDir, stageNew, stageStarted, stageFailed, stageCompleted)
	if err != nil {
		return TickResult{}, err
	}

	sch, err := e.loadPackageSchema(packageDir)
	if err != nil {
		return TickResult{}, err
	}

	if err := e.Client.InitializeStorage(ctx); err != nil {
		return TickResult{}, err
	}
	if err := e.applyPendingSchemaUpdate(ctx, packageDir, sch); err != nil {
		return TickResult{}, err
	}

	live, err := e.retrieveJobs(ctx, store)
	if err != nil {
		return TickResult{}, err
	}

	if len(live) == 0 {
		spooled, err := e.spoolNewJobs(ctx, store)
		if err != nil {
			return TickResult{}, err
		}
		live = spooled
	}

	if len(live) == 0 {
		newFiles, err := store.List(stageNew)
		if err != nil {
			return TickResult{}, err
		}
		startedFiles, err := store.List(stageStarted)
		if err != nil {
			return TickResult{}, err
		}
		if len(newFiles) == 0 && len(startedFiles) == 0 {
			if err := e.Client.CompleteLoad(ctx, loadID); err != nil {
				return TickResult{}, err
			}
			if err := storage.MoveDir(e.Fs, packageDir, filepath.Join(e.Root, archiveFolderName, loadID)); err != nil {
				return TickResult{}, err
			}
			e.Metrics.PackagesTotal.Inc()
			return TickResult{LoadID: loadID, PackageArchived: true}, nil
		}
		return TickResult{LoadID: loadID}, nil
	}

	if err := e.pollUntilSettled(ctx, store, live); err != nil {
		return TickResult{}, err
	}
	return TickResult{LoadID: loadID}, nil
}

// nextPackage returns the lexicographically first package directory under
// Root, skipping the archive folder.
func (e *Executor) nextPackage() (string, bool, error) {
	entries, err := afero.ReadDir(e.Fs, e.Root)
	if err != nil {
		return "", false, fmt.Errorf("executor: list packages: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == archiveFolderName {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "", false, nil
	}
	return names[0], true, nil
}

func (e *Executor) loadPackageSchema(packageDir string) (*schema.Schema, error) {
	data, err := afero.ReadFile(e.Fs, filepath.Join(packageDir, schemaFileName))
	if err != nil {
		return nil, fmt.Errorf("executor: read package schema: %w", err)
	}
	sch, err := schema.FromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("executor: parse package schema: %w", err)
	}
	return sch, nil
}

// applyPendingSchemaUpdate is the commit point for schema evolution: if the
// sentinel is present, the remote is reconciled against sch and the
// sentinel is deleted so the next tick does not redo the reconciliation.
func (e *Executor) applyPendingSchemaUpdate(ctx context.Context, packageDir string, sch *schema.Schema) error {
	sentinelPath := filepath.Join(packageDir, updatesSentinel)
	exists, err := afero.Exists(e.Fs, sentinelPath)
	if err != nil {
		return fmt.Errorf("executor: check schema update sentinel: %w", err)
	}
	if !exists {
		return nil
	}
	if err := e.Client.UpdateStorageSchema(ctx, sch); err != nil {
		return err
	}
	if err := e.Fs.Remove(sentinelPath); err != nil {
		return fmt.Errorf("executor: remove schema update sentinel: %w", err)
	}
	return nil
}

// retrieveJobs restores every file already sitting in started/ from a
// previous, possibly crashed, run. A transient restore error aborts the
// whole tick (retried next tick); a terminal one synthesizes a failed job
// so pollUntilSettled moves its file into failed/ and writes its exception.
func (e *Executor) retrieveJobs(ctx context.Context, store *storage.StagedStore) ([]*jobRecord, error) {
	names, err := store.List(stageStarted)
	if err != nil {
		return nil, err
	}

	records := make([]*jobRecord, 0, len(names))
	for _, name := range names {
		fn, err := storage.ParseFileName(name)
		if err != nil {
			return nil, fmt.Errorf("executor: parse started file name %q: %w", name, err)
		}
		table := fn.Schema
		path := filepath.Join(store.StagePath(stageStarted), name)

		job, err := e.Client.RestoreFileLoad(ctx, table, fn, path)
		if err != nil {
			if isTransient(err) {
				return nil, err
			}
			records = append(records, &jobRecord{
				name: name, origin: stageStarted,
				job: &staticJob{id: name, status: loadjob.StatusFailed, err: err},
			})
			continue
		}
		records = append(records, &jobRecord{name: name, origin: stageStarted, job: job, submittedAt: time.Now()})
	}
	return records, nil
}

// spoolNewJobs takes up to Workers files from new/ and submits each to a
// bounded worker pool that calls StartFileLoad.
func (e *Executor) spoolNewJobs(ctx context.Context, store *storage.StagedStore) ([]*jobRecord, error) {
	names, err := store.List(stageNew)
	if err != nil {
		return nil, err
	}
	if len(names) > e.Workers {
		names = names[:e.Workers]
	}

	var (
		mu      sync.Mutex
		records []*jobRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(max(e.Workers, 1)))

	for _, name := range names {
		name := name
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			rec, err := e.startOne(gctx, store, name)
			if err != nil {
				return err
			}
			if rec != nil {
				mu.Lock()
				records = append(records, rec)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// startOne handles one new/ file: on success it moves the file into
// started/ and returns a live jobRecord; on terminal failure it returns a
// jobRecord wrapping a synthetic failed job, file left in new/; on
// transient failure it returns (nil, nil), leaving the file untouched for
// a later tick.
func (e *Executor) startOne(ctx context.Context, store *storage.StagedStore, name string) (*jobRecord, error) {
	fn, err := storage.ParseFileName(name)
	if err != nil {
		return nil, fmt.Errorf("executor: parse new file name %q: %w", name, err)
	}
	table := fn.Schema
	path := filepath.Join(store.StagePath(stageNew), name)

	job, err := e.Client.StartFileLoad(ctx, table, fn, path)
	if err != nil {
		if isTransient(err) {
			return nil, nil
		}
		return &jobRecord{
			name: name, origin: stageNew,
			job: &staticJob{id: name, status: loadjob.StatusFailed, err: err},
		}, nil
	}

	if _, err := store.Move(stageNew, stageStarted, name); err != nil {
		return nil, err
	}
	return &jobRecord{name: name, origin: stageStarted, job: job, submittedAt: time.Now()}, nil
}

// pollUntilSettled polls every live job's status until all have reached a
// terminal state (completed/failed) or been requeued (retry), sleeping
// PollInterval between rounds and honoring ctx cancellation.
func (e *Executor) pollUntilSettled(ctx context.Context, store *storage.StagedStore, live []*jobRecord) error {
	interval := e.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	for {
		allSettled := true
		var roundErr error

		for _, rec := range live {
			if rec.settled {
				continue
			}
			status, err := rec.job.Status(ctx)
			if err != nil {
				if isTransient(err) {
					allSettled = false
					continue
				}
				status = loadjob.StatusFailed
			}

			switch status {
			case loadjob.StatusCompleted:
				if _, err := store.Move(rec.origin, stageCompleted, rec.name); err != nil {
					roundErr = multierr.Append(roundErr, err)
					continue
				}
				e.Metrics.recordJobStatus("completed")
				e.Metrics.JobWaitSeconds.Observe(time.Since(rec.submittedAt).Seconds())
				rec.settled = true
			case loadjob.StatusFailed:
				if _, err := store.Move(rec.origin, stageFailed, rec.name); err != nil {
					roundErr = multierr.Append(roundErr, err)
					continue
				}
				if err := e.writeException(store, rec); err != nil {
					roundErr = multierr.Append(roundErr, err)
				}
				e.Metrics.recordJobStatus("failed")
				rec.settled = true
			case loadjob.StatusRetry:
				if _, err := store.Move(rec.origin, stageNew, rec.name); err != nil {
					roundErr = multierr.Append(roundErr, err)
					continue
				}
				e.Metrics.recordJobStatus("retry")
				rec.settled = true
			case loadjob.StatusRunning:
				allSettled = false
			}
		}

		// A file-move or exception-write failure on one job must not stop
		// the rest of this round's jobs from settling; every job gets a
		// chance to transition before the round's errors are reported.
		if roundErr != nil {
			return roundErr
		}
		if allSettled {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (e *Executor) writeException(store *storage.StagedStore, rec *jobRecord) error {
	msg := "unknown error"
	if err := rec.job.Err(); err != nil {
		msg = err.Error()
	}
	path := filepath.Join(store.StagePath(stageFailed), rec.name+".exception")
	return afero.WriteFile(e.Fs, path, []byte(msg), 0o644)
}

// isTransient reports whether err (or anything it wraps) is a
// *loadjob.TransientError.
func isTransient(err error) bool {
	var transient *loadjob.TransientError
	return errors.As(err, &transient)
}

// staticJob is a Job handle that already knows its terminal outcome,
// used to fold a retrieveJobs/spoolNewJobs error into the same poll loop
// that drives real backend jobs.
type staticJob struct {
	id     string
	status loadjob.Status
	err    error
}

func (j *staticJob) ID() string { return j.id }
func (j *staticJob) Status(context.Context) (loadjob.Status, error) {
	return j.status, nil
}
func (j *staticJob) Err() error { return j.err }
