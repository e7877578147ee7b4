package pipeline

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"ingestpipe/internal/executor"
)

// maxInteractiveWorkers is the worker count ceiling enforced when stdin is
// an interactive TTY, per spec §5's "workers > 1 with an interactive TTY is
// rejected up front" clause.
const maxInteractiveWorkers = 1

// InteractiveWorkerCountError is returned by Load when workers > 1 is
// requested while stdin is an interactive terminal.
type InteractiveWorkerCountError struct {
	Workers int
}

func (e *InteractiveWorkerCountError) Error() string {
	return fmt.Sprintf("pipeline: workers=%d rejected: stdin is an interactive terminal", e.Workers)
}

// isInteractiveTTYFunc reports whether stdin is an interactive terminal. No
// library in the dependency set offers TTY detection, so this one check is
// the module's single stdlib-only exception to the "use the ecosystem"
// rule. A package variable so tests can force either branch without a real
// terminal.
var isInteractiveTTYFunc = func() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Load drives the load executor over the load root to completion: every
// Load package present is ticked until idle. workers <= 0 keeps the
// executor's own default.
func (p *Pipeline) Load(ctx context.Context, workers int) error {
	if err := p.checkIdentity(); err != nil {
		return err
	}
	if workers > maxInteractiveWorkers && isInteractiveTTYFunc() {
		return &InteractiveWorkerCountError{Workers: workers}
	}

	e := executor.New(p.Fs, p.loadRoot, p.client)
	if workers > 0 {
		e.Workers = workers
	}

	var filesProcessed int
	for {
		if err := ctx.Err(); err != nil {
			return &PipelineStepFailed{Step: "load", Exception: err, LastMetrics: StepMetrics{FilesProcessed: filesProcessed}}
		}
		result, err := e.Tick(ctx)
		if err != nil {
			return &PipelineStepFailed{Step: "load", Exception: fmt.Errorf("tick: %w", err), LastMetrics: StepMetrics{FilesProcessed: filesProcessed}}
		}
		if result.Idle {
			break
		}
		if result.PackageArchived {
			filesProcessed++
			p.Logger.Info("load package archived", zap.String("load_id", result.LoadID))
		}
	}
	return nil
}

// Flush runs Normalize followed by Load, the common "drain everything
// staged so far" operation.
func (p *Pipeline) Flush(ctx context.Context, workers int) error {
	if err := p.Normalize(ctx); err != nil {
		return err
	}
	return p.Load(ctx, workers)
}
