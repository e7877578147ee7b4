package pipeline

import "fmt"

// CannotRestorePipelineError is returned by RestorePipeline when dir has no
// usable state.json: either it doesn't exist, or it exists but is missing
// the fields a pipeline needs to reattach (pipeline name, schema name).
type CannotRestorePipelineError struct {
	Dir    string
	Reason string
}

func (e *CannotRestorePipelineError) Error() string {
	return fmt.Sprintf("pipeline: cannot restore pipeline at %s: %s", e.Dir, e.Reason)
}

// StalePipelineContextError is returned by any mutating Pipeline operation
// when a later CreatePipeline or RestorePipeline call has re-attached to
// the same directory from elsewhere in the process, superseding this
// instance. Detected by comparing the generation this Pipeline observed at
// attach time against state.json's live generation counter, rather than by
// object identity.
type StalePipelineContextError struct {
	Dir string
}

func (e *StalePipelineContextError) Error() string {
	return fmt.Sprintf("pipeline: stale context at %s: superseded by a later attach", e.Dir)
}

// PipelineStepFailed wraps the exception raised by one failed extract,
// normalize, or load step together with the metrics captured up to the
// point of failure, per the step-level error envelope every operation
// returns on failure.
type PipelineStepFailed struct {
	Step        string
	Exception   error
	LastMetrics StepMetrics
}

func (e *PipelineStepFailed) Error() string {
	return fmt.Sprintf("pipeline: step %s failed: %v", e.Step, e.Exception)
}

func (e *PipelineStepFailed) Unwrap() error {
	return e.Exception
}

// StepMetrics is the minimal progress snapshot attached to a
// PipelineStepFailed, letting a caller report how far a step got before it
// failed.
type StepMetrics struct {
	FilesProcessed int
	RowsProcessed  int64
}
