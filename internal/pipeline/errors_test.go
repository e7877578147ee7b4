package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineStepFailedUnwrapsToException(t *testing.T) {
	cause := errors.New("connection refused")
	err := &PipelineStepFailed{Step: "load", Exception: cause, LastMetrics: StepMetrics{FilesProcessed: 2}}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "load")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCannotRestorePipelineErrorMessage(t *testing.T) {
	err := &CannotRestorePipelineError{Dir: "/work", Reason: "no state.json present"}
	assert.Contains(t, err.Error(), "/work")
	assert.Contains(t, err.Error(), "no state.json present")
}

func TestStalePipelineContextErrorMessage(t *testing.T) {
	err := &StalePipelineContextError{Dir: "/work"}
	assert.Contains(t, err.Error(), "/work")
}
