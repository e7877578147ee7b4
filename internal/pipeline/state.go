package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
)

const stateFileName = "state.json"

// State is a pipeline's persisted attachment record: which pipeline and
// schema name own dir, and a generation counter bumped every time a
// Pipeline instance attaches here, used to detect a stale context (REDESIGN
// FLAGS: an explicit generation counter replaces object-identity
// comparison).
type State struct {
	PipelineName string `json:"pipeline_name"`
	SchemaName   string `json:"schema_name"`
	Generation   int64  `json:"generation"`
}

func statePath(dir string) string {
	return dir + "/" + stateFileName
}

func readState(fs afero.Fs, dir string) (*State, error) {
	exists, err := afero.Exists(fs, statePath(dir))
	if err != nil {
		return nil, fmt.Errorf("pipeline: stat state %s: %w", statePath(dir), err)
	}
	if !exists {
		return nil, nil
	}
	data, err := afero.ReadFile(fs, statePath(dir))
	if err != nil {
		return nil, fmt.Errorf("pipeline: read state %s: %w", statePath(dir), err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("pipeline: decode state %s: %w", statePath(dir), err)
	}
	return &s, nil
}

func writeState(fs afero.Fs, dir string, s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: encode state: %w", err)
	}
	f, err := fs.Create(statePath(dir))
	if err != nil {
		return fmt.Errorf("pipeline: create state %s: %w", statePath(dir), err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("pipeline: write state %s: %w", statePath(dir), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("pipeline: fsync state %s: %w", statePath(dir), err)
	}
	return f.Close()
}

// mutateState keeps a shallow copy of p.state, applies mutate to p.state,
// persists it on success, and restores p.state from the copy if either
// mutate or the persist itself fails — so a failed mutation never leaves p.state
// disagreeing with what's durable on disk.
func (p *Pipeline) mutateState(mutate func(*State) error) error {
	before := *p.state
	if err := mutate(p.state); err != nil {
		*p.state = before
		return err
	}
	if err := writeState(p.Fs, p.Dir, p.state); err != nil {
		*p.state = before
		return err
	}
	return nil
}
