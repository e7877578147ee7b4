package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"ingestpipe/internal/idgen"
	"ingestpipe/internal/normalize"
	"ingestpipe/internal/schema"
	"ingestpipe/internal/storage"
)

const (
	loadStageNew       storage.Stage = "new"
	loadStageStarted   storage.Stage = "started"
	loadStageFailed    storage.Stage = "failed"
	loadStageCompleted storage.Stage = "completed"

	loadSchemaFileName  = "schema.yaml"
	loadUpdatesSentinel = "schema_updates.json"
)

// Normalize flattens every file staged in the normalize store's extracted
// stage against the pipeline's schema and writes the result as exactly one
// new Load package under load/<load_id>. It is a no-op returning nil if
// nothing is staged.
func (p *Pipeline) Normalize(ctx context.Context) error {
	if err := p.checkIdentity(); err != nil {
		return err
	}

	names, err := p.normalizeStore.List(normalizeStageIn)
	if err != nil {
		return fmt.Errorf("pipeline: normalize: %w", err)
	}
	if len(names) == 0 {
		return nil
	}

	n := normalize.New(p.schema)
	buffers := map[string]*bytes.Buffer{}
	var tableOrder []string
	var overallUpdate schema.TSchemaUpdate
	var rowsProcessed int64

	for _, name := range names {
		fn, err := storage.ParseFileName(name)
		if err != nil {
			return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("parse staged file name %q: %w", name, err), LastMetrics: StepMetrics{RowsProcessed: rowsProcessed}}
		}

		path := p.normalizeStore.StagePath(normalizeStageIn) + "/" + name
		data, err := afero.ReadFile(p.Fs, path)
		if err != nil {
			return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("read %s: %w", path, err), LastMetrics: StepMetrics{RowsProcessed: rowsProcessed}}
		}

		if err := forEachLine(data, func(line []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := normalize.DecodeOrdered(line)
			if err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			seq, update, err := n.Normalize(ctx, fn.Schema, v)
			if err != nil {
				return fmt.Errorf("normalize record: %w", err)
			}
			overallUpdate = overallUpdate.Merge(update)
			for ref, row := range seq {
				buf, ok := buffers[ref.Table]
				if !ok {
					buf = &bytes.Buffer{}
					buffers[ref.Table] = buf
					tableOrder = append(tableOrder, ref.Table)
				}
				enc, err := json.Marshal(row)
				if err != nil {
					return fmt.Errorf("encode row for table %s: %w", ref.Table, err)
				}
				buf.Write(enc)
				buf.WriteByte('\n')
				rowsProcessed++
			}
			return nil
		}); err != nil {
			return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("file %s: %w", name, err), LastMetrics: StepMetrics{FilesProcessed: 0, RowsProcessed: rowsProcessed}}
		}
	}

	sort.Strings(tableOrder)
	loadID := idgen.NewLoadID()
	packageDir := p.loadRoot + "/" + loadID

	store, err := storage.NewStagedStore(p.Fs, packageDir, loadStageNew, loadStageStarted, loadStageFailed, loadStageCompleted)
	if err != nil {
		return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("create load package %s: %w", packageDir, err), LastMetrics: StepMetrics{RowsProcessed: rowsProcessed}}
	}

	for _, table := range tableOrder {
		fileName := storage.FileName{Schema: table, Stem: "chunk", Count: 0, LoadID: loadID, Ext: storage.ExtJSONL}.String()
		dest := store.StagePath(loadStageNew) + "/" + fileName
		if err := afero.WriteFile(p.Fs, dest, buffers[table].Bytes(), 0o644); err != nil {
			return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("write chunk %s: %w", dest, err), LastMetrics: StepMetrics{RowsProcessed: rowsProcessed}}
		}
	}

	schemaData, err := p.schema.ToYAML(false)
	if err != nil {
		return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("encode frozen schema: %w", err), LastMetrics: StepMetrics{RowsProcessed: rowsProcessed}}
	}
	if err := afero.WriteFile(p.Fs, packageDir+"/"+loadSchemaFileName, schemaData, 0o644); err != nil {
		return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("write package schema: %w", err), LastMetrics: StepMetrics{RowsProcessed: rowsProcessed}}
	}
	if err := afero.WriteFile(p.Fs, schemaPath(p.Dir, p.state.SchemaName), schemaData, 0o644); err != nil {
		return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("persist live schema: %w", err), LastMetrics: StepMetrics{RowsProcessed: rowsProcessed}}
	}
	p.schema.MarkPersisted()

	if len(overallUpdate) > 0 {
		sentinel, err := json.Marshal(overallUpdate)
		if err != nil {
			return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("encode schema update sentinel: %w", err), LastMetrics: StepMetrics{RowsProcessed: rowsProcessed}}
		}
		if err := afero.WriteFile(p.Fs, packageDir+"/"+loadUpdatesSentinel, sentinel, 0o644); err != nil {
			return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("write schema update sentinel: %w", err), LastMetrics: StepMetrics{RowsProcessed: rowsProcessed}}
		}
	}

	for _, name := range names {
		if err := p.Fs.Remove(p.normalizeStore.StagePath(normalizeStageIn) + "/" + name); err != nil {
			return &PipelineStepFailed{Step: "normalize", Exception: fmt.Errorf("remove processed extract %s: %w", name, err), LastMetrics: StepMetrics{RowsProcessed: rowsProcessed}}
		}
	}

	p.Logger.Info("normalize produced load package",
		zap.String("load_id", loadID),
		zap.Int("tables", len(tableOrder)),
		zap.Int64("rows", rowsProcessed),
	)
	return nil
}

// forEachLine calls fn with each non-empty line of data, an NDJSON reader
// with no dependency on bufio.Scanner's line-length ceiling.
func forEachLine(data []byte, fn func(line []byte) error) error {
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				if err := fn(data[start:i]); err != nil {
					return err
				}
			}
			start = i + 1
		}
	}
	if start < len(data) {
		return fn(data[start:])
	}
	return nil
}
