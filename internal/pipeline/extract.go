package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"ingestpipe/internal/idgen"
	"ingestpipe/internal/storage"
)

// Extract drains records into a new NDJSON file staged for normalize,
// rooted at tableName. Each call produces at most one staged file (none when
// records yields nothing); callers
// wanting several extract batches to land in one normalize pass should call
// Extract repeatedly before the next Normalize.
func (p *Pipeline) Extract(ctx context.Context, tableName string, records iter.Seq[map[string]any]) error {
	if err := p.checkIdentity(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	for rec := range records {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline: extract %s: %w", tableName, err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("pipeline: extract %s: encode record: %w", tableName, err)
		}
		count++
	}
	if count == 0 {
		return nil
	}

	name := storage.FileName{
		Schema: tableName,
		Stem:   "extract",
		Count:  count,
		LoadID: idgen.NewLoadID(),
		Ext:    storage.ExtJSONL,
	}.String()

	newPath := p.extractStore.StagePath(extractStageNew) + "/" + name
	if err := afero.WriteFile(p.Fs, newPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("pipeline: extract %s: write %s: %w", tableName, newPath, err)
	}

	committedPath, err := p.extractStore.Move(extractStageNew, extractStageCommitted, name)
	if err != nil {
		return fmt.Errorf("pipeline: extract %s: commit: %w", tableName, err)
	}

	if _, err := p.normalizeStore.Ingress(p.Fs, committedPath, normalizeStageIn, name); err != nil {
		return fmt.Errorf("pipeline: extract %s: hand off to normalize: %w", tableName, err)
	}

	p.Logger.Info("extract committed",
		zap.String("table", tableName),
		zap.Int("records", count),
		zap.String("file", name),
	)
	return nil
}
