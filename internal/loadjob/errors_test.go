package loadjob

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"ingestpipe/internal/schema"
	"ingestpipe/internal/storage"
)

func TestErrorMessagesNameTheirCause(t *testing.T) {
	wrapped := errors.New("connection refused")

	assert.Contains(t, (&TransientError{Op: "dial", Err: wrapped}).Error(), "connection refused")
	assert.Contains(t, (&TerminalError{Op: "insert", Err: wrapped}).Error(), "connection refused")
	assert.Contains(t, (&UnknownTableError{Table: "ghost"}).Error(), "ghost")
	assert.Contains(t, (&UnsupportedWriteDispositionError{Table: "events", Disposition: schema.DispositionUpsert}).Error(), "upsert")
	assert.Contains(t, (&UnsupportedFileFormatError{Ext: "csv"}).Error(), "csv")
	assert.Contains(t, (&SchemaWillNotUpdateError{Table: "events", Column: "region"}).Error(), "region")
}

func TestTransientErrorUnwraps(t *testing.T) {
	wrapped := errors.New("deadlock")
	err := &TransientError{Op: "exec", Err: wrapped}
	assert.ErrorIs(t, err, wrapped)
}

func TestCanonicalJobIDIgnoresCountAndLoadID(t *testing.T) {
	a := canonicalJobID("events", storage.FileName{Schema: "s", Stem: "chunk0", Count: 1, LoadID: "aaa", Ext: storage.ExtJSONL})
	b := canonicalJobID("events", storage.FileName{Schema: "s", Stem: "chunk0", Count: 2, LoadID: "bbb", Ext: storage.ExtJSONL})
	assert.Equal(t, a, b)
}

func TestCapabilitiesSupportsDisposition(t *testing.T) {
	c := Capabilities{SupportedWriteDispositions: []schema.WriteDisposition{schema.DispositionMerge}}
	assert.True(t, c.SupportsDisposition(schema.DispositionAppend))
	assert.True(t, c.SupportsDisposition(schema.DispositionReplace))
	assert.True(t, c.SupportsDisposition(schema.DispositionMerge))
	assert.False(t, c.SupportsDisposition(schema.DispositionUpsert))
}
