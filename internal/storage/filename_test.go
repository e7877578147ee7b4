package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileNameRoundTrip(t *testing.T) {
	name := "events.page_view.3.01hq9z.jsonl"
	fn, err := ParseFileName(name)
	require.NoError(t, err)

	assert.Equal(t, "events", fn.Schema)
	assert.Equal(t, "page_view", fn.Stem)
	assert.Equal(t, 3, fn.Count)
	assert.Equal(t, "01hq9z", fn.LoadID)
	assert.Equal(t, ExtJSONL, fn.Ext)
	assert.Equal(t, name, fn.String())
}

func TestParseFileNameAllowsEmptySchema(t *testing.T) {
	fn, err := ParseFileName(".page_view.0.01hq9z.json")
	require.NoError(t, err)
	assert.Equal(t, "", fn.Schema)
}

func TestParseFileNameRejectsWrongSegmentCount(t *testing.T) {
	_, err := ParseFileName("events.page_view.3.jsonl")
	require.Error(t, err)
}

func TestParseFileNameRejectsNonIntegerCount(t *testing.T) {
	_, err := ParseFileName("events.page_view.x.01hq9z.jsonl")
	require.Error(t, err)
}

func TestParseFileNameRejectsUnknownExtension(t *testing.T) {
	_, err := ParseFileName("events.page_view.0.01hq9z.csv")
	require.Error(t, err)
}
