package pipeline

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestpipe/internal/storage"
)

func TestNormalizeIsNoopWhenNothingStaged(t *testing.T) {
	useFakeClient(t)
	fs := afero.NewMemMapFs()
	p, err := CreatePipeline(context.Background(), fs, "/work", "events", testCreds(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, p.Normalize(context.Background()))

	entries, err := afero.ReadDir(fs, p.loadRoot)
	require.NoError(t, err)
	assert.Len(t, entries, 0)
}

func TestNormalizeWritesSchemaUpdateSentinelOnNewColumns(t *testing.T) {
	useFakeClient(t)
	fs := afero.NewMemMapFs()
	p, err := CreatePipeline(context.Background(), fs, "/work", "events", testCreds(), nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Extract(ctx, "events", recordsOf(map[string]any{"id": int64(1)})))
	require.NoError(t, p.Normalize(ctx))

	dirs, err := afero.ReadDir(fs, p.loadRoot)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	pkgDir := p.loadRoot + "/" + dirs[0].Name()

	exists, err := afero.Exists(fs, pkgDir+"/schema_updates.json")
	require.NoError(t, err)
	assert.True(t, exists, "first-ever events column must trigger an evolution sentinel")

	exists, err = afero.Exists(fs, pkgDir+"/schema.yaml")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNormalizeUnwindsNestedListsIntoChildTableFiles(t *testing.T) {
	useFakeClient(t)
	fs := afero.NewMemMapFs()
	p, err := CreatePipeline(context.Background(), fs, "/work", "events", testCreds(), nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	record := map[string]any{
		"id": int64(1),
		"tags": []any{
			map[string]any{"k": "a"},
			map[string]any{"k": "b"},
		},
	}
	require.NoError(t, p.Extract(ctx, "events", recordsOf(record)))
	require.NoError(t, p.Normalize(ctx))

	dirs, err := afero.ReadDir(fs, p.loadRoot)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	files, err := afero.ReadDir(fs, p.loadRoot+"/"+dirs[0].Name()+"/new")
	require.NoError(t, err)

	var sawChild bool
	for _, f := range files {
		fn, err := storage.ParseFileName(f.Name())
		if err == nil && fn.Schema == "events_tags" {
			sawChild = true
		}
	}
	assert.True(t, sawChild, "a nested list must produce its own chunk file for events_tags")
	assert.NotNil(t, p.schema.Table("events_tags"))
}
