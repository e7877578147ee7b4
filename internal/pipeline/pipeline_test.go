package pipeline

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestpipe/internal/loadjob"
	"ingestpipe/internal/schema"
	"ingestpipe/internal/storage"
)

// fakeJob always reports StatusCompleted, matching SyncSQLJobClient's
// always-synchronous behavior.
type fakeJob struct{ id string }

func (j *fakeJob) ID() string                                   { return j.id }
func (j *fakeJob) Status(context.Context) (loadjob.Status, error) { return loadjob.StatusCompleted, nil }
func (j *fakeJob) Err() error                                    { return nil }

type fakeClient struct {
	startCount    int
	updateSchemas []*schema.Schema
	completeIDs   []string
}

func (c *fakeClient) Capabilities() loadjob.Capabilities { return loadjob.Capabilities{} }
func (c *fakeClient) InitializeStorage(context.Context) error { return nil }
func (c *fakeClient) UpdateStorageSchema(_ context.Context, s *schema.Schema) error {
	c.updateSchemas = append(c.updateSchemas, s)
	return nil
}
func (c *fakeClient) StartFileLoad(_ context.Context, table string, file storage.FileName, _ string) (loadjob.Job, error) {
	c.startCount++
	return &fakeJob{id: file.String()}, nil
}
func (c *fakeClient) RestoreFileLoad(_ context.Context, table string, file storage.FileName, _ string) (loadjob.Job, error) {
	return &fakeJob{id: file.String()}, nil
}
func (c *fakeClient) CompleteLoad(_ context.Context, loadID string) error {
	c.completeIDs = append(c.completeIDs, loadID)
	return nil
}

func useFakeClient(t *testing.T) *fakeClient {
	t.Helper()
	fc := &fakeClient{}
	prev := newJobClient
	newJobClient = func(context.Context, Credentials, afero.Fs) (loadjob.Client, error) {
		return fc, nil
	}
	t.Cleanup(func() { newJobClient = prev })
	return fc
}

func testCreds() Credentials {
	return Credentials{Host: "db", Port: 3306, User: "u", Password: "p", Database: "events"}
}

func recordsOf(maps ...map[string]any) func(yield func(map[string]any) bool) {
	return func(yield func(map[string]any) bool) {
		for _, m := range maps {
			if !yield(m) {
				return
			}
		}
	}
}

func TestCreatePipelineInitializesLayoutAndState(t *testing.T) {
	useFakeClient(t)
	fs := afero.NewMemMapFs()

	p, err := CreatePipeline(context.Background(), fs, "/work", "events", testCreds(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.generation)

	exists, err := afero.Exists(fs, "/work/schemas/events.schema.yaml")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = afero.Exists(fs, "/work/.owner")
	require.NoError(t, err)
	assert.True(t, exists)

	st, err := readState(fs, "/work")
	require.NoError(t, err)
	assert.Equal(t, "events", st.PipelineName)
	assert.Equal(t, int64(1), st.Generation)
}

func TestRestorePipelineFailsWithoutState(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := RestorePipeline(context.Background(), fs, "/missing", testCreds(), nil)
	var target *CannotRestorePipelineError
	assert.ErrorAs(t, err, &target)
}

func TestRestorePipelineBumpsGenerationAndDetectsStaleContext(t *testing.T) {
	useFakeClient(t)
	fs := afero.NewMemMapFs()

	first, err := CreatePipeline(context.Background(), fs, "/work", "events", testCreds(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, storage.ReleaseOwner(fs, "/work"))

	second, err := RestorePipeline(context.Background(), fs, "/work", testCreds(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.generation)

	err = first.checkIdentity()
	var stale *StalePipelineContextError
	assert.ErrorAs(t, err, &stale)

	assert.NoError(t, second.checkIdentity())
}

func TestExtractNormalizeLoadFlow(t *testing.T) {
	fc := useFakeClient(t)
	fs := afero.NewMemMapFs()

	p, err := CreatePipeline(context.Background(), fs, "/work", "events", testCreds(), nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	err = p.Extract(ctx, "events", recordsOf(
		map[string]any{"id": int64(1), "name": "a"},
		map[string]any{"id": int64(2), "name": "b"},
	))
	require.NoError(t, err)

	committed, err := p.extractStore.List(extractStageCommitted)
	require.NoError(t, err)
	assert.Len(t, committed, 0, "extract hands the file off to normalize, leaving nothing committed")

	staged, err := p.normalizeStore.List(normalizeStageIn)
	require.NoError(t, err)
	assert.Len(t, staged, 1)

	require.NoError(t, p.Normalize(ctx))

	remaining, err := p.normalizeStore.List(normalizeStageIn)
	require.NoError(t, err)
	assert.Len(t, remaining, 0)

	loadEntries, err := afero.ReadDir(fs, p.loadRoot)
	require.NoError(t, err)
	assert.Len(t, loadEntries, 1)

	require.NoError(t, p.Load(ctx, 1))
	assert.Equal(t, 1, fc.startCount, "both records flatten into one events chunk file")
	assert.Len(t, fc.completeIDs, 1)

	archived, err := afero.ReadDir(fs, p.loadRoot+"/completed")
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}

func TestFlushWithNothingExtractedIsNoop(t *testing.T) {
	useFakeClient(t)
	fs := afero.NewMemMapFs()
	p, err := CreatePipeline(context.Background(), fs, "/work", "events", testCreds(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, p.Flush(context.Background(), 1))
}

func TestCheckIdentityRejectsMutatingOpsAfterSupersede(t *testing.T) {
	useFakeClient(t)
	fs := afero.NewMemMapFs()

	p, err := CreatePipeline(context.Background(), fs, "/work", "events", testCreds(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, storage.ReleaseOwner(fs, "/work"))

	_, err = RestorePipeline(context.Background(), fs, "/work", testCreds(), nil)
	require.NoError(t, err)

	err = p.Extract(context.Background(), "events", recordsOf(map[string]any{"id": int64(1)}))
	var stale *StalePipelineContextError
	assert.ErrorAs(t, err, &stale)
}
