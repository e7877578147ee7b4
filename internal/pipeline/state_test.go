package pipeline

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadStateRoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work", 0o755))

	want := &State{PipelineName: "events", SchemaName: "events", Generation: 3}
	require.NoError(t, writeState(fs, "/work", want))

	got, err := readState(fs, "/work")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadStateReturnsNilWhenAbsent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work", 0o755))

	got, err := readState(fs, "/work")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMutateStateRollsBackOnMutateError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work", 0o755))
	p := &Pipeline{Fs: fs, Dir: "/work", state: &State{PipelineName: "events", SchemaName: "events", Generation: 1}}

	boom := errors.New("boom")
	err := p.mutateState(func(s *State) error {
		s.Generation = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), p.state.Generation)

	exists, err := afero.Exists(fs, "/work/state.json")
	require.NoError(t, err)
	assert.False(t, exists, "a rolled-back mutation must not persist")
}

func TestMutateStatePersistsOnSuccess(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work", 0o755))
	p := &Pipeline{Fs: fs, Dir: "/work", state: &State{PipelineName: "events", SchemaName: "events", Generation: 1}}

	require.NoError(t, p.mutateState(func(s *State) error {
		s.Generation++
		return nil
	}))
	assert.Equal(t, int64(2), p.state.Generation)

	got, err := readState(fs, "/work")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Generation)
}
