package pipeline

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadIsIdleImmediatelyWhenNothingToLoad(t *testing.T) {
	useFakeClient(t)
	fs := afero.NewMemMapFs()
	p, err := CreatePipeline(context.Background(), fs, "/work", "events", testCreds(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, p.Load(context.Background(), 4))
}

func TestLoadRejectsMultipleWorkersOnInteractiveTTY(t *testing.T) {
	useFakeClient(t)
	fs := afero.NewMemMapFs()
	p, err := CreatePipeline(context.Background(), fs, "/work", "events", testCreds(), nil, nil)
	require.NoError(t, err)

	prevTTYCheck := isInteractiveTTYFunc
	isInteractiveTTYFunc = func() bool { return true }
	t.Cleanup(func() { isInteractiveTTYFunc = prevTTYCheck })

	err = p.Load(context.Background(), 4)
	var target *InteractiveWorkerCountError
	assert.ErrorAs(t, err, &target)
}
