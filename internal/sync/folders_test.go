package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_EmptyPathIsRoot(t *testing.T) {
	r := NewFolderResolver(newMemRemote(), testLogger(t))

	id, err := r.Resolve(context.Background(), "", "root")
	require.NoError(t, err)
	assert.Equal(t, "root", id)
}

func TestResolve_CreatesMissingChainOnce(t *testing.T) {
	remote := newMemRemote()
	r := NewFolderResolver(remote, testLogger(t))
	ctx := context.Background()

	id, err := r.Resolve(ctx, "a/b/c", "root")
	require.NoError(t, err)

	again, err := r.Resolve(ctx, "a/b/c", "root")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	parent, err := r.Resolve(ctx, "a/b", "root")
	require.NoError(t, err)
	assert.NotEqual(t, id, parent)

	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, remote.findCalls)
	assert.Equal(t, []string{"a", "a/b", "a/b/c"}, r.DrainCreated("root"))
	assert.Empty(t, r.DrainCreated("root"), "drained folders are forgotten")

	node := remote.lookup("a/b/c")
	require.NotNil(t, node)
	assert.Equal(t, id, node.file.ID)
}

func TestResolve_ReusesExistingFolder(t *testing.T) {
	remote := newMemRemote()
	remote.put("notes/x.md", []byte("x"), 1)

	r := NewFolderResolver(remote, testLogger(t))

	id, err := r.Resolve(context.Background(), "notes", "root")
	require.NoError(t, err)
	assert.Equal(t, remote.lookup("notes").file.ID, id)
	assert.Empty(t, r.DrainCreated("root"))
}

func TestResolve_CacheIsPerRoot(t *testing.T) {
	remote := newMemRemote()
	r := NewFolderResolver(remote, testLogger(t))
	ctx := context.Background()

	_, err := r.Resolve(ctx, "a", "root")
	require.NoError(t, err)

	_, err = r.Resolve(ctx, "a", "other-root")
	require.NoError(t, err)

	assert.Equal(t, 2, remote.findCalls["a"])
}

func TestResolve_FailedPrefixRememberedForPass(t *testing.T) {
	remote := newMemRemote()
	remote.failFolder["bad"] = errors.New("permission denied")

	r := NewFolderResolver(remote, testLogger(t))
	ctx := context.Background()

	_, err := r.Resolve(ctx, "bad/inner", "root")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoParentFolder)

	_, err = r.Resolve(ctx, "bad", "root")
	require.Error(t, err)
	assert.Equal(t, 1, remote.findCalls["bad"], "failed prefix is not retried inline")

	delete(remote.failFolder, "bad")
	r.BeginPass()

	_, err = r.Resolve(ctx, "bad", "root")
	require.NoError(t, err)
	assert.Equal(t, 2, remote.findCalls["bad"])
}

func TestPreCreateAll_ShallowestFirstOncePerPrefix(t *testing.T) {
	remote := newMemRemote()
	r := NewFolderResolver(remote, testLogger(t))

	err := r.PreCreateAll(context.Background(), []string{
		"z/deep/file.md",
		"a/one.md",
		"a/two.md",
		"top.md",
		"z/other.md",
	}, "root")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "z", "z/deep"}, r.DrainCreated("root"))
	assert.Equal(t, 1, remote.findCalls["a"])
	assert.Equal(t, 1, remote.findCalls["z"])
	assert.Equal(t, 1, remote.findCalls["deep"])
}

func TestPreCreateAll_JoinsFailures(t *testing.T) {
	remote := newMemRemote()
	remote.failFolder["x"] = errors.New("boom")

	r := NewFolderResolver(remote, testLogger(t))

	err := r.PreCreateAll(context.Background(), []string{"x/a.md", "ok/b.md"}, "root")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoParentFolder)
	assert.Equal(t, []string{"ok"}, r.DrainCreated("root"))
}

func TestPrune_DropsUnlistedFoldersAndDescendants(t *testing.T) {
	remote := newMemRemote()
	r := NewFolderResolver(remote, testLogger(t))
	ctx := context.Background()

	r.Seed("root", "gone", "id-gone")
	r.Seed("root", "gone/child", "id-child")
	r.Seed("root", "keep", "id-keep")
	r.Seed("root", "keep/sub", "id-sub")
	r.Seed("other", "gone", "id-other")

	listed := map[string]struct{}{"keep": {}, "keep/sub": {}}

	assert.Equal(t, 2, r.Prune("root", listed, 4))

	id, err := r.Resolve(ctx, "keep/sub", "root")
	require.NoError(t, err)
	assert.Equal(t, "id-sub", id)

	id, err = r.Resolve(ctx, "gone", "other")
	require.NoError(t, err)
	assert.Equal(t, "id-other", id, "other roots are untouched")
	assert.Zero(t, remote.findCalls["gone"])

	id, err = r.Resolve(ctx, "gone/child", "root")
	require.NoError(t, err)
	assert.NotEqual(t, "id-child", id)
	assert.Equal(t, 1, remote.findCalls["gone"])
	assert.Equal(t, 1, remote.findCalls["child"])
}

func TestPrune_LeavesEntriesBelowListedDepth(t *testing.T) {
	r := NewFolderResolver(newMemRemote(), testLogger(t))

	r.Seed("root", "top", "id-top")
	r.Seed("root", "kept/deep", "id-deep")

	assert.Equal(t, 1, r.Prune("root", map[string]struct{}{}, 1))
	assert.Zero(t, r.Prune("root", map[string]struct{}{}, 1), "nothing left to prune")

	id, err := r.Resolve(context.Background(), "kept/deep", "root")
	require.NoError(t, err)
	assert.Equal(t, "id-deep", id)
}

func TestSeedAndReset(t *testing.T) {
	remote := newMemRemote()
	r := NewFolderResolver(remote, testLogger(t))
	ctx := context.Background()

	r.Seed("root", "known", "seeded-id")

	id, err := r.Resolve(ctx, "known", "root")
	require.NoError(t, err)
	assert.Equal(t, "seeded-id", id)
	assert.Zero(t, remote.findCalls["known"])

	r.Reset()

	_, err = r.Resolve(ctx, "known", "root")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.findCalls["known"])
}
