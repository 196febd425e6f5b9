package vfs

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/gitstore"
)

func newEmptyView(t *testing.T) (*gitstore.Store, *WorkingView) {
	t.Helper()
	store, err := gitstore.OpenMemory()
	require.NoError(t, err)
	view, err := NewWorkingView(store, plumbing.ZeroHash)
	require.NoError(t, err)
	require.NoError(t, view.Claim())
	return store, view
}

func TestWriteReadDeleteRoundTrip(t *testing.T) {
	_, view := newEmptyView(t)

	require.NoError(t, view.Write("a.txt", []byte("hello")))
	data, err := view.Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, view.Delete("a.txt"))
	_, err = view.Read("a.txt")
	assert.True(t, ferr.Is(err, ferr.NotFound))

	require.NoError(t, view.Write("a.txt", []byte("again")))
	require.NoError(t, view.Delete("a.txt"))
	_, err = view.Read("a.txt")
	assert.True(t, ferr.Is(err, ferr.NotFound))

	require.NoError(t, view.Delete("b.txt")) // idempotent on absent path
	require.NoError(t, view.Write("b.txt", []byte("b")))
	data, err = view.Read("b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)
}

func TestListUnionOfBaseAndOverlay(t *testing.T) {
	_, view := newEmptyView(t)
	require.NoError(t, view.Write("a.txt", []byte("1")))
	require.NoError(t, view.Write("b.txt", []byte("2")))
	require.NoError(t, view.Delete("a.txt"))

	list, err := view.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, list)
}

func TestMutationRequiresClaim(t *testing.T) {
	store, err := gitstore.OpenMemory()
	require.NoError(t, err)
	view, err := NewWorkingView(store, plumbing.ZeroHash)
	require.NoError(t, err)

	err = view.Write("a.txt", []byte("x"))
	assert.True(t, ferr.Is(err, ferr.OverlayPoisoned))
}

func TestCommitAdvancesBaseAndClearsOverlay(t *testing.T) {
	store, view := newEmptyView(t)

	require.NoError(t, view.Write("a.txt", []byte("1\n")))
	require.NoError(t, view.Delete("b.txt"))
	require.NoError(t, view.Write("c.txt", []byte("3\n")))

	hash, err := view.Commit(gitstore.DefaultSignature(), "edit", "main")
	require.NoError(t, err)
	assert.Equal(t, hash, store.BranchTip("main"))
	assert.Empty(t, view.TouchedPaths())

	list, err := view.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "c.txt"}, list)
}

func TestCommitRetriesCleanlyOnRefRace(t *testing.T) {
	store, err := gitstore.OpenMemory()
	require.NoError(t, err)
	author := gitstore.DefaultSignature()

	baseView, err := NewWorkingView(store, plumbing.ZeroHash)
	require.NoError(t, err)
	require.NoError(t, baseView.Claim())
	require.NoError(t, baseView.Write("x.txt", []byte("1\n")))
	require.NoError(t, baseView.Write("y.txt", []byte("1\n")))
	base, err := baseView.Commit(author, "base", "main")
	require.NoError(t, err)
	baseView.Release()

	// Turn 1 opens a view at base, modifies x.txt, commits first.
	t1, err := NewWorkingView(store, base)
	require.NoError(t, err)
	require.NoError(t, t1.Claim())
	require.NoError(t, t1.Write("x.txt", []byte("t1\n")))
	c1, err := t1.Commit(author, "t1", "main")
	require.NoError(t, err)
	t1.Release()

	// Turn 2 also opened at base, modifies y.txt only; its commit must
	// race, merge cleanly, and retry.
	t2, err := NewWorkingView(store, base)
	require.NoError(t, err)
	require.NoError(t, t2.Claim())
	require.NoError(t, t2.Write("y.txt", []byte("t2\n")))
	c2, err := t2.Commit(author, "t2", "main")
	require.NoError(t, err)
	assert.Equal(t, c2, store.BranchTip("main"))

	info, err := store.ReadCommit(c2)
	require.NoError(t, err)
	assert.Contains(t, info.Parents, c1)

	xData, _ := t2.Read("x.txt")
	yData, _ := t2.Read("y.txt")
	assert.Equal(t, "t1\n", string(xData))
	assert.Equal(t, "t2\n", string(yData))
}

func TestCommitFailsOnRefRaceConflict(t *testing.T) {
	store, err := gitstore.OpenMemory()
	require.NoError(t, err)
	author := gitstore.DefaultSignature()

	baseView, err := NewWorkingView(store, plumbing.ZeroHash)
	require.NoError(t, err)
	require.NoError(t, baseView.Claim())
	require.NoError(t, baseView.Write("x.txt", []byte("1\n")))
	base, err := baseView.Commit(author, "base", "main")
	require.NoError(t, err)
	baseView.Release()

	t1, err := NewWorkingView(store, base)
	require.NoError(t, err)
	require.NoError(t, t1.Claim())
	require.NoError(t, t1.Write("x.txt", []byte("t1\n")))
	c1, err := t1.Commit(author, "t1", "main")
	require.NoError(t, err)

	t2, err := NewWorkingView(store, base)
	require.NoError(t, err)
	require.NoError(t, t2.Claim())
	require.NoError(t, t2.Write("x.txt", []byte("t2\n")))
	_, err = t2.Commit(author, "t2", "main")
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.MergeConflict))
	assert.Equal(t, c1, store.BranchTip("main"))
}
