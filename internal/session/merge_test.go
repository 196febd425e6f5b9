package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/gitstore"
	"github.com/FeepingCreature/forge/internal/vfs"
)

func writeAndCommit(t *testing.T, store *gitstore.Store, branch, path, content, message string) {
	t.Helper()
	view, err := vfs.NewWorkingView(store, store.BranchTip(branch))
	require.NoError(t, err)
	require.NoError(t, view.Claim())
	defer view.Release()
	require.NoError(t, view.Write(path, []byte(content)))
	_, err = view.Commit(gitstore.DefaultSignature(), message, branch)
	require.NoError(t, err)
}

func TestMergeBranchesArchivesSourceSession(t *testing.T) {
	store, err := gitstore.OpenMemory()
	require.NoError(t, err)
	author := gitstore.DefaultSignature()

	mainRec := NewRecord("main", "")
	mainRec.Messages = []Message{{Role: "user", Content: "main work"}}
	commitBranch(t, store, "main", mainRec)
	writeAndCommit(t, store, "main", "shared.txt", "base\n", "seed")

	require.NoError(t, store.ForkBranch("feature", store.BranchTip("main")))
	featRec := NewRecord("feature", "main")
	featRec.Messages = []Message{{Role: "user", Content: "feature work"}}
	commitBranch(t, store, "feature", featRec)
	writeAndCommit(t, store, "feature", "feature.txt", "new\n", "feature file")

	writeAndCommit(t, store, "main", "main.txt", "more\n", "main file")

	merged, err := MergeBranches(store, "main", "feature", author)
	require.NoError(t, err)
	assert.Equal(t, merged, store.BranchTip("main"))

	info, err := store.ReadCommit(merged)
	require.NoError(t, err)
	assert.Len(t, info.Parents, 2)

	view, err := vfs.NewCommitView(store, merged)
	require.NoError(t, err)

	// Both sides' file changes are present.
	assert.True(t, view.Exists("feature.txt"))
	assert.True(t, view.Exists("main.txt"))

	// The destination's session record survives; the source's is archived.
	rec, err := LoadRecord(view, "main")
	require.NoError(t, err)
	require.Len(t, rec.Messages, 1)
	assert.Equal(t, "main work", rec.Messages[0].Content)

	archived, err := view.Read(".forge/merged/feature.json")
	require.NoError(t, err)
	var archivedRec Record
	require.NoError(t, json.Unmarshal(archived, &archivedRec))
	require.Len(t, archivedRec.Messages, 1)
	assert.Equal(t, "feature work", archivedRec.Messages[0].Content)
}

func TestMergeBranchesConflictOnNonSessionPath(t *testing.T) {
	store, err := gitstore.OpenMemory()
	require.NoError(t, err)
	author := gitstore.DefaultSignature()

	commitBranch(t, store, "main", NewRecord("main", ""))
	writeAndCommit(t, store, "main", "shared.txt", "base\n", "seed")

	require.NoError(t, store.ForkBranch("feature", store.BranchTip("main")))
	writeAndCommit(t, store, "feature", "shared.txt", "theirs\n", "feature edit")
	writeAndCommit(t, store, "main", "shared.txt", "ours\n", "main edit")

	mainTip := store.BranchTip("main")
	featureTip := store.BranchTip("feature")

	_, err = MergeBranches(store, "main", "feature", author)
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.MergeConflict))
	assert.Equal(t, mainTip, store.BranchTip("main"))
	assert.Equal(t, featureTip, store.BranchTip("feature"))
}
