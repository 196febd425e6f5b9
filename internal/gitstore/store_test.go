package gitstore

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTreeNestsPathsDeterministically(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)

	hA, err := s.WriteBlob([]byte("a"))
	require.NoError(t, err)
	hB, err := s.WriteBlob([]byte("b"))
	require.NoError(t, err)

	tree1, err := s.BuildTree([]TreeEntryInput{
		{Path: "dir/a.txt", Hash: hA},
		{Path: "b.txt", Hash: hB},
	})
	require.NoError(t, err)

	// Re-building from the same logical entries in a different input order
	// must produce the same tree hash (deterministic sort).
	tree2, err := s.BuildTree([]TreeEntryInput{
		{Path: "b.txt", Hash: hB},
		{Path: "dir/a.txt", Hash: hA},
	})
	require.NoError(t, err)

	assert.Equal(t, tree1, tree2)
}

func TestBuildTreeRejectsTraversal(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)

	hA, _ := s.WriteBlob([]byte("a"))
	_, err = s.BuildTree([]TreeEntryInput{{Path: "../escape.txt", Hash: hA}})
	assert.Error(t, err)
}

func TestCommitRejectsRacedParent(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)

	hA, _ := s.WriteBlob([]byte("1\n"))
	tree, err := s.BuildTree([]TreeEntryInput{{Path: "a.txt", Hash: hA}})
	require.NoError(t, err)

	author := DefaultSignature()
	c0, err := s.Commit(tree, nil, author, "init", "main")
	require.NoError(t, err)

	// A second commit that claims a stale parent must be rejected.
	hB, _ := s.WriteBlob([]byte("2\n"))
	tree2, _ := s.BuildTree([]TreeEntryInput{{Path: "a.txt", Hash: hB}})
	_, err = s.Commit(tree2, []plumbing.Hash{plumbing.ZeroHash}, author, "stale", "main")
	assert.Error(t, err)

	// A commit with the correct parent succeeds.
	c1, err := s.Commit(tree2, []plumbing.Hash{c0}, author, "update", "main")
	require.NoError(t, err)
	assert.Equal(t, c1, s.BranchTip("main"))
}

func TestThreeWayMergeCleanTakesTheirs(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	author := DefaultSignature()

	hBase, _ := s.WriteBlob([]byte("1\n"))
	baseTree, _ := s.BuildTree([]TreeEntryInput{{Path: "x.txt", Hash: hBase}, {Path: "y.txt", Hash: hBase}})
	base, err := s.Commit(baseTree, nil, author, "base", "main")
	require.NoError(t, err)

	// ours changes y.txt only.
	hOursY, _ := s.WriteBlob([]byte("ours-y\n"))
	oursTree, _ := s.BuildTree([]TreeEntryInput{{Path: "x.txt", Hash: hBase}, {Path: "y.txt", Hash: hOursY}})
	ours, err := s.Commit(oursTree, []plumbing.Hash{base}, author, "ours", "feature")
	require.NoError(t, err)

	// theirs changes x.txt only.
	hTheirsX, _ := s.WriteBlob([]byte("theirs-x\n"))
	theirsTree, _ := s.BuildTree([]TreeEntryInput{{Path: "x.txt", Hash: hTheirsX}, {Path: "y.txt", Hash: hBase}})
	theirs, err := s.Commit(theirsTree, []plumbing.Hash{base}, author, "theirs", "main")
	require.NoError(t, err)

	merged, conflicts, err := s.ThreeWayMerge(base, ours, theirs)
	require.NoError(t, err)
	assert.Nil(t, conflicts)

	tree, err := s.ReadTree(merged)
	require.NoError(t, err)
	xFile, err := tree.File("x.txt")
	require.NoError(t, err)
	xContent, _ := xFile.Contents()
	assert.Equal(t, "theirs-x\n", xContent)

	yFile, err := tree.File("y.txt")
	require.NoError(t, err)
	yContent, _ := yFile.Contents()
	assert.Equal(t, "ours-y\n", yContent)
}

func TestThreeWayMergeConflictingEdits(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	author := DefaultSignature()

	hBase, _ := s.WriteBlob([]byte("base\n"))
	baseTree, _ := s.BuildTree([]TreeEntryInput{{Path: "x.txt", Hash: hBase}})
	base, err := s.Commit(baseTree, nil, author, "base", "main")
	require.NoError(t, err)

	hOurs, _ := s.WriteBlob([]byte("ours\n"))
	oursTree, _ := s.BuildTree([]TreeEntryInput{{Path: "x.txt", Hash: hOurs}})
	ours, err := s.Commit(oursTree, []plumbing.Hash{base}, author, "ours", "feature")
	require.NoError(t, err)

	hTheirs, _ := s.WriteBlob([]byte("theirs\n"))
	theirsTree, _ := s.BuildTree([]TreeEntryInput{{Path: "x.txt", Hash: hTheirs}})
	theirs, err := s.Commit(theirsTree, []plumbing.Hash{base}, author, "theirs", "main")
	require.NoError(t, err)

	_, conflicts, err := s.ThreeWayMerge(base, ours, theirs)
	require.Error(t, err)
	require.NotNil(t, conflicts)
	assert.Len(t, conflicts.Conflicts, 1)
	assert.Equal(t, "x.txt", conflicts.Conflicts[0].Path)
}

func TestResolveAbbreviatedHash(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	author := DefaultSignature()

	hA, _ := s.WriteBlob([]byte("a\n"))
	tree, _ := s.BuildTree([]TreeEntryInput{{Path: "a.txt", Hash: hA}})
	c0, err := s.Commit(tree, nil, author, "init", "main")
	require.NoError(t, err)

	resolved, err := s.Resolve(c0.String()[:8])
	require.NoError(t, err)
	assert.Equal(t, c0, resolved)

	resolved, err = s.Resolve("main")
	require.NoError(t, err)
	assert.Equal(t, c0, resolved)
}

func TestBranchesListsEveryRef(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	author := DefaultSignature()

	hA, _ := s.WriteBlob([]byte("a\n"))
	tree, _ := s.BuildTree([]TreeEntryInput{{Path: "a.txt", Hash: hA}})
	c0, err := s.Commit(tree, nil, author, "init", "main")
	require.NoError(t, err)
	require.NoError(t, s.ForkBranch("feature", c0))

	branches, err := s.Branches()
	require.NoError(t, err)
	assert.Equal(t, []string{"feature", "main"}, branches)
}

func TestMergeBaseFindsForkPoint(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	author := DefaultSignature()

	hA, _ := s.WriteBlob([]byte("a\n"))
	tree, _ := s.BuildTree([]TreeEntryInput{{Path: "a.txt", Hash: hA}})
	c0, err := s.Commit(tree, nil, author, "init", "main")
	require.NoError(t, err)

	hB, _ := s.WriteBlob([]byte("b\n"))
	treeB, _ := s.BuildTree([]TreeEntryInput{{Path: "a.txt", Hash: hB}})
	c1, err := s.Commit(treeB, []plumbing.Hash{c0}, author, "main work", "main")
	require.NoError(t, err)

	require.NoError(t, s.ForkBranch("feature", c0))
	hC, _ := s.WriteBlob([]byte("c\n"))
	treeC, _ := s.BuildTree([]TreeEntryInput{{Path: "a.txt", Hash: hA}, {Path: "c.txt", Hash: hC}})
	c2, err := s.Commit(treeC, []plumbing.Hash{c0}, author, "feature work", "feature")
	require.NoError(t, err)

	base, err := s.MergeBase(c1, c2)
	require.NoError(t, err)
	assert.Equal(t, c0, base)
}

func TestTreeEntriesFlattensSortedByPath(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)

	hA, _ := s.WriteBlob([]byte("a"))
	hB, _ := s.WriteBlob([]byte("b"))
	tree, err := s.BuildTree([]TreeEntryInput{
		{Path: "dir/nested.txt", Hash: hA},
		{Path: "top.txt", Hash: hB},
	})
	require.NoError(t, err)

	entries, err := s.TreeEntries(tree)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dir/nested.txt", entries[0].Path)
	assert.Equal(t, "top.txt", entries[1].Path)
}

func TestForkBranchSharesObjectStore(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	author := DefaultSignature()

	hA, _ := s.WriteBlob([]byte("a\n"))
	tree, _ := s.BuildTree([]TreeEntryInput{{Path: "a.txt", Hash: hA}})
	c0, err := s.Commit(tree, nil, author, "init", "main")
	require.NoError(t, err)

	require.NoError(t, s.ForkBranch("child", c0))
	assert.Equal(t, c0, s.BranchTip("child"))

	// Forking into an existing branch name is rejected.
	err = s.ForkBranch("child", c0)
	assert.Error(t, err)
}
