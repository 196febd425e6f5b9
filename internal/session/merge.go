package session

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/gitstore"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// mergedPath is where a source branch's session record is archived when its
// branch is merged away.
func mergedPath(branch string) string {
	return ".forge/merged/" + branch + ".json"
}

// MergeBranches merges src into dst with a three-way tree merge and commits
// the result to dst with both tips as parents. Session-file conflicts are
// resolved by policy rather than surfaced: the source branch's
// `.forge/session.json` is archived to `.forge/merged/<src>.json` and the
// destination's record is kept. Any other conflicting path
// fails the merge with MergeConflict and leaves both branches untouched.
func MergeBranches(store *gitstore.Store, dst, src string, author object.Signature) (plumbing.Hash, error) {
	dstTip := store.BranchTip(dst)
	if dstTip == plumbing.ZeroHash {
		return plumbing.ZeroHash, ferr.New(ferr.NotFound, "branch "+dst)
	}
	srcTip := store.BranchTip(src)
	if srcTip == plumbing.ZeroHash {
		return plumbing.ZeroHash, ferr.New(ferr.NotFound, "branch "+src)
	}

	base, err := store.MergeBase(dstTip, srcTip)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	dstInfo, err := store.ReadCommit(dstTip)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	var srcSession []byte
	srcView, err := vfs.NewCommitView(store, srcTip)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if data, rerr := srcView.Read(RecordPath); rerr == nil {
		srcSession = data
	} else if !ferr.Is(rerr, ferr.NotFound) {
		return plumbing.ZeroHash, rerr
	}

	// The session file is excluded from the merge proper on the base and
	// source sides: the destination's copy then merges as an "ours only"
	// change, and the source's copy reappears under its archive path.
	baseTree := plumbing.ZeroHash
	if base != plumbing.ZeroHash {
		baseInfo, err := store.ReadCommit(base)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		baseTree = baseInfo.Tree
	}
	adjBase, err := treeWithoutRecord(store, baseTree, "", nil)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	adjTheirs, err := treeWithoutRecord(store, srcTreeOf(store, srcTip), src, srcSession)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	merged, conflicts, err := store.MergeTrees(adjBase, dstInfo.Tree, adjTheirs)
	if err != nil {
		if conflicts != nil {
			return plumbing.ZeroHash, ferr.Wrap(ferr.MergeConflict, fmt.Sprintf("merge %s into %s", src, dst), err).WithData("conflicts", conflicts.Conflicts)
		}
		return plumbing.ZeroHash, err
	}

	return store.Commit(merged, []plumbing.Hash{dstTip, srcTip}, author, fmt.Sprintf("merge %s into %s", src, dst), dst)
}

func srcTreeOf(store *gitstore.Store, commit plumbing.Hash) plumbing.Hash {
	info, err := store.ReadCommit(commit)
	if err != nil {
		return plumbing.ZeroHash
	}
	return info.Tree
}

// treeWithoutRecord rebuilds treeHash without its `.forge/session.json`
// entry. When archiveBranch is non-empty and archiveData non-nil, the
// removed record is re-added under the branch's archive path instead.
func treeWithoutRecord(store *gitstore.Store, treeHash plumbing.Hash, archiveBranch string, archiveData []byte) (plumbing.Hash, error) {
	entries, err := store.TreeEntries(treeHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Path == RecordPath {
			continue
		}
		out = append(out, e)
	}
	if archiveBranch != "" && archiveData != nil {
		blob, err := store.WriteBlob(archiveData)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		out = append(out, gitstore.TreeEntryInput{Path: mergedPath(archiveBranch), Hash: blob, Mode: filemode.Regular})
	}
	return store.BuildTree(out)
}
