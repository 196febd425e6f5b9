package gitstore

import (
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/FeepingCreature/forge/internal/ferr"
)

// Conflict describes one path that could not be merged automatically.
type Conflict struct {
	Path            string
	OursContent     []byte
	TheirsContent   []byte
	TheirsShortHash string
}

// ConflictSet is returned (as part of a *ferr.Error's Data) when
// ThreeWayMerge cannot produce a clean tree.
type ConflictSet struct {
	Conflicts []Conflict
}

// ThreeWayMerge merges the trees of base, ours and theirs and writes a new
// tree object for the result, entirely in memory, never touching a
// worktree. The RefRaced commit retry goes through MergeTreeAgainstCommits
// instead, and working-tree fast-forward is a hard reset, not a merge.
//
// Per-path, each decision selects a blob hash/mode for the output tree.
// On a genuine conflict a blob holding conflict markers is written, but no
// tree is returned: the result is the zero hash, the ConflictSet and a
// MergeConflict error.
func (s *Store) ThreeWayMerge(base, ours, theirs plumbing.Hash) (plumbing.Hash, *ConflictSet, error) {
	baseTree, err := s.treeOfCommit(base)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	oursTree, err := s.treeOfCommit(ours)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	theirsTree, err := s.treeOfCommit(theirs)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	return s.mergeTrees(baseTree, oursTree, theirsTree)
}

// MergeTreeAgainstCommits is ThreeWayMerge for the case where "ours" is an
// uncommitted tree (e.g. a VFS overlay materialised but not yet committed),
// used by the commit-retry path on RefRaced.
func (s *Store) MergeTreeAgainstCommits(baseCommit plumbing.Hash, oursTree plumbing.Hash, theirsCommit plumbing.Hash) (plumbing.Hash, *ConflictSet, error) {
	baseTree, err := s.treeOfCommit(baseCommit)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	theirsTree, err := s.treeOfCommit(theirsCommit)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	return s.mergeTrees(baseTree, oursTree, theirsTree)
}

// MergeTrees is the tree-level variant of ThreeWayMerge for callers that
// already hold tree hashes (e.g. after adjusting a tree's entries before
// merging, the way the session merge archives `.forge/session.json`).
func (s *Store) MergeTrees(base, ours, theirs plumbing.Hash) (plumbing.Hash, *ConflictSet, error) {
	return s.mergeTrees(base, ours, theirs)
}

func (s *Store) treeOfCommit(commitHash plumbing.Hash) (plumbing.Hash, error) {
	if commitHash == plumbing.ZeroHash {
		return plumbing.ZeroHash, nil
	}
	info, err := s.ReadCommit(commitHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return info.Tree, nil
}

func (s *Store) mergeTrees(base, ours, theirs plumbing.Hash) (plumbing.Hash, *ConflictSet, error) {
	baseFiles, err := s.fileIndex(base)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	oursFiles, err := s.fileIndex(ours)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	theirsFiles, err := s.fileIndex(theirs)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	paths := make(map[string]struct{})
	for p := range baseFiles {
		paths[p] = struct{}{}
	}
	for p := range oursFiles {
		paths[p] = struct{}{}
	}
	for p := range theirsFiles {
		paths[p] = struct{}{}
	}

	var entries []TreeEntryInput
	var conflicts []Conflict

	for path := range paths {
		baseEntry := baseFiles[path]
		oursEntry := oursFiles[path]
		theirsEntry := theirsFiles[path]

		if oursEntry.Hash == theirsEntry.Hash {
			// No divergence between ours and theirs: keep ours (possibly absent).
			if oursEntry.Hash != plumbing.ZeroHash {
				entries = append(entries, TreeEntryInput{Path: path, Hash: oursEntry.Hash, Mode: oursEntry.Mode})
			}
			continue
		}

		if baseEntry.Hash == oursEntry.Hash {
			// Ours unchanged from base; theirs diverged. Take theirs.
			if theirsEntry.Hash != plumbing.ZeroHash {
				entries = append(entries, TreeEntryInput{Path: path, Hash: theirsEntry.Hash, Mode: theirsEntry.Mode})
			}
			continue
		}

		if baseEntry.Hash == theirsEntry.Hash {
			// Theirs unchanged from base; ours diverged. Keep ours.
			if oursEntry.Hash != plumbing.ZeroHash {
				entries = append(entries, TreeEntryInput{Path: path, Hash: oursEntry.Hash, Mode: oursEntry.Mode})
			}
			continue
		}

		// Both sides diverged from base and from each other: conflict.
		oursContent, _ := s.blobContentOrEmpty(oursEntry.Hash)
		theirsContent, _ := s.blobContentOrEmpty(theirsEntry.Hash)

		conflicts = append(conflicts, Conflict{
			Path:            path,
			OursContent:     oursContent,
			TheirsContent:   theirsContent,
			TheirsShortHash: shortHash(theirsEntry.Hash),
		})

		markerText := fmt.Sprintf("<<<<<<< HEAD\n%s=======\n%s>>>>>>> %s\n", oursContent, theirsContent, shortHash(theirsEntry.Hash))
		blobHash, err := s.WriteBlob([]byte(markerText))
		if err != nil {
			return plumbing.ZeroHash, nil, err
		}
		entries = append(entries, TreeEntryInput{Path: path, Hash: blobHash, Mode: filemode.Regular})
	}

	if len(conflicts) > 0 {
		return plumbing.ZeroHash, &ConflictSet{Conflicts: conflicts}, ferr.New(ferr.MergeConflict, fmt.Sprintf("%d conflicting path(s)", len(conflicts)))
	}

	tree, err := s.BuildTree(entries)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	return tree, nil, nil
}

func shortHash(h plumbing.Hash) string {
	s := h.String()
	if len(s) < 7 {
		return s
	}
	return s[:7]
}

type fileEntry struct {
	Hash plumbing.Hash
	Mode filemode.FileMode
}

// fileIndex flattens a tree into a path -> (hash, mode) map. A zero hash
// means "no tree" (e.g. an as-yet-nonexistent branch) and yields an empty
// index rather than an error.
func (s *Store) fileIndex(treeHash plumbing.Hash) (map[string]fileEntry, error) {
	out := make(map[string]fileEntry)
	if treeHash == plumbing.ZeroHash {
		return out, nil
	}

	tree, err := s.ReadTree(treeHash)
	if err != nil {
		return nil, err
	}

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ferr.Wrap(ferr.CorruptObject, "tree walk", err)
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		out[name] = fileEntry{Hash: entry.Hash, Mode: entry.Mode}
	}
	return out, nil
}

func (s *Store) blobContentOrEmpty(h plumbing.Hash) ([]byte, error) {
	if h == plumbing.ZeroHash {
		return nil, nil
	}
	return s.ReadBlob(h)
}
