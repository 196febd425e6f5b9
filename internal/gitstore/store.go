// Package gitstore is the git object store adapter: low-level
// read/write of blobs, trees, commits and refs, in-memory tree building, and
// atomic compare-and-swap commits. It is the only package that touches the
// on-disk git repository; the working directory itself is touched solely by
// WorkingTreeSync.
package gitstore

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/FeepingCreature/forge/internal/ferr"
)

// Store wraps a single repository's object store and ref namespace. One
// Store instance is shared by every branch workspace: branches are merely
// named pointers into the same content-addressed object store, so forking a
// session is just creating a new ref — no object copying required.
type Store struct {
	repo *git.Repository

	// mu serialises branch ref compare-and-swap. The object store itself
	// (go-git's Storer) is safe for concurrent blob/tree writes, but ref
	// updates must observe-then-swap atomically per branch.
	mu sync.Mutex

	// reflogMu guards the on-disk repository-wide reflog file.
	reflogMu sync.Mutex
}

// Open opens the repository rooted at path, initialising a bare-ish
// (worktree-backed) repository if one does not already exist.
func Open(path string) (*Store, error) {
	wt := osfs.New(path)
	dot, err := wt.Chroot(".git")
	if err != nil {
		return nil, fmt.Errorf("chroot .git: %w", err)
	}
	storer := filesystem.NewStorage(dot, nil)

	repo, err := git.Open(storer, wt)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.Init(storer, wt)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", path, err)
	}
	return &Store{repo: repo}, nil
}

// OpenMemory opens an in-memory repository, used by tests that exercise the
// object-store adapter without touching disk.
func OpenMemory() (*Store, error) {
	repo, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("init memory repository: %w", err)
	}
	return &Store{repo: repo}, nil
}

// Repository exposes the underlying go-git repository for callers (such as
// WorkingTreeSync) that need direct worktree access.
func (s *Store) Repository() *git.Repository {
	return s.repo
}

// ReadBlob returns the raw content of the blob at ref.
func (s *Store) ReadBlob(ref plumbing.Hash) ([]byte, error) {
	blob, err := s.repo.BlobObject(ref)
	if err != nil {
		return nil, ferr.Wrap(ferr.NotFound, "blob "+ref.String(), err)
	}
	reader, err := blob.Reader()
	if err != nil {
		return nil, ferr.Wrap(ferr.CorruptObject, "blob reader", err)
	}
	defer reader.Close()

	buf, err := io.ReadAll(reader)
	if err != nil {
		return nil, ferr.Wrap(ferr.CorruptObject, "blob read", err)
	}
	return buf, nil
}

// ReadTree resolves a tree object by hash.
func (s *Store) ReadTree(ref plumbing.Hash) (*object.Tree, error) {
	tree, err := s.repo.TreeObject(ref)
	if err != nil {
		return nil, ferr.Wrap(ferr.NotFound, "tree "+ref.String(), err)
	}
	return tree, nil
}

// CommitInfo is the flattened view of a commit object exposed to callers
// that do not need the full go-git object.Commit API.
type CommitInfo struct {
	Tree    plumbing.Hash
	Parents []plumbing.Hash
	Author  object.Signature
	Message string
}

// ReadCommit resolves a commit object by hash.
func (s *Store) ReadCommit(ref plumbing.Hash) (*CommitInfo, error) {
	c, err := s.repo.CommitObject(ref)
	if err != nil {
		return nil, ferr.Wrap(ferr.NotFound, "commit "+ref.String(), err)
	}
	parents := make([]plumbing.Hash, 0, c.NumParents())
	for _, h := range c.ParentHashes {
		parents = append(parents, h)
	}
	return &CommitInfo{
		Tree:    c.TreeHash,
		Parents: parents,
		Author:  c.Author,
		Message: c.Message,
	}, nil
}

// WriteBlob stores data as a blob and returns its hash.
func (s *Store) WriteBlob(data []byte) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("new blob writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close blob writer: %w", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store blob: %w", err)
	}
	return hash, nil
}

// TreeEntryInput is one (path, entry) pair fed to BuildTree. Path is the
// full repository-relative path (forward-slash separated); exactly one of
// Blob or Delete-via-omission applies — BuildTree never receives tombstones,
// those are resolved by the VFS overlay before calling it.
type TreeEntryInput struct {
	Path string
	Hash plumbing.Hash
	Mode filemode.FileMode
}

// treeNode is an in-memory intermediate used while folding paths into
// nested subtrees.
type treeNode struct {
	blob     *TreeEntryInput
	children map[string]*treeNode
}

// BuildTree folds a flat list of (path, blob) entries into nested subtrees
// and writes every resulting tree object, returning the root tree hash.
// Entries are emitted in git-sorted order (byte-wise, directories as
// "name/") so identical logical trees always hash identically.
func (s *Store) BuildTree(entries []TreeEntryInput) (plumbing.Hash, error) {
	root := &treeNode{children: make(map[string]*treeNode)}

	for _, e := range entries {
		path := strings.TrimPrefix(e.Path, "/")
		if path == "" || strings.Contains(path, "..") {
			return plumbing.ZeroHash, ferr.New(ferr.BadPath, e.Path)
		}
		segs := strings.Split(path, "/")
		cur := root
		for i, seg := range segs {
			if seg == "" {
				return plumbing.ZeroHash, ferr.New(ferr.BadPath, e.Path)
			}
			if i == len(segs)-1 {
				entry := e
				cur.children[seg] = &treeNode{blob: &entry}
				continue
			}
			child, ok := cur.children[seg]
			if !ok || child.blob != nil {
				child = &treeNode{children: make(map[string]*treeNode)}
				cur.children[seg] = child
			}
			cur = child
		}
	}

	hash, err := s.writeTreeNode(root)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return hash, nil
}

func (s *Store) writeTreeNode(n *treeNode) (plumbing.Hash, error) {
	type sortEntry struct {
		name  string
		sortk string
		entry object.TreeEntry
	}
	var out []sortEntry

	for name, child := range n.children {
		if child.blob != nil {
			mode := child.blob.Mode
			if mode == 0 {
				mode = filemode.Regular
			}
			out = append(out, sortEntry{
				name:  name,
				sortk: name,
				entry: object.TreeEntry{Name: name, Mode: mode, Hash: child.blob.Hash},
			})
			continue
		}
		childHash, err := s.writeTreeNode(child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		out = append(out, sortEntry{
			name:  name,
			sortk: name + "/",
			entry: object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: childHash},
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].sortk < out[j].sortk })

	tree := &object.Tree{}
	for _, e := range out {
		tree.Entries = append(tree.Entries, e.entry)
	}

	obj := s.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store tree: %w", err)
	}
	return hash, nil
}

// BranchTip returns the current commit hash of branch, or plumbing.ZeroHash
// if the branch does not exist yet.
func (s *Store) BranchTip(branch string) plumbing.Hash {
	ref, err := s.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return plumbing.ZeroHash
	}
	return ref.Hash()
}

// Commit creates a commit object over tree with the given parents and
// atomically advances branch to point at it. If branch already has a tip
// and that tip is not among parents, the update is rejected with RefRaced
// so the caller can retry (typically after a three-way merge).
func (s *Store) Commit(tree plumbing.Hash, parents []plumbing.Hash, author object.Signature, message string, branch string) (plumbing.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refName := plumbing.NewBranchReferenceName(branch)
	existingRef, err := s.repo.Reference(refName, true)
	currentTip := plumbing.ZeroHash
	hasRef := err == nil
	if hasRef {
		currentTip = existingRef.Hash()
	}

	if hasRef {
		found := false
		for _, p := range parents {
			if p == currentTip {
				found = true
				break
			}
		}
		if !found {
			return plumbing.ZeroHash, ferr.New(ferr.RefRaced, fmt.Sprintf("branch %s tip %s not among parents", branch, currentTip))
		}
	}

	commit := &object.Commit{
		Author:       author,
		Committer:    author,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store commit: %w", err)
	}

	newRef := plumbing.NewHashReference(refName, hash)
	if hasRef {
		if err := s.repo.Storer.CheckAndSetReference(newRef, existingRef); err != nil {
			return plumbing.ZeroHash, ferr.Wrap(ferr.RefRaced, branch, err)
		}
	} else {
		if err := s.repo.Storer.SetReference(newRef); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("set ref %s: %w", branch, err)
		}
	}

	return hash, nil
}

// ForkBranch creates a new branch ref pointing at fromCommit. Because every
// branch shares the same object store, this never copies objects: the new
// ref is simply another name for already-present content.
func (s *Store) ForkBranch(branch string, fromCommit plumbing.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	refName := plumbing.NewBranchReferenceName(branch)
	if _, err := s.repo.Reference(refName, true); err == nil {
		return ferr.New(ferr.BadArguments, "branch already exists: "+branch)
	}
	return s.repo.Storer.SetReference(plumbing.NewHashReference(refName, fromCommit))
}

// Branches returns the name of every branch ref in the repository, sorted.
func (s *Store) Branches() ([]string, error) {
	iter, err := s.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	var out []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		out = append(out, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// MergeBase returns the best common ancestor of commits a and b, or
// plumbing.ZeroHash when the histories are unrelated (e.g. two roots).
func (s *Store) MergeBase(a, b plumbing.Hash) (plumbing.Hash, error) {
	ca, err := s.repo.CommitObject(a)
	if err != nil {
		return plumbing.ZeroHash, ferr.Wrap(ferr.NotFound, "commit "+a.String(), err)
	}
	cb, err := s.repo.CommitObject(b)
	if err != nil {
		return plumbing.ZeroHash, ferr.Wrap(ferr.NotFound, "commit "+b.String(), err)
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("merge base: %w", err)
	}
	if len(bases) == 0 {
		return plumbing.ZeroHash, nil
	}
	return bases[0].Hash, nil
}

// TreeEntries flattens a tree into its full (path, blob, mode) file list,
// sorted by path. A zero tree hash yields an empty list.
func (s *Store) TreeEntries(treeHash plumbing.Hash) ([]TreeEntryInput, error) {
	idx, err := s.fileIndex(treeHash)
	if err != nil {
		return nil, err
	}
	out := make([]TreeEntryInput, 0, len(idx))
	for p, e := range idx {
		out = append(out, TreeEntryInput{Path: p, Hash: e.Hash, Mode: e.Mode})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Resolve resolves a revision string (branch, tag, full hash, or
// abbreviated hash of at least 4 characters) to a commit hash. Ambiguous
// abbreviated hashes are rejected rather than resolved arbitrarily.
func (s *Store) Resolve(rev string) (plumbing.Hash, error) {
	rev = strings.TrimSpace(rev)

	hash, err := s.repo.ResolveRevision(plumbing.Revision(rev))
	if err == nil {
		return *hash, nil
	}

	if len(rev) < 4 || len(rev) >= 40 {
		return plumbing.ZeroHash, ferr.New(ferr.NotFound, "revision "+rev)
	}

	cIter, iterErr := s.repo.CommitObjects()
	if iterErr != nil {
		return plumbing.ZeroHash, ferr.Wrap(ferr.NotFound, rev, iterErr)
	}

	var match plumbing.Hash
	found := false
	ambiguous := false
	_ = cIter.ForEach(func(c *object.Commit) error {
		hs := c.Hash.String()
		if len(hs) >= len(rev) && hs[:len(rev)] == rev {
			if found {
				ambiguous = true
				return fmt.Errorf("stop")
			}
			match = c.Hash
			found = true
		}
		return nil
	})

	if ambiguous {
		return plumbing.ZeroHash, ferr.New(ferr.BadArguments, fmt.Sprintf("short hash %q is ambiguous", rev))
	}
	if !found {
		return plumbing.ZeroHash, ferr.New(ferr.NotFound, "revision "+rev)
	}
	return match, nil
}
