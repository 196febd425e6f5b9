package vfs

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/gitstore"
)

// overlayKind distinguishes a pending write from a pending delete tombstone.
type overlayKind int

const (
	overlayWrite overlayKind = iota
	overlayDelete
)

type overlayEntry struct {
	kind overlayKind
	data []byte
}

// WorkingView is the writable VFS variant: a base commit plus a pending
// overlay. At most one worker may hold its claim at a time;
// every mutating method asserts the claim is held. A second Claim or an
// unclaimed mutation is refused with OverlayPoisoned but leaves the view
// usable; only Poison marks it permanently unusable.
type WorkingView struct {
	store *gitstore.Store
	base  plumbing.Hash
	tree  *object.Tree // nil if base is the zero commit (empty repository)

	mu      sync.Mutex
	claimed bool
	poisoned bool
	overlay map[string]overlayEntry
}

// NewWorkingView opens a writable view rooted at base.
func NewWorkingView(store *gitstore.Store, base plumbing.Hash) (*WorkingView, error) {
	w := &WorkingView{store: store, base: base, overlay: make(map[string]overlayEntry)}
	if base != plumbing.ZeroHash {
		info, err := store.ReadCommit(base)
		if err != nil {
			return nil, err
		}
		tree, err := store.ReadTree(info.Tree)
		if err != nil {
			return nil, err
		}
		w.tree = tree
	}
	return w, nil
}

// Base returns the commit this view's overlay is pending against.
func (w *WorkingView) Base() plumbing.Hash { return w.base }

// Claim acquires exclusive ownership of the view for mutation. It fails if
// already claimed or poisoned.
func (w *WorkingView) Claim() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.poisoned {
		return ferr.New(ferr.OverlayPoisoned, "claim on poisoned view")
	}
	if w.claimed {
		return ferr.New(ferr.OverlayPoisoned, "already claimed")
	}
	w.claimed = true
	return nil
}

// Release gives up the claim acquired by Claim.
func (w *WorkingView) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.claimed = false
}

// Poison marks the view permanently unusable, e.g. after a worker crashed
// mid-claim. The owning live session must transition to ERROR alongside.
func (w *WorkingView) Poison() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.poisoned = true
}

func (w *WorkingView) assertClaimed() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.poisoned {
		return ferr.New(ferr.OverlayPoisoned, "view poisoned")
	}
	if !w.claimed {
		return ferr.New(ferr.OverlayPoisoned, "mutating op without claim")
	}
	return nil
}

func (w *WorkingView) Read(p string) ([]byte, error) {
	clean, err := normalisePath(p)
	if err != nil {
		return nil, err
	}
	if entry, ok := w.overlay[clean]; ok {
		if entry.kind == overlayDelete {
			return nil, ferr.New(ferr.NotFound, clean)
		}
		return entry.data, nil
	}
	if w.tree == nil {
		return nil, ferr.New(ferr.NotFound, clean)
	}
	f, err := w.tree.File(clean)
	if err != nil {
		return nil, ferr.New(ferr.NotFound, clean)
	}
	content, err := f.Contents()
	if err != nil {
		return nil, ferr.Wrap(ferr.CorruptObject, clean, err)
	}
	return []byte(content), nil
}

func (w *WorkingView) Exists(p string) bool {
	_, err := w.Read(p)
	return err == nil
}

func (w *WorkingView) IsBinary(p string) (bool, error) {
	data, err := w.Read(p)
	if err != nil {
		return false, err
	}
	return isBinaryContent(data), nil
}

// Write validates path normalisation and records a pending Write, clearing
// any previous Delete on the same path.
func (w *WorkingView) Write(p string, data []byte) error {
	if err := w.assertClaimed(); err != nil {
		return err
	}
	clean, err := normalisePath(p)
	if err != nil {
		return err
	}
	w.overlay[clean] = overlayEntry{kind: overlayWrite, data: data}
	return nil
}

// Delete records a pending Delete tombstone, clearing any previous Write on
// the same path. Deleting an absent path is idempotent.
func (w *WorkingView) Delete(p string) error {
	if err := w.assertClaimed(); err != nil {
		return err
	}
	clean, err := normalisePath(p)
	if err != nil {
		return err
	}
	w.overlay[clean] = overlayEntry{kind: overlayDelete}
	return nil
}

// DiscardOverlay drops every pending overlay entry, reverting the view to
// its base commit. Called on turn cancellation so no partial edits survive
// into the next turn's commit.
func (w *WorkingView) DiscardOverlay() error {
	if err := w.assertClaimed(); err != nil {
		return err
	}
	w.overlay = make(map[string]overlayEntry)
	return nil
}

// ResetPath discards any pending overlay entry for path, reverting it to
// whatever the base commit holds. Used by the undo_edit built-in tool.
func (w *WorkingView) ResetPath(p string) error {
	if err := w.assertClaimed(); err != nil {
		return err
	}
	clean, err := normalisePath(p)
	if err != nil {
		return err
	}
	delete(w.overlay, clean)
	return nil
}

// List returns the union of base paths and overlay writes, minus overlay
// deletes.
func (w *WorkingView) List() ([]string, error) {
	set := make(map[string]struct{})
	if w.tree != nil {
		walker := object.NewTreeWalker(w.tree, true, nil)
		defer walker.Close()
		for {
			name, entry, err := walker.Next()
			if err != nil {
				break
			}
			if entry.Mode == filemode.Dir {
				continue
			}
			set[name] = struct{}{}
		}
	}
	for p, e := range w.overlay {
		if e.kind == overlayDelete {
			delete(set, p)
		} else {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// TouchedPaths returns the set of paths with a pending overlay entry,
// written or deleted, used by the turn executor to track "paths touched
// this turn".
func (w *WorkingView) TouchedPaths() []string {
	out := make([]string, 0, len(w.overlay))
	for p := range w.overlay {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// materialiseTree resolves base tree entries plus overlay writes/deletes
// into a flat TreeEntryInput list and writes the new blobs, without
// touching refs.
func (w *WorkingView) materialiseTree() (plumbing.Hash, error) {
	paths := make(map[string]gitstore.TreeEntryInput)

	if w.tree != nil {
		walker := object.NewTreeWalker(w.tree, true, nil)
		defer walker.Close()
		for {
			name, entry, err := walker.Next()
			if err != nil {
				break
			}
			if entry.Mode == filemode.Dir {
				continue
			}
			paths[name] = gitstore.TreeEntryInput{Path: name, Hash: entry.Hash, Mode: entry.Mode}
		}
	}

	for p, e := range w.overlay {
		if e.kind == overlayDelete {
			delete(paths, p)
			continue
		}
		hash, err := w.store.WriteBlob(e.data)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		paths[p] = gitstore.TreeEntryInput{Path: p, Hash: hash, Mode: filemode.Regular}
	}

	entries := make([]gitstore.TreeEntryInput, 0, len(paths))
	for _, e := range paths {
		entries = append(entries, e)
	}
	return w.store.BuildTree(entries)
}

// Commit materialises the overlay into a new tree and atomically advances
// branch to a new commit. If the branch tip raced ahead of base, it
// resolves with a three-way merge of (base, overlay-tree, new-tip): on a
// clean merge it retries the commit against the merged tree and the new
// tip as parent; on conflict it fails with MergeConflict and leaves the
// overlay untouched so the turn can be aborted without data loss.
func (w *WorkingView) Commit(author object.Signature, message, branch string) (plumbing.Hash, error) {
	if err := w.assertClaimed(); err != nil {
		return plumbing.ZeroHash, err
	}

	tree, err := w.materialiseTree()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	var parents []plumbing.Hash
	if w.base != plumbing.ZeroHash {
		parents = []plumbing.Hash{w.base}
	}

	hash, err := w.store.Commit(tree, parents, author, message, branch)
	if err == nil {
		w.overlay = make(map[string]overlayEntry)
		w.base = hash
		w.tree, _ = w.store.ReadTree(tree)
		return hash, nil
	}
	if !ferr.Is(err, ferr.RefRaced) {
		return plumbing.ZeroHash, err
	}

	// Anchor the pre-merge tip so undo/manual recovery can find it.
	if err := w.store.SaveOrigHead(branch); err != nil {
		return plumbing.ZeroHash, err
	}

	currentTip := w.store.BranchTip(branch)
	mergedTree, conflicts, mErr := w.store.MergeTreeAgainstCommits(w.base, tree, currentTip)
	if mErr != nil {
		if conflicts != nil {
			return plumbing.ZeroHash, ferr.New(ferr.MergeConflict, mErr.Error()).WithData("conflicts", conflicts.Conflicts)
		}
		return plumbing.ZeroHash, mErr
	}

	retryParents := []plumbing.Hash{currentTip}
	hash, err = w.store.Commit(mergedTree, retryParents, author, message, branch)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	w.overlay = make(map[string]overlayEntry)
	w.base = hash
	w.tree, _ = w.store.ReadTree(mergedTree)
	return hash, nil
}

// MaterializeToTempdir writes the fully resolved tree (base plus overlay)
// to a fresh temporary directory for an external command to read. The
// returned cleanup function removes the directory; the tempdir is
// read-only from the tool's perspective and is never consulted again by
// the VFS itself.
func (w *WorkingView) MaterializeToTempdir() (string, func(), error) {
	paths, err := w.List()
	if err != nil {
		return "", nil, err
	}

	dir, err := os.MkdirTemp("", "forge-materialize-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	for _, p := range paths {
		data, err := w.Read(p)
		if err != nil {
			cleanup()
			return "", nil, err
		}
		full := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			cleanup()
			return "", nil, err
		}
		if err := os.WriteFile(full, data, 0644); err != nil {
			cleanup()
			return "", nil, err
		}
	}

	return dir, cleanup, nil
}
