// Package vfs implements the branch-scoped virtual filesystem:
// a uniform file API over either a read-only commit, or a writable pending
// overlay on top of a base commit. It is the sole mediator of file
// visibility for both human and agent edits; no other layer reads or
// writes files directly.
package vfs

import (
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/gitstore"
)

// VFS is the uniform interface shared by CommitView and WorkingView.
type VFS interface {
	Read(path string) ([]byte, error)
	List() ([]string, error)
	Exists(path string) bool
	IsBinary(path string) (bool, error)
	Write(path string, data []byte) error
	Delete(path string) error
}

// normalisePath enforces the overlay path invariants: forward-slash,
// no "..", no leading slash.
func normalisePath(p string) (string, error) {
	if p == "" {
		return "", ferr.New(ferr.BadPath, "empty path")
	}
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "." || clean == "" || strings.HasPrefix(clean, "../") || clean == ".." || strings.Contains(clean, "/../") {
		return "", ferr.New(ferr.BadPath, p)
	}
	return clean, nil
}

// isBinaryContent is a pragmatic heuristic: a NUL byte in the first 8000
// bytes marks the file as binary, the same rule git itself uses.
func isBinaryContent(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	for i := 0; i < n; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}

// CommitView is the read-only VFS variant, backed directly by a commit's
// tree.
type CommitView struct {
	store  *gitstore.Store
	commit plumbing.Hash
	tree   *object.Tree
}

// NewCommitView opens a read-only view of commit.
func NewCommitView(store *gitstore.Store, commit plumbing.Hash) (*CommitView, error) {
	info, err := store.ReadCommit(commit)
	if err != nil {
		return nil, err
	}
	tree, err := store.ReadTree(info.Tree)
	if err != nil {
		return nil, err
	}
	return &CommitView{store: store, commit: commit, tree: tree}, nil
}

func (v *CommitView) Read(p string) ([]byte, error) {
	clean, err := normalisePath(p)
	if err != nil {
		return nil, err
	}
	f, err := v.tree.File(clean)
	if err != nil {
		return nil, ferr.New(ferr.NotFound, clean)
	}
	content, err := f.Contents()
	if err != nil {
		return nil, ferr.Wrap(ferr.CorruptObject, clean, err)
	}
	return []byte(content), nil
}

func (v *CommitView) List() ([]string, error) {
	var out []string
	walker := object.NewTreeWalker(v.tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err != nil {
			break
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (v *CommitView) Exists(p string) bool {
	clean, err := normalisePath(p)
	if err != nil {
		return false
	}
	_, err = v.tree.File(clean)
	return err == nil
}

func (v *CommitView) IsBinary(p string) (bool, error) {
	data, err := v.Read(p)
	if err != nil {
		return false, err
	}
	return isBinaryContent(data), nil
}

func (v *CommitView) Write(string, []byte) error { return ferr.New(ferr.ReadOnly, "commit view") }
func (v *CommitView) Delete(string) error         { return ferr.New(ferr.ReadOnly, "commit view") }
