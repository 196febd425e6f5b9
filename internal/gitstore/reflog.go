package gitstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing"
)

// ReflogEntry records one ref-changing operation. The log is persisted
// repo-wide, like git's own .git/logs/HEAD: a reflog naturally spans
// branch history rather than any one branch workspace.
type ReflogEntry struct {
	Branch  string `json:"branch"`
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

func (s *Store) reflogPath(root string) string {
	return filepath.Join(root, ".forge", "reflog.json")
}

// RecordReflog appends an entry to the repository-wide reflog, persisted at
// root/.forge/reflog.json. Newest entries are kept at the front.
func (s *Store) RecordReflog(root, branch string, hash plumbing.Hash, message string) error {
	s.reflogMu.Lock()
	defer s.reflogMu.Unlock()

	path := s.reflogPath(root)
	entries, _ := readReflog(path)
	entries = append([]ReflogEntry{{Branch: branch, Hash: hash.String(), Message: message}}, entries...)
	return writeReflog(path, entries)
}

// Reflog returns the repository-wide reflog, newest first.
func (s *Store) Reflog(root string) ([]ReflogEntry, error) {
	s.reflogMu.Lock()
	defer s.reflogMu.Unlock()
	return readReflog(s.reflogPath(root))
}

func readReflog(path string) ([]ReflogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []ReflogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeReflog(path string, entries []ReflogEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveOrigHead saves branch's current tip as its ORIG_HEAD-style marker
// ref, called immediately before a three-way merge retry so that
// undo/manual recovery has a stable anchor.
func (s *Store) SaveOrigHead(branch string) error {
	tip := s.BranchTip(branch)
	if tip == (plumbing.ZeroHash) {
		return nil
	}
	refName := plumbing.ReferenceName("refs/forge/orig-head/" + branch)
	return s.repo.Storer.SetReference(plumbing.NewHashReference(refName, tip))
}

// OrigHead returns the saved ORIG_HEAD-style marker for branch, if any.
func (s *Store) OrigHead(branch string) (plumbing.Hash, bool) {
	refName := plumbing.ReferenceName("refs/forge/orig-head/" + branch)
	ref, err := s.repo.Reference(refName, true)
	if err != nil {
		return plumbing.ZeroHash, false
	}
	return ref.Hash(), true
}
