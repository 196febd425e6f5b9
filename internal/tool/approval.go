package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/FeepingCreature/forge/internal/ferr"
)

// ApprovalRecord persists the mapping of tool identifier to the content
// hash of the tool source last approved by the user.
// It has process-wide lifecycle, guarded by a mutex, and is written
// atomically (temp file + rename).
type ApprovalRecord struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// LoadApprovalRecord reads the approval record at path, tolerating a
// missing file (first run).
func LoadApprovalRecord(path string) (*ApprovalRecord, error) {
	ar := &ApprovalRecord{path: path, data: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ar, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &ar.data); err != nil {
		return nil, err
	}
	return ar, nil
}

// HashSource computes the content hash used to detect tool-source
// modification.
func HashSource(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// IsApproved reports whether toolID's currently approved hash matches
// source's hash.
func (ar *ApprovalRecord) IsApproved(toolID string, source []byte) bool {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.data[toolID] == HashSource(source)
}

// Approve records source's hash as approved for toolID and persists the
// record atomically.
func (ar *ApprovalRecord) Approve(toolID string, source []byte) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.data[toolID] = HashSource(source)
	return ar.persistLocked()
}

func (ar *ApprovalRecord) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(ar.path), 0755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(ar.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := ar.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, ar.path)
}

// RequireApproval checks a user tool's approval status, returning
// ApprovalRequired if the source hash is unapproved or has changed. Built-in
// tools always bypass this check.
func RequireApproval(ar *ApprovalRecord, t Tool, source []byte) error {
	if t.Builtin() {
		return nil
	}
	if ar.IsApproved(t.Name(), source) {
		return nil
	}
	return ferr.New(ferr.ApprovalRequired, t.Name()).WithData("hash", HashSource(source))
}
