// Package session implements the per-branch session record and
// the in-memory live session / registry: load/unload
// lifecycle, parent/child coordination, and the crash-recovery startup
// scan. One record per branch, persisted under version control instead of
// held only in process memory, so forking a branch forks the conversation
// with it.
package session

import (
	"encoding/json"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// State is one of a session's lifecycle states.
type State string

const (
	Suspended       State = "SUSPENDED"
	Idle            State = "IDLE"
	Running         State = "RUNNING"
	WaitingInput    State = "WAITING_INPUT"
	WaitingChildren State = "WAITING_CHILDREN"
	Completed       State = "COMPLETED"
	Error           State = "ERROR"
)

// RecordSchemaVersion is bumped on any backward-incompatible Record change;
// LoadRecord ignores unknown fields so forward-compatible readers keep
// working across a minor version bump.
const RecordSchemaVersion = 1

// RecordPath is where the session record lives inside a branch's tree.
const RecordPath = ".forge/session.json"

// ToolCall is one structured tool invocation attached to an assistant
// message, following the common chat-tool-protocol shape.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry in a session's persisted conversation:
// `{role, content, tool_calls?, tool_call_id?}`.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Cancelled  bool       `json:"cancelled,omitempty"`
}

// PendingWait records the set of child branches a WAITING_CHILDREN session
// is blocked on.
type PendingWait struct {
	Branches []string `json:"branches"`
}

// Record is the full on-disk session state for one branch, serialised to
// `.forge/session.json` with snake_case field names (`messages`,
// `active_files`, `parent_branch`, `child_branches`, `state`,
// `pending_wait`).
type Record struct {
	Version       int          `json:"version"`
	Branch        string       `json:"branch"`
	ParentBranch  string       `json:"parent_branch,omitempty"`
	ChildBranches []string     `json:"child_branches,omitempty"`
	State         State        `json:"state"`
	PendingWait   *PendingWait `json:"pending_wait,omitempty"`
	ActiveFiles   []string     `json:"active_files,omitempty"`
	Messages      []Message    `json:"messages"`
}

// WaitingOn is a convenience accessor over PendingWait, used by the
// registry's child-completion protocol.
func (r *Record) WaitingOn() []string {
	if r.PendingWait == nil {
		return nil
	}
	return r.PendingWait.Branches
}

// NewRecord builds the empty record for a freshly created session.
func NewRecord(branch, parentBranch string) *Record {
	return &Record{
		Version:      RecordSchemaVersion,
		Branch:       branch,
		ParentBranch: parentBranch,
		State:        Idle,
	}
}

// LoadRecord reads and parses the session record from fs, returning a
// fresh Idle record for branch if none exists yet (a branch with no prior
// agent session).
func LoadRecord(fs vfs.VFS, branch string) (*Record, error) {
	data, err := fs.Read(RecordPath)
	if err != nil {
		if ferr.Is(err, ferr.NotFound) {
			return NewRecord(branch, ""), nil
		}
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, ferr.Wrap(ferr.CorruptObject, RecordPath, err)
	}
	return &r, nil
}

// SaveRecord serialises r and writes it through fs. The caller is
// responsible for committing fs; the turn executor includes this write in
// the same tree as the turn's other overlay entries.
func SaveRecord(fs vfs.VFS, r *Record) error {
	if r.Version == 0 {
		r.Version = RecordSchemaVersion
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return fs.Write(RecordPath, data)
}

// Terminal reports whether a state needs no further turn activity to
// complete — used by the registry to decide whether a child is still
// "running" for a parent's WaitChildren gate.
func (s State) Terminal() bool {
	switch s {
	case Idle, Completed, Error, Suspended:
		return true
	default:
		return false
	}
}
