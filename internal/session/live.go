package session

import (
	"sync"

	"github.com/FeepingCreature/forge/internal/events"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// LiveSession is a session held in memory: its persisted Record plus the
// writable VFS view the turn executor claims to run a turn, and the event
// bus observers attach to.
type LiveSession struct {
	Branch string
	View   *vfs.WorkingView
	Bus    *events.Bus

	mu      sync.Mutex
	record  *Record
	pending []Message
}

// newLiveSession wraps a loaded record and view.
func newLiveSession(branch string, view *vfs.WorkingView, record *Record) *LiveSession {
	return &LiveSession{Branch: branch, View: view, Bus: events.NewBus(), record: record}
}

// State returns the session's current in-memory state without exposing
// the mutable record pointer outside this package.
func (ls *LiveSession) State() State {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.record.State
}

// SetState transitions the session's in-memory state and publishes a
// state_changed event. It does not persist the record; the turn executor
// calls SaveRecord as part of its own commit when a turn actually advances
// the branch.
func (ls *LiveSession) SetState(s State) {
	ls.mu.Lock()
	ls.record.State = s
	ls.mu.Unlock()
	ls.Bus.Publish(events.Event{Kind: events.StateChanged, Branch: ls.Branch, Data: map[string]any{"state": string(s)}})
}

// WaitOn records the branches this session is now waiting on and
// transitions it to WAITING_CHILDREN.
func (ls *LiveSession) WaitOn(branches []string) {
	ls.mu.Lock()
	ls.record.PendingWait = &PendingWait{Branches: branches}
	ls.record.State = WaitingChildren
	ls.mu.Unlock()
	ls.Bus.Publish(events.Event{Kind: events.StateChanged, Branch: ls.Branch, Data: map[string]any{"state": string(WaitingChildren)}})
}

// ParentBranch returns the branch this session was forked from, or "".
func (ls *LiveSession) ParentBranch() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.record.ParentBranch
}

// WaitingOn returns the branches this session is currently waiting on.
func (ls *LiveSession) WaitingOn() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	branches := ls.record.WaitingOn()
	out := make([]string, len(branches))
	copy(out, branches)
	return out
}

// AddChild records a spawned child branch on the parent's record.
func (ls *LiveSession) AddChild(branch string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.record.ChildBranches = append(ls.record.ChildBranches, branch)
}

// EnqueueUser queues a user message for consumption at the next turn
// boundary: the pending queue is drained into the conversation when the
// turn executor starts, never mid-turn.
func (ls *LiveSession) EnqueueUser(m Message) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.pending = append(ls.pending, m)
}

// DrainPending removes and returns every queued user message, in enqueue
// order. Called by the turn executor at turn start.
func (ls *LiveSession) DrainPending() []Message {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := ls.pending
	ls.pending = nil
	return out
}

// AppendMessage appends a message to the session's persisted conversation
// and publishes a message_appended event.
func (ls *LiveSession) AppendMessage(m Message) {
	ls.mu.Lock()
	ls.record.Messages = append(ls.record.Messages, m)
	ls.mu.Unlock()
	ls.Bus.Publish(events.Event{Kind: events.MessageAppended, Branch: ls.Branch, Data: map[string]any{"role": m.Role}})
}

// OpenFile adds path to the session's active-files set, if not already
// present, and publishes context_updated.
func (ls *LiveSession) OpenFile(path string) {
	ls.mu.Lock()
	for _, p := range ls.record.ActiveFiles {
		if p == path {
			ls.mu.Unlock()
			return
		}
	}
	ls.record.ActiveFiles = append(ls.record.ActiveFiles, path)
	ls.mu.Unlock()
	ls.Bus.Publish(events.Event{Kind: events.ContextUpdated, Branch: ls.Branch, Data: map[string]any{"opened": path}})
}

// CloseFile removes path from the session's active-files set, if present,
// and publishes context_updated.
func (ls *LiveSession) CloseFile(path string) {
	ls.mu.Lock()
	out := ls.record.ActiveFiles[:0]
	for _, p := range ls.record.ActiveFiles {
		if p != path {
			out = append(out, p)
		}
	}
	ls.record.ActiveFiles = out
	ls.mu.Unlock()
	ls.Bus.Publish(events.Event{Kind: events.ContextUpdated, Branch: ls.Branch, Data: map[string]any{"closed": path}})
}

// ActiveFiles returns a copy of the session's currently active file paths.
func (ls *LiveSession) ActiveFiles() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]string, len(ls.record.ActiveFiles))
	copy(out, ls.record.ActiveFiles)
	return out
}

// Compact replaces the persisted conversation with a single synthetic
// summary message, implementing the compact built-in's CompactContext
// directive.
func (ls *LiveSession) Compact(summary string) {
	ls.mu.Lock()
	ls.record.Messages = []Message{{Role: "system", Content: "conversation summary: " + summary}}
	ls.mu.Unlock()
	ls.Bus.Publish(events.Event{Kind: events.ContextUpdated, Branch: ls.Branch, Data: map[string]any{"compacted": true}})
}

// Snapshot returns the record as it should be persisted by the turn
// executor's commit: the caller must not mutate the returned pointer.
func (ls *LiveSession) Snapshot() *Record {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	cp := *ls.record
	return &cp
}
