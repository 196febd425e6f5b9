package tool

import (
	"encoding/json"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// CompactContext summarises the conversation so far, replacing all of its
// messages with one summary message; interpreted by the live session.
type CompactContext struct{ Summary string }

func (CompactContext) directive() {}

// --- commit ---

type commitArgs struct {
	Message string `json:"message"`
}

type commitTool struct{}

func newCommitTool() Tool { return commitTool{} }

func (commitTool) Name() string        { return "commit" }
func (commitTool) Description() string { return "Close a sub-commit mid-turn, recording an atomic checkpoint." }
func (commitTool) ArgsExample() any     { return &commitArgs{} }
func (commitTool) Builtin() bool        { return true }

func (commitTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a commitArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "commit", err)
	}
	if a.Message == "" {
		return nil, ferr.New(ferr.BadArguments, "commit: message required")
	}
	return &Result{
		Content:    "checkpoint requested: " + a.Message,
		Directives: []Directive{CommitNow{Message: a.Message}},
	}, nil
}

// --- compact ---

type compactArgs struct {
	Summary string `json:"summary"`
}

type compactTool struct{}

func newCompact() Tool { return compactTool{} }

func (compactTool) Name() string        { return "compact" }
func (compactTool) Description() string { return "Replace earlier conversation history with a summary to free context." }
func (compactTool) ArgsExample() any     { return &compactArgs{} }
func (compactTool) Builtin() bool        { return true }

func (compactTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a compactArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "compact", err)
	}
	return &Result{
		Content:    "context compacted",
		Directives: []Directive{CompactContext{Summary: a.Summary}},
	}, nil
}
