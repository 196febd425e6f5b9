package tool

import (
	"encoding/json"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// --- think ---

type thinkArgs struct {
	Thought string `json:"thought"`
}

type thinkTool struct{}

func newThink() Tool { return thinkTool{} }

func (thinkTool) Name() string        { return "think" }
func (thinkTool) Description() string { return "Record a scratch reasoning note without touching files; dropped from the cached prefix once superseded." }
func (thinkTool) ArgsExample() any     { return &thinkArgs{} }
func (thinkTool) Builtin() bool        { return true }

func (thinkTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a thinkArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "think", err)
	}
	return &Result{
		Content:    a.Thought,
		Directives: []Directive{EphemeralResult{Payload: a.Thought}},
	}, nil
}
