package tool

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// --- spawn_session ---

type spawnSessionArgs struct {
	Branch         string `json:"branch,omitempty" jsonschema_description:"optional explicit child branch name; a unique name is generated if omitted"`
	InitialMessage string `json:"initial_message"`
}

type spawnSessionTool struct{}

func newSpawnSession() Tool { return spawnSessionTool{} }

func (spawnSessionTool) Name() string { return "spawn_session" }
func (spawnSessionTool) Description() string {
	return "Create a child session on a new branch forked from the current commit."
}
func (spawnSessionTool) ArgsExample() any { return &spawnSessionArgs{} }
func (spawnSessionTool) Builtin() bool    { return true }

func (spawnSessionTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a spawnSessionArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "spawn_session", err)
	}
	branch := a.Branch
	if branch == "" {
		branch = "forge/child-" + uuid.NewString()
	}
	return &Result{
		Content:    "spawned " + branch,
		Directives: []Directive{SpawnChild{Branch: branch, InitialMessage: a.InitialMessage}},
	}, nil
}

// --- wait_session ---

type waitSessionArgs struct {
	Branches []string `json:"branches"`
}

type waitSessionTool struct{}

func newWaitSession() Tool { return waitSessionTool{} }

func (waitSessionTool) Name() string        { return "wait_session" }
func (waitSessionTool) Description() string { return "Suspend the turn until every listed child session reaches a terminal/idle state." }
func (waitSessionTool) ArgsExample() any     { return &waitSessionArgs{} }
func (waitSessionTool) Builtin() bool        { return true }

func (waitSessionTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a waitSessionArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "wait_session", err)
	}
	if len(a.Branches) == 0 {
		return nil, ferr.New(ferr.BadArguments, "wait_session: branches required")
	}
	return &Result{
		Content:    "waiting on children",
		Directives: []Directive{WaitChildren{Branches: a.Branches}},
	}, nil
}
