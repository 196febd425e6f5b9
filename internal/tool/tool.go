// Package tool implements the tool registry and executor: a
// capability-restricted execution environment with hash-based approval,
// schema enumeration, and the built-in file/search/commit operations.
// Model-facing schemas are generated by reflection over each tool's
// argument struct via github.com/invopop/jsonschema rather than
// hand-written literals.
package tool

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/FeepingCreature/forge/internal/vfs"
)

// Directive is a structured instruction a tool's result hands back to the
// turn executor. The executor
// switches on the concrete type.
type Directive interface{ directive() }

// OpenFile adds path to the session's active files.
type OpenFile struct{ Path string }

func (OpenFile) directive() {}

// EphemeralResult marks the tool result's content block ephemeral in the
// prompt stream.
type EphemeralResult struct{ Payload string }

func (EphemeralResult) directive() {}

// CommitNow closes a sub-commit mid-turn.
type CommitNow struct{ Message string }

func (CommitNow) directive() {}

// SpawnChild creates a child session on a new branch forked from the
// current commit.
type SpawnChild struct {
	Branch         string
	InitialMessage string
}

func (SpawnChild) directive() {}

// WaitChildren suspends the turn until every listed branch reaches a
// terminal/idle state.
type WaitChildren struct{ Branches []string }

func (WaitChildren) directive() {}

// Result is what a tool's Execute call returns on success.
type Result struct {
	Content    string
	Directives []Directive
}

// Context is the narrow surface tools need back into the engine; tools
// depend on it, never on the live session concretely, which keeps the
// session/tool/vfs dependency graph acyclic.
type Context struct {
	context.Context

	Turn        int
	ToolCallRef string

	// Materialize exposes vfs.WorkingView.MaterializeToTempdir for tools
	// that need a real filesystem (check, run_tests).
	Materialize func() (dir string, cleanup func(), err error)
}

// Schema is the model-facing description of a tool: name, description, and
// a JSON Schema for its argument shape, generated by reflection rather than
// hand-written.
type Schema struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// Tool is one capability the executor can dispatch.
type Tool interface {
	// Name is the stable tool identifier used in approval records and
	// model tool-call routing.
	Name() string
	Description() string
	// ArgsExample returns a zero-value pointer to the tool's argument
	// struct, used purely for schema reflection.
	ArgsExample() any
	// Execute runs the tool against the given VFS handle with the
	// supplied raw JSON arguments.
	Execute(fs vfs.VFS, args json.RawMessage, tc *Context) (*Result, error)
	// Builtin reports whether this tool bypasses the approval gate.
	Builtin() bool
}

// schemaProvider is implemented by tools whose argument shape isn't a Go
// struct to reflect over (user tools declare parameters in YAML instead).
// GenerateSchema prefers this over reflection when present.
type schemaProvider interface {
	ParametersSchema() *jsonschema.Schema
}

// GenerateSchema reflects a Tool's ArgsExample into a model-facing Schema,
// unless the tool implements schemaProvider directly.
func GenerateSchema(t Tool) Schema {
	if sp, ok := t.(schemaProvider); ok {
		return Schema{Name: t.Name(), Description: t.Description(), Parameters: sp.ParametersSchema()}
	}
	reflector := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.Reflect(t.ArgsExample())
	return Schema{Name: t.Name(), Description: t.Description(), Parameters: schema}
}
