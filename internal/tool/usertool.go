package tool

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/FeepingCreature/forge/internal/tool/manifest"
	"github.com/FeepingCreature/forge/internal/tool/userplugin"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// userTool adapts a manifest-declared, subprocess-backed tool to the Tool
// interface, lazily launching its go-plugin subprocess on first Execute
// and reusing it for subsequent calls. Never bypasses approval (Builtin
// always reports false); this is the only Tool implementation whose
// Execute launches a user-supplied executable.
type userTool struct {
	m *manifest.Manifest

	mu       sync.Mutex
	executor userplugin.Executor
	client   pluginClient
}

// pluginClient is the subset of *goplugin.Client this package needs,
// narrowed to ease testing without a real subprocess.
type pluginClient interface{ Kill() }

func newUserTool(m *manifest.Manifest) *userTool {
	return &userTool{m: m}
}

func (t *userTool) Name() string        { return t.m.Name }
func (t *userTool) Description() string { return t.m.Description }
func (t *userTool) Builtin() bool       { return false }

// ArgsExample has no meaningful value for a user tool: its argument shape
// lives in YAML, not a Go struct. ParametersSchema is used instead (see
// schemaProvider in tool.go).
func (t *userTool) ArgsExample() any { return nil }

// ParametersSchema builds a JSON Schema from the manifest's declared
// parameters rather than reflecting over a Go struct.
func (t *userTool) ParametersSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string
	for name, p := range t.m.Parameters {
		props.Set(name, &jsonschema.Schema{Type: p.Type, Description: p.Description})
		if p.Required {
			required = append(required, name)
		}
	}
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func (t *userTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	exec, err := t.ensureLaunched()
	if err != nil {
		return nil, err
	}
	out, err := exec.Execute(raw)
	if err != nil {
		log.Printf("user tool %s: execute failed: %v", t.m.Name, err)
		return nil, err
	}
	return &Result{Content: out}, nil
}

func (t *userTool) ensureLaunched() (userplugin.Executor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.executor != nil {
		return t.executor, nil
	}
	exec, client, err := userplugin.Launch(t.m.Entrypoint)
	if err != nil {
		return nil, err
	}
	t.executor = exec
	t.client = client
	return t.executor, nil
}

// Shutdown kills the subprocess backing this tool, if one was launched.
// The registry does not call it: RegisterUserTools replaces entries
// without killing their subprocesses, so the caller shuts the old tool
// down first.
func (t *userTool) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Kill()
		t.client = nil
		t.executor = nil
	}
}
