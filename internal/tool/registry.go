package tool

import (
	"log"
	"sort"
	"sync"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/tool/manifest"
)

// Registry holds every discoverable tool: the fixed built-in set plus any
// user tools loaded from ./tools/.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t to the registry, keyed by its Name(). Re-registering the
// same name overwrites the previous entry (used when a user tool is
// reloaded after a source change).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, ferr.New(ferr.UnknownTool, name)
	}
	return t, nil
}

// Schemas returns the model-facing schema for every registered tool,
// sorted by name for stable output.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, GenerateSchema(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every registered tool's name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RegisterBuiltins registers the full built-in tool set.
func (r *Registry) RegisterBuiltins() {
	for _, t := range []Tool{
		newWriteFile(),
		newDeleteFile(),
		newRenameFile(),
		newSearchReplace(),
		newGetLines(),
		newUpdateContext(),
		newGrepOpen(),
		newGrepContext(),
		newUndoEdit(),
		newCommitTool(),
		newCompact(),
		newSpawnSession(),
		newWaitSession(),
		newCheck(),
		newRunTests(),
		newScout(),
		newThink(),
	} {
		r.Register(t)
	}
}

// RegisterUserTools discovers every tool manifest under loader's ToolsDir
// and registers a subprocess-backed Tool for each, logging (and skipping)
// any manifest missing an entrypoint. Re-running this after a manifest or
// source change re-registers the tool under the same name, overwriting the
// stale entry; it does not itself kill any previously launched subprocess
// (the caller should Shutdown the old *userTool first if it was already
// launched).
func (r *Registry) RegisterUserTools(loader *manifest.Loader) error {
	manifests, err := loader.ListManifests()
	if err != nil {
		return err
	}
	for _, m := range manifests {
		if m.Entrypoint == "" {
			log.Printf("tool registry: skipping %s: no entrypoint declared", m.Name)
			continue
		}
		r.Register(newUserTool(m))
	}
	return nil
}
