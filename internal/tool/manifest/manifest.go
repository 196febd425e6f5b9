// Package manifest loads user-tool descriptors from ./tools/<name>/tool.yaml:
// the name, description, argument schema, and subprocess entrypoint the
// registry needs to expose a user tool to the model and hand its calls off
// to internal/tool/userplugin. One subdirectory per tool, since a tool
// carries an executable alongside its manifest.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest describes one user tool as declared in tools/<name>/tool.yaml.
type Manifest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Entrypoint  string            `yaml:"entrypoint"`
	Parameters  map[string]Param  `yaml:"parameters"`
}

// Param describes one argument of a user tool, enough to build a JSON
// Schema property without reflecting over a Go struct (there isn't one —
// the implementation is an external subprocess).
type Param struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// Loader reads tool manifests from a tools directory, one subdirectory per
// tool.
type Loader struct {
	ToolsDir string
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{ToolsDir: dir}
}

// LoadManifest loads the manifest for the tool named id, read from
// <ToolsDir>/<id>/tool.yaml.
func (l *Loader) LoadManifest(id string) (*Manifest, error) {
	path := filepath.Join(l.ToolsDir, id, "tool.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse tool manifest: %w", err)
	}
	if m.Name == "" {
		m.Name = id
	}
	if m.Entrypoint != "" && !filepath.IsAbs(m.Entrypoint) {
		m.Entrypoint = filepath.Join(l.ToolsDir, id, m.Entrypoint)
	}
	return &m, nil
}

// ListManifests returns every tool manifest found directly under ToolsDir,
// skipping subdirectories with no tool.yaml or an unparsable one (the
// registry logs and carries on rather than failing the whole load).
func (l *Loader) ListManifests() ([]*Manifest, error) {
	entries, err := os.ReadDir(l.ToolsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var manifests []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := l.LoadManifest(e.Name())
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
