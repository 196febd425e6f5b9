package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, id, content string) {
	t.Helper()
	toolDir := filepath.Join(dir, id)
	require.NoError(t, os.MkdirAll(toolDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(toolDir, "tool.yaml"), []byte(content), 0644))
}

func TestLoadManifestDefaultsNameToID(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "weather", `
description: fetch current weather
entrypoint: weather.sh
parameters:
  city:
    type: string
    description: city name
    required: true
`)

	l := NewLoader(dir)
	m, err := l.LoadManifest("weather")
	require.NoError(t, err)
	assert.Equal(t, "weather", m.Name)
	assert.Equal(t, "fetch current weather", m.Description)
	assert.Equal(t, filepath.Join(dir, "weather", "weather.sh"), m.Entrypoint)
	require.Contains(t, m.Parameters, "city")
	assert.True(t, m.Parameters["city"].Required)
}

func TestListManifestsSkipsInvalidEntries(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good", "name: good\nentrypoint: run.sh\n")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "broken"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken", "tool.yaml"), []byte("name: [unterminated"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a tool dir"), 0644))

	l := NewLoader(dir)
	manifests, err := l.ListManifests()
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "good", manifests[0].Name)
}

func TestListManifestsToleratesMissingDir(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "does-not-exist"))
	manifests, err := l.ListManifests()
	require.NoError(t, err)
	assert.Empty(t, manifests)
}
