package tool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeepingCreature/forge/internal/tool/manifest"
)

func TestRegisterUserToolsSkipsManifestsWithoutEntrypoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "noop"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noop", "tool.yaml"), []byte("name: noop\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "weather"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather", "tool.yaml"), []byte("name: weather\nentrypoint: weather.sh\n"), 0644))

	reg := NewRegistry()
	require.NoError(t, reg.RegisterUserTools(manifest.NewLoader(dir)))

	assert.Equal(t, []string{"weather"}, reg.Names())
	tl, err := reg.Get("weather")
	require.NoError(t, err)
	assert.False(t, tl.Builtin())
}

func TestUserToolSchemaReflectsManifestParameters(t *testing.T) {
	m := &manifest.Manifest{
		Name:        "weather",
		Description: "fetch current weather",
		Entrypoint:  "/bin/true",
		Parameters: map[string]manifest.Param{
			"city": {Type: "string", Description: "city name", Required: true},
		},
	}
	ut := newUserTool(m)
	schema := GenerateSchema(ut)
	assert.Equal(t, "weather", schema.Name)
	assert.Equal(t, "fetch current weather", schema.Description)
	assert.Contains(t, schema.Parameters.Required, "city")
}
