package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleBindings(t *testing.T) {
	dir := t.TempDir()
	part := filepath.Join(dir, "Part.yaml")
	require.NoError(t, os.WriteFile(part, []byte("kernel: occt\n"), 0o600))

	modules := moduleBindings([]string{part, filepath.Join(dir, "Mesh.yml")})
	require.Len(t, modules, 2)

	assert.Equal(t, "Part", modules[0].Name)
	value, err := modules[0].Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"kernel": "occt"}, value)

	assert.Equal(t, "Mesh", modules[1].Name)
	_, err = modules[1].Load()
	assert.Error(t, err)

	// Edits are picked up by the next load.
	require.NoError(t, os.WriteFile(part, []byte("kernel: opencascade\n"), 0o600))
	value, err = modules[0].Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"kernel": "opencascade"}, value)
}
