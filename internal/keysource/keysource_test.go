package keysource_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/envfile"
	"github.com/keyward/keyward/internal/keysource"
)

// TestFileSource tests the env-file backend
func TestFileSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys.env")
	source := keysource.NewFileSource(path, envfile.NewEditor())

	// Nothing stored yet.
	_, ok, err := source.Get("APP_KEY")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, source.Set("APP_KEY", "material-one"))

	value, ok, err := source.Get("APP_KEY")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "material-one", value)

	// Replacement overwrites in place.
	require.NoError(t, source.Set("APP_KEY", "material-two"))
	value, _, err = source.Get("APP_KEY")
	require.NoError(t, err)
	assert.Equal(t, "material-two", value)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "APP_KEY=material-two\n", string(data))

	assert.Equal(t, "file:"+path, source.Describe())
	assert.Equal(t, path, source.Path())
}

// TestFileSourceKeepsNeighbors validates setting one key leaves the others
// untouched
func TestFileSourceKeepsNeighbors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys.env")
	require.NoError(t, os.WriteFile(path, []byte("# managed keys\nFIRST_KEY=one\nSECOND_KEY=two\n"), 0600))

	source := keysource.NewFileSource(path, envfile.NewEditor())
	require.NoError(t, source.Set("FIRST_KEY", "updated"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# managed keys\nFIRST_KEY=updated\nSECOND_KEY=two\n", string(data))
}

// TestKeyringSourceDescribe validates the backend identifier; live keyring
// access is not exercised here
func TestKeyringSourceDescribe(t *testing.T) {
	t.Parallel()

	source := keysource.NewKeyringSource("keyward")
	assert.Equal(t, "keyring:keyward", source.Describe())
}
