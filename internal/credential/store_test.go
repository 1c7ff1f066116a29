package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Memory(t *testing.T) {
	s, err := NewStore(" abc ", "")
	require.NoError(t, err)
	assert.Equal(t, "abc", s.Token())

	require.NoError(t, s.Set("def"))
	assert.Equal(t, "def", s.Token())

	s.Clear()
	assert.Empty(t, s.Token())
}

func TestStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")

	s, err := NewStore("", path)
	require.NoError(t, err)
	assert.Empty(t, s.Token())

	require.NoError(t, s.Set("persisted"))

	reloaded, err := NewStore("", path)
	require.NoError(t, err)
	assert.Equal(t, "persisted", reloaded.Token())

	reloaded.Clear()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_ExplicitTokenWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))

	s, err := NewStore("explicit", path)
	require.NoError(t, err)
	assert.Equal(t, "explicit", s.Token())
}
