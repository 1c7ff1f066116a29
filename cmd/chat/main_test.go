package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/langly/internal/domain"
)

func TestParseSessionID(t *testing.T) {
	id, err := parseSessionID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseSessionID(bad)
		assert.Error(t, err, bad)
	}
}

func TestLastFinishedCall(t *testing.T) {
	out := "12"
	calls := []domain.ToolCall{
		{Tool: "query", Input: "a", Output: &out},
		{Tool: "query", Input: "b"},
	}

	call, ok := lastFinishedCall(calls)
	require.True(t, ok)
	assert.Equal(t, "a", call.Input)

	_, ok = lastFinishedCall(calls[1:])
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "one two", truncate("one\ntwo", 20))
	assert.Equal(t, "héll...", truncate("héllo world", 4))
}

func TestPersistentPreRun_UsesLoggingConfig(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "chat.log")
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
logging:
  level: warn
  file: `+logFile+`
client:
  base_url: http://127.0.0.1:1
  token_file: `+filepath.Join(dir, "token")+`
`), 0o600))

	prevPath, prevVerbose, prevApp := configPath, verbose, current
	t.Cleanup(func() { configPath, verbose, current = prevPath, prevVerbose, prevApp })

	configPath, verbose = cfgFile, false
	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	assert.Equal(t, zerolog.WarnLevel, current.log.GetLevel())
	current.log.Warn().Msg("written to the rotated file")
	require.NoError(t, current.logs.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "chat.*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, matches)

	verbose = true
	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	assert.Equal(t, zerolog.DebugLevel, current.log.GetLevel())
	require.NoError(t, current.logs.Close())
}
