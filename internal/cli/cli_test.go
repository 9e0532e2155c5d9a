package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-alert/internal/models"
)

func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(zerolog.Nop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", dir, "--json"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(dir, "data", "stockalert.db"))
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("QUOTE_PROVIDER", "")
	return dir
}

func TestSymbolsAddListRemove(t *testing.T) {
	dir := setupCLI(t)

	out, err := runCLI(t, dir, "symbols", "add", "nvda")
	require.NoError(t, err)
	var added models.Symbol
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.Equal(t, "NVDA", added.Ticker)
	assert.Equal(t, models.GroupWatch, added.Group)

	_, err = runCLI(t, dir, "symbols", "add", "msft", "--group", "archived")
	require.NoError(t, err)

	out, err = runCLI(t, dir, "symbols", "list")
	require.NoError(t, err)
	var watched []models.Symbol
	require.NoError(t, json.Unmarshal([]byte(out), &watched))
	require.Len(t, watched, 1)
	assert.Equal(t, "NVDA", watched[0].Ticker)

	out, err = runCLI(t, dir, "symbols", "list", "--scope", "all")
	require.NoError(t, err)
	var all []models.Symbol
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	assert.Len(t, all, 2)

	_, err = runCLI(t, dir, "symbols", "move", "MSFT", "watch")
	require.NoError(t, err)
	_, err = runCLI(t, dir, "symbols", "rm", "NVDA")
	require.NoError(t, err)

	out, err = runCLI(t, dir, "symbols", "list")
	require.NoError(t, err)
	watched = nil
	require.NoError(t, json.Unmarshal([]byte(out), &watched))
	require.Len(t, watched, 1)
	assert.Equal(t, "MSFT", watched[0].Ticker)
}

func TestSymbolsRejectsBadInput(t *testing.T) {
	dir := setupCLI(t)

	_, err := runCLI(t, dir, "symbols", "add", "NVDA; DROP")
	assert.Error(t, err)

	_, err = runCLI(t, dir, "symbols", "list", "--scope", "everything")
	assert.Error(t, err)

	_, err = runCLI(t, dir, "symbols", "rm", "UNKNOWN")
	assert.Error(t, err)
}

func TestConfigShowMasksSecrets(t *testing.T) {
	dir := setupCLI(t)
	t.Setenv("ALPHA_VANTAGE_KEY", "abcdef1234567890")

	out, err := runCLI(t, dir, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "abcdef1234567890")
}
