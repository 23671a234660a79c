package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/oicur0t/loglwatch/internal/store"
	"github.com/oicur0t/loglwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, dir, logPath string) string {
	t.Helper()
	cfg := fmt.Sprintf(`log_level: error
log_format: console
state:
  backend: file
  dir: %s
services:
  - name: api
    source: file
    file_path: %s
    plugin: generic
    max_restarts: 1
    restart_command: ["true"]
`, filepath.Join(dir, "state"), logPath)

	path := filepath.Join(dir, "loglwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckRestartsAndPersists(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "api.log")
	require.NoError(t, os.WriteFile(logPath, []byte("INFO boot\nFATAL out of memory\n"), 0o644))
	configPath := writeConfig(t, dir, logPath)

	out, err := run(t, "check", "--config", configPath, "--output", "json")
	require.NoError(t, err)

	var results models.Snapshots
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Equal(t, "ERROR", results["api"].Status)
	assert.True(t, results["api"].Restarted)

	st, err := store.NewFileStore(filepath.Join(dir, "state"), zap.NewNop())
	require.NoError(t, err)
	history, err := st.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Len(t, history["api"], 1)

	// the restart budget of one is spent
	out, err = run(t, "check", "--config", configPath, "--output", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.False(t, results["api"].Restarted)
	assert.Equal(t, "restart limit reached: 1 restarts in 60 minutes", results["api"].ErrorText())
}

func TestStatusPrintsStoredSnapshots(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, filepath.Join(dir, "api.log"))

	st, err := store.NewFileStore(filepath.Join(dir, "state"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, st.SaveSnapshots(context.Background(), models.Snapshots{
		"api": {Status: "WARNING", LastChecked: "2024-03-01 10:00:00"},
	}))

	out, err := run(t, "status", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "api")
	assert.Contains(t, out, "WARNING")
}

func TestDiscoverPrintsServices(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worker.log"), nil, 0o644))

	out, err := run(t, "discover", "--pattern", filepath.Join(dir, "*.log"), "--plugin", "runtime")
	require.NoError(t, err)
	assert.Contains(t, out, "services:")
	assert.Contains(t, out, "name: worker")
	assert.Contains(t, out, "plugin: runtime")
}

func TestCheckRejectsMissingConfig(t *testing.T) {
	_, err := run(t, "check", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to load config")
}

func TestInitLogger(t *testing.T) {
	_, err := initLogger("debug", "json")
	assert.NoError(t, err)
	_, err = initLogger("loud", "console")
	assert.ErrorContains(t, err, "invalid log level")
}
