package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/labrun/internal/compiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "labrun version ")
}

func TestValidate(t *testing.T) {
	path := filepath.Join("..", "..", "internal", "compiler", "testdata", "titration.yaml")

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "titration: ok")
	assert.Contains(t, out, "- state [devices]")
	assert.Contains(t, out, "process dose (pausable), term 1m30s")

	out, err = execute(t, "validate", "--json", path)
	require.NoError(t, err)
	var outline compiler.Outline
	require.NoError(t, json.Unmarshal([]byte(out), &outline))
	assert.Equal(t, "state", outline.Kind)
}

func TestValidate_Rejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: bad\nroot:\n  sequence: []\n"), 0o644))

	_, err := execute(t, "validate", path)
	assert.ErrorContains(t, err, "sequence is empty")
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	protocol := filepath.Join(dir, "protocol.yaml")
	require.NoError(t, os.WriteFile(protocol, []byte("name: quick\nroot:\n  process: log\n  params: {message: hi}\n"), 0o644))
	cfgPath := filepath.Join(dir, "labrun.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  type: none\nmetrics:\n  enabled: false\n"), 0o644))

	out, err := execute(t, "run", "--config", cfgPath, "--log-level", "error", protocol)
	require.NoError(t, err)
	assert.Contains(t, out, "started")
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "finished")
}

func TestGraph_WithStoredRun(t *testing.T) {
	dir := t.TempDir()
	protocol := filepath.Join(dir, "protocol.yaml")
	require.NoError(t, os.WriteFile(protocol, []byte("name: quick\nroot:\n  sequence:\n    - process: log\n      params: {message: hi}\n"), 0o644))
	cfgPath := filepath.Join(dir, "labrun.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  type: sqlite\n  path: "+filepath.Join(dir, "runs.db")+"\n"), 0o644))

	out, err := execute(t, "graph", "--config", cfgPath, protocol)
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, `n_0(["log"])`)
	assert.NotContains(t, out, "classDef")

	_, err = execute(t, "graph", "--config", cfgPath, "--run", "missing", protocol)
	assert.Error(t, err)
}
