package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`output:
  dir: %q
  formats: [markdown, odx]
database:
  path: %q
scope:
  oem: Land Rover
  model: Defender
  model_year: "2022"
log:
  level: error
`, filepath.Join(dir, "output"), filepath.Join(dir, "db", "diagflow.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDecodeCommand(t *testing.T) {
	out, err := run(t, "decode", "7F 27 35", "0x1003")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "7F2735\tnegative"))
	assert.True(t, strings.HasPrefix(lines[1], "1003\trequest"))
}

func TestAnalyzeListAndValidate(t *testing.T) {
	cfg := writeConfig(t)
	sample := filepath.Join("..", "..", "testdata", "sample_trace.log")

	out, err := run(t, "--config", cfg, "analyze", sample, "--name", "workshop")
	require.NoError(t, err)
	assert.Contains(t, out, "workshop")
	assert.Contains(t, out, "summary.md")

	out, err = run(t, "--config", cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "land-rover/defender/2022")
	assert.Contains(t, out, "analyzed")

	out, err = run(t, "--config", cfg, "knowledge", "--scope", "land-rover/defender/2022")
	require.NoError(t, err)
	assert.Contains(t, out, "Job Discovery: workshop")

	odxFiles, err := filepath.Glob(filepath.Join(filepath.Dir(cfg), "output", "*", "odx", "*"))
	require.NoError(t, err)
	require.Len(t, odxFiles, 5)

	out, err = run(t, append([]string{"odx", "validate"}, odxFiles...)...)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ok: 2 layers"))
}

func TestODXValidateRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.odx-d")
	require.NoError(t, os.WriteFile(path, []byte("<ODX><DIAG-LAYER-CONTAINER>"), 0o644))
	_, err := run(t, "odx", "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.odx-d")
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", ""} {
		l, err := newLogger(level)
		require.NoError(t, err, level)
		require.NotNil(t, l)
	}
	_, err := newLogger("loud")
	assert.Error(t, err)
}
