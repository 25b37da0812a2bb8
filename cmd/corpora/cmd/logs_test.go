package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLogFile(t *testing.T) string {
	t.Helper()
	lines := `{"time":"2026-08-29T10:00:00Z","level":"DEBUG","msg":"probe_ok","provider":"static"}
{"time":"2026-08-29T10:00:01Z","level":"INFO","msg":"build_started","collection":"handbook","documents":3}
{"time":"2026-08-29T10:00:02Z","level":"WARN","msg":"embed_batch_failed","batch_size":2}
not json at all
{"time":"2026-08-29T10:00:03Z","level":"ERROR","msg":"build_failed"}
`
	path := filepath.Join(t.TempDir(), "corpora.log")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func TestLogsCmd_TailRendersEntries(t *testing.T) {
	// Given: a log file with mixed levels and one garbage line
	setTestHome(t)
	path := writeLogFile(t)

	// When: tailing it
	out, err := run(t, "logs", "--file", path)
	require.NoError(t, err)

	// Then: structured entries render, garbage is skipped
	assert.Contains(t, out, "build_started")
	assert.Contains(t, out, "collection=handbook")
	assert.Contains(t, out, "probe_ok")
	assert.NotContains(t, out, "not json")
}

func TestLogsCmd_LevelFilter(t *testing.T) {
	setTestHome(t)
	path := writeLogFile(t)

	out, err := run(t, "logs", "--file", path, "--level", "warn")
	require.NoError(t, err)

	assert.Contains(t, out, "embed_batch_failed")
	assert.Contains(t, out, "build_failed")
	assert.NotContains(t, out, "build_started")
}

func TestLogsCmd_LineLimit(t *testing.T) {
	setTestHome(t)
	path := writeLogFile(t)

	out, err := run(t, "logs", "--file", path, "-n", "1")
	require.NoError(t, err)

	assert.Contains(t, out, "build_failed")
	assert.NotContains(t, out, "build_started")
}

func TestLogsCmd_MissingFile(t *testing.T) {
	setTestHome(t)

	_, err := run(t, "logs", "--file", filepath.Join(t.TempDir(), "nope.log"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log file")
}

func TestLogsCmd_RejectsUnknownLevel(t *testing.T) {
	setTestHome(t)
	path := writeLogFile(t)

	_, err := run(t, "logs", "--file", path, "--level", "loud")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown level")
}
