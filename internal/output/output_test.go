package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_PlainForNonTerminal(t *testing.T) {
	// Given: a writer over a plain buffer (not a terminal)
	var buf bytes.Buffer
	w := New(&buf)

	// When: printing styled lines
	w.Headerf("Results")
	w.Successf("done in %dms", 42)
	w.Warningf("partial failure")
	w.Errorf("boom")

	// Then: no ANSI escapes leak into piped output
	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "Results")
	assert.Contains(t, out, "done in 42ms")
	assert.Contains(t, out, "warning: partial failure")
	assert.Contains(t, out, "error: boom")
}

func TestWriter_Field(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)

	w.Field("documents", 17)
	w.Field("provider", "static")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "documents:")
	assert.Contains(t, lines[0], "17")
}

func TestWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)

	require.NoError(t, w.JSON(map[string]any{"doc_key": "a", "score": 0.5}))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "a", decoded["doc_key"])
}
