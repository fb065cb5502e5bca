package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOutputIsJSON(t *testing.T) {
	var terminal, file bytes.Buffer
	l := New(&terminal, &file)

	l.LogDatabase("INSERT", "events", "created")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "DATABASE", entry.Category)
	assert.Equal(t, "[INSERT] events - created", entry.Message)
	assert.Equal(t, "logger_test.go", entry.File)
	assert.Contains(t, terminal.String(), "[INSERT] events - created")
}

func TestSecurityLogsAtWarn(t *testing.T) {
	var file bytes.Buffer
	l := New(nil, &file)

	l.LogSecurity("INVALID_TOKEN", "signature mismatch")

	assert.Contains(t, file.String(), `"level":"WARN"`)
}

func TestSetLevelFiltersLowerLevels(t *testing.T) {
	var file bytes.Buffer
	l := New(nil, &file)
	l.SetLevel(WARN)

	l.Info("API", "hidden")
	l.Error("API", "shown")

	lines := strings.Split(strings.TrimSpace(file.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "shown")
}

func TestNopLoggerIsSilent(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Info("API", "nothing")
		l.Close()
	})
}

func TestNewLoggerCreatesDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := NewLogger(dir)
	require.NoError(t, err)
	l.terminal = nil
	l.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "events-api-"))
}
