package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConsoleLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Console: &buf})
	logger.Debug("hidden")
	logger.Info("shown", zap.String("key", "https://shop.example/"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "https://shop.example/")

	buf.Reset()
	debug := New(Options{Console: &buf, Debug: true})
	debug.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestFileCoreWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tourbot.log")
	logger := Component(New(Options{Quiet: true, File: path}), "runner")
	logger.Info("task finished", zap.String("key", "https://a.example/"))
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(raw))

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "task finished", rec["msg"])
	assert.Equal(t, "runner", rec["component"])
	assert.Equal(t, "https://a.example/", rec["key"])
	assert.Contains(t, rec, "timestamp")
}

func TestQuietWithoutFileIsNop(t *testing.T) {
	logger := New(Options{Quiet: true})
	assert.False(t, logger.Core().Enabled(zap.ErrorLevel))
}

func TestComponentNil(t *testing.T) {
	assert.NotPanics(t, func() { Component(nil, "x").Info("dropped") })
}
