package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"browsertour/internal/config"
	"browsertour/internal/runner"
	"browsertour/internal/tour"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	f, err := parseFlags([]string{"-width", "800", "-headless=false", "-trust", "-wait", "2s", "-agent", "tourbot/1.0"}, io.Discard)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Tour.Output = "from-config.json"
	f.apply(&cfg)

	assert.Equal(t, 800, cfg.Browser.ViewportWidth)
	assert.Equal(t, 1080, cfg.Browser.ViewportHeight)
	assert.False(t, cfg.Browser.IsHeadless())
	assert.True(t, cfg.Browser.IgnoreCertErrors)
	assert.Equal(t, "2s", cfg.Tour.CloseDelay)
	assert.Equal(t, "tourbot/1.0", cfg.Browser.UserAgent)
	assert.Equal(t, "from-config.json", cfg.Tour.Output)
	assert.False(t, cfg.Tour.StopOnError)
}

func TestPositionalTourPath(t *testing.T) {
	f, err := parseFlags([]string{"-debug", "tours/shop.yaml"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "tours/shop.yaml", f.tourPath)
	assert.True(t, f.debug)

	f, err = parseFlags([]string{"-tour", "a.json", "b.json"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "a.json", f.tourPath)

	_, err = parseFlags([]string{"-width", "wide"}, io.Discard)
	assert.Error(t, err)
}

func TestMCPFlags(t *testing.T) {
	f, err := parseFlags([]string{"-mcp", "-sse-port", "8099", "-stop-on-error"}, io.Discard)
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	f.apply(&cfg)
	assert.True(t, f.mcp)
	assert.Equal(t, 8099, cfg.MCP.SSEPort)
	assert.True(t, cfg.Tour.StopOnError)
}

func TestWriteResult(t *testing.T) {
	result := runner.Result{"title": "Lamp", "tags": []string{"a", "b"}}

	var buf bytes.Buffer
	require.NoError(t, writeResult("", result, &buf))
	assert.JSONEq(t, `{"title":"Lamp","tags":["a","b"]}`, buf.String())

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, writeResult(path, result, &buf))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Lamp","tags":["a","b"]}`, string(data))

	assert.Error(t, writeResult(filepath.Join(t.TempDir(), "missing", "out.json"), result, &buf))
}

func TestRunRejectsBadTourBeforeBrowser(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mangle.Enable = false
	cfg.Recorder.Enable = false

	noRoot := filepath.Join(t.TempDir(), "tour.json")
	require.NoError(t, os.WriteFile(noRoot, []byte(`{"https://a/": {"click": "#x"}}`), 0o644))

	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.json"), noRoot} {
		// A browser launch would fail on the cancelled context with a different error.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := run(ctx, cfg, &flags{tourPath: path, set: map[string]bool{}}, zap.NewNop())
		require.Error(t, err, path)
		assert.True(t, tour.IsConfigurationError(err), "%s: %v", path, err)
	}
}
