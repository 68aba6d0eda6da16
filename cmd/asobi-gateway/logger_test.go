// ABOUTME: Tests for the colorized slog handler and logger setup
// ABOUTME: Colors are disabled so output can be matched as plain text

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/asobi-gateway/internal/config"
)

func withoutColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestColorHandler_Format(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.With("component", "gateway").Info("invite created", "email", "a@x.com")

	line := buf.String()
	assert.Contains(t, line, "INF invite created")
	assert.Contains(t, line, " component=gateway")
	assert.Contains(t, line, " email=a@x.com")
	assert.Less(t, strings.Index(line, "component="), strings.Index(line, "email="))
}

func TestColorHandler_LevelFilter(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("also shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "WRN shown")
	assert.Contains(t, buf.String(), "ERR also shown")
}

func TestColorHandler_Groups(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

	logger.WithGroup("req").Debug("done", "status", 200, slog.Group("peer", "ip", "10.0.0.1"))

	assert.Contains(t, buf.String(), "DBG done")
	assert.Contains(t, buf.String(), " req.status=200")
	assert.Contains(t, buf.String(), " req.peer.ip=10.0.0.1")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "v", entry["k"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("whatever"))
}
