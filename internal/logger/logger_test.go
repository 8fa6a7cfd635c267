package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(Config{Level: "verbose", Encoding: "console"})
	require.NoError(t, err)

	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(Config{Level: "debug", Encoding: "xml", OutputPath: path})
	require.NoError(t, err)

	log.Debug("hello")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.HasPrefix(line, "{"), "unknown encoding should fall back to json")
	assert.Contains(t, line, `"level":"DEBUG"`)
	assert.Contains(t, line, `"timestamp"`)
}

func TestNew_AddsServiceFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(Config{OutputPath: path, Service: "storyteller-server", Version: "1.2.3"})
	require.NoError(t, err)

	log.Info("started")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"storyteller-server"`)
	assert.Contains(t, string(data), `"version":"1.2.3"`)
}

func TestNew_DevelopmentPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.log")
	log, err := New(Config{Env: "development", OutputPath: path})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel), "development defaults to debug")

	log.Debug("dev line")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.False(t, strings.HasPrefix(line, "{"), "development defaults to console encoding")
	assert.Contains(t, line, "logger_test.go", "development adds the caller")
}

func TestNew_ProductionDefaultsToInfo(t *testing.T) {
	log, err := New(Config{Env: "production"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}
