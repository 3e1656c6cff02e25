package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wesleyorama2/vurun/internal/config"
)

func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	buf := new(bytes.Buffer)
	initializeLogger(cfg, zapcore.AddSync(buf))
	return buf
}

// resetGlobalLogger restores the singleton between tests.
func resetGlobalLogger() {
	once = sync.Once{}
	globalLogger.Store(nil)
}

func TestInitializeLogger(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		resetGlobalLogger()
		prev := color.NoColor
		color.NoColor = false
		defer func() { color.NoColor = prev }()

		buf := setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "vurun"})

		GetLogger().Info("console message")
		Sync()

		out := buf.String()
		assert.Contains(t, out, "INFO")
		assert.Contains(t, out, "console message")
		assert.Contains(t, out, "\x1b[32m", "info level should be green")
	})

	t.Run("json logger", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"})

		GetLogger().Warn("json message", zap.String("key", "value"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "json message", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("level filtering", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "warning", Format: "json"})

		GetLogger().Info("hidden")
		GetLogger().Error("shown")
		Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("log file", func(t *testing.T) {
		resetGlobalLogger()
		path := filepath.Join(t.TempDir(), "vurun.log")

		setupTestLogger(config.LoggerConfig{Level: "debug", Format: "json", LogFile: path, MaxSize: 1})
		GetLogger().Error("to the file")
		Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "to the file")
	})

	t.Run("initialize only once", func(t *testing.T) {
		resetGlobalLogger()
		first := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json"})
		second := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json"})

		GetLogger().Info("once")
		Sync()

		assert.Contains(t, first.String(), "once")
		assert.Empty(t, second.String())
	})
}

func TestGetLogger_Fallback(t *testing.T) {
	resetGlobalLogger()
	assert.NotNil(t, GetLogger())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"error":   zapcore.ErrorLevel,
		"warning": zapcore.WarnLevel,
		"INFO":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"trace":   zapcore.DebugLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "json", zapcore.DebugLevel)
	l.Debug("standalone")
	assert.True(t, strings.Contains(buf.String(), "standalone"))
}
