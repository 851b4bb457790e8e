package logging

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: level, Output: &buf, TimeFormat: time.RFC3339})
	require.NoError(t, err)
	return logger, &buf
}

func TestZapAdapter_Levels(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	logger.Debug("grid parsed", Int("rows", 12))
	logger.Info("engine started", String("provider", "apex"))
	logger.Warn("proxy failed", Bool("breaker_open", true))
	logger.Error("poll cycle failed", errors.New("all proxies failed"), Duration("interval", 4*time.Second))

	out := buf.String()
	for _, want := range []string{"DEBUG", "grid parsed", "INFO", "engine started", "WARN", "proxy failed", "ERROR", "all proxies failed", "4000"} {
		assert.Contains(t, out, want)
	}
}

func TestZapAdapter_Filtering(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible warn")
}

func TestZapAdapter_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	child := logger.WithFields(String("component", "racefacer"), Int("proxies", 3))
	child.Info("polling")

	assert.Contains(t, buf.String(), "racefacer")
	assert.Contains(t, buf.String(), "proxies")
	assert.Same(t, logger, logger.WithFields())
}

func TestZapAdapter_WithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	assert.Same(t, logger, logger.WithContext(context.Background()))

	ctx := ContextWithSession(context.Background(), "sess-42", "https://live.racefacer.com/demo")
	logger.WithContext(ctx).Info("update emitted")

	assert.Contains(t, buf.String(), "sess-42")
	assert.Contains(t, buf.String(), "live.racefacer.com/demo")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, DebugLevel, ParseLevel(" Debug "))
	assert.Equal(t, "WARN", WarnLevel.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestInitGlobalLogger_File(t *testing.T) {
	previous := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(previous) })

	path := filepath.Join(t.TempDir(), "timing.log")
	require.NoError(t, InitGlobalLogger("debug", path))

	Info("written to file")
	MustSync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Logger initialized")
	assert.Contains(t, string(data), "written to file")
}

func TestInitGlobalLogger_BadPath(t *testing.T) {
	err := InitGlobalLogger("info", filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Error("ignored", errors.New("boom"))
	assert.NotNil(t, logger.WithFields(String("k", "v")))
}
