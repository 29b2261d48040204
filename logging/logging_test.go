package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/pevans/asinscan/config"
)

func TestLevelFor(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, levelFor(config.LogConfig{}))
	assert.Equal(t, zapcore.WarnLevel, levelFor(config.LogConfig{Level: "WARN"}))
	assert.Equal(t, zapcore.InfoLevel, levelFor(config.LogConfig{Level: "chatty"}))
	assert.Equal(t, zapcore.DebugLevel, levelFor(config.LogConfig{Level: "error", Debug: true}),
		"debug mode should override the configured level")
}

// TestNew_DebugEnablesDebugLevel verifies the debug flag reaches the core
func TestNew_DebugEnablesDebugLevel(t *testing.T) {
	logger, err := New(config.LogConfig{Level: "info", Debug: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New(config.LogConfig{Level: "info"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

// TestNew_WritesFile verifies the rotating file sink receives output
func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asinscan.log")

	logger, err := New(config.LogConfig{Level: "info", Encoding: "json", File: path})
	require.NoError(t, err)

	logger.Info("scan finished")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "scan finished")
}
