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

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kassa.log")

	log, err := New(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	log.Debug("dropped")
	log.Info("receipt closed")
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.True(t, strings.Contains(out, `"msg":"receipt closed"`), out)
	assert.False(t, strings.Contains(out, "dropped"))
}

func TestForEnvironment(t *testing.T) {
	assert.Equal(t, "json", ForEnvironment("production").Format)
	assert.Equal(t, "console", ForEnvironment("development").Format)
}
