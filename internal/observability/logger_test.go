// File: internal/observability/logger_test.go
package observability

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
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/portalpilot/internal/config"
)

func TestInitializeConsole(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "portalpilot"}, zapcore.AddSync(&buf))

	GetLogger().Named("probe").Info("probe finished", zap.Int("status", 200))

	out := buf.String()
	assert.Contains(t, out, levelColors[zapcore.InfoLevel]+"INFO"+colorReset)
	assert.Contains(t, out, "portalpilot.probe.")
	assert.Contains(t, out, "probe finished")
	assert.Contains(t, out, `"status": 200`)
}

func TestInitializeJSONAndFile(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	logFile := filepath.Join(t.TempDir(), "run.log")
	var buf bytes.Buffer
	Initialize(config.LoggerConfig{
		Level:       "warn",
		Format:      "json",
		ServiceName: "svc",
		LogFile:     logFile,
		MaxSize:     1,
	}, zapcore.AddSync(&buf))

	logger := GetLogger()
	logger.Info("filtered out")
	logger.Warn("kept", zap.String("run_id", "abc"))
	Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "svc", entry["logger"])
	assert.Equal(t, "abc", entry["run_id"])

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"kept"`)
	assert.NotContains(t, string(data), "filtered out")
}

func TestInitializeOnlyOnce(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	var first, second bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&second))

	GetLogger().Info("hello")
	assert.Contains(t, first.String(), "hello")
	assert.Empty(t, second.String())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{Level: "loud", Format: "json"}, zapcore.AddSync(&buf))
	GetLogger().Debug("hidden")
	GetLogger().Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestGetLoggerFallbackAndForRun(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)

	var buf bytes.Buffer
	base := zap.New(zapcore.NewCore(newEncoder("json"), zapcore.AddSync(&buf), zap.DebugLevel))
	ForRun(base, "run-42").Info("step")
	assert.Contains(t, buf.String(), `"run_id":"run-42"`)
}
