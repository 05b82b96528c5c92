package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewZapLoggerRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etcd-client.log")

	logger, err := NewZapLogger(Options{
		Level:    zap.InfoLevel,
		Outputs:  []string{path},
		Rotation: &Rotation{MaxSizeMB: 1, MaxBackups: 2},
	})
	require.NoError(t, err)
	logger.Info("watch established", zap.String("endpoint", "https://10.0.0.11:2379"))
	logger.Debug("not written")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	require.Equal(t, "info", line["level"])
	require.Equal(t, "watch established", line["msg"])
	require.Equal(t, "https://10.0.0.11:2379", line["endpoint"])

	// the sink can be set up again for another logger
	_, err = NewZapLogger(Options{Outputs: []string{filepath.Join(t.TempDir(), "other.log")}, Rotation: &Rotation{}})
	require.NoError(t, err)
}

func TestNewZapLoggerRotationOutputs(t *testing.T) {
	tests := []struct {
		name    string
		outputs []string
	}{
		{name: "no file", outputs: []string{StdErrOutput}},
		{name: "two files", outputs: []string{"/tmp/a.log", "/tmp/b.log"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewZapLogger(Options{Outputs: tt.outputs, Rotation: &Rotation{}})
			require.ErrorIs(t, err, ErrRotationInvalidOutput)
		})
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	require.Equal(t, zapcore.InfoLevel, LevelFromVerbosity(0))
	require.Equal(t, zapcore.InfoLevel, LevelFromVerbosity(2))
	require.Equal(t, zapcore.WarnLevel, LevelFromVerbosity(3))
	require.Equal(t, zapcore.DebugLevel, LevelFromVerbosity(6))
}
