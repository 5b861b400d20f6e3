package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLogGrpcRequest(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf})

	l.LogGrpcRequest("/schedver.v1.VersioningService/GetHead", 3*time.Millisecond, nil)
	entry := lastEntry(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "grpc", entry["component"])
	assert.Equal(t, "schedver", entry["service"])

	l.LogGrpcRequest("/schedver.v1.VersioningService/GetHead", time.Millisecond, errors.New("boom"))
	entry = lastEntry(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.Info("ignored").Send()
	assert.Zero(t, buf.Len())

	l.Warn("kept").Send()
	assert.Equal(t, "kept", lastEntry(t, &buf)["msg"])
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Output: &buf})

	eng := l.EngineLogger()
	eng.Info().Msg("engine")
	assert.Equal(t, "engine", lastEntry(t, &buf)["component"])

	l.StorageLogger("badger").Info().Msg("storage")
	entry := lastEntry(t, &buf)
	assert.Equal(t, "storage", entry["component"])
	assert.Equal(t, "badger", entry["backend"])

	l.LogReconcile(2, 1, 3, nil)
	entry = lastEntry(t, &buf)
	assert.Equal(t, "reconcile", entry["event"])
	assert.Equal(t, float64(3), entry["discarded"])
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().LogServerShutdown()
		Nop().Error("x").Send()
	})
}
