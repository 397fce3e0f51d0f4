package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInit_CreatesThreeLogFiles(t *testing.T) {
	dir := t.TempDir()
	loggers, err := Init(Config{Service: "ktrader", Level: slog.LevelInfo, LogDir: dir, JSONFormat: true})
	require.NoError(t, err)

	loggers.App.Info("startup complete")
	loggers.App.Error("boom")
	loggers.Trade.Info("order filled", "order_id", "ORD-1", "symbol", "005930")

	for _, name := range []string{"app.log", "errors.log", "trades.log"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		require.Greater(t, info.Size(), int64(0))
	}
}

func TestWithTraceID_RoundTrips(t *testing.T) {
	ctx := WithTraceID(context.Background(), "abc-123")
	require.Equal(t, "abc-123", TraceID(ctx))
	require.Equal(t, "", TraceID(context.Background()))
}

func TestGenerateTraceID_IsDeterministicFormat(t *testing.T) {
	ts, err := time.Parse(time.RFC3339, "2026-07-30T09:00:00Z")
	require.NoError(t, err)
	id := GenerateTraceID("RUN-1", ts)
	require.Contains(t, id, "RUN-1-")
}
