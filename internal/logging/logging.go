// Package logging extends the teacher's single structured logger
// (internal/logger) with the three-stream split the original Python
// implementation's monitor/logger.py configures: a general app log, an
// errors-only log, and a separate trades log for order/fill events that
// operators tail independently of application chatter. Init returns two
// log/slog loggers, App and Trade; the errors-only stream is a branch of
// App, so callers pass structured attributes the same way regardless of
// which stream they're writing to.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Loggers bundles the two loggers Init sets up; App also writes ERROR
// records to errors.log.
type Loggers struct {
	App   *slog.Logger
	Trade *slog.Logger
}

// Config configures Init.
type Config struct {
	Service    string
	Level      slog.Level
	LogDir     string
	JSONFormat bool
}

// Init creates the app/trades/errors log files under cfg.LogDir (creating
// the directory if needed), wires the app logger to stdout plus app.log
// plus errors.log (errors.log filtered to slog.LevelError and above), and
// the trade logger to trades.log only. It sets the app logger as the
// slog default so package-level slog.Info/Error calls also land there.
func Init(cfg Config) (*Loggers, error) {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}

	appFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "app.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open app.log: %w", err)
	}
	errFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "errors.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open errors.log: %w", err)
	}
	tradeFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "trades.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open trades.log: %w", err)
	}

	newHandler := func(w io.Writer, level slog.Leveler) slog.Handler {
		opts := &slog.HandlerOptions{Level: level}
		if cfg.JSONFormat {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	app := slog.New(fanoutHandler{
		newHandler(os.Stdout, cfg.Level),
		newHandler(appFile, cfg.Level),
		newHandler(errFile, slog.LevelError),
	}).With(slog.String("service", cfg.Service))

	trade := slog.New(newHandler(tradeFile, slog.LevelInfo)).With(slog.String("stream", "trades"))

	slog.SetDefault(app)

	return &Loggers{App: app, Trade: trade}, nil
}

// fanoutHandler dispatches every record to each underlying handler whose
// own level allows it, so app.log and errors.log can apply different
// level floors from a single log call site.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from a run ID and timestamp.
func GenerateTraceID(runID string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", runID, ts.UnixNano())
}

// WithTrace returns slog attributes including the trace ID from context,
// or nil if none is set. Usage: logger.Info("msg", logging.WithTrace(ctx)...)
func WithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
