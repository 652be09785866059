package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"quantumlic/internal/config"
)

// The process-wide logger. Initialized once; later calls return the same
// instance so every component logs through the same handler chain.
var (
	globalLogger *slog.Logger
	loggerOnce   sync.Once

	logFileMu sync.Mutex
	logFile   *os.File
)

type ctxKey int

const traceIDKey ctxKey = iota

// redactedKeys are attribute keys whose values never reach a log line no
// matter who logs them. Call sites that need a loggable token reference use
// the prefix form instead.
var redactedKeys = map[string]struct{}{
	"token":         {},
	"authorization": {},
	"passphrase":    {},
	"secret":        {},
}

// InitializeLogger builds the process logger from config and installs it as
// the slog default. The first call wins; repeated calls return the existing
// logger, which keeps parallel test setup harmless. Output is always JSON so
// log shippers never have to guess the format.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var err error
	loggerOnce.Do(func() {
		var w io.Writer
		w, err = logWriter(cfg)
		if err != nil {
			return
		}
		inner := slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource: true,
			Level:     parseLevel(cfg.Level),
		})
		globalLogger = slog.New(&guardHandler{inner: inner})
		slog.SetDefault(globalLogger)
	})
	if err != nil {
		return nil, err
	}
	if globalLogger == nil {
		return nil, fmt.Errorf("logger initialization previously failed")
	}
	return globalLogger, nil
}

// logWriter resolves the configured output mode. File modes open the log
// file up front so a bad path fails the boot instead of the first write.
func logWriter(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "file":
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "both":
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return io.MultiWriter(os.Stdout, f), nil
	default:
		return os.Stdout, nil
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	logFileMu.Lock()
	logFile = f
	logFileMu.Unlock()
	return f, nil
}

// guardHandler decorates every record on its way out: the request trace id
// is injected from context, and attributes under redactedKeys are masked
// even when a call site slips one through.
type guardHandler struct {
	inner slog.Handler
}

func (h *guardHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *guardHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	if traceID := GetTraceID(ctx); traceID != "" {
		out.AddAttrs(slog.String("trace_id", traceID))
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(scrub(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *guardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = scrub(a)
	}
	return &guardHandler{inner: h.inner.WithAttrs(scrubbed)}
}

func (h *guardHandler) WithGroup(name string) slog.Handler {
	return &guardHandler{inner: h.inner.WithGroup(name)}
}

// scrub masks redacted keys, descending into grouped attributes.
func scrub(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		scrubbed := make([]slog.Attr, len(members))
		for i, m := range members {
			scrubbed[i] = scrub(m)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(scrubbed...)}
	}
	if _, sensitive := redactedKeys[strings.ToLower(a.Key)]; sensitive {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// WithTraceID returns a context carrying the request trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace id carried by ctx, or "".
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CloseLogFile closes the log file opened by InitializeLogger. Called during
// graceful shutdown and between tests.
func CloseLogFile() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// ResetLoggerForTesting clears the global logger state so a test can
// initialize its own configuration. Never called outside tests.
func ResetLoggerForTesting() {
	CloseLogFile()
	globalLogger = nil
	loggerOnce = sync.Once{}
}
