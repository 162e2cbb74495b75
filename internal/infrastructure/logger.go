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

	"stagectl/internal/config"
)

var (
	globalMu     sync.Mutex
	globalLogger *slog.Logger
	globalFile   *os.File
)

// InitializeLogger builds the process-wide logger from cfg and installs it
// as the slog default. Later calls return the first logger unchanged, so a
// worker process and its parent each configure logging exactly once.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger != nil {
		return globalLogger, nil
	}
	w, file, err := openOutput(cfg, os.Stdout)
	if err != nil {
		return nil, err
	}
	globalFile = file
	globalLogger = newLogger(cfg, w, parseLogLevel(cfg.Level) == slog.LevelDebug)
	slog.SetDefault(globalLogger)
	return globalLogger, nil
}

// GetLogger returns the process-wide logger, or slog's default before
// InitializeLogger has run.
func GetLogger() *slog.Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// NewLogger builds a standalone logger writing to w. The global logger is
// left alone.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	return newLogger(cfg, w, false)
}

func newLogger(cfg config.LoggingConfig, w io.Writer, addSource bool) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: addSource, Level: parseLogLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(&correlationHandler{Handler: h})
}

// openOutput resolves the configured destination. The returned file, when
// not nil, is owned by the caller.
func openOutput(cfg config.LoggingConfig, stdout io.Writer) (io.Writer, *os.File, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file", "both":
		file, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		if strings.EqualFold(cfg.Output, "both") {
			return io.MultiWriter(stdout, file), file, nil
		}
		return file, file, nil
	}
	return stdout, nil, nil
}

// correlationHandler stamps every record with the invocation, worker,
// request and trace ids found in the record's context.
type correlationHandler struct {
	slog.Handler
}

func (h *correlationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.Handler.Handle(ctx, r)
}

func (h *correlationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &correlationHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *correlationHandler) WithGroup(name string) slog.Handler {
	return &correlationHandler{Handler: h.Handler.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// CloseLogFile closes the log file opened by InitializeLogger, if any.
func CloseLogFile() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalFile == nil {
		return nil
	}
	err := globalFile.Close()
	globalFile = nil
	return err
}

// ResetLoggerForTesting drops the process-wide logger so the next
// InitializeLogger call configures a new one.
func ResetLoggerForTesting() {
	CloseLogFile()
	globalMu.Lock()
	globalLogger = nil
	globalMu.Unlock()
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}
