package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// LogRecord represents a captured log record
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogCapture is a slog.Handler that keeps every record, including attrs
// bound with Logger.With, so tests can assert on structured events.
type LogCapture struct {
	mu      *sync.Mutex
	records *[]LogRecord
	bound   []slog.Attr
	t       *testing.T
}

// NewTestLogger returns a logger writing into a fresh LogCapture
func NewTestLogger(t *testing.T) (*slog.Logger, *LogCapture) {
	h := &LogCapture{mu: &sync.Mutex{}, records: &[]LogRecord{}, t: t}
	return slog.New(h), h
}

// Handle implements slog.Handler
func (h *LogCapture) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.bound)+r.NumAttrs())
	for _, a := range h.bound {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, LogRecord{Time: r.Time, Level: r.Level, Message: r.Message, Attrs: attrs})
	h.mu.Unlock()

	if h.t != nil {
		h.t.Logf("[%s] %s %v", r.Level, r.Message, attrs)
	}
	return nil
}

// Enabled implements slog.Handler
func (h *LogCapture) Enabled(context.Context, slog.Level) bool {
	return true
}

// WithAttrs implements slog.Handler
func (h *LogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.bound = append(append([]slog.Attr{}, h.bound...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler; groups are flattened.
func (h *LogCapture) WithGroup(string) slog.Handler {
	return h
}

// Records returns a copy of the captured records
func (h *LogCapture) Records() []LogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LogRecord(nil), *h.records...)
}

// Find returns the records whose message equals msg
func (h *LogCapture) Find(msg string) []LogRecord {
	var out []LogRecord
	for _, r := range h.Records() {
		if r.Message == msg {
			out = append(out, r)
		}
	}
	return out
}

// AssertLogContains fails unless a record at level contains message
func AssertLogContains(t *testing.T, h *LogCapture, level slog.Level, message string) {
	t.Helper()
	for _, r := range h.Records() {
		if r.Level == level && strings.Contains(r.Message, message) {
			return
		}
	}
	t.Errorf("expected %s log %q not found", level, message)
}

// AssertLogAttr fails unless some record named msg carries key=value
func AssertLogAttr(t *testing.T, h *LogCapture, msg, key string, value any) {
	t.Helper()
	for _, r := range h.Find(msg) {
		if v, ok := r.Attrs[key]; ok && v == value {
			return
		}
	}
	t.Errorf("expected log %q with %s=%v", msg, key, value)
}

// AssertNoErrors fails when any error-level record was captured
func AssertNoErrors(t *testing.T, h *LogCapture) {
	t.Helper()
	for _, r := range h.Records() {
		if r.Level >= slog.LevelError {
			t.Errorf("unexpected error log %s: %v", r.Message, r.Attrs)
		}
	}
}
