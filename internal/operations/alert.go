package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Alert is one notification raised by an alert stage
type Alert struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Record    Record    `json:"record,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Endpoint receives alerts. Endpoints implementing Opener or io.Closer are
// opened before the run and closed after it.
type Endpoint interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Opener is implemented by endpoints that acquire resources before use
type Opener interface {
	Open(ctx context.Context) error
}

// LogEndpoint writes alerts to a structured logger
type LogEndpoint struct {
	Logger *slog.Logger
}

func (e *LogEndpoint) Name() string { return "log" }

// Notify logs the alert at warn level
func (e *LogEndpoint) Notify(ctx context.Context, a Alert) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "alert_raised",
		slog.String("stage", a.Stage),
		slog.String("message", a.Message),
		slog.Time("created_at", a.CreatedAt))
	return nil
}

// FileEndpoint appends alerts as JSON lines to Path
type FileEndpoint struct {
	Path string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func (e *FileEndpoint) Name() string { return "file:" + e.Path }

// Open creates the file and its directory
func (e *FileEndpoint) Open(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(e.Path), 0755); err != nil {
		return fmt.Errorf("create alert directory: %w", err)
	}
	f, err := os.OpenFile(e.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open alert file: %w", err)
	}
	e.file = f
	e.enc = json.NewEncoder(f)
	return nil
}

// Notify writes one JSON line
func (e *FileEndpoint) Notify(ctx context.Context, a Alert) error {
	if err := e.Open(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(a)
}

// Close closes the file
func (e *FileEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file, e.enc = nil, nil
	return err
}

// AlertBase is embedded by alert stages. It inspects records without
// writing them back and fans raised alerts out to its endpoints.
type AlertBase struct {
	BaseStage
	endpoints []Endpoint
	sent      int
}

// NewAlertBase creates an alert base bound to b
func NewAlertBase(name string, b Binding, query *Query, endpoints ...Endpoint) AlertBase {
	return AlertBase{
		BaseStage: NewBaseStage(name, b, query),
		endpoints: endpoints,
	}
}

// Setup opens the endpoints
func (a *AlertBase) Setup(ctx context.Context) error {
	for _, ep := range a.endpoints {
		if o, ok := ep.(Opener); ok {
			if err := o.Open(ctx); err != nil {
				return fmt.Errorf("endpoint %s: %w", ep.Name(), err)
			}
		}
	}
	return nil
}

// Teardown closes the endpoints
func (a *AlertBase) Teardown(context.Context, error) error {
	var errs []error
	for _, ep := range a.endpoints {
		if c, ok := ep.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Emit sends an alert about obj to every endpoint
func (a *AlertBase) Emit(ctx context.Context, message string, obj Record) error {
	alert := Alert{
		Stage:     a.Name(),
		Message:   message,
		Record:    obj,
		CreatedAt: time.Now().UTC(),
	}
	for _, ep := range a.endpoints {
		if err := ep.Notify(ctx, alert); err != nil {
			return fmt.Errorf("endpoint %s: %w", ep.Name(), err)
		}
	}
	a.sent++
	return nil
}

// Sent returns the number of alerts emitted so far
func (a *AlertBase) Sent() int {
	return a.sent
}

// Save is a no-op: alerts never write the records they inspect
func (a *AlertBase) Save(Record) error {
	return nil
}
