package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"stagectl/internal/db"
)

// RunnerState is the lifecycle state of a Runner
type RunnerState string

const (
	RunnerIdle    RunnerState = "idle"
	RunnerBound   RunnerState = "bound"
	RunnerRunning RunnerState = "running"
	RunnerDone    RunnerState = "done"
	RunnerFailed  RunnerState = "failed"
)

// RunStats counts the records a run went through
type RunStats struct {
	Generated int `json:"generated"`
	Derived   int `json:"derived"`
	Saved     int `json:"saved"`
}

// Runner drives one stage class to completion inside one scoped session.
// A Runner is bound once and run once.
type Runner struct {
	mu       sync.Mutex
	state    RunnerState
	class    *StageClass
	err      error
	stats    RunStats
	phase    string
	sessions db.Sessions

	partition Partition
	logger    *slog.Logger
	tracer    *StageTracer
	limiter   *rate.Limiter
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithLogger sets the runner logger
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer attaches span and metric recording
func WithTracer(tracer *StageTracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithPartition restricts the run to one replica partition
func WithPartition(p Partition) RunnerOption {
	return func(r *Runner) {
		if p.Total >= 1 && p.Index >= 0 && p.Index < p.Total {
			r.partition = p
		}
	}
}

// WithRateLimit throttles the pipeline to perSecond records. A burst below
// one is raised to one.
func WithRateLimit(perSecond float64, burst int) RunnerOption {
	return func(r *Runner) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewRunner creates an idle runner drawing sessions from sessions
func NewRunner(sessions db.Sessions, opts ...RunnerOption) *Runner {
	r := &Runner{
		state:     RunnerIdle,
		sessions:  sessions,
		partition: SinglePartition,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Setup binds the stage class the runner will execute
func (r *Runner) Setup(class *StageClass) error {
	if err := class.Check(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RunnerIdle {
		return NewInvalidStateError(class.Name, r.state, "bind")
	}
	r.class = class
	r.state = RunnerBound
	return nil
}

// Run executes the bound stage. The session is released on every path:
// committed when the pipeline succeeds, rolled back otherwise. A panic in
// the stage is returned as a pipeline error.
func (r *Runner) Run(ctx context.Context) (err error) {
	r.mu.Lock()
	if r.state != RunnerBound {
		state := r.state
		name := ""
		if r.class != nil {
			name = r.class.Name
		}
		r.mu.Unlock()
		return NewInvalidStateError(name, state, "run")
	}
	r.state = RunnerRunning
	class := r.class
	r.mu.Unlock()

	logger := r.logger.With(
		slog.String("stage", class.Name),
		slog.String("kind", string(class.Kind)),
		slog.Int("replica", r.partition.Index),
		slog.Int("replicas", r.partition.Total),
	)

	start := time.Now()
	ctx, span := r.tracer.StartRun(ctx, class, r.partition)
	logger.InfoContext(ctx, "stage_start")
	defer func() { r.finish(ctx, logger, span, class, start, err) }()

	if r.sessions == nil {
		return NewPipelineError(class.Name, PhaseSession, errors.New("no session provider"))
	}
	sess, err := r.sessions.Acquire(ctx)
	if err != nil {
		return NewPipelineError(class.Name, PhaseSession, err)
	}
	defer func() {
		if relErr := sess.Release(err); relErr != nil && err == nil {
			err = NewPipelineError(class.Name, PhaseSession, relErr)
		}
	}()
	// registered after the release so that it runs first
	defer func() {
		if p := recover(); p != nil {
			logger.ErrorContext(ctx, "stage_panic", slog.Any("panic", p))
			err = NewPipelineError(class.Name, r.phase, fmt.Errorf("panic: %v", p))
		}
	}()

	return r.execute(ctx, logger, class, sess)
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, class *StageClass, sess db.Session) (err error) {
	r.phase = PhaseSetup
	stage, err := class.New(Binding{Session: sess, Partition: r.partition, Logger: logger})
	if err != nil {
		return WrapError(err, class.Name, PhaseSetup)
	}
	if stage == nil {
		return NewPipelineError(class.Name, PhaseSetup, errors.New("factory returned a nil stage"))
	}

	if h, ok := stage.(SetupHook); ok {
		if err := h.Setup(ctx); err != nil {
			return WrapError(err, class.Name, PhaseSetup)
		}
	}

	err = r.pipeline(ctx, class.Name, stage)

	if h, ok := stage.(TeardownHook); ok {
		r.phase = PhaseTeardown
		if tErr := h.Teardown(ctx, err); tErr != nil && err == nil {
			err = WrapError(tErr, class.Name, PhaseTeardown)
		}
	}
	return err
}

// pipeline runs validate, process, then validate and save of every derived
// record, then save of the original, for each generated record in order.
func (r *Runner) pipeline(ctx context.Context, name string, stage Stage) error {
	r.phase = PhaseGenerate
	records, err := stage.Generate(ctx)
	if err != nil {
		return WrapError(err, name, PhaseGenerate)
	}

	for obj, err := range records {
		r.phase = PhaseGenerate
		if err != nil {
			return WrapError(err, name, PhaseGenerate)
		}
		if err := ctx.Err(); err != nil {
			return NewPipelineError(name, PhaseGenerate, err)
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return NewPipelineError(name, PhaseGenerate, err)
			}
		}
		r.stats.Generated++

		if err := r.handle(ctx, name, stage, obj); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) handle(ctx context.Context, name string, stage Stage, obj Record) error {
	r.phase = PhaseValidate
	if err := stage.Validate(obj); err != nil {
		return WrapError(err, name, PhaseValidate)
	}

	r.phase = PhaseProcess
	derived, err := stage.Process(ctx, obj)
	if err != nil {
		return WrapError(err, name, PhaseProcess)
	}

	for d := range derived.All() {
		r.phase = PhaseValidate
		if err := stage.Validate(d); err != nil {
			return WrapError(err, name, PhaseValidate)
		}
		r.phase = PhaseSave
		if err := stage.Save(d); err != nil {
			return WrapError(err, name, PhaseSave)
		}
		r.stats.Derived++
		r.stats.Saved++
	}

	r.phase = PhaseSave
	if err := stage.Save(obj); err != nil {
		return WrapError(err, name, PhaseSave)
	}
	r.stats.Saved++
	return nil
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, span trace.Span, class *StageClass, start time.Time, err error) {
	duration := time.Since(start)

	r.mu.Lock()
	r.err = err
	if err != nil {
		r.state = RunnerFailed
	} else {
		r.state = RunnerDone
	}
	stats := r.stats
	r.mu.Unlock()

	r.tracer.EndRun(ctx, span, class, duration, stats, err)

	if err != nil {
		logger.ErrorContext(ctx, "stage_failed",
			slog.String("error", err.Error()),
			slog.String("error_type", string(GetErrorType(err))),
			slog.Duration("duration", duration))
		return
	}
	logger.InfoContext(ctx, "stage_complete",
		slog.Int("records_generated", stats.Generated),
		slog.Int("records_derived", stats.Derived),
		slog.Int("records_saved", stats.Saved),
		slog.Duration("duration", duration))
}

// State returns the current lifecycle state
func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Class returns the bound stage class, nil while idle
func (r *Runner) Class() *StageClass {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.class
}

// Err returns the error the run ended with
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stats returns the record counters; they are final once Run returns
func (r *Runner) Stats() RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ExitCode is 0 only after a successful run
func (r *Runner) ExitCode() int {
	if r.State() == RunnerDone {
		return ExitSuccess
	}
	return ExitFailure
}
