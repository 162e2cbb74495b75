package operations

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"stagectl/internal/db"
)

// ExecutionResult is the terminal status of one worker
type ExecutionResult struct {
	HandleID string        `json:"handle_id"`
	Stage    string        `json:"stage"`
	Replica  int           `json:"replica"`
	Status   int           `json:"status"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports a zero exit status
func (r ExecutionResult) Succeeded() bool {
	return r.Status == ExitSuccess
}

// Aggregate folds worker statuses into the invocation status by summing them
func Aggregate(results []ExecutionResult) int {
	total := 0
	for _, r := range results {
		total += r.Status
	}
	return total
}

// Dispatcher fans a SelectionSet out to runners and collapses their results
// into one exit status.
type Dispatcher struct {
	sessions   db.Sessions
	spawner    Spawner
	tracker    *Tracker
	tracer     *StageTracer
	logger     *slog.Logger
	config     *Config
	runnerOpts []RunnerOption
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets the dispatcher logger; runners inherit it
func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTracker records worker states in t
func WithTracker(t *Tracker) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracker = t
	}
}

// WithDispatchTracer records spans and metrics
func WithDispatchTracer(tracer *StageTracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// WithDispatchConfig applies a dispatch configuration
func WithDispatchConfig(cfg *Config) DispatcherOption {
	return func(d *Dispatcher) {
		if cfg != nil {
			d.config = cfg
		}
	}
}

// WithRunnerOptions adds options for synchronous runners
func WithRunnerOptions(opts ...RunnerOption) DispatcherOption {
	return func(d *Dispatcher) {
		d.runnerOpts = append(d.runnerOpts, opts...)
	}
}

// NewDispatcher creates a dispatcher. spawner may be nil when only
// synchronous dispatch is used.
func NewDispatcher(sessions db.Sessions, spawner Spawner, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sessions: sessions,
		spawner:  spawner,
		tracker:  NewTracker(),
		logger:   slog.Default(),
		config:   NewConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Tracker returns the worker state tracker
func (d *Dispatcher) Tracker() *Tracker {
	return d.tracker
}

// Dispatch runs the set. In synchronous mode the first failing class aborts
// the invocation and its error is returned with ExitFailure. In asynchronous
// mode every worker is joined and the status is the sum of their statuses;
// a non-zero sum comes with an aggregate error.
func (d *Dispatcher) Dispatch(ctx context.Context, set *SelectionSet, sync bool) (int, error) {
	d.logger.InfoContext(ctx, "dispatch_start",
		slog.String("kind", string(set.Kind())),
		slog.Any("stages", set.Names()),
		slog.Bool("sync", sync),
		slog.Int("workers", d.workerCount(set, sync)))

	if sync {
		if err := d.RunSync(ctx, set); err != nil {
			return ExitFailure, err
		}
		d.logger.InfoContext(ctx, "dispatch_complete", slog.Int("status", ExitSuccess))
		return ExitSuccess, nil
	}

	results := d.Join(ctx, d.Start(ctx, set))
	status := Aggregate(results)
	if status != ExitSuccess {
		d.logger.WarnContext(ctx, "dispatch_failed",
			slog.Int("status", status),
			slog.Int("workers", len(results)))
		return status, NewAggregateError(status, len(results))
	}
	d.logger.InfoContext(ctx, "dispatch_complete",
		slog.Int("status", status),
		slog.Int("workers", len(results)))
	return status, nil
}

func (d *Dispatcher) workerCount(set *SelectionSet, sync bool) int {
	if sync {
		return set.Len()
	}
	return set.TotalWorkers()
}

// RunSync runs each class inline, in order, on a single partition
func (d *Dispatcher) RunSync(ctx context.Context, set *SelectionSet) error {
	for _, class := range set.Classes() {
		w := NewWorker(class, 0, 1)
		state := d.tracker.Add(w, "sync")

		opts := append(slices.Clone(d.runnerOpts), d.config.RunnerOptions()...)
		opts = append(opts,
			WithLogger(d.logger),
			WithTracer(d.tracer),
			WithPartition(SinglePartition),
		)
		runner := NewRunner(d.sessions, opts...)
		if err := runner.Setup(class); err != nil {
			state.Finish(ExitFailure, err)
			return err
		}

		state.Start()
		err := runner.Run(ctx)
		state.Finish(runner.ExitCode(), err)
		if err != nil {
			return err
		}
	}
	return nil
}

// Start spawns Workers() replicas of every class. A replica that cannot be
// spawned is returned as a handle that reports ExitFailure.
func (d *Dispatcher) Start(ctx context.Context, set *SelectionSet) []Handle {
	handles := make([]Handle, 0, set.TotalWorkers())
	for _, class := range set.Classes() {
		replicas := class.Workers()
		for i := 0; i < replicas; i++ {
			w := NewWorker(class, i, replicas)
			state := d.tracker.Add(w, d.config.WorkerMode)

			if d.spawner == nil {
				d.logger.ErrorContext(ctx, "worker_spawn_failed",
					slog.String("worker_id", w.ID),
					slog.String("error", "no spawner configured"))
				state.Finish(ExitFailure, NewInvalidStateError(class.Name, RunnerIdle, "spawn"))
				handles = append(handles, failedHandle{worker: w})
				continue
			}

			h, err := d.spawner.Spawn(ctx, w)
			if err != nil {
				d.logger.ErrorContext(ctx, "worker_spawn_failed",
					slog.String("worker_id", w.ID),
					slog.String("error", err.Error()))
				state.Finish(ExitFailure, err)
				handles = append(handles, failedHandle{worker: w})
				continue
			}

			state.Start()
			d.tracer.WorkerStarted(ctx, class)
			d.logger.InfoContext(ctx, "worker_started",
				slog.String("worker_id", w.ID),
				slog.String("stage", class.Name),
				slog.Int("replica", i),
				slog.Int("replicas", replicas))
			handles = append(handles, h)
		}
	}
	return handles
}

// Join waits for every handle, in any order, and returns their results in
// start order. Durations run from the moment the worker was spawned.
func (d *Dispatcher) Join(ctx context.Context, handles []Handle) []ExecutionResult {
	results := make([]ExecutionResult, len(handles))

	var g errgroup.Group
	for i, h := range handles {
		g.Go(func() error {
			status := h.Wait()
			w := h.Worker()
			state := d.tracker.Add(w, d.config.WorkerMode)
			_, spawnFailed := h.(failedHandle)
			if !spawnFailed && state.Status() == WorkerStatusRunning {
				state.Finish(status, nil)
			}
			results[i] = ExecutionResult{
				HandleID: w.ID,
				Stage:    w.Class.Name,
				Replica:  w.Replica,
				Status:   status,
				Duration: state.Duration(),
			}

			if spawnFailed {
				return nil
			}
			d.tracer.WorkerExited(ctx, w.Class, status)
			d.logger.InfoContext(ctx, "worker_exited",
				slog.String("worker_id", w.ID),
				slog.Int("status", status),
				slog.Duration("duration", results[i].Duration))
			return nil
		})
	}
	_ = g.Wait()
	return results
}
