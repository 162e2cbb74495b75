package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stagectl/internal/config"
	"stagectl/internal/db"
	"stagectl/internal/infrastructure"
	"stagectl/internal/operations"
	"stagectl/internal/pipeline"
	statushttp "stagectl/internal/transport/http"
)

// Application holds everything one stagectl invocation needs: settings,
// logger, telemetry, the stage registry and, once opened, the store.
type Application struct {
	Config   *config.Config
	Logger   *slog.Logger
	OTel     *infrastructure.OTelProviders
	Tracer   *operations.StageTracer
	Registry *operations.Registry
	Runtime  *infrastructure.RuntimeMetrics

	store      *db.Store
	models     []any
	workerArgs []string
	worker     bool
	started    time.Time
}

// Option configures an Application
type Option func(*Application)

// WithLogger uses logger instead of initializing the global one
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) {
		a.Logger = logger
	}
}

// WithRegistry replaces the built-in stage classes
func WithRegistry(reg *operations.Registry) Option {
	return func(a *Application) {
		a.Registry = reg
	}
}

// WithModels replaces the models created by CreateDB
func WithModels(models ...any) Option {
	return func(a *Application) {
		a.models = models
	}
}

// WithWorkerArgs sets the global flags forwarded to worker processes
func WithWorkerArgs(args ...string) Option {
	return func(a *Application) {
		a.workerArgs = args
	}
}

// New wires the application from cfg. The store is opened on first use.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	a := &Application{Config: cfg, started: time.Now()}
	for _, opt := range opts {
		opt(a)
	}

	if err := cfg.Paths().EnsureDirectories(); err != nil {
		return nil, operations.NewConfigurationError("paths", err.Error())
	}

	if a.Logger == nil {
		logger, err := infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.Logger = logger
	}

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTel = providers

	if a.Tracer, err = operations.NewStageTracer(providers); err != nil {
		return nil, fmt.Errorf("failed to create stage tracer: %w", err)
	}
	if a.Runtime, err = infrastructure.NewRuntimeMetrics(providers.Meter); err != nil {
		return nil, fmt.Errorf("failed to create runtime metrics: %w", err)
	}

	if a.Registry == nil {
		a.Registry = operations.NewRegistry()
		if err := pipeline.RegisterBuiltins(a.Registry, pipeline.OptionsFromConfig(cfg.Pipeline)); err != nil {
			return nil, err
		}
	}
	if a.models == nil {
		a.models = pipeline.Models()
	}

	a.Logger.Debug("application_initialized",
		slog.String("pipeline", cfg.Pipeline.Name),
		slog.String("version", config.AppVersion),
		slog.Int("stage_classes", a.Registry.Count()))
	return a, nil
}

// Store opens the configured database on first call
func (a *Application) Store() (*db.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := db.Open(a.Config.Database, a.Logger)
	if err != nil {
		return nil, operations.NewConfigurationError("database", err.Error())
	}
	a.store = store
	return store, nil
}

// CreateDB creates the tables of every model
func (a *Application) CreateDB(ctx context.Context) error {
	store, err := a.Store()
	if err != nil {
		return err
	}
	if err := store.CreateAll(ctx, a.models...); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	a.Logger.InfoContext(ctx, "database_created",
		slog.String("driver", a.Config.Database.Driver),
		slog.Int("models", len(a.models)))
	return nil
}

// Candidates returns the classes of kind taking part in the pipeline: the
// configured list, in its order, or every registered class of that kind.
func (a *Application) Candidates(kind operations.Kind) ([]*operations.StageClass, error) {
	var names []string
	switch kind {
	case operations.KindStep:
		names = a.Config.Pipeline.Steps
	case operations.KindAlert:
		names = a.Config.Pipeline.Alerts
	}
	if len(names) == 0 {
		return a.Registry.OfKind(kind), nil
	}
	return a.Registry.Load(kind, names)
}

// Select resolves names or groups against the candidates of kind
func (a *Application) Select(kind operations.Kind, names, groups []string) (*operations.SelectionSet, error) {
	classes, err := a.Candidates(kind)
	if err != nil {
		return nil, err
	}
	return operations.Select(kind, classes, names, groups)
}

// Loader returns the configured loader class. Without configuration the
// only registered loader is used.
func (a *Application) Loader() (*operations.StageClass, error) {
	if name := a.Config.Pipeline.Loader; name != "" {
		return a.Registry.LoadOne(operations.KindLoader, name)
	}
	loaders := a.Registry.OfKind(operations.KindLoader)
	if len(loaders) != 1 {
		return nil, operations.NewConfigurationError("pipeline.loader",
			fmt.Sprintf("no loader configured and %d registered", len(loaders)))
	}
	return loaders[0], nil
}

// Load runs the loader inline
func (a *Application) Load(ctx context.Context) error {
	class, err := a.Loader()
	if err != nil {
		return err
	}
	_, err = a.Dispatch(ctx, operations.NewSelectionSet(operations.KindLoader, []*operations.StageClass{class}), DispatchOptions{Sync: true})
	return err
}

// DispatchOptions controls one Dispatch call
type DispatchOptions struct {
	Sync bool
	// StatusAddr starts the status server for the duration of the dispatch
	StatusAddr string
}

// Dispatch runs set and returns the exit status of the invocation
func (a *Application) Dispatch(ctx context.Context, set *operations.SelectionSet, opts DispatchOptions) (int, error) {
	cfg := operations.NewConfigBuilder().
		WithSync(opts.Sync).
		WithWorkerMode(a.Config.Workers.Mode).
		WithRateLimit(a.Config.Workers.RecordsPerSecond, a.Config.Workers.RecordBurst).
		Build()

	var sessions db.Sessions
	if cfg.Sync || cfg.WorkerMode == operations.WorkerModeGoroutine {
		store, err := a.Store()
		if err != nil {
			return operations.ExitFailure, err
		}
		sessions = store
	}

	tracker := operations.NewTracker()
	if opts.StatusAddr != "" {
		srv := statushttp.NewServer(opts.StatusAddr, statushttp.NewRouter(statushttp.RouterOptions{
			Workers:   tracker,
			Version:   config.AppVersion,
			Logger:    a.Logger,
			Providers: a.OTel,
		}), a.Logger)
		if err := srv.Start(ctx); err != nil {
			return operations.ExitFailure, operations.NewConfigurationError("status-addr", err.Error())
		}
		defer func() {
			if err := srv.Stop(context.WithoutCancel(ctx)); err != nil {
				a.Logger.WarnContext(ctx, "status_server_stop_failed", slog.String("error", err.Error()))
			}
		}()
	}

	d := operations.NewDispatcher(sessions, a.spawner(cfg, sessions),
		operations.WithDispatchLogger(a.Logger),
		operations.WithDispatchTracer(a.Tracer),
		operations.WithDispatchConfig(cfg),
		operations.WithTracker(tracker),
	)
	status, err := d.Dispatch(ctx, set, cfg.Sync)
	a.Runtime.Collect(ctx, a.started)
	return status, err
}

func (a *Application) spawner(cfg *operations.Config, sessions db.Sessions) operations.Spawner {
	if cfg.Sync {
		return nil
	}
	if cfg.WorkerMode == operations.WorkerModeGoroutine {
		opts := append([]operations.RunnerOption{
			operations.WithLogger(a.Logger),
			operations.WithTracer(a.Tracer),
		}, cfg.RunnerOptions()...)
		return &operations.GoroutineSpawner{Sessions: sessions, Options: opts}
	}
	return &operations.ProcessSpawner{Args: a.workerArgs, Logger: a.Logger}
}

// WorkerSpec identifies the runner a worker process executes
type WorkerSpec struct {
	Kind     operations.Kind
	Stage    string
	Replica  int
	Replicas int
}

// RunWorker runs one replica inline and returns its exit code. It is the
// body of the hidden worker command.
func (a *Application) RunWorker(ctx context.Context, spec WorkerSpec) int {
	a.worker = true
	ctx = infrastructure.InvocationFromEnv(ctx)

	class, err := a.Registry.LoadOne(spec.Kind, spec.Stage)
	if err != nil {
		a.Logger.ErrorContext(ctx, "worker_stage_unknown",
			slog.String("stage", spec.Stage),
			slog.String("error", err.Error()))
		return operations.ExitFailure
	}
	store, err := a.Store()
	if err != nil {
		a.Logger.ErrorContext(ctx, "worker_store_failed", slog.String("error", err.Error()))
		return operations.ExitFailure
	}

	w := operations.NewWorker(class, spec.Replica, spec.Replicas)
	ctx = infrastructure.WithWorkerID(ctx, w.ID)
	opts := append([]operations.RunnerOption{
		operations.WithLogger(a.Logger),
		operations.WithTracer(a.Tracer),
		operations.WithPartition(w.Partition()),
	}, operations.ConfigFromSettings(a.Config.Workers).RunnerOptions()...)

	runner := operations.NewRunner(store, opts...)
	if err := runner.Setup(class); err != nil {
		a.Logger.ErrorContext(ctx, "worker_setup_failed", slog.String("error", err.Error()))
		return operations.ExitFailure
	}
	_ = runner.Run(ctx)
	a.Runtime.Collect(ctx, a.started)
	return runner.ExitCode()
}

// Close releases the store and flushes telemetry. The parent invocation,
// not its workers, writes the metrics textfile.
func (a *Application) Close(ctx context.Context) error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
		a.store = nil
	}
	if !a.worker {
		if err := a.OTel.WriteMetricsTextfile(a.Config.Telemetry.MetricsTextfile); err != nil {
			a.Logger.WarnContext(ctx, "metrics_textfile_failed", slog.String("error", err.Error()))
		}
	}
	if err := a.OTel.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
