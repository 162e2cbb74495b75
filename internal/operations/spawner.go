package operations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"sync"

	"stagectl/internal/db"
	"stagectl/internal/infrastructure"
)

// WorkerCommand is the hidden subcommand a worker process runs
const WorkerCommand = "worker"

// Handle is a started asynchronous runner
type Handle interface {
	Worker() Worker
	// Wait blocks until the worker terminates and returns its exit status.
	// It may be called more than once.
	Wait() int
}

// Spawner starts one asynchronous runner per worker
type Spawner interface {
	Spawn(ctx context.Context, w Worker) (Handle, error)
}

// ProcessSpawner runs each worker as a child process re-executing the
// current binary with the hidden worker command.
type ProcessSpawner struct {
	// Executable defaults to os.Executable().
	Executable string
	// Args are placed before the worker command, e.g. global flags.
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// WorkerArgs returns the command line tail that starts w
func WorkerArgs(w Worker) []string {
	return []string{
		WorkerCommand,
		"--kind", string(w.Class.Kind),
		"--stage", w.Class.Name,
		"--replica", strconv.Itoa(w.Replica),
		"--replicas", strconv.Itoa(w.Replicas),
	}
}

// Spawn starts the worker process
func (s *ProcessSpawner) Spawn(ctx context.Context, w Worker) (Handle, error) {
	exe := s.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
	}

	args := append(slices.Clone(s.Args), WorkerArgs(w)...)
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env, infrastructure.InvocationEnviron(ctx)...)
	cmd.Stdout = s.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", w.ID, err)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "worker_process_started",
		slog.String("worker_id", w.ID),
		slog.Int("pid", cmd.Process.Pid))

	return &processHandle{worker: w, cmd: cmd, logger: logger}, nil
}

type processHandle struct {
	worker Worker
	cmd    *exec.Cmd
	logger *slog.Logger
	once   sync.Once
	status int
}

func (h *processHandle) Worker() Worker {
	return h.worker
}

func (h *processHandle) Wait() int {
	h.once.Do(func() {
		err := h.cmd.Wait()
		h.status = ExitStatus(err)
		if err != nil {
			h.logger.Debug("worker_process_exited",
				slog.String("worker_id", h.worker.ID),
				slog.Int("status", h.status),
				slog.String("error", err.Error()))
		}
	})
	return h.status
}

// ExitStatus maps the error of a finished child process to an exit status.
// Signals and other abnormal terminations count as ExitFailure.
func ExitStatus(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return ExitFailure
}

// GoroutineSpawner runs each worker in-process on its own goroutine with its
// own runner and session.
type GoroutineSpawner struct {
	Sessions db.Sessions
	Options  []RunnerOption
}

// Spawn binds a runner to the worker's class and starts it
func (s *GoroutineSpawner) Spawn(ctx context.Context, w Worker) (Handle, error) {
	opts := append(slices.Clone(s.Options), WithPartition(w.Partition()))
	runner := NewRunner(s.Sessions, opts...)
	if err := runner.Setup(w.Class); err != nil {
		return nil, err
	}

	h := &goroutineHandle{worker: w, done: make(chan struct{}), status: ExitFailure}
	go func() {
		defer close(h.done)
		defer func() {
			if recover() != nil {
				h.status = ExitFailure
			}
		}()
		_ = runner.Run(infrastructure.WithWorkerID(ctx, w.ID))
		h.status = runner.ExitCode()
	}()
	return h, nil
}

type goroutineHandle struct {
	worker Worker
	done   chan struct{}
	status int
}

func (h *goroutineHandle) Worker() Worker {
	return h.worker
}

func (h *goroutineHandle) Wait() int {
	<-h.done
	return h.status
}

// failedHandle stands in for a worker that could not be started
type failedHandle struct {
	worker Worker
}

func (h failedHandle) Worker() Worker {
	return h.worker
}

func (h failedHandle) Wait() int {
	return ExitFailure
}
