package operations_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagectl/internal/infrastructure"
	"stagectl/internal/operations"
	"stagectl/internal/operations/testutil"
)

const helperEnv = "STAGECTL_WANT_HELPER_PROCESS"

// TestHelperProcess is not a real test. It stands in for the stagectl binary
// when the process spawner re-executes the test executable.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}

	flags := map[string]string{}
	for i := 1; i+1 < len(args); i += 2 {
		flags[strings.TrimPrefix(args[i], "--")] = args[i+1]
	}
	fmt.Printf("%s %s %s/%s\n", args[0], flags["stage"], flags["replica"], flags["replicas"])

	switch flags["stage"] {
	case "exit-three":
		os.Exit(3)
	case "crash":
		panic("worker crashed")
	case "traced":
		if os.Getenv(infrastructure.InvocationEnv) != "inv-123" {
			os.Exit(7)
		}
	}
	os.Exit(0)
}

// lockedBuffer is shared by concurrently running worker processes
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func helperSpawner(stdout *lockedBuffer) *operations.ProcessSpawner {
	return &operations.ProcessSpawner{
		Executable: os.Args[0],
		Args:       []string{"-test.run=^TestHelperProcess$", "--"},
		Env:        []string{helperEnv + "=1"},
		Stdout:     stdout,
		Stderr:     io.Discard,
	}
}

func TestWorkerArgs(t *testing.T) {
	class := testutil.NewStepClass("measure-statistics", 2)
	w := operations.NewWorker(class, 1, 2)

	assert.Equal(t, "measure-statistics.1", w.ID)
	assert.Equal(t, []string{
		"worker", "--kind", "step", "--stage", "measure-statistics", "--replica", "1", "--replicas", "2",
	}, operations.WorkerArgs(w))
}

func TestProcessSpawner(t *testing.T) {
	tests := []struct {
		stage      string
		wantStatus int
	}{
		{"ok", 0},
		{"exit-three", 3},
		{"crash", 2},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			var stdout lockedBuffer
			w := operations.NewWorker(testutil.NewStepClass(tt.stage, 1), 0, 1)

			h, err := helperSpawner(&stdout).Spawn(context.Background(), w)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, h.Wait())
			assert.Equal(t, tt.wantStatus, h.Wait(), "wait is idempotent")
			assert.Equal(t, w, h.Worker())
			assert.Contains(t, stdout.String(), "worker "+tt.stage+" 0/1")
		})
	}
}

func TestProcessSpawnerPassesInvocationID(t *testing.T) {
	ctx := infrastructure.WithInvocationID(context.Background(), "inv-123")
	w := operations.NewWorker(testutil.NewStepClass("traced", 1), 0, 1)

	h, err := helperSpawner(&lockedBuffer{}).Spawn(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Wait())
}

func TestProcessSpawnerMissingExecutable(t *testing.T) {
	s := &operations.ProcessSpawner{Executable: "/nonexistent/stagectl"}
	_, err := s.Spawn(context.Background(), operations.NewWorker(testutil.NewStepClass("x", 1), 0, 1))
	assert.Error(t, err)
}

func TestDispatchWithProcessSpawner(t *testing.T) {
	var stdout lockedBuffer
	set := operations.NewSelectionSet(operations.KindStep, []*operations.StageClass{
		testutil.NewStepClass("ok", 2),
		testutil.NewStepClass("exit-three", 1),
		testutil.NewStepClass("crash", 1),
	})
	d := operations.NewDispatcher(&testutil.MockSessions{}, helperSpawner(&stdout))

	status, err := d.Dispatch(context.Background(), set, false)

	assert.Equal(t, 5, status)
	testutil.AssertErrorType(t, err, operations.ErrorTypeAggregate)
	for _, line := range []string{"worker ok 0/2", "worker ok 1/2", "worker exit-three 0/1"} {
		assert.Contains(t, stdout.String(), line)
	}
}

func TestExitStatus(t *testing.T) {
	assert.Equal(t, operations.ExitSuccess, operations.ExitStatus(nil))
	assert.Equal(t, operations.ExitFailure, operations.ExitStatus(errors.New("not an exit error")))

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$", "--", "worker", "--stage", "exit-three")
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	assert.Equal(t, 3, operations.ExitStatus(cmd.Run()))
}
