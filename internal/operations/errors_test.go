package operations_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagectl/internal/operations"
)

func TestStageErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "pipeline error",
			err:  operations.NewPipelineError("create", operations.PhaseSave, errors.New("locked")),
			want: "[pipeline] create (save): save failed: locked",
		},
		{
			name: "usage error",
			err:  operations.NewUsageError("Invalid step name 'nope'"),
			want: "[usage] Invalid step name 'nope'",
		},
		{
			name: "configuration error",
			err:  operations.NewConfigurationError("pipeline.steps", "empty step name"),
			want: "[configuration] pipeline.steps: empty step name",
		},
		{
			name: "invalid state",
			err:  operations.NewInvalidStateError("create", operations.RunnerDone, "run"),
			want: "[invalid_state] create: cannot run runner in state done",
		},
		{
			name: "aggregate",
			err:  operations.NewAggregateError(3, 4),
			want: "[aggregate] workers exited with aggregate status 3",
		},
		{
			name: "nil error",
			err:  (*operations.StageError)(nil),
			want: "unknown stage error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := fmt.Errorf("outer: %w", operations.NewNotImplementedError("iris", "no generator"))

	assert.Equal(t, operations.ErrorTypeNotImplemented, operations.GetErrorType(wrapped))
	assert.True(t, operations.IsConfigurationError(wrapped))
	assert.True(t, operations.IsConfigurationError(operations.NewConfigurationError("x", "y")))
	assert.False(t, operations.IsConfigurationError(operations.NewUsageError("y")))

	assert.Equal(t, operations.ErrorTypePipeline, operations.GetErrorType(cause))
	assert.Equal(t, operations.ErrorType(""), operations.GetErrorType(nil))
	assert.False(t, operations.IsErrorType(cause, operations.ErrorTypePipeline))

	pErr := operations.NewPipelineError("s", operations.PhaseProcess, cause)
	assert.ErrorIs(t, pErr, cause)
	assert.Nil(t, (*operations.StageError)(nil).Unwrap())
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, operations.WrapError(nil, "s", operations.PhaseSave))

	plain := errors.New("plain")
	err := operations.WrapError(plain, "s", operations.PhaseSave)
	var sErr *operations.StageError
	assert.ErrorAs(t, err, &sErr)
	assert.Equal(t, "s", sErr.Stage)
	assert.Equal(t, operations.PhaseSave, sErr.Phase)
	assert.ErrorIs(t, err, plain)

	bare := &operations.StageError{Type: operations.ErrorTypeNotImplemented, Message: "missing"}
	err = operations.WrapError(bare, "s", operations.PhaseGenerate)
	require.ErrorAs(t, err, &sErr)
	assert.NotSame(t, bare, sErr)
	assert.Equal(t, "s", sErr.Stage)
	assert.Equal(t, operations.PhaseGenerate, sErr.Phase)
	assert.Empty(t, bare.Stage, "input error must not be modified")
	assert.Empty(t, bare.Phase)

	named := operations.NewPipelineError("inner", operations.PhaseValidate, plain)
	err = operations.WrapError(named, "outer", operations.PhaseSave)
	assert.Equal(t, "inner", err.(*operations.StageError).Stage)
	assert.Equal(t, operations.PhaseValidate, err.(*operations.StageError).Phase)
}

var errShared = &operations.StageError{Type: operations.ErrorTypePipeline, Message: "shared failure"}

func TestWrapErrorConcurrentSentinel(t *testing.T) {
	var wg sync.WaitGroup
	stages := []string{"first", "second", "third", "fourth"}
	got := make([]string, len(stages))
	for i, stage := range stages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := operations.WrapError(errShared, stage, operations.PhaseProcess)
			var sErr *operations.StageError
			if errors.As(err, &sErr) {
				got[i] = sErr.Stage
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stages, got)
	assert.Empty(t, errShared.Stage)
	assert.Empty(t, errShared.Phase)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, operations.ExitSuccess, operations.ExitCodeFor(nil))
	assert.Equal(t, operations.ExitUsage, operations.ExitCodeFor(operations.NewUsageError("bad")))
	assert.Equal(t, operations.ExitUsage, operations.ExitCodeFor(fmt.Errorf("cli: %w", operations.NewUsageError("bad"))))
	assert.Equal(t, operations.ExitFailure, operations.ExitCodeFor(operations.NewConfigurationError("x", "y")))
	assert.Equal(t, operations.ExitFailure, operations.ExitCodeFor(errors.New("anything")))
}
