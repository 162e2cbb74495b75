package testutil

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"stagectl/internal/operations"
)

// AssertRunnerState verifies the lifecycle state of a runner
func AssertRunnerState(t *testing.T, r *operations.Runner, expected operations.RunnerState) {
	t.Helper()
	if r.State() != expected {
		t.Errorf("runner state = %v, want %v", r.State(), expected)
	}
}

// AssertReleasedOnce verifies a session was released exactly once, with a
// commit or a rollback.
func AssertReleasedOnce(t *testing.T, s *MockSession, committed bool) {
	t.Helper()
	if s == nil {
		t.Fatal("session is nil")
	}
	if n := s.ReleaseCount(); n != 1 {
		t.Errorf("session released %d times, want 1", n)
	}
	if committed && !s.Committed {
		t.Error("expected session to be committed")
	}
	if !committed && !s.RolledBack {
		t.Error("expected session to be rolled back")
	}
}

// AssertCalls verifies the exact pipeline call sequence
func AssertCalls(t *testing.T, log *CallLog, expected ...string) {
	t.Helper()
	got := log.Calls()
	if !slices.Equal(got, expected) {
		t.Errorf("calls = %v, want %v", got, expected)
	}
}

// AssertCalledBefore verifies first was logged before second
func AssertCalledBefore(t *testing.T, log *CallLog, first, second string) {
	t.Helper()
	calls := log.Calls()
	i, j := slices.Index(calls, first), slices.Index(calls, second)
	if i < 0 || j < 0 {
		t.Fatalf("calls %v do not contain both %q and %q", calls, first, second)
	}
	if i >= j {
		t.Errorf("%q (at %d) was not called before %q (at %d)", first, i, second, j)
	}
}

// AssertErrorContains verifies an error contains a substring
func AssertErrorContains(t *testing.T, err error, substr string) {
	t.Helper()
	if err == nil {
		t.Errorf("expected error containing %q, got nil", substr)
		return
	}
	if !strings.Contains(err.Error(), substr) {
		t.Errorf("error = %v, want error containing %q", err, substr)
	}
}

// AssertErrorType verifies the type of a stage error anywhere in the chain
func AssertErrorType(t *testing.T, err error, expectedType operations.ErrorType) {
	t.Helper()
	if err == nil {
		t.Fatal("error is nil")
	}
	var sErr *operations.StageError
	if !errors.As(err, &sErr) {
		t.Fatalf("error is not a StageError: %T", err)
	}
	if sErr.Type != expectedType {
		t.Errorf("error type = %v, want %v", sErr.Type, expectedType)
	}
}

// AssertNoError fails if there is an error
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual verifies two values are equal
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertNotNil verifies a value is not nil
func AssertNotNil(t *testing.T, v interface{}) {
	t.Helper()
	if v == nil {
		t.Fatal("value is nil")
	}
}
