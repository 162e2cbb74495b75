package operations_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stagectl/internal/operations"
	"stagectl/internal/operations/testutil"
)

func TestNewWorker(t *testing.T) {
	class := testutil.NewStepClass("measure", 3)
	w := operations.NewWorker(class, 2, 3)

	testutil.AssertEqual(t, w.ID, "measure.2")
	testutil.AssertEqual(t, w.Partition(), operations.Partition{Index: 2, Total: 3})

	single := operations.Worker{Class: class}
	testutil.AssertEqual(t, single.Partition(), operations.SinglePartition)
}

func TestWorkerStateLifecycle(t *testing.T) {
	tracker := operations.NewTracker()
	state := tracker.Add(operations.NewWorker(testutil.NewStepClass("create", 1), 0, 1), operations.WorkerModeProcess)

	if state.Status() != operations.WorkerStatusPending {
		t.Errorf("expected pending, got %s", state.Status())
	}
	if state.Duration() != 0 {
		t.Error("pending worker should have no duration")
	}

	state.Start()
	if state.Status() != operations.WorkerStatusRunning {
		t.Errorf("expected running, got %s", state.Status())
	}
	time.Sleep(2 * time.Millisecond)

	state.Finish(operations.ExitSuccess, nil)
	if state.Status() != operations.WorkerStatusSucceeded {
		t.Errorf("expected succeeded, got %s", state.Status())
	}

	snap := state.Snapshot()
	testutil.AssertEqual(t, snap.ID, "create.0")
	testutil.AssertEqual(t, snap.Stage, "create")
	testutil.AssertEqual(t, snap.Kind, operations.KindStep)
	testutil.AssertEqual(t, snap.Mode, operations.WorkerModeProcess)
	testutil.AssertNotNil(t, snap.StartTime)
	testutil.AssertNotNil(t, snap.EndTime)
	if snap.Duration == "" {
		t.Error("finished worker should report a duration")
	}
	if snap.Error != "" {
		t.Errorf("unexpected error %q", snap.Error)
	}
}

func TestWorkerStateFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
	}{
		{"non-zero status", 2, nil},
		{"error with zero status", operations.ExitSuccess, errors.New("spawn failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := operations.NewTracker()
			state := tracker.Add(operations.NewWorker(testutil.NewStepClass("x", 1), 0, 1), "sync")
			state.Finish(tt.status, tt.err)

			snap := state.Snapshot()
			testutil.AssertEqual(t, snap.Status, operations.WorkerStatusFailed)
			testutil.AssertEqual(t, snap.ExitStatus, tt.status)
			testutil.AssertNotNil(t, snap.StartTime)
			if tt.err != nil && snap.Error != tt.err.Error() {
				t.Errorf("error = %q, want %q", snap.Error, tt.err.Error())
			}
		})
	}
}

func TestTracker(t *testing.T) {
	tracker := operations.NewTracker()
	class := testutil.NewStepClass("measure", 3)

	for i := 0; i < 3; i++ {
		tracker.Add(operations.NewWorker(class, i, 3), operations.WorkerModeGoroutine)
	}
	again := tracker.Add(operations.NewWorker(class, 0, 3), operations.WorkerModeGoroutine)
	again.Start()

	list := tracker.List()
	testutil.AssertEqual(t, len(list), 3)
	for i, snap := range list {
		testutil.AssertEqual(t, snap.ID, fmt.Sprintf("measure.%d", i))
	}

	snap, ok := tracker.Get("measure.0")
	if !ok {
		t.Fatal("measure.0 should be tracked")
	}
	testutil.AssertEqual(t, snap.Status, operations.WorkerStatusRunning)

	if _, ok := tracker.Get("measure.9"); ok {
		t.Error("unknown worker should not be found")
	}

	counts := tracker.Counts()
	testutil.AssertEqual(t, counts[operations.WorkerStatusPending], 2)
	testutil.AssertEqual(t, counts[operations.WorkerStatusRunning], 1)
	if tracker.IsComplete() {
		t.Error("tracker with running workers is not complete")
	}

	for i := 0; i < 3; i++ {
		tracker.Add(operations.NewWorker(class, i, 3), "").Finish(i, nil)
	}
	if !tracker.IsComplete() {
		t.Error("tracker should be complete")
	}
	counts = tracker.Counts()
	testutil.AssertEqual(t, counts[operations.WorkerStatusSucceeded], 1)
	testutil.AssertEqual(t, counts[operations.WorkerStatusFailed], 2)
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tracker := operations.NewTracker()
	class := testutil.NewStepClass("parallel", 50)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := tracker.Add(operations.NewWorker(class, i, 50), operations.WorkerModeGoroutine)
			state.Start()
			_ = tracker.List()
			state.Finish(operations.ExitSuccess, nil)
		}()
	}
	wg.Wait()

	testutil.AssertEqual(t, len(tracker.List()), 50)
	testutil.AssertEqual(t, tracker.Counts()[operations.WorkerStatusSucceeded], 50)
}

func TestWorkerSnapshotJSON(t *testing.T) {
	tracker := operations.NewTracker()
	state := tracker.Add(operations.NewWorker(testutil.NewStepClass("json", 1), 0, 1), "sync")

	data, err := json.Marshal(state.Snapshot())
	testutil.AssertNoError(t, err)

	var decoded map[string]any
	testutil.AssertNoError(t, json.Unmarshal(data, &decoded))
	testutil.AssertEqual(t, decoded["status"], "pending")
	if _, ok := decoded["start_time"]; ok {
		t.Error("pending worker should omit start_time")
	}
}
