package operations

import (
	"fmt"
	"sync"
	"time"
)

// WorkerStatus represents the lifecycle status of one runner
type WorkerStatus string

const (
	WorkerStatusPending   WorkerStatus = "pending"
	WorkerStatusRunning   WorkerStatus = "running"
	WorkerStatusSucceeded WorkerStatus = "succeeded"
	WorkerStatusFailed    WorkerStatus = "failed"
)

// Worker identifies one runner started by the dispatcher
type Worker struct {
	ID       string
	Class    *StageClass
	Replica  int
	Replicas int
}

// NewWorker names replica i of class
func NewWorker(class *StageClass, replica, replicas int) Worker {
	return Worker{
		ID:       fmt.Sprintf("%s.%d", class.Name, replica),
		Class:    class,
		Replica:  replica,
		Replicas: replicas,
	}
}

// Partition returns the record partition the worker runs on
func (w Worker) Partition() Partition {
	if w.Replicas < 1 {
		return SinglePartition
	}
	return Partition{Index: w.Replica, Total: w.Replicas}
}

// WorkerState is the runtime state of a worker
type WorkerState struct {
	mu         sync.RWMutex
	id         string
	stage      string
	kind       Kind
	replica    int
	replicas   int
	mode       string
	status     WorkerStatus
	startTime  *time.Time
	endTime    *time.Time
	exitStatus int
	err        error
}

// WorkerSnapshot is a point-in-time copy of a WorkerState
type WorkerSnapshot struct {
	ID         string       `json:"id"`
	Stage      string       `json:"stage"`
	Kind       Kind         `json:"kind"`
	Replica    int          `json:"replica"`
	Replicas   int          `json:"replicas"`
	Mode       string       `json:"mode"`
	Status     WorkerStatus `json:"status"`
	StartTime  *time.Time   `json:"start_time,omitempty"`
	EndTime    *time.Time   `json:"end_time,omitempty"`
	Duration   string       `json:"duration,omitempty"`
	ExitStatus int          `json:"exit_status"`
	Error      string       `json:"error,omitempty"`
}

// Start marks the worker as running
func (s *WorkerState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.startTime = &now
	s.status = WorkerStatusRunning
}

// Finish records the terminal exit status
func (s *WorkerState) Finish(status int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.startTime == nil {
		s.startTime = &now
	}
	s.endTime = &now
	s.exitStatus = status
	s.err = err
	if status == ExitSuccess && err == nil {
		s.status = WorkerStatusSucceeded
	} else {
		s.status = WorkerStatusFailed
	}
}

// Status returns the current status
func (s *WorkerState) Status() WorkerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Duration returns the run time so far
func (s *WorkerState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.duration()
}

func (s *WorkerState) duration() time.Duration {
	if s.startTime == nil {
		return 0
	}
	if s.endTime != nil {
		return s.endTime.Sub(*s.startTime)
	}
	return time.Since(*s.startTime)
}

// Snapshot copies the state
func (s *WorkerState) Snapshot() WorkerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := WorkerSnapshot{
		ID:         s.id,
		Stage:      s.stage,
		Kind:       s.kind,
		Replica:    s.replica,
		Replicas:   s.replicas,
		Mode:       s.mode,
		Status:     s.status,
		ExitStatus: s.exitStatus,
	}
	if s.startTime != nil {
		start := *s.startTime
		snap.StartTime = &start
		snap.Duration = s.duration().String()
	}
	if s.endTime != nil {
		end := *s.endTime
		snap.EndTime = &end
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

// Tracker keeps the state of every worker of one invocation, in start order
type Tracker struct {
	mu      sync.RWMutex
	workers map[string]*WorkerState
	order   []string
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		workers: make(map[string]*WorkerState),
	}
}

// Add registers a pending worker. Adding an existing id returns its state.
func (t *Tracker) Add(w Worker, mode string) *WorkerState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.workers[w.ID]; ok {
		return s
	}
	s := &WorkerState{
		id:       w.ID,
		stage:    w.Class.Name,
		kind:     w.Class.Kind,
		replica:  w.Replica,
		replicas: w.Replicas,
		mode:     mode,
		status:   WorkerStatusPending,
	}
	t.workers[w.ID] = s
	t.order = append(t.order, w.ID)
	return s
}

// Get returns a snapshot of one worker
func (t *Tracker) Get(id string) (WorkerSnapshot, bool) {
	t.mu.RLock()
	s, ok := t.workers[id]
	t.mu.RUnlock()
	if !ok {
		return WorkerSnapshot{}, false
	}
	return s.Snapshot(), true
}

// List returns snapshots of all workers in start order
func (t *Tracker) List() []WorkerSnapshot {
	t.mu.RLock()
	states := make([]*WorkerState, 0, len(t.order))
	for _, id := range t.order {
		states = append(states, t.workers[id])
	}
	t.mu.RUnlock()

	snaps := make([]WorkerSnapshot, len(states))
	for i, s := range states {
		snaps[i] = s.Snapshot()
	}
	return snaps
}

// Counts returns the number of workers per status
func (t *Tracker) Counts() map[WorkerStatus]int {
	counts := map[WorkerStatus]int{
		WorkerStatusPending:   0,
		WorkerStatusRunning:   0,
		WorkerStatusSucceeded: 0,
		WorkerStatusFailed:    0,
	}
	for _, snap := range t.List() {
		counts[snap.Status]++
	}
	return counts
}

// IsComplete reports whether every worker has finished
func (t *Tracker) IsComplete() bool {
	counts := t.Counts()
	return counts[WorkerStatusPending] == 0 && counts[WorkerStatusRunning] == 0
}
