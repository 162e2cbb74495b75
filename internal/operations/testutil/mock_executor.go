package testutil

import (
	"context"
	"fmt"
	"sync"

	"stagectl/internal/operations"
)

// MockSpawner returns canned exit statuses instead of starting workers
type MockSpawner struct {
	mu sync.Mutex
	// Statuses maps a stage name to the status its workers exit with.
	Statuses map[string]int
	// ReplicaStatuses overrides Statuses for one worker id.
	ReplicaStatuses map[string]int
	// SpawnErrors makes Spawn fail for a stage name.
	SpawnErrors map[string]error

	Spawned []operations.Worker
}

// Spawn records the worker and returns a completed handle
func (m *MockSpawner) Spawn(_ context.Context, w operations.Worker) (operations.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.SpawnErrors[w.Class.Name]; ok {
		return nil, err
	}
	m.Spawned = append(m.Spawned, w)

	status := m.Statuses[w.Class.Name]
	if s, ok := m.ReplicaStatuses[w.ID]; ok {
		status = s
	}
	return &MockHandle{W: w, Status: status}, nil
}

// SpawnedIDs returns the ids of spawned workers in order
func (m *MockSpawner) SpawnedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.Spawned))
	for i, w := range m.Spawned {
		ids[i] = w.ID
	}
	return ids
}

// MockHandle is a handle with a fixed exit status
type MockHandle struct {
	W      operations.Worker
	Status int
	Waits  int
}

// Worker returns the worker the handle was spawned for
func (h *MockHandle) Worker() operations.Worker {
	return h.W
}

// Wait returns Status
func (h *MockHandle) Wait() int {
	h.Waits++
	return h.Status
}

func (h *MockHandle) String() string {
	return fmt.Sprintf("%s=%d", h.W.ID, h.Status)
}
