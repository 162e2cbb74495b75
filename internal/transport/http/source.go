package http

import "stagectl/internal/operations"

// WorkerSource is the read side of the dispatcher's worker tracker
type WorkerSource interface {
	List() []operations.WorkerSnapshot
	Get(id string) (operations.WorkerSnapshot, bool)
	Counts() map[operations.WorkerStatus]int
	IsComplete() bool
}

var _ WorkerSource = (*operations.Tracker)(nil)
