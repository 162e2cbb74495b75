package testutil

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"stagectl/internal/db"
	"stagectl/internal/operations"
)

// MockSession records how it was released
type MockSession struct {
	mu         sync.Mutex
	Gorm       *gorm.DB
	ReleaseErr error

	Releases   int
	Committed  bool
	RolledBack bool
	LastErr    error
}

// DB returns the configured gorm handle, possibly nil
func (s *MockSession) DB() *gorm.DB {
	return s.Gorm
}

// Release commits on a nil error and rolls back otherwise. Only the first
// call has an effect.
func (s *MockSession) Release(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Releases++
	if s.Releases > 1 {
		return db.ErrSessionReleased
	}
	s.LastErr = err
	if err != nil {
		s.RolledBack = true
	} else {
		s.Committed = true
	}
	return s.ReleaseErr
}

// ReleaseCount returns how many times Release was called
func (s *MockSession) ReleaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Releases
}

// MockSessions hands out MockSessions and keeps them for inspection
type MockSessions struct {
	mu         sync.Mutex
	AcquireErr error
	ReleaseErr error
	Sessions   []*MockSession
}

// Acquire returns a fresh MockSession
func (m *MockSessions) Acquire(context.Context) (db.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AcquireErr != nil {
		return nil, m.AcquireErr
	}
	s := &MockSession{ReleaseErr: m.ReleaseErr}
	m.Sessions = append(m.Sessions, s)
	return s, nil
}

// Last returns the most recently acquired session
func (m *MockSessions) Last() *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sessions) == 0 {
		return nil
	}
	return m.Sessions[len(m.Sessions)-1]
}

// CallLog is a concurrency-safe ordered record of pipeline calls
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

// Add appends a call
func (l *CallLog) Add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

// Calls returns a copy of the calls in order
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// RecordingStage is a configurable stage that logs every pipeline call as
// "<method>:<record>".
type RecordingStage struct {
	Records     []operations.Record
	GenerateErr error
	// FailAt makes generation yield an error after that many records.
	FailAt int
	FailErr error

	ProcessFunc  func(obj operations.Record) (operations.Derived, error)
	ValidateFunc func(obj operations.Record) error
	SaveFunc     func(obj operations.Record) error

	Log *CallLog
}

func (s *RecordingStage) log() *CallLog {
	if s.Log == nil {
		s.Log = &CallLog{}
	}
	return s.Log
}

// Generate yields Records in order
func (s *RecordingStage) Generate(context.Context) (operations.RecordSeq, error) {
	log := s.log()
	log.Add("generate")
	if s.GenerateErr != nil {
		return nil, s.GenerateErr
	}
	return func(yield func(operations.Record, error) bool) {
		for i, r := range s.Records {
			if s.FailErr != nil && i == s.FailAt {
				yield(nil, s.FailErr)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}, nil
}

// Validate logs and delegates to ValidateFunc
func (s *RecordingStage) Validate(obj operations.Record) error {
	s.log().Add(fmt.Sprintf("validate:%v", obj))
	if s.ValidateFunc != nil {
		return s.ValidateFunc(obj)
	}
	return nil
}

// Process logs and delegates to ProcessFunc
func (s *RecordingStage) Process(_ context.Context, obj operations.Record) (operations.Derived, error) {
	s.log().Add(fmt.Sprintf("process:%v", obj))
	if s.ProcessFunc != nil {
		return s.ProcessFunc(obj)
	}
	return operations.None(), nil
}

// Save logs and delegates to SaveFunc
func (s *RecordingStage) Save(obj operations.Record) error {
	s.log().Add(fmt.Sprintf("save:%v", obj))
	if s.SaveFunc != nil {
		return s.SaveFunc(obj)
	}
	return nil
}

// HookedStage adds setup and teardown hooks to a RecordingStage
type HookedStage struct {
	*RecordingStage
	SetupErr    error
	TeardownErr error
	TeardownArg error
}

// Setup logs the hook
func (s *HookedStage) Setup(context.Context) error {
	s.log().Add("setup")
	return s.SetupErr
}

// Teardown logs the hook and keeps the pipeline error it received
func (s *HookedStage) Teardown(_ context.Context, runErr error) error {
	s.log().Add("teardown")
	s.TeardownArg = runErr
	return s.TeardownErr
}

// NewClass builds a registered-ready class whose factory returns stage
func NewClass(name string, kind operations.Kind, stage operations.Stage, groups ...string) *operations.StageClass {
	return &operations.StageClass{
		Name:   name,
		Kind:   kind,
		Groups: groups,
		Procno: 1,
		New: func(operations.Binding) (operations.Stage, error) {
			return stage, nil
		},
	}
}

// NewStepClass builds a step class with the given procno and groups
func NewStepClass(name string, procno int, groups ...string) *operations.StageClass {
	class := NewClass(name, operations.KindStep, &RecordingStage{}, groups...)
	class.Procno = procno
	return class
}
