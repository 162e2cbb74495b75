package operations

// Kind classifies a stage class
type Kind string

const (
	KindStep   Kind = "step"
	KindAlert  Kind = "alert"
	KindLoader Kind = "loader"
)

// Valid reports whether k is a known stage kind
func (k Kind) Valid() bool {
	switch k {
	case KindStep, KindAlert, KindLoader:
		return true
	}
	return false
}

// DefaultGroup is assigned to classes that declare no groups
const DefaultGroup = "default"

// Process exit statuses
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Worker modes for asynchronous dispatch
const (
	WorkerModeProcess   = "process"
	WorkerModeGoroutine = "goroutine"
)

// Phases reported by pipeline errors
const (
	PhaseSetup    = "setup"
	PhaseGenerate = "generate"
	PhaseValidate = "validate"
	PhaseProcess  = "process"
	PhaseSave     = "save"
	PhaseTeardown = "teardown"
	PhaseSession  = "session"
)

// Record is an opaque persisted entity handled by a stage
type Record = any
