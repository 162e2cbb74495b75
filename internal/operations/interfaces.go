package operations

import "context"

// SetupHook is implemented by stages that need work done after binding and
// before the first record is generated.
type SetupHook interface {
	Setup(ctx context.Context) error
}

// TeardownHook is implemented by stages that release resources once the
// pipeline ends. It receives the pipeline error, if any, and runs before the
// session is released.
type TeardownHook interface {
	Teardown(ctx context.Context, runErr error) error
}
