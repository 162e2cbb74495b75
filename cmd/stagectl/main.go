// Command stagectl loads, runs and inspects the stages of a data pipeline.
//
//	stagectl [--config file] <command> [flags]
//
// Run "stagectl help" for the command list.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(processExitCode(code))
}

// maxExitCode is the largest status a process can report; larger values
// would wrap modulo 256 and could read as success.
const maxExitCode = 255

// processExitCode clamps an aggregate status to the range a process exit
// status can carry.
func processExitCode(code int) int {
	switch {
	case code < 0:
		return maxExitCode
	case code > maxExitCode:
		return maxExitCode
	}
	return code
}
