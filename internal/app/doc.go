// Package app wires one stagectl invocation together: it loads nothing
// itself but takes a validated config.Config and builds the logger,
// OpenTelemetry providers, stage registry, store and dispatcher from it.
//
// # Initialization Flow
//
//	1. Initialize logging (unless a logger is injected)
//	2. Initialize tracing and metrics
//	3. Register the stage classes
//	4. Open the store lazily, on the first command that needs it
//
// Asynchronous dispatch in process mode re-executes the binary; the parent
// never opens the store in that case.
package app
