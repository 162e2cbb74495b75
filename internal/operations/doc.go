// Package operations is the stage execution and dispatch engine.
//
// A stage moves records through a fixed per-record pipeline:
//
//	validate(obj)
//	derived := process(obj)
//	for d in derived: validate(d); save(d)
//	save(obj)
//
// Derived records are saved before the record they came from so that
// process can create rows the original depends on.
//
// Core Components:
//
// StageClass: the registered description of a stage (name, kind, groups,
// procno) and the factory that binds an instance to a session. BaseStage
// supplies the default model+conditions generator, struct-tag validation
// and session save; AlertBase and LoaderBase specialise it.
//
// Registry: the name to class catalog built at startup. Load resolves
// configured names and fails with a configuration error naming the bad
// entry. Select builds the immutable SelectionSet for one invocation from
// explicit names or group filters.
//
// Runner: executes one class inside one scoped session. States move
// idle, bound, running, then done or failed. The session is committed when
// the pipeline succeeds and rolled back on any error or panic.
//
// Dispatcher: runs a SelectionSet inline (sync) or starts procno replicas
// per class through a Spawner, joins them and sums their exit statuses.
// Replica i of n only sees rows whose shard key satisfies key % n = i.
//
// Example usage:
//
//	registry := operations.NewRegistry()
//	registry.MustRegister(pipeline.Classes()...)
//
//	classes, err := registry.Load(operations.KindStep, cfg.Pipeline.Steps)
//	set, err := operations.Select(operations.KindStep, classes, names, groups)
//
//	dispatcher := operations.NewDispatcher(store, &operations.ProcessSpawner{})
//	status, err := dispatcher.Dispatch(ctx, set, false)
package operations
