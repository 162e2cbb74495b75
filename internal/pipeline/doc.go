// Package pipeline holds the built-in iris sample pipeline: the models, the
// loader that reads the measurements file, the steps that compute per
// species statistics, and an alert for flowers whose sepal length strays
// from their species mean.
//
// The stage classes are registered with RegisterBuiltins:
//
//	reg := operations.NewRegistry()
//	if err := pipeline.RegisterBuiltins(reg, pipeline.OptionsFromConfig(cfg.Pipeline)); err != nil {
//	    return err
//	}
package pipeline
