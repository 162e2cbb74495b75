package pipeline

import (
	"stagectl/internal/config"
	"stagectl/internal/operations"
)

const (
	LoaderName            = "iris-loader"
	StatisticsCreatorName = "statistics-creator"
	MeasureStatisticsName = "measure-statistics"
	SepalOutlierName      = "sepal-outlier"
)

// Options configure the built-in stages
type Options struct {
	// DataFile is the CSV or XLSX measurements file read by the loader.
	DataFile string
	// AlertLog, when set, receives sepal-outlier alerts as JSON lines.
	AlertLog string
	// SepalTolerance defaults to DefaultSepalTolerance.
	SepalTolerance float64
}

// OptionsFromConfig maps the pipeline settings to stage options
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		DataFile: cfg.DataFile,
		AlertLog: cfg.AlertLog,
	}
}

// Classes returns the built-in stage classes in registration order
func Classes(opts Options) []*operations.StageClass {
	tolerance := opts.SepalTolerance
	if tolerance <= 0 {
		tolerance = DefaultSepalTolerance
	}

	return []*operations.StageClass{
		{
			Name:        LoaderName,
			Kind:        operations.KindLoader,
			Description: "Load iris measurements from a CSV or XLSX file",
			New: func(b operations.Binding) (operations.Stage, error) {
				return newIrisLoader(b, opts.DataFile), nil
			},
		},
		{
			Name:        StatisticsCreatorName,
			Kind:        operations.KindStep,
			Description: "Create a statistics row for every species",
			Groups:      []string{"default", "statistics"},
			Procno:      1,
			New: func(b operations.Binding) (operations.Stage, error) {
				return newStatisticsCreator(b), nil
			},
		},
		{
			Name:        MeasureStatisticsName,
			Kind:        operations.KindStep,
			Description: "Compute the measurement means of every species",
			Groups:      []string{"statistics"},
			Procno:      2,
			New: func(b operations.Binding) (operations.Stage, error) {
				return newMeasureStatistics(b), nil
			},
		},
		{
			Name:        SepalOutlierName,
			Kind:        operations.KindAlert,
			Description: "Alert on flowers whose sepal length strays from the species mean",
			Groups:      []string{"quality"},
			Procno:      1,
			New: func(b operations.Binding) (operations.Stage, error) {
				endpoints := []operations.Endpoint{&operations.LogEndpoint{Logger: b.Logger}}
				if opts.AlertLog != "" {
					endpoints = append(endpoints, &operations.FileEndpoint{Path: opts.AlertLog})
				}
				return newSepalOutlier(b, tolerance, endpoints...), nil
			},
		},
	}
}

// RegisterBuiltins adds the built-in stage classes to reg
func RegisterBuiltins(reg *operations.Registry, opts Options) error {
	for _, class := range Classes(opts) {
		if err := reg.Register(class); err != nil {
			return err
		}
	}
	return nil
}
