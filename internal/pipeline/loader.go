package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"stagectl/internal/dataprocessing"
	"stagectl/internal/operations"
)

// Columns the measurements file must carry, after header normalization
var irisColumns = []string{"sepal_length", "sepal_width", "petal_length", "petal_width", "name"}

// IrisLoader reads flowers from a CSV or XLSX file. Species names are
// created on first sight.
type IrisLoader struct {
	operations.LoaderBase
	path string
}

func newIrisLoader(b operations.Binding, path string) *IrisLoader {
	return &IrisLoader{
		LoaderBase: operations.LoaderBase{BaseStage: operations.NewBaseStage(LoaderName, b, nil)},
		path:       path,
	}
}

// Generate parses the file up front so a malformed header fails before any
// row is saved.
func (l *IrisLoader) Generate(ctx context.Context) (operations.RecordSeq, error) {
	if l.path == "" {
		return nil, operations.NewConfigurationError("pipeline.data_file", "no data file configured for "+LoaderName)
	}
	table, err := dataprocessing.ParseFile(l.path)
	if err != nil {
		return nil, err
	}
	if err := table.HasColumns(irisColumns...); err != nil {
		return nil, err
	}

	l.Logger().DebugContext(ctx, "data_file_parsed",
		slog.String("path", l.path),
		slog.Int("rows", table.Len()))

	tx := l.Session().DB().WithContext(ctx)
	return func(yield func(operations.Record, error) bool) {
		names := make(map[string]uint)
		for row := range table.Rows() {
			f, err := flowerFromRow(tx, names, row)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}, nil
}

func flowerFromRow(tx *gorm.DB, names map[string]uint, row dataprocessing.Row) (*Flower, error) {
	label, err := row.String("name")
	if err != nil {
		return nil, err
	}
	if label == "" {
		return nil, fmt.Errorf("line %d: empty species name", row.Line)
	}

	id, ok := names[label]
	if !ok {
		n := Name{Name: label}
		if err := tx.Where(Name{Name: label}).FirstOrCreate(&n).Error; err != nil {
			return nil, fmt.Errorf("line %d: resolve species %q: %w", row.Line, label, err)
		}
		id = n.ID
		names[label] = id
	}

	f := &Flower{NameID: id}
	for column, dst := range map[string]*float64{
		"sepal_length": &f.SepalLength,
		"sepal_width":  &f.SepalWidth,
		"petal_length": &f.PetalLength,
		"petal_width":  &f.PetalWidth,
	} {
		if *dst, err = row.Float(column); err != nil {
			return nil, err
		}
	}
	return f, nil
}
