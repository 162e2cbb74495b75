package pipeline

import (
	"context"
	"fmt"

	"stagectl/internal/operations"
)

// StatisticsCreator derives an empty Statistics row for every species that
// has none yet.
type StatisticsCreator struct {
	operations.BaseStage
}

func newStatisticsCreator(b operations.Binding) *StatisticsCreator {
	return &StatisticsCreator{
		BaseStage: operations.NewBaseStage(StatisticsCreatorName, b, &operations.Query{
			Model: &Name{},
			Conditions: []operations.Condition{
				operations.Where("NOT EXISTS (SELECT 1 FROM statistics WHERE statistics.name_id = names.id)"),
			},
			Ordering: []string{"id"},
		}),
	}
}

func (s *StatisticsCreator) Process(_ context.Context, obj operations.Record) (operations.Derived, error) {
	name, ok := obj.(*Name)
	if !ok {
		return operations.None(), fmt.Errorf("unexpected record %T", obj)
	}
	return operations.One(&Statistics{NameID: name.ID}), nil
}

// MeasureStatistics recomputes the means of every Statistics row from the
// stored flowers. Replicas split the rows by id.
type MeasureStatistics struct {
	operations.BaseStage
}

func newMeasureStatistics(b operations.Binding) *MeasureStatistics {
	return &MeasureStatistics{
		BaseStage: operations.NewBaseStage(MeasureStatisticsName, b, &operations.Query{
			Model:      &Statistics{},
			Conditions: []operations.Condition{},
			Ordering:   []string{"id"},
		}),
	}
}

type means struct {
	SepalLength *float64
	SepalWidth  *float64
	PetalLength *float64
	PetalWidth  *float64
	Samples     int64
}

func (s *MeasureStatistics) Process(ctx context.Context, obj operations.Record) (operations.Derived, error) {
	stats, ok := obj.(*Statistics)
	if !ok {
		return operations.None(), fmt.Errorf("unexpected record %T", obj)
	}

	var m means
	err := s.Session().DB().WithContext(ctx).
		Model(&Flower{}).
		Select("AVG(sepal_length) AS sepal_length, AVG(sepal_width) AS sepal_width, "+
			"AVG(petal_length) AS petal_length, AVG(petal_width) AS petal_width, COUNT(*) AS samples").
		Where("name_id = ?", stats.NameID).
		Scan(&m).Error
	if err != nil {
		return operations.None(), fmt.Errorf("measure species %d: %w", stats.NameID, err)
	}

	stats.Samples = m.Samples
	stats.MeanSepalLength = m.SepalLength
	stats.MeanSepalWidth = m.SepalWidth
	stats.MeanPetalLength = m.PetalLength
	stats.MeanPetalWidth = m.PetalWidth
	return operations.None(), nil
}
