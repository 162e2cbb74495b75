package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"

	"stagectl/internal/operations"
)

// DefaultSepalTolerance is the allowed distance, in cm, between a flower's
// sepal length and its species mean.
const DefaultSepalTolerance = 1.0

// SepalOutlier raises an alert for every flower whose sepal length is more
// than the tolerance away from its species mean.
type SepalOutlier struct {
	operations.AlertBase
	tolerance float64
	means     map[uint]*float64
}

func newSepalOutlier(b operations.Binding, tolerance float64, endpoints ...operations.Endpoint) *SepalOutlier {
	return &SepalOutlier{
		AlertBase: operations.NewAlertBase(SepalOutlierName, b, &operations.Query{
			Model:      &Flower{},
			Conditions: []operations.Condition{},
			Ordering:   []string{"id"},
		}, endpoints...),
		tolerance: tolerance,
		means:     make(map[uint]*float64),
	}
}

func (a *SepalOutlier) Process(ctx context.Context, obj operations.Record) (operations.Derived, error) {
	f, ok := obj.(*Flower)
	if !ok {
		return operations.None(), fmt.Errorf("unexpected record %T", obj)
	}

	mean, err := a.mean(ctx, f.NameID)
	if err != nil || mean == nil {
		return operations.None(), err
	}

	if diff := math.Abs(f.SepalLength - *mean); diff > a.tolerance {
		msg := fmt.Sprintf("flower %d sepal length %.2f is %.2f cm from the species mean %.2f",
			f.ID, f.SepalLength, diff, *mean)
		return operations.None(), a.Emit(ctx, msg, f)
	}
	return operations.None(), nil
}

// mean returns the cached species mean, nil when it was never measured
func (a *SepalOutlier) mean(ctx context.Context, nameID uint) (*float64, error) {
	if m, ok := a.means[nameID]; ok {
		return m, nil
	}

	var stats Statistics
	err := a.Session().DB().WithContext(ctx).Where("name_id = ?", nameID).Take(&stats).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		a.means[nameID] = nil
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load statistics of species %d: %w", nameID, err)
	}
	a.means[nameID] = stats.MeanSepalLength
	return stats.MeanSepalLength, nil
}
