package pipeline_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"stagectl/internal/config"
	"stagectl/internal/db"
	"stagectl/internal/operations"
	"stagectl/internal/operations/testutil"
	"stagectl/internal/pipeline"
)

var (
	irisHeader = []string{"Sepal Length", "Sepal Width", "Petal Length", "Petal Width", "Name"}
	irisRows   = [][]string{
		{"5.0", "3.4", "1.5", "0.2", "Iris-setosa"},
		{"5.2", "3.5", "1.4", "0.2", "Iris-setosa"},
		{"5.4", "3.7", "1.5", "0.2", "Iris-setosa"},
		{"7.0", "3.6", "1.4", "0.2", "Iris-setosa"},
		{"6.0", "2.9", "4.5", "1.5", "Iris-versicolor"},
		{"6.2", "2.8", "4.8", "1.8", "Iris-versicolor"},
	}
)

type fixture struct {
	ctx      context.Context
	store    *db.Store
	registry *operations.Registry
	alertLog string
}

func newFixture(t *testing.T, dataFile string) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		store:    testutil.OpenTestStore(t, pipeline.Models()...),
		registry: operations.NewRegistry(),
		alertLog: filepath.Join(t.TempDir(), "alerts", "sepal.jsonl"),
	}
	require.NoError(t, pipeline.RegisterBuiltins(f.registry, pipeline.Options{
		DataFile: dataFile,
		AlertLog: f.alertLog,
	}))
	return f
}

func (f *fixture) dispatch(t *testing.T, kind operations.Kind, sync bool, names ...string) (int, error) {
	t.Helper()
	set, err := operations.Select(kind, f.registry.OfKind(kind), names, nil)
	require.NoError(t, err)
	spawner := &operations.GoroutineSpawner{Sessions: f.store}
	return operations.NewDispatcher(f.store, spawner).Dispatch(f.ctx, set, sync)
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.store.DB().Model(model).Count(&n).Error)
	return n
}

func (f *fixture) statistics(t *testing.T, species string) pipeline.Statistics {
	t.Helper()
	var name pipeline.Name
	require.NoError(t, f.store.DB().Where("name = ?", species).Take(&name).Error)
	var stats pipeline.Statistics
	require.NoError(t, f.store.DB().Where("name_id = ?", name.ID).Take(&stats).Error)
	return stats
}

func writeIrisCSV(t *testing.T) string {
	t.Helper()
	return testutil.CreateCSVFile(t, t.TempDir(), "iris.csv", irisHeader, irisRows)
}

func TestIrisPipeline(t *testing.T) {
	f := newFixture(t, writeIrisCSV(t))

	status, err := f.dispatch(t, operations.KindLoader, true, pipeline.LoaderName)
	require.NoError(t, err)
	assert.Equal(t, operations.ExitSuccess, status)
	assert.Equal(t, int64(2), f.count(t, &pipeline.Name{}))
	assert.Equal(t, int64(6), f.count(t, &pipeline.Flower{}))

	status, err = f.dispatch(t, operations.KindStep, true)
	require.NoError(t, err)
	assert.Equal(t, operations.ExitSuccess, status)

	setosa := f.statistics(t, "Iris-setosa")
	assert.Equal(t, int64(4), setosa.Samples)
	require.NotNil(t, setosa.MeanSepalLength)
	assert.InDelta(t, 5.65, *setosa.MeanSepalLength, 1e-9)
	assert.InDelta(t, 0.2, *setosa.MeanPetalWidth, 1e-9)

	versicolor := f.statistics(t, "Iris-versicolor")
	assert.Equal(t, int64(2), versicolor.Samples)
	assert.InDelta(t, 6.1, *versicolor.MeanSepalLength, 1e-9)

	status, err = f.dispatch(t, operations.KindAlert, true)
	require.NoError(t, err)
	assert.Equal(t, operations.ExitSuccess, status)

	alerts := readAlerts(t, f.alertLog)
	require.Len(t, alerts, 1)
	assert.Equal(t, pipeline.SepalOutlierName, alerts[0].Stage)
	assert.Contains(t, alerts[0].Message, "sepal length 7.00")

	// alerts never write back
	assert.Equal(t, int64(6), f.count(t, &pipeline.Flower{}))
}

func TestStatisticsCreatorIsIdempotent(t *testing.T) {
	f := newFixture(t, writeIrisCSV(t))
	_, err := f.dispatch(t, operations.KindLoader, true, pipeline.LoaderName)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		status, err := f.dispatch(t, operations.KindStep, true, pipeline.StatisticsCreatorName)
		require.NoError(t, err)
		assert.Equal(t, operations.ExitSuccess, status)
	}
	assert.Equal(t, int64(2), f.count(t, &pipeline.Statistics{}))

	stats := f.statistics(t, "Iris-setosa")
	assert.Nil(t, stats.MeanSepalLength, "means are unset until measured")
}

func TestMeasureStatisticsReplicas(t *testing.T) {
	f := newFixture(t, writeIrisCSV(t))
	_, err := f.dispatch(t, operations.KindLoader, true, pipeline.LoaderName)
	require.NoError(t, err)
	_, err = f.dispatch(t, operations.KindStep, true, pipeline.StatisticsCreatorName)
	require.NoError(t, err)

	status, err := f.dispatch(t, operations.KindStep, false, pipeline.MeasureStatisticsName)
	require.NoError(t, err)
	assert.Equal(t, operations.ExitSuccess, status)

	for _, species := range []string{"Iris-setosa", "Iris-versicolor"} {
		stats := f.statistics(t, species)
		assert.NotNil(t, stats.MeanSepalLength, "%s measured by one of the replicas", species)
	}
}

func TestSepalOutlierSkipsUnmeasuredSpecies(t *testing.T) {
	f := newFixture(t, writeIrisCSV(t))
	_, err := f.dispatch(t, operations.KindLoader, true, pipeline.LoaderName)
	require.NoError(t, err)

	status, err := f.dispatch(t, operations.KindAlert, false)
	require.NoError(t, err)
	assert.Equal(t, operations.ExitSuccess, status)

	_, statErr := os.Stat(f.alertLog)
	if statErr == nil {
		assert.Empty(t, readAlerts(t, f.alertLog))
	}
}

func TestIrisLoaderXLSX(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	header := make([]any, len(irisHeader))
	for i, h := range irisHeader {
		header[i] = h
	}
	require.NoError(t, book.SetSheetRow(sheet, "A1", &header))
	for i, row := range irisRows {
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow(sheet, cell, &values))
	}
	path := filepath.Join(t.TempDir(), "iris.xlsx")
	require.NoError(t, book.SaveAs(path))

	f := newFixture(t, path)
	status, err := f.dispatch(t, operations.KindLoader, true, pipeline.LoaderName)
	require.NoError(t, err)
	assert.Equal(t, operations.ExitSuccess, status)
	assert.Equal(t, int64(6), f.count(t, &pipeline.Flower{}))
}

func TestIrisLoaderFailures(t *testing.T) {
	tests := []struct {
		name    string
		file    func(t *testing.T) string
		wantErr string
		config  bool
	}{
		{
			name:    "no data file",
			file:    func(*testing.T) string { return "" },
			wantErr: "no data file",
			config:  true,
		},
		{
			name: "missing column",
			file: func(t *testing.T) string {
				return testutil.CreateCSVFile(t, t.TempDir(), "iris.csv", irisHeader[:4], [][]string{{"1", "2", "3", "4"}})
			},
			wantErr: `"name"`,
		},
		{
			name: "bad measurement rolls back earlier rows",
			file: func(t *testing.T) string {
				rows := append([][]string{}, irisRows[:2]...)
				rows = append(rows, []string{"wide", "3", "1", "0.2", "Iris-setosa"})
				return testutil.CreateCSVFile(t, t.TempDir(), "iris.csv", irisHeader, rows)
			},
			wantErr: "sepal_length",
		},
		{
			name: "non-positive measurement fails validation",
			file: func(t *testing.T) string {
				return testutil.CreateCSVFile(t, t.TempDir(), "iris.csv", irisHeader, [][]string{{"0", "3", "1", "0.2", "Iris-setosa"}})
			},
			wantErr: "SepalLength",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.file(t))

			status, err := f.dispatch(t, operations.KindLoader, true, pipeline.LoaderName)

			assert.Equal(t, operations.ExitFailure, status)
			testutil.AssertErrorContains(t, err, tt.wantErr)
			assert.Equal(t, tt.config, operations.IsConfigurationError(err))
			assert.Equal(t, int64(0), f.count(t, &pipeline.Flower{}))
			assert.Equal(t, int64(0), f.count(t, &pipeline.Name{}))
		})
	}
}

func TestClasses(t *testing.T) {
	reg := operations.NewRegistry()
	require.NoError(t, pipeline.RegisterBuiltins(reg, pipeline.OptionsFromConfig(config.Default().Pipeline)))

	assert.Equal(t, []string{
		pipeline.LoaderName,
		pipeline.StatisticsCreatorName,
		pipeline.MeasureStatisticsName,
		pipeline.SepalOutlierName,
	}, reg.ListIDs())

	measure, err := reg.LoadOne(operations.KindStep, pipeline.MeasureStatisticsName)
	require.NoError(t, err)
	assert.Equal(t, 2, measure.Workers())

	_, err = reg.LoadOne(operations.KindStep, pipeline.SepalOutlierName)
	assert.True(t, operations.IsConfigurationError(err))

	assert.Error(t, pipeline.RegisterBuiltins(reg, pipeline.Options{}), "second registration collides")
	assert.Equal(t, []string{"default", "quality", "statistics"}, operations.Groups(reg.List()))
}

func readAlerts(t *testing.T, path string) []operations.Alert {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var alerts []operations.Alert
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var a operations.Alert
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &a))
		alerts = append(alerts, a)
	}
	return alerts
}
