package operations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagectl/internal/db"
	"stagectl/internal/operations"
	"stagectl/internal/operations/testutil"
)

type widget struct {
	ID    uint   `gorm:"primaryKey"`
	Name  string `validate:"required"`
	Color string
	Size  int `validate:"gte=0"`
}

// seedWidgets stores widgets 1..n with Size equal to the id
func seedWidgets(t *testing.T, n int) *db.Store {
	t.Helper()
	store := testutil.OpenTestStore(t, &widget{})
	for i := 1; i <= n; i++ {
		color := "red"
		if i%3 == 0 {
			color = "blue"
		}
		w := widget{ID: uint(i), Name: "w", Color: color, Size: i}
		require.NoError(t, store.DB().Create(&w).Error)
	}
	return store
}

func acquire(t *testing.T, store *db.Store) db.Session {
	t.Helper()
	sess, err := store.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Release(nil) })
	return sess
}

func collectIDs(t *testing.T, seq operations.RecordSeq) []uint {
	t.Helper()
	var ids []uint
	for r, err := range seq {
		require.NoError(t, err)
		ids = append(ids, r.(*widget).ID)
	}
	return ids
}

func TestBaseStageGenerate(t *testing.T) {
	store := seedWidgets(t, 10)

	tests := []struct {
		name      string
		query     *operations.Query
		partition operations.Partition
		want      []uint
	}{
		{
			name:  "all rows",
			query: &operations.Query{Model: &widget{}, Conditions: []operations.Condition{}, Ordering: []string{"id"}},
			want:  []uint{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
		{
			name: "filter then order then offset then limit",
			query: &operations.Query{
				Model:      &widget{},
				Conditions: []operations.Condition{operations.Where("size >= ?", 3)},
				Ordering:   []string{"size desc"},
				Offset:     1,
				Limit:      3,
			},
			want: []uint{9, 8, 7},
		},
		{
			name: "conditions are a conjunction",
			query: &operations.Query{
				Model: &widget{},
				Conditions: []operations.Condition{
					operations.Where("color = ?", "blue"),
					operations.Where("size > ?", 3),
				},
				Ordering: []string{"id"},
			},
			want: []uint{6, 9},
		},
		{
			name:  "offset without limit",
			query: &operations.Query{Model: &widget{}, Conditions: []operations.Condition{}, Ordering: []string{"id"}, Offset: 8},
			want:  []uint{9, 10},
		},
		{
			name:      "replica sees its shard only",
			query:     &operations.Query{Model: &widget{}, Conditions: []operations.Condition{}, Ordering: []string{"id"}},
			partition: operations.Partition{Index: 1, Total: 3},
			want:      []uint{1, 4, 7, 10},
		},
		{
			name: "shard filter applies before limit",
			query: &operations.Query{
				Model:      &widget{},
				Conditions: []operations.Condition{operations.Where("size > ?", 2)},
				Ordering:   []string{"id"},
				Limit:      2,
			},
			partition: operations.Partition{Index: 0, Total: 2},
			want:      []uint{4, 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := operations.NewBaseStage("widgets", operations.Binding{
				Session:   acquire(t, store),
				Partition: tt.partition,
			}, tt.query)

			seq, err := base.Generate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, collectIDs(t, seq))
		})
	}
}

func TestBaseStageGenerateIsRestartable(t *testing.T) {
	store := seedWidgets(t, 4)
	sess := acquire(t, store)
	base := operations.NewBaseStage("widgets", operations.Binding{Session: sess}, &operations.Query{
		Model:      &widget{},
		Conditions: []operations.Condition{},
		Ordering:   []string{"id"},
	})

	seq, err := base.Generate(context.Background())
	require.NoError(t, err)

	first := collectIDs(t, seq)
	require.NoError(t, sess.DB().Create(&widget{ID: 5, Name: "late", Size: 5}).Error)
	second := collectIDs(t, seq)

	assert.Equal(t, []uint{1, 2, 3, 4}, first)
	assert.Equal(t, []uint{1, 2, 3, 4, 5}, second, "each range re-runs the query")
}

func TestBaseStageGenerateNotImplemented(t *testing.T) {
	tests := []struct {
		name  string
		query *operations.Query
	}{
		{"no query", nil},
		{"no model", &operations.Query{Conditions: []operations.Condition{}}},
		{"no conditions", &operations.Query{Model: &widget{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := operations.NewBaseStage("incomplete", operations.Binding{Session: &testutil.MockSession{}}, tt.query)
			_, err := base.Generate(context.Background())
			testutil.AssertErrorType(t, err, operations.ErrorTypeNotImplemented)
			assert.True(t, operations.IsConfigurationError(err))
			assert.Contains(t, err.Error(), "incomplete")
		})
	}
}

func TestBaseStageValidate(t *testing.T) {
	base := operations.NewBaseStage("widgets", operations.Binding{}, nil)

	assert.NoError(t, base.Validate(&widget{Name: "ok", Size: 1}))
	assert.NoError(t, base.Validate(widget{Name: "ok"}))
	assert.Error(t, base.Validate(&widget{Size: 1}), "name is required")
	assert.Error(t, base.Validate(&widget{Name: "neg", Size: -1}))
	assert.NoError(t, base.Validate("plain value"))
	assert.NoError(t, base.Validate(42))

	var nilWidget *widget
	assert.Error(t, base.Validate(nilWidget))
}

func TestBaseStageSave(t *testing.T) {
	store := testutil.OpenTestStore(t, &widget{})
	sess, err := store.Acquire(context.Background())
	require.NoError(t, err)

	base := operations.NewBaseStage("widgets", operations.Binding{Session: sess}, nil)
	require.NoError(t, base.Save(&widget{ID: 1, Name: "saved"}))
	require.NoError(t, sess.Release(nil))

	var got widget
	require.NoError(t, store.DB().First(&got, 1).Error)
	assert.Equal(t, "saved", got.Name)

	unbound := operations.NewBaseStage("unbound", operations.Binding{}, nil)
	assert.Error(t, unbound.Save(&widget{}))
}

func TestBaseStageDefaults(t *testing.T) {
	base := operations.NewBaseStage("widgets", operations.Binding{}, nil)
	assert.Equal(t, "widgets", base.Name())
	assert.Equal(t, operations.SinglePartition, base.Partition())
	assert.NotNil(t, base.Logger())
	assert.Nil(t, base.Session())
}

func TestLoaderBaseDerivesNothing(t *testing.T) {
	loader := operations.LoaderBase{BaseStage: operations.NewBaseStage("loader", operations.Binding{}, nil)}
	d, err := loader.Process(context.Background(), &widget{})
	require.NoError(t, err)
	assert.Equal(t, 0, d.Len())
}

func TestStageClassMetadata(t *testing.T) {
	class := testutil.NewStepClass("measure", 0)
	assert.Equal(t, []string{operations.DefaultGroup}, class.GroupSet())
	assert.Equal(t, 1, class.Workers())

	class = testutil.NewStepClass("measure", 3, "b", "a", "b")
	assert.Equal(t, []string{"a", "b"}, class.GroupSet())
	assert.Equal(t, 3, class.Workers())
	assert.True(t, class.InGroups([]string{"a"}))
	assert.False(t, class.InGroups([]string{"default"}))
	assert.True(t, class.InGroups(nil))
}
