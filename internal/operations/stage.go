package operations

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"reflect"
	"slices"
	"sort"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"stagectl/internal/db"
)

// RecordSeq is a finite sequence of records. Ranging over it more than once
// re-runs the underlying query.
type RecordSeq = iter.Seq2[Record, error]

// Stage is one live instance of a stage class, bound to a single session
type Stage interface {
	// Generate returns the records to run through the pipeline.
	Generate(ctx context.Context) (RecordSeq, error)

	// Validate checks a record before it is saved.
	Validate(obj Record) error

	// Process derives zero, one or many records from obj.
	Process(ctx context.Context, obj Record) (Derived, error)

	// Save persists a record through the bound session.
	Save(obj Record) error
}

// Partition identifies one replica of a stage class out of Total
type Partition struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

// SinglePartition covers every record
var SinglePartition = Partition{Index: 0, Total: 1}

// Sharded reports whether the partition covers a strict subset
func (p Partition) Sharded() bool {
	return p.Total > 1
}

// Binding is what a factory receives when the runner instantiates a stage
type Binding struct {
	Session   db.Session
	Partition Partition
	Logger    *slog.Logger
}

// Factory builds a stage instance bound to a session
type Factory func(Binding) (Stage, error)

// StageClass describes a registered stage: its selection metadata and how to
// build an instance.
type StageClass struct {
	Name        string
	Kind        Kind
	Description string
	Groups      []string
	Procno      int
	New         Factory
}

// Check verifies the class can be bound to a runner
func (c *StageClass) Check() error {
	if c == nil {
		return NewInvalidStageError("", "stage class is nil")
	}
	if c.Name == "" {
		return NewInvalidStageError("", "stage class has no name")
	}
	if !c.Kind.Valid() {
		return NewInvalidStageError(c.Name, fmt.Sprintf("unknown stage kind %q", c.Kind))
	}
	if c.New == nil {
		return NewInvalidStageError(c.Name, "stage class has no factory")
	}
	if c.Procno < 0 {
		return NewInvalidStageError(c.Name, fmt.Sprintf("procno must be positive, got %d", c.Procno))
	}
	return nil
}

// GroupSet returns the sorted, deduplicated groups of the class, falling back
// to DefaultGroup.
func (c *StageClass) GroupSet() []string {
	if len(c.Groups) == 0 {
		return []string{DefaultGroup}
	}
	groups := slices.Clone(c.Groups)
	sort.Strings(groups)
	return slices.Compact(groups)
}

// Workers returns the number of asynchronous replicas to start
func (c *StageClass) Workers() int {
	if c.Procno < 1 {
		return 1
	}
	return c.Procno
}

// InGroups reports whether the class belongs to any of groups. An empty
// filter matches every class.
func (c *StageClass) InGroups(groups []string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range c.GroupSet() {
		if slices.Contains(groups, g) {
			return true
		}
	}
	return false
}

// Condition is one gorm Where clause
type Condition struct {
	Expr any
	Args []any
}

// Where builds a Condition
func Where(expr any, args ...any) Condition {
	return Condition{Expr: expr, Args: args}
}

// Query declares the default generator of a stage. Conditions must be
// non-nil, an empty slice selects every row of Model.
type Query struct {
	Model      any
	Conditions []Condition
	Ordering   []string
	Offset     int
	Limit      int
	// ShardKey is the integer column used to split rows between replicas.
	ShardKey string
}

// DefaultShardKey is used when a Query leaves ShardKey empty
const DefaultShardKey = "id"

var recordValidator = validator.New(validator.WithRequiredStructEnabled())

// BaseStage provides the default Generate, Validate and Save behavior.
// Concrete stages embed it and implement Process.
type BaseStage struct {
	name      string
	session   db.Session
	partition Partition
	logger    *slog.Logger
	query     *Query
}

// NewBaseStage creates a base stage bound to b. query may be nil when the
// stage overrides Generate.
func NewBaseStage(name string, b Binding, query *Query) BaseStage {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	partition := b.Partition
	if partition.Total < 1 {
		partition = SinglePartition
	}
	return BaseStage{
		name:      name,
		session:   b.Session,
		partition: partition,
		logger:    logger,
		query:     query,
	}
}

// Name returns the stage name
func (b *BaseStage) Name() string {
	return b.name
}

// Session returns the bound session
func (b *BaseStage) Session() db.Session {
	return b.session
}

// Partition returns the replica partition the stage runs on
func (b *BaseStage) Partition() Partition {
	return b.partition
}

// Logger returns the stage logger
func (b *BaseStage) Logger() *slog.Logger {
	return b.logger
}

// Generate queries the declared model: conditions, shard filter, ordering,
// offset, then limit.
func (b *BaseStage) Generate(ctx context.Context) (RecordSeq, error) {
	q := b.query
	if q == nil || q.Model == nil || q.Conditions == nil {
		return nil, NewNotImplementedError(b.name,
			"a stage with the default generator must declare a model and conditions")
	}
	if b.session == nil {
		return nil, NewPipelineError(b.name, PhaseGenerate, errors.New("no session bound"))
	}

	modelType := reflect.TypeOf(q.Model)
	for modelType.Kind() == reflect.Pointer {
		modelType = modelType.Elem()
	}

	return func(yield func(Record, error) bool) {
		dest := reflect.New(reflect.SliceOf(reflect.PointerTo(modelType)))
		if err := b.buildQuery(ctx).Find(dest.Interface()).Error; err != nil {
			yield(nil, err)
			return
		}
		rows := dest.Elem()
		for i := 0; i < rows.Len(); i++ {
			if !yield(rows.Index(i).Interface(), nil) {
				return
			}
		}
	}, nil
}

func (b *BaseStage) buildQuery(ctx context.Context) *gorm.DB {
	q := b.query
	tx := b.session.DB().WithContext(ctx).Model(q.Model)
	for _, c := range q.Conditions {
		tx = tx.Where(c.Expr, c.Args...)
	}
	if b.partition.Sharded() {
		key := q.ShardKey
		if key == "" {
			key = DefaultShardKey
		}
		tx = tx.Where(fmt.Sprintf("%s %% ? = ?", key), b.partition.Total, b.partition.Index)
	}
	for _, o := range q.Ordering {
		tx = tx.Order(o)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return tx
}

// Validate checks the record's validate struct tags. Non-struct records pass.
func (b *BaseStage) Validate(obj Record) error {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return errors.New("nil record")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return recordValidator.Struct(obj)
}

// Save persists obj with the bound session
func (b *BaseStage) Save(obj Record) error {
	if b.session == nil {
		return errors.New("no session bound")
	}
	return b.session.DB().Save(obj).Error
}

// LoaderBase is embedded by loaders: records are persisted as generated and
// nothing is derived.
type LoaderBase struct {
	BaseStage
}

// Process returns no derived records
func (l *LoaderBase) Process(context.Context, Record) (Derived, error) {
	return None(), nil
}
