package operations

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"stagectl/internal/infrastructure"
)

const (
	TracerName = "stagectl.operations"
)

// StageTracer provides OpenTelemetry instrumentation for runners and
// dispatchers. A nil *StageTracer is valid and records nothing.
type StageTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.PipelineMetrics
}

// NewStageTracer creates a tracer on the given providers
func NewStageTracer(providers *infrastructure.OTelProviders) (*StageTracer, error) {
	metrics, err := infrastructure.CreatePipelineMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	return &StageTracer{
		tracer:  providers.Tracer,
		metrics: metrics,
	}, nil
}

func stageAttrs(class *StageClass, p Partition) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("stage", class.Name),
		attribute.String("kind", string(class.Kind)),
		attribute.Int("replica", p.Index),
		attribute.Int("replicas", p.Total),
	}
}

// StartRun opens the span covering one runner execution
func (st *StageTracer) StartRun(ctx context.Context, class *StageClass, p Partition) (context.Context, trace.Span) {
	if st == nil {
		return ctx, tracenoop.Span{}
	}
	return st.tracer.Start(ctx, fmt.Sprintf("stage.run.%s", class.Kind),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(stageAttrs(class, p)...),
	)
}

// EndRun records the run outcome and ends the span
func (st *StageTracer) EndRun(ctx context.Context, span trace.Span, class *StageClass, duration time.Duration, stats RunStats, err error) {
	defer span.End()
	if st == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
	}

	span.SetAttributes(
		attribute.String("stage.status", status),
		attribute.Float64("stage.duration_seconds", duration.Seconds()),
		attribute.Int("stage.records_generated", stats.Generated),
		attribute.Int("stage.records_derived", stats.Derived),
		attribute.Int("stage.records_saved", stats.Saved),
	)

	attrs := metric.WithAttributes(
		attribute.String("stage", class.Name),
		attribute.String("kind", string(class.Kind)),
	)
	st.metrics.StageRunsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", class.Name),
		attribute.String("status", status),
	))
	st.metrics.StageRunDuration.Record(ctx, duration.Seconds(), attrs)
	st.metrics.RecordsGeneratedTotal.Add(ctx, int64(stats.Generated), attrs)
	st.metrics.RecordsDerivedTotal.Add(ctx, int64(stats.Derived), attrs)
	st.metrics.RecordsSavedTotal.Add(ctx, int64(stats.Saved), attrs)

	if err != nil {
		span.RecordError(err, trace.WithAttributes(
			attribute.String("error.type", string(GetErrorType(err))),
		))
		span.SetStatus(codes.Error, "stage run failed")
		st.metrics.StageErrorsTotal.Add(ctx, 1, attrs)
		return
	}
	span.SetStatus(codes.Ok, "stage run completed")
}

// WorkerStarted counts an asynchronous worker start
func (st *StageTracer) WorkerStarted(ctx context.Context, class *StageClass) {
	if st == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", class.Name))
	st.metrics.WorkersStartedTotal.Add(ctx, 1, attrs)
	st.metrics.ActiveWorkers.Add(ctx, 1, attrs)
}

// WorkerExited records the terminal status of an asynchronous worker
func (st *StageTracer) WorkerExited(ctx context.Context, class *StageClass, status int) {
	if st == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", class.Name))
	st.metrics.ActiveWorkers.Add(ctx, -1, attrs)
	if status != ExitSuccess {
		st.metrics.WorkersFailedTotal.Add(ctx, 1, attrs)
	}
}
