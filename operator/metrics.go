package operator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowmesh/flowmesh/element"
)

var (
	meter  = otel.GetMeterProvider().Meter("flowmesh/operator")
	tracer = otel.GetTracerProvider().Tracer("flowmesh/operator")

	itemsOut  metric.Int64Counter
	errorsCtr metric.Int64Counter
	pullTime  metric.Int64Histogram
)

func init() {
	var err error
	if itemsOut, err = meter.Int64Counter("flowmesh.operator.items_out"); err != nil {
		itemsOut, _ = meter.Int64Counter("flowmesh.operator.items_out.fallback")
	}
	if errorsCtr, err = meter.Int64Counter("flowmesh.operator.errors"); err != nil {
		errorsCtr, _ = meter.Int64Counter("flowmesh.operator.errors.fallback")
	}
	if pullTime, err = meter.Int64Histogram("flowmesh.operator.pull_duration_ms"); err != nil {
		pullTime, _ = meter.Int64Histogram("flowmesh.operator.pull_duration_ms.fallback")
	}
}

// Instrumented wraps an Operator with span/metric/panic-recovery
// decoration, matching the teacher's vertex.go decorator-stack shape
// (span / metrics / recover layered as handler-wrapping-handler) but
// applied to a pull (Next) rather than a push (handler) interface, and
// built on the otel v1 metric API rather than the teacher's
// metric.Must(...) v0 helper.
type Instrumented[T any] struct {
	inner     Operator[T]
	title     string
	blockAttr attribute.KeyValue
	recovered func(err error)
}

// Instrument decorates op with otel span/metric recording and panic
// recovery. recovered, if non-nil, is invoked (instead of a panic
// propagating) whenever op.Next panics; it is expected to route the
// error into the engine's error-reporting path (spec section 7).
func Instrument[T any](title string, op Operator[T], recovered func(err error)) Operator[T] {
	return &Instrumented[T]{inner: op, title: title, blockAttr: attribute.String("operator", title), recovered: recovered}
}

func (i *Instrumented[T]) Setup(ctx context.Context, meta ExecutionMetadata) error {
	return i.inner.Setup(ctx, meta)
}

func (i *Instrumented[T]) Structure() OperatorStructure { return i.inner.Structure() }

func (i *Instrumented[T]) Next(ctx context.Context) (el element.StreamElement[T], err error) {
	ctx, span := tracer.Start(ctx, i.title, trace.WithAttributes(i.blockAttr))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			var perr error
			if e, ok := r.(error); ok {
				perr = e
			} else {
				perr = fmt.Errorf("%v", r)
			}
			errorsCtr.Add(ctx, 1, metric.WithAttributes(i.blockAttr))
			span.RecordError(perr)
			if i.recovered != nil {
				i.recovered(fmt.Errorf("operator %s: panic recovered: %w", i.title, perr))
			}
			err = perr
		}
	}()

	start := time.Now()
	el, err = i.inner.Next(ctx)
	pullTime.Record(ctx, time.Since(start).Milliseconds(), metric.WithAttributes(i.blockAttr))

	if err != nil {
		if err != context.Canceled {
			errorsCtr.Add(ctx, 1, metric.WithAttributes(i.blockAttr))
			span.RecordError(err)
		}
		return el, err
	}

	if el.IsData() {
		itemsOut.Add(ctx, 1, metric.WithAttributes(i.blockAttr))
	}
	return el, nil
}
