// Package connectors holds small shared scaffolding every concrete
// connector (connectors/kafka, connectors/pubsub, ...) builds on: a
// Source adapter turning a periodic "pull a batch" function into an
// operator.Operator[T], and a Sink adapter turning a "push a batch"
// function into the callback EndBlock's terminal stage invokes. This
// mirrors the teacher's repeated Initium(v *viper.Viper)
// machine.Initium / Terminus(v *viper.Viper) machine.Terminus shape
// found identically across components/kafka, components/pubsub,
// components/sqs etc. — flowmesh factors that repeated shape out once
// here instead of reimplementing it per connector.
package connectors

import (
	"context"

	"github.com/flowmesh/flowmesh/element"
	"github.com/flowmesh/flowmesh/operator"
)

// PullBatch fetches the next batch of decoded records from an external
// system. A nil or empty slice with a nil error is a normal empty
// poll; the Source adapter polls again rather than returning a Next
// error for it. Returning io.EOF (or any error) ends the source: Next
// returns an End element with a nil error, the pull error itself is
// dropped, and later Next calls fail with context.Canceled.
type PullBatch[T any] func(ctx context.Context) ([]T, error)

// Source adapts a PullBatch function into an operator.Operator[T],
// flattening each returned batch into individual Item elements.
type Source[T any] struct {
	title   string
	pull    PullBatch[T]
	pending []T
	ended   bool
}

// NewSource constructs a Source. title names the connector for
// introspection and tracing (operator.Instrument).
func NewSource[T any](title string, pull PullBatch[T]) *Source[T] {
	return &Source[T]{title: title, pull: pull}
}

func (s *Source[T]) Setup(ctx context.Context, meta operator.ExecutionMetadata) error { return nil }

func (s *Source[T]) Structure() operator.OperatorStructure {
	return operator.OperatorStructure{Title: s.title, Subtitle: "source"}
}

func (s *Source[T]) Next(ctx context.Context) (element.StreamElement[T], error) {
	var zero element.StreamElement[T]

	for {
		if len(s.pending) > 0 {
			v := s.pending[0]
			s.pending = s.pending[1:]
			return element.Item(v), nil
		}
		if s.ended {
			return zero, context.Canceled
		}

		if err := ctx.Err(); err != nil {
			return zero, err
		}

		batch, err := s.pull(ctx)
		if err != nil {
			s.ended = true
			return element.End[T](), nil
		}
		s.pending = batch
	}
}

// PushBatch delivers a batch of encoded records to an external system.
type PushBatch[T any] func(ctx context.Context, batch []T) error

// Sink adapts a PushBatch function into the callback shape the engine's
// execution loop drives a sink block's final stage with: every
// non-control element accumulates until a control element (or a
// caller-chosen flush point) arrives, at which point the batch is
// pushed.
type Sink[T any] struct {
	push    PushBatch[T]
	pending []T
}

// NewSink constructs a Sink.
func NewSink[T any](push PushBatch[T]) *Sink[T] {
	return &Sink[T]{push: push}
}

// Consume buffers or flushes el depending on its kind, pushing the
// pending batch whenever a control element (Watermark/FlushBatch/
// FlushAndRestart/End/Terminate) arrives.
func (s *Sink[T]) Consume(ctx context.Context, el element.StreamElement[T]) error {
	if el.IsData() {
		s.pending = append(s.pending, el.Value)
		return nil
	}
	return s.Flush(ctx)
}

// Flush pushes any pending records regardless of element kind.
func (s *Sink[T]) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = nil
	return s.push(ctx, batch)
}
