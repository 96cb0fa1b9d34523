// Package operator implements the pull-based runtime every physical
// block replica executes: a chain of Operators bracketed by a
// StartBlock (merges upstream replicas) and an EndBlock (batches and
// routes to downstream replicas), per spec section 4.3.
package operator

import (
	"context"

	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/element"
)

// ExecutionMetadata identifies the replica an Operator chain is running
// as, passed to Setup so an operator can tag logs/metrics/traces.
type ExecutionMetadata struct {
	Self        coord.Coord
	BlockTitle  string
	NumUpstream int
}

// Operator is the pull-based unit every stage in a block compiles down
// to (spec section 4.3): Setup runs once before the first Next call,
// Next produces (or transforms and produces) the next StreamElement,
// and Structure reports this operator's introspection metadata.
type Operator[T any] interface {
	Setup(ctx context.Context, meta ExecutionMetadata) error
	Next(ctx context.Context) (element.StreamElement[T], error)
	Structure() OperatorStructure
}

// OperatorStructure is the introspection view of a single operator, a
// thin alias kept local to avoid operator depending on graph for
// anything beyond this one shape.
type OperatorStructure struct {
	Title    string
	Subtitle string
}

// funcOperator adapts a plain pull function into an Operator, used to
// build the Map/Filter/Reduce stages without a dedicated named type
// each (spec section 4.3 treats these as equivalent thin wrappers over
// "pull upstream, transform, return").
type funcOperator[T any] struct {
	title string
	pull  func(ctx context.Context) (element.StreamElement[T], error)
}

func (f *funcOperator[T]) Setup(ctx context.Context, meta ExecutionMetadata) error { return nil }
func (f *funcOperator[T]) Next(ctx context.Context) (element.StreamElement[T], error) {
	return f.pull(ctx)
}
func (f *funcOperator[T]) Structure() OperatorStructure { return OperatorStructure{Title: f.title} }

// Map returns an Operator that applies fn to every data element passing
// through upstream, leaving control elements untouched.
func Map[T any](title string, upstream Operator[T], fn func(T) T) Operator[T] {
	return &funcOperator[T]{title: title, pull: func(ctx context.Context) (element.StreamElement[T], error) {
		el, err := upstream.Next(ctx)
		if err != nil {
			return el, err
		}
		if el.IsData() {
			el.Value = fn(el.Value)
		}
		return el, nil
	}}
}

// Filter returns an Operator that drops data elements failing pred,
// re-pulling upstream until a passing element (or a control element)
// is found.
func Filter[T any](title string, upstream Operator[T], pred func(T) bool) Operator[T] {
	return &funcOperator[T]{title: title, pull: func(ctx context.Context) (element.StreamElement[T], error) {
		for {
			el, err := upstream.Next(ctx)
			if err != nil {
				return el, err
			}
			if !el.IsData() || pred(el.Value) {
				return el, nil
			}
		}
	}}
}

// Reduce returns an Operator that folds every data element into a
// single running accumulator, emitting the updated accumulator value
// on every data element (Item or Timestamped) and passing control elements through unchanged (a
// non-windowed running aggregate, spec section 4.6's simpler sibling).
func Reduce[T any](title string, upstream Operator[T], reducer func(acc, next T) T) Operator[T] {
	var acc T
	var started bool
	return &funcOperator[T]{title: title, pull: func(ctx context.Context) (element.StreamElement[T], error) {
		el, err := upstream.Next(ctx)
		if err != nil {
			return el, err
		}
		if !el.IsData() {
			return el, nil
		}
		if !started {
			acc = el.Value
			started = true
		} else {
			acc = reducer(acc, el.Value)
		}
		el.Value = acc
		return el, nil
	}}
}
