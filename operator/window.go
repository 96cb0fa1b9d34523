package operator

import (
	"context"

	"github.com/flowmesh/flowmesh/element"
	"github.com/flowmesh/flowmesh/window"
)

// WindowOperator evaluates event-time windows on a keyed stream (spec
// section 4.6): it must sit immediately downstream of a group_by stage
// so every element it sees for a given key arrives on this replica.
// Timestamped elements are accumulated into window.Evaluator state;
// Watermark elements trigger CloseUpTo and are themselves forwarded
// after any newly-closed windows; FlushAndRestart closes every
// remaining window unconditionally and resets state (the Open Question
// decision recorded for the loop-boundary case, spec section 9).
type WindowOperator[T any, K comparable] struct {
	upstream Operator[T]
	keyFn    func(T) K
	reducer  func(acc, next T) T
	eval     *window.Evaluator[T, K]

	pending []element.StreamElement[T]
}

// NewWindowOperator constructs a WindowOperator over spec, keyed by
// keyFn, folding each closed window's values with reducer. keyOrder
// must stably and totally order K (passed through to
// window.NewEvaluator for close-order tie-breaking).
func NewWindowOperator[T any, K comparable](upstream Operator[T], spec window.Spec, keyFn func(T) K, keyOrder func(K) string, reducer func(acc, next T) T) *WindowOperator[T, K] {
	return &WindowOperator[T, K]{
		upstream: upstream,
		keyFn:    keyFn,
		reducer:  reducer,
		eval:     window.NewEvaluator[T, K](spec, keyOrder),
	}
}

func (w *WindowOperator[T, K]) Setup(ctx context.Context, meta ExecutionMetadata) error {
	return w.upstream.Setup(ctx, meta)
}

func (w *WindowOperator[T, K]) Structure() OperatorStructure {
	return OperatorStructure{Title: "Window", Subtitle: "event-time"}
}

func (w *WindowOperator[T, K]) Next(ctx context.Context) (element.StreamElement[T], error) {
	for {
		if len(w.pending) > 0 {
			e := w.pending[0]
			w.pending = w.pending[1:]
			return e, nil
		}

		el, err := w.upstream.Next(ctx)
		if err != nil {
			return el, err
		}

		switch el.Kind {
		case element.KindTimestamped:
			w.eval.Add(w.keyFn(el.Value), el.Value, el.Timestamp)
			continue

		case element.KindWatermark:
			w.emitClosed(w.eval.CloseUpTo(el.Timestamp))
			w.pending = append(w.pending, el)

		case element.KindFlushAndRestart, element.KindEnd, element.KindTerminate:
			w.emitClosed(w.eval.CloseAll())
			if el.Kind == element.KindFlushAndRestart {
				w.eval.Reset()
			}
			w.pending = append(w.pending, el)

		default:
			// KindItem (untimestamped) passes through unwindowed: it
			// carries no event time to assign it to a window.
			return el, nil
		}
	}
}

func (w *WindowOperator[T, K]) emitClosed(closed []window.Closed[T, K]) {
	for _, c := range closed {
		if len(c.Values) == 0 {
			continue
		}
		acc := c.Values[0]
		for _, v := range c.Values[1:] {
			acc = w.reducer(acc, v)
		}
		w.pending = append(w.pending, element.Timestamped(acc, c.Span.End))
	}
}
