// Package window implements the event-time tumbling and sliding window
// primitives of spec section 4.6: windows are evaluated on a keyed
// stream immediately after group_by, closed in ascending window-end
// order (ties broken by key) as watermarks advance.
package window

import (
	"sort"
	"time"
)

// Kind distinguishes the two supported window shapes.
type Kind int

const (
	Tumbling Kind = iota
	Sliding
)

// Spec describes a window assignment policy. Use the TumblingOf/SlidingOf
// constructors rather than building one by hand.
type Spec struct {
	Kind Kind
	Size time.Duration
	Step time.Duration // only meaningful for Sliding
}

// TumblingOf constructs EventTimeWindow::tumbling(size): windows
// [k*size, (k+1)*size).
func TumblingOf(size time.Duration) Spec {
	return Spec{Kind: Tumbling, Size: size, Step: size}
}

// SlidingOf constructs EventTimeWindow::sliding(size, step): windows
// [k*step, k*step+size), k>=0. Every item belongs to ceil(size/step)
// windows.
func SlidingOf(size, step time.Duration) Spec {
	return Spec{Kind: Sliding, Size: size, Step: step}
}

// Span is one concrete window instance: [Start, End).
type Span struct {
	Start time.Time
	End   time.Time
}

// AssignmentsFor returns every window Span that ts belongs to under spec,
// relative to epoch (time.Unix(0,0)).
func (s Spec) AssignmentsFor(ts time.Time) []Span {
	epoch := time.Unix(0, 0)
	elapsed := ts.Sub(epoch)

	switch s.Kind {
	case Tumbling:
		k := elapsed / s.Size
		start := epoch.Add(k * s.Size)
		return []Span{{Start: start, End: start.Add(s.Size)}}
	case Sliding:
		var spans []Span
		// ts belongs to window k iff k*step <= elapsed < k*step+size
		// i.e. k <= elapsed/step and k > (elapsed-size)/step
		kMax := elapsed / s.Step
		kMin := (elapsed - s.Size) / s.Step
		for k := kMin; k <= kMax; k++ {
			if k < 0 {
				continue
			}
			start := epoch.Add(k * s.Step)
			end := start.Add(s.Size)
			if !ts.Before(start) && ts.Before(end) {
				spans = append(spans, Span{Start: start, End: end})
			}
		}
		sort.Slice(spans, func(i, j int) bool { return spans[i].Start.Before(spans[j].Start) })
		return spans
	default:
		return nil
	}
}

// keyedWindow is one (key, window-start) accumulator.
type keyedWindow[T, K any] struct {
	key   K
	span  Span
	items []T
}

// Evaluator holds per-key, per-window accumulator state and applies the
// close-on-watermark rule of spec section 4.6. K must be comparable so it
// can key the outer map; flowmesh additionally requires a stable string
// form for tie-breaking window-close order, supplied via keyOrder.
type Evaluator[T any, K comparable] struct {
	spec     Spec
	keyOrder func(K) string

	// state[key][windowStart] -> accumulator
	state map[K]map[time.Time]*keyedWindow[T, K]
}

// NewEvaluator constructs an Evaluator for spec, keyed by K. keyOrder
// must return a value that totally and stably orders K, used only to
// break ties when two windows across different keys share an end time.
func NewEvaluator[T any, K comparable](spec Spec, keyOrder func(K) string) *Evaluator[T, K] {
	return &Evaluator[T, K]{
		spec:     spec,
		keyOrder: keyOrder,
		state:    map[K]map[time.Time]*keyedWindow[T, K]{},
	}
}

// Add ingests one Timestamped(x, ts) element for key, creating whichever
// window accumulators are newly needed.
func (e *Evaluator[T, K]) Add(key K, value T, ts time.Time) {
	spans := e.spec.AssignmentsFor(ts)
	if len(spans) == 0 {
		return
	}

	byStart, ok := e.state[key]
	if !ok {
		byStart = map[time.Time]*keyedWindow[T, K]{}
		e.state[key] = byStart
	}

	for _, sp := range spans {
		acc, ok := byStart[sp.Start]
		if !ok {
			acc = &keyedWindow[T, K]{key: key, span: sp}
			byStart[sp.Start] = acc
		}
		acc.items = append(acc.items, value)
	}
}

// Closed is one window ready to emit: its key, its Span, and the
// multiset of values assigned to it.
type Closed[T any, K any] struct {
	Key    K
	Span   Span
	Values []T
}

// CloseUpTo closes every window (across every key) whose End is <= w,
// in ascending End order with ties broken by keyOrder, discarding their
// state. This implements both the Watermark(w) case and, when called
// with an effectively-infinite w, the End/FlushAndRestart case of spec
// section 4.6.
func (e *Evaluator[T, K]) CloseUpTo(w time.Time) []Closed[T, K] {
	type pending struct {
		key  K
		win  *keyedWindow[T, K]
	}
	var ready []pending

	for key, byStart := range e.state {
		for start, acc := range byStart {
			if !acc.span.End.After(w) {
				ready = append(ready, pending{key: key, win: acc})
				delete(byStart, start)
			}
		}
		if len(byStart) == 0 {
			delete(e.state, key)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].win.span.End.Equal(ready[j].win.span.End) {
			return ready[i].win.span.End.Before(ready[j].win.span.End)
		}
		return e.keyOrder(ready[i].key) < e.keyOrder(ready[j].key)
	})

	out := make([]Closed[T, K], len(ready))
	for i, p := range ready {
		out[i] = Closed[T, K]{Key: p.key, Span: p.win.span, Values: p.win.items}
	}
	return out
}

// CloseAll closes every remaining open window unconditionally, as if by
// an infinite watermark (spec section 4.6's End handling, and flowmesh's
// FlushAndRestart handling per DESIGN.md's Open Question decision).
func (e *Evaluator[T, K]) CloseAll() []Closed[T, K] {
	return e.CloseUpTo(time.Unix(1<<62, 0))
}

// Reset discards all accumulator state without emitting anything,
// used when a FlushAndRestart boundary requires CloseAll to have run
// immediately before.
func (e *Evaluator[T, K]) Reset() {
	e.state = map[K]map[time.Time]*keyedWindow[T, K]{}
}
