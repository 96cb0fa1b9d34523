package graph

import (
	"github.com/flowmesh/flowmesh/element"
	"github.com/flowmesh/flowmesh/window"
)

// StageKind enumerates the operator descriptors the logical builder can
// append. Spec section 4.1 names the fan-in/fan-out points that force a
// block split: group-by, unkey, window-all, iterate.
type StageKind int

const (
	StageSource StageKind = iota
	StageMap
	StageFilter
	StageGroupBy
	StageWindow
	StageReduce
	StageSink
	StageIterateLoopback
)

// Stage is one type-erased (for the compiler's purposes) operator
// descriptor in a LogicalGraph. The Apply/Pred/KeyFn/Reducer function
// values are generic over the job's element type T and are only invoked
// by the physical operator construction step (package operator), never
// by the compiler itself — the compiler only ever looks at EdgeStrategy,
// Kind and Singleton to decide block boundaries.
type Stage[T any] struct {
	ID   int
	Kind StageKind
	Info OperatorInfo

	Apply   func(T) T
	Pred    func(T) bool
	KeyFn   func(T) uint64
	Reducer func(acc, next T) T
	Window  window.Spec

	// EdgeStrategy is the strategy of the edge feeding INTO this stage
	// from whatever precedes it. OnlyOne (the zero value) keeps this
	// stage in the same block as its predecessor; anything else forces
	// a new block to begin here (spec section 4.1).
	EdgeStrategy ConnectionStrategy[T]

	Parallelism int  // meaningful only for StageSource
	Singleton   bool // collapses the block this stage starts into 1 global replica

	// BatchMode is the batching policy in effect when this stage was
	// appended (as last set by LogicalGraph.SetBatchMode), inherited by every block this
	// stage starts.
	BatchMode element.BatchMode

	LoopbackTarget int // meaningful only for StageIterateLoopback: target stage ID
}

// LogicalGraph is the type-erased-to-the-compiler, but T-generic-to-the-
// caller, description of a stream program: a flat list of Stages in
// declaration order. Spec section 1 treats the user-facing fluent DSL as
// out of scope; LogicalGraph is the minimal internal representation the
// compiler (Compile) needs, exposed here with just enough of a builder
// to construct test graphs and to let package operator materialize
// physical chains from it.
type LogicalGraph[T any] struct {
	Stages []*Stage[T]
	nextID int

	// batchMode is the batching policy stamped onto every stage appended
	// from here on, until SetBatchMode changes it again. Mirrors the
	// source system's stream.batch_mode(...), which likewise applies to
	// the stream it's called on and is inherited downstream.
	batchMode element.BatchMode
}

func New[T any]() *LogicalGraph[T] {
	return &LogicalGraph[T]{batchMode: element.Fixed(32)}
}

func (g *LogicalGraph[T]) alloc() int {
	id := g.nextID
	g.nextID++
	return id
}

// SetBatchMode changes the batching policy for every stage appended
// after this call (spec section 3; default is Fixed(32)).
func (g *LogicalGraph[T]) SetBatchMode(mode element.BatchMode) *LogicalGraph[T] {
	g.batchMode = mode
	return g
}

// Source appends a source stage with the given user-declared parallelism
// (spec section 4.1: "Source blocks: user-declared parallelism, default
// 1").
func (g *LogicalGraph[T]) Source(title string, parallelism int) *Stage[T] {
	if parallelism < 1 {
		parallelism = 1
	}
	s := &Stage[T]{
		ID:          g.alloc(),
		Kind:        StageSource,
		Info:        OperatorInfo{Title: title, Kind: KindSource},
		Parallelism: parallelism,
		BatchMode:   g.batchMode,
	}
	g.Stages = append(g.Stages, s)
	return s
}

// Map appends an element-preserving-type transform, connected to its
// predecessor OnlyOne (no shuffle).
func (g *LogicalGraph[T]) Map(title string, fn func(T) T) *Stage[T] {
	s := &Stage[T]{
		ID:           g.alloc(),
		Kind:         StageMap,
		Info:         OperatorInfo{Title: title, Kind: KindOperator},
		Apply:        fn,
		EdgeStrategy: Strategy[T](OnlyOne),
		BatchMode:    g.batchMode,
	}
	g.Stages = append(g.Stages, s)
	return s
}

// Filter appends a predicate stage.
func (g *LogicalGraph[T]) Filter(title string, pred func(T) bool) *Stage[T] {
	s := &Stage[T]{
		ID:           g.alloc(),
		Kind:         StageFilter,
		Info:         OperatorInfo{Title: title, Kind: KindOperator},
		Pred:         pred,
		EdgeStrategy: Strategy[T](OnlyOne),
		BatchMode:    g.batchMode,
	}
	g.Stages = append(g.Stages, s)
	return s
}

// GroupBy appends a stage whose incoming edge is keyed by keyFn (stable
// hash mod downstream replica count, spec section 3), forcing a new
// block to begin here.
func (g *LogicalGraph[T]) GroupBy(title string, keyFn func(T) uint64) *Stage[T] {
	s := &Stage[T]{
		ID:           g.alloc(),
		Kind:         StageGroupBy,
		Info:         OperatorInfo{Title: title, Kind: KindOperator},
		KeyFn:        keyFn,
		EdgeStrategy: GroupBy[T](keyFn),
		BatchMode:    g.batchMode,
	}
	g.Stages = append(g.Stages, s)
	return s
}

// Window appends a windowed-reduce stage (must follow GroupBy in any
// sensible graph, per spec section 4.6: "Windows are evaluated on a
// keyed stream by the operator immediately after group_by").
func (g *LogicalGraph[T]) Window(title string, spec window.Spec, reducer func(acc, next T) T) *Stage[T] {
	s := &Stage[T]{
		ID:           g.alloc(),
		Kind:         StageWindow,
		Info:         OperatorInfo{Title: title, Kind: KindOperator},
		Window:       spec,
		Reducer:      reducer,
		EdgeStrategy: Strategy[T](OnlyOne),
		BatchMode:    g.batchMode,
	}
	g.Stages = append(g.Stages, s)
	return s
}

// Reduce appends a non-windowed fold-to-one-record stage.
func (g *LogicalGraph[T]) Reduce(title string, reducer func(acc, next T) T) *Stage[T] {
	s := &Stage[T]{
		ID:           g.alloc(),
		Kind:         StageReduce,
		Info:         OperatorInfo{Title: title, Kind: KindOperator},
		Reducer:      reducer,
		EdgeStrategy: Strategy[T](OnlyOne),
		BatchMode:    g.batchMode,
	}
	g.Stages = append(g.Stages, s)
	return s
}

// Shuffle appends a random-redistribution boundary with no transform,
// used to fan out work evenly (spec's ConnectionStrategy::Random).
func (g *LogicalGraph[T]) Shuffle(title string) *Stage[T] {
	s := &Stage[T]{
		ID:           g.alloc(),
		Kind:         StageMap,
		Info:         OperatorInfo{Title: title, Kind: KindOperator},
		Apply:        func(t T) T { return t },
		EdgeStrategy: Strategy[T](Random),
		BatchMode:    g.batchMode,
	}
	g.Stages = append(g.Stages, s)
	return s
}

// Unkey appends a singleton collapse point: "unkey().group_by(|_| ())"
// in spec's own phrasing (section 4.1), used ahead of a global
// aggregation. The resulting block is declared as 1 global replica
// placed on host 0.
func (g *LogicalGraph[T]) Unkey(title string) *Stage[T] {
	s := &Stage[T]{
		ID:           g.alloc(),
		Kind:         StageMap,
		Info:         OperatorInfo{Title: title, Kind: KindOperator},
		Apply:        func(t T) T { return t },
		EdgeStrategy: Strategy[T](All),
		Singleton:    true,
		BatchMode:    g.batchMode,
	}
	g.Stages = append(g.Stages, s)
	return s
}

// Sink appends the terminal stage of a chain.
func (g *LogicalGraph[T]) Sink(title string) *Stage[T] {
	s := &Stage[T]{
		ID:           g.alloc(),
		Kind:         StageSink,
		Info:         OperatorInfo{Title: title, Kind: KindSink},
		EdgeStrategy: Strategy[T](OnlyOne),
		BatchMode:    g.batchMode,
	}
	g.Stages = append(g.Stages, s)
	return s
}

// IterateLoopback closes an iteration epoch: elements reaching this point
// are routed back to the block containing headStage rather than
// continuing forward (spec Design Notes section 9, "Cyclic operator
// references" — represented as an edge carrying a BlockID, not a live
// reference).
func (g *LogicalGraph[T]) IterateLoopback(title string, headStage *Stage[T]) *Stage[T] {
	s := &Stage[T]{
		ID:             g.alloc(),
		Kind:           StageIterateLoopback,
		Info:           OperatorInfo{Title: title, Kind: KindOperator},
		EdgeStrategy:   Strategy[T](OnlyOne),
		LoopbackTarget: headStage.ID,
	}
	g.Stages = append(g.Stages, s)
	return s
}
