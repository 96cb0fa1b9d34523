package graph

import (
	"fmt"

	"github.com/flowmesh/flowmesh/element"
)

// BlockSpec is one physical block produced by Compile: a run of Stages
// that execute in the same replica, sharing a StartBlock/EndBlock pair
// (spec section 4.1).
type BlockSpec[T any] struct {
	ID     int
	Stages []*Stage[T]

	// Replication is the requested replica count for this block.
	// ReplicationPerCore(), which Compile sets for every block that is
	// neither a source nor a singleton, tells the scheduler to place
	// one replica per core on every host (spec section 4.1's default
	// for computation blocks); Singleton forces exactly 1 replica
	// total, placed on host 0.
	Replication Replication
	Singleton   bool

	// BatchMode is the batching policy the block's EndBlock runs with,
	// inherited from the stage that started the block (spec section 3).
	BatchMode element.BatchMode

	IsSourceBlock bool
	IsSinkBlock   bool

	UpstreamEdges   []EdgeSpec[T]
	DownstreamEdges []EdgeSpec[T]
}

// Replication distinguishes the scheduler-resolved "one per core"
// default from an explicit fixed count. Spec section 4.1: "Source
// blocks: user-declared parallelism... Computation blocks: default
// replication = num_cores, one replica per core per host."
type Replication struct {
	PerCore bool
	Fixed   int
}

func ReplicationPerCore() Replication { return Replication{PerCore: true} }
func ReplicationFixed(n int) Replication {
	if n < 1 {
		n = 1
	}
	return Replication{Fixed: n}
}

// EdgeSpec is one edge of the physical graph, connecting two blocks by
// ID (spec Design Notes section 9: "represent the graph as an
// index-keyed arena; edges store BlockIds, not direct handles" — avoids
// a live-reference cycle for loop-back edges).
type EdgeSpec[T any] struct {
	FromBlock int
	ToBlock   int
	Strategy  ConnectionStrategy[T]
	DataType  string
	// Loopback marks an edge created by IterateLoopback: ToBlock
	// precedes FromBlock in declaration order.
	Loopback bool
}

// PhysicalGraph is the complete output of Compile: every block and every
// edge between them.
type PhysicalGraph[T any] struct {
	Blocks []*BlockSpec[T]
	Edges  []EdgeSpec[T]
}

// BlockStructures renders the introspection view of every block (spec
// section 3, consumed by package dotexport and the admin HTTP surface).
func (p *PhysicalGraph[T]) BlockStructures() []BlockStructure {
	byID := map[int]*BlockSpec[T]{}
	for _, b := range p.Blocks {
		byID[b.ID] = b
	}

	out := make([]BlockStructure, 0, len(p.Blocks))
	for _, b := range p.Blocks {
		bs := BlockStructure{ID: b.ID}
		for _, st := range b.Stages {
			bs.Operators = append(bs.Operators, st.Info)
		}
		for _, e := range b.UpstreamEdges {
			bs.Upstream = append(bs.Upstream, UpstreamEdge{FromBlockID: e.FromBlock, Strategy: e.Strategy.Kind, DataType: e.DataType})
		}
		for _, e := range b.DownstreamEdges {
			bs.Downstream = append(bs.Downstream, DownstreamEdge{ToBlockID: e.ToBlock, Strategy: e.Strategy.Kind, DataType: e.DataType})
		}
		out = append(out, bs)
	}
	return out
}

// Compile splits a LogicalGraph into a PhysicalGraph of Blocks and Edges.
// A new block begins whenever:
//   - the stage is a StageSource (sources always start a fresh block),
//   - the incoming EdgeStrategy is not OnlyOne (Random/GroupBy/All force
//     a network hop, spec section 4.1), or
//   - the stage is Singleton (collapses into a dedicated 1-replica block).
//
// StageIterateLoopback never starts or ends a block on its own; instead
// it closes the current block (so the loop-back hop is itself a network
// edge, consistent with every other inter-block edge) and records a
// Loopback edge pointing at the block containing its LoopbackTarget
// stage.
func Compile[T any](g *LogicalGraph[T]) (*PhysicalGraph[T], error) {
	if len(g.Stages) == 0 {
		return nil, fmt.Errorf("graph: empty logical graph")
	}

	pg := &PhysicalGraph[T]{}
	stageToBlock := map[int]int{}
	byID := map[int]*BlockSpec[T]{}

	var cur *BlockSpec[T]
	nextBlockID := 0

	startBlock := func(st *Stage[T]) *BlockSpec[T] {
		b := &BlockSpec[T]{ID: nextBlockID, Singleton: st.Singleton, BatchMode: st.BatchMode}
		switch {
		case st.Singleton:
			b.Replication = ReplicationFixed(1)
		case st.Kind == StageSource:
			b.Replication = ReplicationFixed(st.Parallelism)
		default:
			b.Replication = ReplicationPerCore()
		}
		nextBlockID++
		pg.Blocks = append(pg.Blocks, b)
		byID[b.ID] = b
		return b
	}

	for i, st := range g.Stages {
		forcesNewBlock := cur == nil || st.Kind == StageSource || st.Singleton ||
			(i > 0 && st.EdgeStrategy.Kind != OnlyOne)

		if st.Kind == StageIterateLoopback {
			targetBlock, ok := stageToBlock[st.LoopbackTarget]
			if !ok {
				return nil, fmt.Errorf("graph: iterate loopback target stage %d not yet compiled", st.LoopbackTarget)
			}
			if cur == nil {
				return nil, fmt.Errorf("graph: iterate loopback with no preceding block")
			}
			edge := EdgeSpec[T]{FromBlock: cur.ID, ToBlock: targetBlock, Strategy: Strategy[T](OnlyOne), Loopback: true}
			cur.DownstreamEdges = append(cur.DownstreamEdges, edge)
			if tb := byID[targetBlock]; tb != nil {
				tb.UpstreamEdges = append(tb.UpstreamEdges, edge)
			}
			pg.Edges = append(pg.Edges, edge)
			stageToBlock[st.ID] = cur.ID
			cur = nil
			continue
		}

		if forcesNewBlock {
			prev := cur
			cur = startBlock(st)
			cur.IsSourceBlock = st.Kind == StageSource
			if prev != nil {
				edge := EdgeSpec[T]{FromBlock: prev.ID, ToBlock: cur.ID, Strategy: st.EdgeStrategy, DataType: fmt.Sprintf("%T", *new(T))}
				prev.DownstreamEdges = append(prev.DownstreamEdges, edge)
				cur.UpstreamEdges = append(cur.UpstreamEdges, edge)
				pg.Edges = append(pg.Edges, edge)
			}
		}

		cur.Stages = append(cur.Stages, st)
		stageToBlock[st.ID] = cur.ID

		if st.Kind == StageSink {
			cur.IsSinkBlock = true
		}
	}

	return pg, nil
}
