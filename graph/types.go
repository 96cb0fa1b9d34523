// Package graph implements the logical-to-physical graph compiler (spec
// section 4.1): a user builds a LogicalGraph of operator descriptors and
// fan-in/fan-out points, and Compile splits it into a set of physical
// Blocks connected by edges labeled with a ConnectionStrategy.
//
// Scoping decision (see DESIGN.md): flowmesh's operator chains are
// generic over one job-wide element type T rather than a different type
// per stage. Spec's Design Notes explicitly sanction monomorphized
// chains "at hot paths inside a block" and reserve dynamic dispatch for
// cross-block edges (section 9, "Dynamic dispatch cost"); flowmesh
// extends that same monomorphization to the whole job for tractability,
// while still being fully generic over the caller's own T (so a given
// job can carry any record shape it likes, including a schema-free
// map[string]any the way the teacher's Packet.Data does).
package graph

import (
	"fmt"
)

// OperatorKind classifies one entry in a BlockStructure for
// introspection, per spec section 3.
type OperatorKind int

const (
	KindSource OperatorKind = iota
	KindOperator
	KindSink
)

func (k OperatorKind) String() string {
	switch k {
	case KindSource:
		return "Source"
	case KindSink:
		return "Sink"
	default:
		return "Operator"
	}
}

// OperatorInfo describes one operator within a block for introspection
// only (spec section 3's BlockStructure).
type OperatorInfo struct {
	Title    string
	Subtitle string
	Kind     OperatorKind
	OutType  string
}

// StrategyKind enumerates the four ConnectionStrategy variants (spec
// section 3).
type StrategyKind int

const (
	OnlyOne StrategyKind = iota
	Random
	GroupByKey
	All
)

func (k StrategyKind) String() string {
	switch k {
	case OnlyOne:
		return "OnlyOne"
	case Random:
		return "Random"
	case GroupByKey:
		return "GroupBy"
	case All:
		return "All"
	default:
		return "Unknown"
	}
}

// DotStyle returns the edge style spec section 6 mandates for DOT
// export: dotted/solid/dashed/bold for OnlyOne/Random/GroupBy/All.
func (k StrategyKind) DotStyle() string {
	switch k {
	case OnlyOne:
		return "dotted"
	case Random:
		return "solid"
	case GroupByKey:
		return "dashed"
	case All:
		return "bold"
	default:
		return "solid"
	}
}

// ConnectionStrategy is the routing rule the scheduler applies between
// two blocks. KeyFunc is only meaningful when Kind == GroupByKey; it
// hashes the value (the compiler has already materialized the grouping
// key into the element) to a stable, non-negative bucket number.
type ConnectionStrategy[T any] struct {
	Kind    StrategyKind
	KeyFunc func(T) uint64
}

func Strategy[T any](kind StrategyKind) ConnectionStrategy[T] {
	return ConnectionStrategy[T]{Kind: kind}
}

func GroupBy[T any](keyFn func(T) uint64) ConnectionStrategy[T] {
	return ConnectionStrategy[T]{Kind: GroupByKey, KeyFunc: keyFn}
}

// UpstreamEdge describes one incoming connection to a block, for
// introspection.
type UpstreamEdge struct {
	FromBlockID int
	Strategy    StrategyKind
	DataType    string
}

// DownstreamEdge describes one outgoing connection from a block.
type DownstreamEdge struct {
	ToBlockID int
	Strategy  StrategyKind
	DataType  string
}

// BlockStructure is the introspection-only metadata for one physical
// block (spec section 3).
type BlockStructure struct {
	ID         int
	Operators  []OperatorInfo
	Upstream   []UpstreamEdge
	Downstream []DownstreamEdge
}

func (b BlockStructure) String() string {
	return fmt.Sprintf("Block(%d, ops=%d, up=%d, down=%d)", b.ID, len(b.Operators), len(b.Upstream), len(b.Downstream))
}
