package graph

import (
	"testing"
	"time"

	"github.com/flowmesh/flowmesh/element"
)

func TestCompile_SourceParallelismBecomesFixedReplication(t *testing.T) {
	g := New[int]()
	g.Source("src", 2).EdgeStrategy = Strategy[int](OnlyOne)
	g.Sink("sink")

	pg, err := Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	src := pg.Blocks[0]
	if src.Replication.PerCore {
		t.Fatalf("expected source block to get a fixed replication, got PerCore")
	}
	if src.Replication.Fixed != 2 {
		t.Fatalf("expected fixed replication 2, got %d", src.Replication.Fixed)
	}
}

func TestCompile_SourceDefaultParallelismIsOne(t *testing.T) {
	g := New[int]()
	g.Source("src", 0)
	g.Sink("sink")

	pg, err := Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if pg.Blocks[0].Replication.Fixed != 1 {
		t.Fatalf("expected default parallelism 1, got %d", pg.Blocks[0].Replication.Fixed)
	}
}

func TestCompile_LoopbackEdgeRegisteredOnBothSides(t *testing.T) {
	g := New[int]()
	head := g.Source("src", 1)
	g.Map("inc", func(v int) int { return v + 1 })
	g.IterateLoopback("loop", head)

	pg, err := Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	headBlock := pg.Blocks[0]
	found := false
	for _, e := range headBlock.UpstreamEdges {
		if e.Loopback {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected loopback edge on the target block's UpstreamEdges, got %+v", headBlock.UpstreamEdges)
	}
}

func TestCompile_BatchModeInheritedFromBuilder(t *testing.T) {
	g := New[int]()
	g.Source("src", 1)
	mode := element.Adaptive(10, 5*time.Millisecond)
	g.SetBatchMode(mode)
	g.GroupBy("group", func(v int) uint64 { return uint64(v) })
	g.Sink("sink")

	pg, err := Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if pg.Blocks[0].BatchMode.MaxSize() != 32 {
		t.Fatalf("expected the source block to keep the default batch mode, got max size %d", pg.Blocks[0].BatchMode.MaxSize())
	}
	groupBlock := pg.Blocks[1]
	if d, ok := groupBlock.BatchMode.MaxLatency(); !ok || d != 5*time.Millisecond {
		t.Fatalf("expected the group-by block to pick up the Adaptive mode set before it, got %v, %v", d, ok)
	}
}
