package scheduler

import (
	"testing"

	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/graph"
)

func TestRoutingTable_OnlyOnePairsByReplicaIndex(t *testing.T) {
	rt := RoutingTable[int]{
		Strategy: graph.Strategy[int](graph.OnlyOne),
		Routes: []Route{
			{Target: coord.Coord{Block: 1, Replica: 0}},
			{Target: coord.Coord{Block: 1, Replica: 1}},
			{Target: coord.Coord{Block: 1, Replica: 2}},
		},
	}

	var rr uint64
	for sender := coord.ReplicaID(0); sender < 3; sender++ {
		got := rt.Select(0, sender, &rr)
		if len(got) != 1 {
			t.Fatalf("expected exactly one route, got %d", len(got))
		}
		if got[0].Target.Replica != sender {
			t.Fatalf("sender replica %d routed to %d, want paired replica", sender, got[0].Target.Replica)
		}
	}
}

func TestRoutingTable_OnlyOneWrapsWhenFewerDownstreamReplicas(t *testing.T) {
	rt := RoutingTable[int]{
		Strategy: graph.Strategy[int](graph.OnlyOne),
		Routes: []Route{
			{Target: coord.Coord{Block: 1, Replica: 0}},
		},
	}

	var rr uint64
	got := rt.Select(0, coord.ReplicaID(2), &rr)
	if len(got) != 1 || got[0].Target.Replica != 0 {
		t.Fatalf("expected sole route regardless of sender index, got %+v", got)
	}
}
