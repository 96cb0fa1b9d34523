package scheduler

import (
	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/graph"
)

// Route is one resolved downstream target an EndBlock can send to,
// tagged with the coord.ReceiverEndpoint it must address (spec section
// 4.4: sender and receiver agree on an endpoint id derived from the
// destination coordinate and the source block).
type Route struct {
	Target   coord.Coord
	Endpoint coord.ReceiverEndpoint
}

// RoutingTable is the per-replica set of downstream routes for one
// outgoing edge, grouped by the edge's ConnectionStrategy so EndBlock
// can apply OnlyOne/Random/GroupBy/All semantics directly (spec section
// 3).
type RoutingTable[T any] struct {
	Strategy graph.ConnectionStrategy[T]
	Routes   []Route
}

// BuildRoutingTable computes the downstream routes edge.FromBlock's
// replica `from` must be able to reach, given the destination block's
// resolved placement. Every source replica of a block gets an identical
// RoutingTable for a given edge — the specific target(s) chosen from it
// at send time depend on the strategy: the sending replica's index for
// OnlyOne, the element's key for GroupBy, the caller's counter for
// Random (see Select).
func BuildRoutingTable[T any](edge graph.EdgeSpec[T], from coord.BlockID, plan *Plan) RoutingTable[T] {
	rt := RoutingTable[T]{Strategy: edge.Strategy}
	for _, dest := range plan.ReplicasOf(edge.ToBlock) {
		rt.Routes = append(rt.Routes, Route{
			Target:   dest,
			Endpoint: coord.ReceiverEndpoint{Destination: dest, Source: from},
		})
	}
	return rt
}

// Select picks the destination route(s) a given element must be sent to
// under this table's strategy. sender is the replica index of the block
// doing the sending, used by OnlyOne to pair upstream and downstream
// replicas 1:1 rather than always addressing replica 0. Random picks one
// route via round-robin counter passed in by the caller (spec §9 Open
// Question: "round-robin with jitter", no global determinism
// guaranteed); GroupByKey picks one route by hashing the strategy's
// KeyFunc(value) mod len(Routes); All returns every route.
func (rt RoutingTable[T]) Select(value T, sender coord.ReplicaID, roundRobin *uint64) []Route {
	if len(rt.Routes) == 0 {
		return nil
	}

	switch rt.Strategy.Kind {
	case graph.All:
		return rt.Routes

	case graph.GroupByKey:
		if rt.Strategy.KeyFunc == nil {
			return rt.Routes[:1]
		}
		idx := rt.Strategy.KeyFunc(value) % uint64(len(rt.Routes))
		return rt.Routes[idx : idx+1]

	case graph.Random:
		*roundRobin++
		idx := *roundRobin % uint64(len(rt.Routes))
		return rt.Routes[idx : idx+1]

	default: // OnlyOne: pair by replica index (spec section 3).
		idx := int(sender) % len(rt.Routes)
		return rt.Routes[idx : idx+1]
	}
}
