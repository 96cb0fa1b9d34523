package engine

import (
	"strconv"

	"github.com/flowmesh/flowmesh/chanx"
	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/graph"
	"github.com/flowmesh/flowmesh/network"
	"github.com/flowmesh/flowmesh/operator"
	"github.com/flowmesh/flowmesh/profiler"
	"github.com/flowmesh/flowmesh/scheduler"
)

// materializeStages folds a block's logical Stage descriptors into a
// physical Operator chain on top of base (the block's StartBlock or
// source operator), wrapping every stage that does real work with
// operator.Instrument so every operator shows up in traces/metrics
// (spec section 4.7) and panics are routed to recovered rather than
// taking the replica down.
//
// StageGroupBy and StageIterateLoopback contribute no operator of their
// own: group_by only changes how the *next* block's incoming edge
// routes (graph.Compile already encoded that in EdgeStrategy), and a
// loop-back stage is rewritten by Compile into a DownstreamEdge on the
// block it closes. StageSource and StageSink are likewise boundary
// markers handled by the engine's block-level wiring, not by an
// in-chain operator.
//
// A StageWindow keys its Evaluator by the uint64 hash most recently
// produced by a preceding StageGroupBy in the same logical graph (spec
// section 4.6 requires windows to sit immediately downstream of
// group_by); a window with no preceding group_by is treated as a single
// global key.
func materializeStages[T any](base operator.Operator[T], stages []*graph.Stage[T], recovered func(error)) operator.Operator[T] {
	cur := base
	var lastKeyFn func(T) uint64

	for _, st := range stages {
		switch st.Kind {
		case graph.StageSource, graph.StageSink, graph.StageIterateLoopback:
			continue

		case graph.StageGroupBy:
			lastKeyFn = st.KeyFn
			continue

		case graph.StageMap:
			cur = operator.Instrument(st.Info.Title, operator.Map(st.Info.Title, cur, st.Apply), recovered)

		case graph.StageFilter:
			cur = operator.Instrument(st.Info.Title, operator.Filter(st.Info.Title, cur, st.Pred), recovered)

		case graph.StageReduce:
			cur = operator.Instrument(st.Info.Title, operator.Reduce(st.Info.Title, cur, st.Reducer), recovered)

		case graph.StageWindow:
			keyFn := lastKeyFn
			if keyFn == nil {
				keyFn = func(T) uint64 { return 0 }
			}
			keyOrder := func(k uint64) string { return strconv.FormatUint(k, 10) }
			win := operator.NewWindowOperator[T, uint64](cur, st.Window, keyFn, keyOrder, st.Reducer)
			cur = operator.Instrument(st.Info.Title, win, recovered)
		}
	}

	return cur
}

// upstreamWiring is what pass 1 of Engine.Run computes for one locally
// placed replica: the receivers its StartBlock merges and the full set
// of upstream source replicas it must hear an End from.
type upstreamWiring[T any] struct {
	receivers []*network.NetworkReceiver[T]
	expected  []coord.Coord
}

// wireUpstream constructs, for replica self (a destination of every
// edge in upstreamEdges), one local and one remote NetworkReceiver per
// edge. The local receiver's queue is registered so any same-host
// upstream replica's sender can find it in pass 2; the remote receiver
// drains frames the Multiplexer decodes from other hosts. Both
// receivers for an edge are handed to the same StartBlock, which
// doesn't care which physical path delivered a given NetworkMessage.
func wireUpstream[T any](
	self coord.Coord,
	upstreamEdges []graph.EdgeSpec[T],
	plan *scheduler.Plan,
	mux *network.Multiplexer,
	codec network.Codec[T],
	prof *profiler.Profiler,
	registry *localRegistry[T],
) upstreamWiring[T] {
	var w upstreamWiring[T]

	for _, edge := range upstreamEdges {
		ep := coord.ReceiverEndpoint{Destination: self, Source: coord.BlockID(edge.FromBlock)}

		localRecv, queue := network.NewLocalReceiver[T](self, ep, chanx.CHANNEL_CAPACITY, prof)
		registry.register(ep, queue)
		w.receivers = append(w.receivers, localRecv)

		remoteRecv := network.NewRemoteReceiver[T](self, ep, mux, codec, prof)
		w.receivers = append(w.receivers, remoteRecv)

		w.expected = append(w.expected, plan.ReplicasOf(edge.FromBlock)...)
	}

	return w
}

// wireDownstream builds the live senders EndBlock needs for every
// downstream edge of a block, given self (the replica doing the
// sending): a route whose destination queue is already in registry
// (placed on this same host) gets a NewLocalSender; everything else
// gets a NewRemoteSender through mux.
func wireDownstream[T any](
	self coord.Coord,
	fromBlockID int,
	downstreamEdges []graph.EdgeSpec[T],
	plan *scheduler.Plan,
	mux *network.Multiplexer,
	codec network.Codec[T],
	prof *profiler.Profiler,
	registry *localRegistry[T],
) []operator.EdgeSenders[T] {
	var out []operator.EdgeSenders[T]

	for _, edge := range downstreamEdges {
		table := scheduler.BuildRoutingTable[T](edge, coord.BlockID(fromBlockID), plan)
		senders := map[coord.Coord]*network.NetworkSender[T]{}

		for _, route := range table.Routes {
			if queue, ok := registry.lookup(route.Endpoint); ok {
				senders[route.Target] = network.NewLocalSender[T](self, route.Target, queue, prof)
				continue
			}
			senders[route.Target] = network.NewRemoteSender[T](self, route.Target, route.Endpoint, mux, codec, prof)
		}

		out = append(out, operator.EdgeSenders[T]{Table: table, Senders: senders})
	}

	return out
}
