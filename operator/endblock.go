package operator

import (
	"context"
	"time"

	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/element"
	"github.com/flowmesh/flowmesh/network"
	"github.com/flowmesh/flowmesh/scheduler"
)

// target holds one downstream replica's sender together with its
// pending (unflushed) batch.
type target[T any] struct {
	sender *network.NetworkSender[T]
	buf    []element.StreamElement[T]
	oldest time.Time
}

// downstreamEdge is one compiled EdgeSpec materialized into live
// senders, one per resolved route.
type downstreamEdge[T any] struct {
	table   scheduler.RoutingTable[T]
	targets map[coord.Coord]*target[T]
	rr      uint64
}

// pulled is one result pumped off the upstream operator, so Next can
// select between it and a flush timer (see pump below).
type pulled[T any] struct {
	el  element.StreamElement[T]
	err error
}

// EndBlock batches data elements per BatchMode and routes them to
// downstream replicas per each edge's ConnectionStrategy (spec section
// 4.4). Control elements (Watermark/FlushBatch/FlushAndRestart/End/
// Terminate) always flush every pending batch first, then broadcast to
// every downstream replica across every edge — per the Open Question
// decision that a watermark must never sit behind buffered data.
//
// BatchMode's Adaptive variant additionally bounds how long any element
// may sit in a target's buffer by wall-clock time, not just by count
// (spec invariant 5): Next pulls upstream on a background goroutine and
// races the result against a timer armed for the oldest buffered
// element's deadline, so a slow trickle of elements still gets flushed
// on time even with no new arrival to trigger the check.
type EndBlock[T any] struct {
	self      coord.Coord
	upstream  Operator[T]
	edges     []*downstreamEdge[T]
	batchMode element.BatchMode

	pump    chan pulled[T]
	started bool
}

// NewEndBlock constructs an EndBlock. edges maps each compiled
// downstream edge's RoutingTable to the live NetworkSenders for its
// resolved routes (scheduler.Route.Target -> sender), built by the
// engine's setup phase once the network plane is up.
func NewEndBlock[T any](self coord.Coord, upstream Operator[T], batchMode element.BatchMode, edges []EdgeSenders[T]) *EndBlock[T] {
	eb := &EndBlock[T]{self: self, upstream: upstream, batchMode: batchMode}
	for _, e := range edges {
		de := &downstreamEdge[T]{table: e.Table, targets: map[coord.Coord]*target[T]{}}
		for route, sender := range e.Senders {
			de.targets[route] = &target[T]{sender: sender}
		}
		eb.edges = append(eb.edges, de)
	}
	return eb
}

// EdgeSenders is the input shape NewEndBlock needs for one compiled
// downstream edge: its RoutingTable and a live sender per resolved
// route target.
type EdgeSenders[T any] struct {
	Table   scheduler.RoutingTable[T]
	Senders map[coord.Coord]*network.NetworkSender[T]
}

func (b *EndBlock[T]) Setup(ctx context.Context, meta ExecutionMetadata) error { return nil }

func (b *EndBlock[T]) Structure() OperatorStructure {
	return OperatorStructure{Title: "EndBlock", Subtitle: "batch + route"}
}

// ensurePump starts the background goroutine that drives the upstream
// operator, the first time Next is called. Pulling on a goroutine (vs.
// calling b.upstream.Next directly) is what lets Next also wait on a
// flush timer: Operator.Next has no select-able signature of its own.
func (b *EndBlock[T]) ensurePump(ctx context.Context) {
	if b.started {
		return
	}
	b.started = true
	b.pump = make(chan pulled[T], 1)
	go func() {
		for {
			el, err := b.upstream.Next(ctx)
			select {
			case b.pump <- pulled[T]{el: el, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// Next pulls one upstream element, buffers or broadcasts it to the
// downstream targets, and returns it. EndBlock is called repeatedly by
// the engine's execution loop until End or Terminate, rather than
// pulled by further operators, since it is always the last stage of a
// block. While waiting for the next upstream element, Next also wakes
// up on its own to force-flush any buffer that has aged past
// BatchMode's max latency.
func (b *EndBlock[T]) Next(ctx context.Context) (element.StreamElement[T], error) {
	b.ensurePump(ctx)

	for {
		var timer *time.Timer
		var timeoutCh <-chan time.Time
		if d, ok := b.nextDeadline(); ok {
			timer = time.NewTimer(d)
			timeoutCh = timer.C
		}

		select {
		case p := <-b.pump:
			stopTimer(timer)
			return b.handle(ctx, p.el, p.err)
		case <-timeoutCh:
			if err := b.flushAged(ctx, time.Now()); err != nil {
				var zero element.StreamElement[T]
				return zero, err
			}
		case <-ctx.Done():
			stopTimer(timer)
			var zero element.StreamElement[T]
			return zero, ctx.Err()
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// nextDeadline returns how long until the oldest buffered element
// across every target must be force-flushed, if BatchMode is Adaptive
// and some target has a non-empty buffer.
func (b *EndBlock[T]) nextDeadline() (time.Duration, bool) {
	maxLatency, ok := b.batchMode.MaxLatency()
	if !ok {
		return 0, false
	}

	var oldest time.Time
	found := false
	for _, de := range b.edges {
		for _, tg := range de.targets {
			if len(tg.buf) == 0 {
				continue
			}
			if !found || tg.oldest.Before(oldest) {
				oldest = tg.oldest
				found = true
			}
		}
	}
	if !found {
		return 0, false
	}

	deadline := oldest.Add(maxLatency)
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	return d, true
}

// flushAged force-flushes every target whose oldest buffered element has
// aged past BatchMode's max latency as of now.
func (b *EndBlock[T]) flushAged(ctx context.Context, now time.Time) error {
	maxLatency, ok := b.batchMode.MaxLatency()
	if !ok {
		return nil
	}
	for _, de := range b.edges {
		for _, tg := range de.targets {
			if len(tg.buf) == 0 {
				continue
			}
			if now.Sub(tg.oldest) >= maxLatency {
				if err := b.flushTarget(ctx, tg); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (b *EndBlock[T]) handle(ctx context.Context, el element.StreamElement[T], err error) (element.StreamElement[T], error) {
	if err != nil {
		return el, err
	}

	if el.IsControl() {
		if err := b.flushAll(ctx); err != nil {
			return el, err
		}
		if err := b.broadcast(ctx, el); err != nil {
			return el, err
		}
		return el, nil
	}

	for _, de := range b.edges {
		routes := de.table.Select(el.Value, b.self.Replica, &de.rr)
		for _, r := range routes {
			tg := de.targets[r.Target]
			if tg == nil {
				continue
			}
			if len(tg.buf) == 0 {
				tg.oldest = time.Now()
			}
			tg.buf = append(tg.buf, el)
			if b.batchMode.ShouldFlush(len(tg.buf), tg.oldest, time.Now()) {
				if err := b.flushTarget(ctx, tg); err != nil {
					return el, err
				}
			}
		}
	}

	return el, nil
}

func (b *EndBlock[T]) flushTarget(ctx context.Context, tg *target[T]) error {
	if len(tg.buf) == 0 {
		return nil
	}
	msg := element.NetworkMessage[T]{Sender: b.self, Elements: tg.buf}
	if err := tg.sender.Send(ctx, msg); err != nil {
		return err
	}
	tg.buf = nil
	return nil
}

func (b *EndBlock[T]) flushAll(ctx context.Context) error {
	for _, de := range b.edges {
		for _, tg := range de.targets {
			if err := b.flushTarget(ctx, tg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *EndBlock[T]) broadcast(ctx context.Context, el element.StreamElement[T]) error {
	msg := element.NetworkMessage[T]{Sender: b.self, Elements: []element.StreamElement[T]{el}}
	for _, de := range b.edges {
		for _, tg := range de.targets {
			if err := tg.sender.Send(ctx, msg); err != nil {
				return err
			}
		}
	}
	return nil
}
