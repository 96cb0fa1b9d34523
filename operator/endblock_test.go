package operator

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/flowmesh/chanx"
	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/element"
	"github.com/flowmesh/flowmesh/graph"
	"github.com/flowmesh/flowmesh/network"
	"github.com/flowmesh/flowmesh/profiler"
	"github.com/flowmesh/flowmesh/scheduler"
)

// fakeUpstream feeds elements off a channel the test controls, so it can
// simulate a slow trickle (one item, then silence) without a real
// StartBlock.
type fakeUpstream struct {
	ch chan element.StreamElement[int]
}

func (f *fakeUpstream) Setup(ctx context.Context, meta ExecutionMetadata) error { return nil }
func (f *fakeUpstream) Structure() OperatorStructure                           { return OperatorStructure{} }
func (f *fakeUpstream) Next(ctx context.Context) (element.StreamElement[int], error) {
	select {
	case el := <-f.ch:
		return el, nil
	case <-ctx.Done():
		var zero element.StreamElement[int]
		return zero, ctx.Err()
	}
}

func newTestEndBlock(t *testing.T, mode element.BatchMode) (*EndBlock[int], *fakeUpstream, *chanx.Bounded[element.NetworkMessage[int]]) {
	t.Helper()
	self := coord.Coord{Block: 0, Host: 0, Replica: 0}
	target := coord.Coord{Block: 1, Host: 0, Replica: 0}

	queue := chanx.New[element.NetworkMessage[int]](8)
	sender := network.NewLocalSender[int](self, target, queue, profiler.New(false))

	table := scheduler.RoutingTable[int]{
		Strategy: graph.Strategy[int](graph.OnlyOne),
		Routes:   []scheduler.Route{{Target: target}},
	}

	up := &fakeUpstream{ch: make(chan element.StreamElement[int], 4)}
	eb := NewEndBlock[int](self, up, mode, []EdgeSenders[int]{
		{Table: table, Senders: map[coord.Coord]*network.NetworkSender[int]{target: sender}},
	})
	return eb, up, queue
}

func TestEndBlock_AdaptiveFlushesOnTimerWithoutNewArrival(t *testing.T) {
	eb, up, queue := newTestEndBlock(t, element.Adaptive(1024, 10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	up.ch <- element.Item(7)

	go func() {
		for {
			if _, err := eb.Next(ctx); err != nil {
				return
			}
		}
	}()

	msg, err := queue.RecvTimeout(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("buffered element was not flushed on the adaptive timer within 100ms: %v", err)
	}
	if len(msg.Elements) != 1 || msg.Elements[0].Value != 7 {
		t.Fatalf("expected a single flushed element with value 7, got %+v", msg.Elements)
	}
}

func TestEndBlock_FixedDoesNotFlushBelowSize(t *testing.T) {
	eb, up, queue := newTestEndBlock(t, element.Fixed(2))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	up.ch <- element.Item(1)

	go func() {
		eb.Next(ctx) //nolint:errcheck
	}()

	if msg, err := queue.RecvTimeout(context.Background(), 60*time.Millisecond); err == nil {
		t.Fatalf("expected no flush below the fixed batch size, got %+v", msg)
	}
}
