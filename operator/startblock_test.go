package operator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/flowmesh/flowmesh/chanx"
	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/element"
	"github.com/flowmesh/flowmesh/network"
	"github.com/flowmesh/flowmesh/profiler"
)

func newTestReceiver(t *testing.T, self coord.Coord, fromBlock coord.BlockID) (*network.NetworkReceiver[int], *chanx.Bounded[element.NetworkMessage[int]]) {
	t.Helper()
	ep := coord.ReceiverEndpoint{Destination: self, Source: fromBlock}
	return network.NewLocalReceiver[int](self, ep, 16, profiler.New(false))
}

func sendFrom(t *testing.T, queue *chanx.Bounded[element.NetworkMessage[int]], sender coord.Coord, elems ...element.StreamElement[int]) {
	t.Helper()
	if err := queue.Send(context.Background(), element.NetworkMessage[int]{Sender: sender, Elements: elems}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestStartBlock_MergesUpstreamReplicasOnOneReceiver(t *testing.T) {
	self := coord.Coord{Block: 1, Host: 0, Replica: 0}
	src0 := coord.Coord{Block: 0, Host: 0, Replica: 0}
	src1 := coord.Coord{Block: 0, Host: 0, Replica: 1}

	recv, sender := newTestReceiver(t, self, coord.BlockID(0))
	sb := NewStartBlock[int](self, []*network.NetworkReceiver[int]{recv}, []coord.Coord{src0, src1})
	defer sb.Close()

	sendFrom(t, sender, src0, element.Item(1))
	sendFrom(t, sender, src1, element.Item(2))

	ctx := context.Background()
	got := map[int]bool{}
	for i := 0; i < 2; i++ {
		el, err := sb.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got[el.Value] = true
	}
	if !got[1] || !got[2] {
		t.Fatalf("expected both replicas' items, got %v", got)
	}
}

func TestStartBlock_EndsOnlyAfterEverySourceReplicaEnds(t *testing.T) {
	self := coord.Coord{Block: 1, Host: 0, Replica: 0}
	src0 := coord.Coord{Block: 0, Host: 0, Replica: 0}
	src1 := coord.Coord{Block: 0, Host: 0, Replica: 1}

	recv, sender := newTestReceiver(t, self, coord.BlockID(0))
	sb := NewStartBlock[int](self, []*network.NetworkReceiver[int]{recv}, []coord.Coord{src0, src1})
	defer sb.Close()

	sendFrom(t, sender, src0, element.End[int]())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sb.Next(ctx) //nolint:errcheck
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("StartBlock ended after only one of two source replicas sent End")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	<-done

	sendFrom(t, sender, src1, element.End[int]())

	el, err := sb.Next(context.Background())
	if err != nil {
		t.Fatalf("Next after both Ends: %v", err)
	}
	if el.Kind != element.KindEnd {
		t.Fatalf("expected End element, got %v", el.Kind)
	}

	if _, err := sb.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF after End, got %v", err)
	}
}

func TestStartBlock_WatermarkIsMinAcrossSourceReplicas(t *testing.T) {
	self := coord.Coord{Block: 1, Host: 0, Replica: 0}
	src0 := coord.Coord{Block: 0, Host: 0, Replica: 0}
	src1 := coord.Coord{Block: 0, Host: 0, Replica: 1}

	recv, sender := newTestReceiver(t, self, coord.BlockID(0))
	sb := NewStartBlock[int](self, []*network.NetworkReceiver[int]{recv}, []coord.Coord{src0, src1})
	defer sb.Close()

	early := time.Unix(100, 0)
	late := time.Unix(200, 0)

	sendFrom(t, sender, src0, element.Watermark[int](late))
	sendFrom(t, sender, src1, element.Watermark[int](early))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	el, err := sb.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if el.Kind != element.KindWatermark {
		t.Fatalf("expected Watermark, got %v", el.Kind)
	}
	if !el.Timestamp.Equal(early) {
		t.Fatalf("expected merged watermark to be the minimum (%v), got %v", early, el.Timestamp)
	}
}
