package operator

import (
	"context"
	"io"
	"time"

	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/element"
	"github.com/flowmesh/flowmesh/network"
)

// StartBlock merges the NetworkReceivers of every upstream edge feeding
// this block replica into a single pull source (spec section 4.3).
// Every upstream edge's receiver endpoint may itself be fed by several
// upstream replicas (all replicas of the upstream block multiplex onto
// the one ReceiverEndpoint keyed by {destination, source block}), so
// watermark-min-merge and end-counting track state per actual source
// replica (element.NetworkMessage.Sender), not per receiver: data and
// control elements are interleaved in arrival order; Watermark is
// merged by emitting the minimum across every expected source replica
// once each has reported at least one; End is swallowed per source
// replica and only forwarded once every expected source replica has
// ended.
//
// Fan-in is one goroutine per upstream receiver forwarding into a
// shared channel, the same "sendTo spawns a goroutine pumping from out
// to in" shape the teacher's channel.go uses for its single-upstream
// case, generalized here to N upstream edges.
type StartBlock[T any] struct {
	self   coord.Coord
	in     chan srcMessage[T]
	cancel context.CancelFunc

	expected  map[coord.Coord]bool // source replicas not yet ended
	watermark map[coord.Coord]time.Time
	lastWM    time.Time

	queue []element.StreamElement[T]
	done  bool
}

type srcMessage[T any] struct {
	msg element.NetworkMessage[T]
	err error
}

// NewStartBlock constructs a StartBlock merging receivers (one per
// upstream edge). expectedSources lists every upstream replica's Coord
// across every upstream edge, used to know when every source has ended
// and when a watermark merge has seen input from everyone. It starts
// one pump goroutine per receiver immediately.
func NewStartBlock[T any](self coord.Coord, receivers []*network.NetworkReceiver[T], expectedSources []coord.Coord) *StartBlock[T] {
	ctx, cancel := context.WithCancel(context.Background())
	expected := make(map[coord.Coord]bool, len(expectedSources))
	for _, c := range expectedSources {
		expected[c] = true
	}
	s := &StartBlock[T]{
		self:      self,
		in:        make(chan srcMessage[T], len(receivers)),
		cancel:    cancel,
		expected:  expected,
		watermark: map[coord.Coord]time.Time{},
	}
	for _, r := range receivers {
		go s.pump(ctx, r)
	}
	return s
}

func (s *StartBlock[T]) pump(ctx context.Context, r *network.NetworkReceiver[T]) {
	for {
		msg, err := r.Recv(ctx)
		select {
		case s.in <- srcMessage[T]{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Setup is a no-op: StartBlock's pumps are already running from
// construction, matching the teacher's channel.go startup-at-
// construction convention.
func (s *StartBlock[T]) Setup(ctx context.Context, meta ExecutionMetadata) error { return nil }

func (s *StartBlock[T]) Structure() OperatorStructure {
	return OperatorStructure{Title: "StartBlock", Subtitle: "merge upstream"}
}

// Next returns the next merged element, io.EOF once every expected
// source replica has ended and the merged End has been emitted, or
// ctx.Err() / the receiver's error on cancellation or transport
// failure.
func (s *StartBlock[T]) Next(ctx context.Context) (element.StreamElement[T], error) {
	var zero element.StreamElement[T]

	for {
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue = s.queue[1:]
			return e, nil
		}
		if s.done {
			return zero, io.EOF
		}

		select {
		case sm := <-s.in:
			if sm.err != nil {
				return zero, sm.err
			}
			s.absorb(sm.msg)
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (s *StartBlock[T]) absorb(msg element.NetworkMessage[T]) {
	for _, el := range msg.Elements {
		switch el.Kind {
		case element.KindWatermark:
			s.watermark[msg.Sender] = el.Timestamp
			if s.allReporting() {
				min := s.minWatermark()
				if min.After(s.lastWM) {
					s.lastWM = min
					s.queue = append(s.queue, element.Watermark[T](min))
				}
			}
		case element.KindEnd:
			delete(s.expected, msg.Sender)
			if len(s.expected) == 0 {
				s.queue = append(s.queue, element.End[T]())
				s.done = true
			}
		default:
			s.queue = append(s.queue, el)
		}
	}
}

// allReporting reports whether every remaining expected source replica
// has contributed at least one watermark. Replicas that have already
// ended no longer block the merge.
func (s *StartBlock[T]) allReporting() bool {
	for src := range s.expected {
		if _, ok := s.watermark[src]; !ok {
			return false
		}
	}
	return true
}

func (s *StartBlock[T]) minWatermark() time.Time {
	var min time.Time
	first := true
	for src := range s.expected {
		t := s.watermark[src]
		if first || t.Before(min) {
			min = t
			first = false
		}
	}
	if first {
		return s.lastWM
	}
	return min
}

// Close stops every pump goroutine. Safe to call multiple times.
func (s *StartBlock[T]) Close() { s.cancel() }
