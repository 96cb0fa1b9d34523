package network

import (
	"context"
	"fmt"

	"github.com/flowmesh/flowmesh/chanx"
	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/element"
	"github.com/flowmesh/flowmesh/profiler"
)

// NetworkSender is the typed handle an EndBlock uses to deliver a batch
// to one destination replica, local or remote (spec section 4.4). It is
// cloneable in the sense that multiple upstream replicas may each hold
// their own NetworkSender targeting the same destination.
type NetworkSender[T any] struct {
	self   coord.Coord
	dest   coord.Coord
	prof   *profiler.Profiler
	codec  Codec[T]
	local  *chanx.Bounded[element.NetworkMessage[T]]
	remote *remoteTarget
}

type remoteTarget struct {
	mux        *Multiplexer
	host       coord.HostID
	endpointID uint32
}

// NewLocalSender constructs a sender for an edge whose destination lives
// on this same host: it writes straight into the destination's bounded
// queue with no serialization.
func NewLocalSender[T any](self, dest coord.Coord, queue *chanx.Bounded[element.NetworkMessage[T]], prof *profiler.Profiler) *NetworkSender[T] {
	return &NetworkSender[T]{self: self, dest: dest, prof: prof, local: queue}
}

// NewRemoteSender constructs a sender for an edge whose destination lives
// on a different host, routed through mux.
func NewRemoteSender[T any](self, dest coord.Coord, endpoint coord.ReceiverEndpoint, mux *Multiplexer, codec Codec[T], prof *profiler.Profiler) *NetworkSender[T] {
	return &NetworkSender[T]{
		self:  self,
		dest:  dest,
		prof:  prof,
		codec: codec,
		remote: &remoteTarget{
			mux:        mux,
			host:       dest.Host,
			endpointID: EncodeEndpointID(endpoint),
		},
	}
}

// Send delivers msg to the destination replica. For a local sender this
// never fails except via context cancellation; for a remote sender it
// may return ErrPeerDisconnected.
func (s *NetworkSender[T]) Send(ctx context.Context, msg element.NetworkMessage[T]) error {
	count := len(msg.Elements)

	if s.local != nil {
		if err := s.local.Send(ctx, msg); err != nil {
			return err
		}
		s.prof.ItemsOut(s.self, s.dest, count, 0)
		return nil
	}

	payload, err := s.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("network: encode message: %w", err)
	}

	if err := s.remote.mux.Send(ctx, s.remote.host, s.remote.endpointID, s.self, payload); err != nil {
		return err
	}
	s.prof.ItemsOut(s.self, s.dest, count, len(payload))
	return nil
}

// IsLocal reports whether this sender writes in-process.
func (s *NetworkSender[T]) IsLocal() bool { return s.local != nil }

// NetworkReceiver owns the local bounded queue of NetworkMessages for one
// ReceiverEndpoint (spec section 4.4). Local senders for that endpoint
// write into it directly; remote senders' bytes arrive via the
// Multiplexer and are decoded here.
type NetworkReceiver[T any] struct {
	self     coord.Coord
	endpoint coord.ReceiverEndpoint
	prof     *profiler.Profiler
	codec    Codec[T]

	queue    *chanx.Bounded[element.NetworkMessage[T]]
	rawQueue *chanx.Bounded[frame]
}

// NewLocalReceiver constructs a receiver fed directly by in-process
// NetworkSenders (no decode step). The returned queue is also the one
// passed to NewLocalSender for the matching upstream replicas.
func NewLocalReceiver[T any](self coord.Coord, endpoint coord.ReceiverEndpoint, bufferSize int, prof *profiler.Profiler) (*NetworkReceiver[T], *chanx.Bounded[element.NetworkMessage[T]]) {
	q := chanx.New[element.NetworkMessage[T]](bufferSize)
	return &NetworkReceiver[T]{self: self, endpoint: endpoint, prof: prof, queue: q}, q
}

// NewRemoteReceiver constructs a receiver fed by the Multiplexer's
// per-endpoint raw-frame inbox, decoding each frame with codec.
func NewRemoteReceiver[T any](self coord.Coord, endpoint coord.ReceiverEndpoint, mux *Multiplexer, codec Codec[T], prof *profiler.Profiler) *NetworkReceiver[T] {
	raw := mux.RegisterEndpoint(EncodeEndpointID(endpoint))
	return &NetworkReceiver[T]{self: self, endpoint: endpoint, prof: prof, codec: codec, rawQueue: raw}
}

// Recv blocks until the next NetworkMessage arrives on this endpoint.
func (r *NetworkReceiver[T]) Recv(ctx context.Context) (element.NetworkMessage[T], error) {
	if r.queue != nil {
		msg, err := r.queue.Recv(ctx)
		if err == nil {
			r.prof.ItemsIn(msg.Sender, r.self, len(msg.Elements), 0)
		}
		return msg, err
	}

	f, err := r.rawQueue.Recv(ctx)
	if err != nil {
		var zero element.NetworkMessage[T]
		return zero, err
	}

	msg, err := r.codec.Decode(f.payload)
	if err != nil {
		var zero element.NetworkMessage[T]
		return zero, fmt.Errorf("network: decode message: %w", err)
	}
	msg.Sender = decodeCoordPartial(f.sender, f.sourceHost)
	r.prof.ItemsIn(msg.Sender, r.self, len(msg.Elements), len(f.payload))
	return msg, nil
}
