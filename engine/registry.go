package engine

import (
	"sync"

	"github.com/flowmesh/flowmesh/chanx"
	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/element"
)

// localRegistry is the per-host-process map from a ReceiverEndpoint to
// the bounded queue its local NetworkReceiver reads from, shared by
// every same-host upstream replica's NetworkSender targeting that
// endpoint (spec section 4.4: "replicas on the same host communicate
// through direct channels"). It is populated once per engine Run, in a
// first pass over every locally-placed replica, before any sender is
// constructed in the second pass.
type localRegistry[T any] struct {
	mu     sync.Mutex
	queues map[coord.ReceiverEndpoint]*chanx.Bounded[element.NetworkMessage[T]]
}

func newLocalRegistry[T any]() *localRegistry[T] {
	return &localRegistry[T]{queues: map[coord.ReceiverEndpoint]*chanx.Bounded[element.NetworkMessage[T]]{}}
}

func (r *localRegistry[T]) register(ep coord.ReceiverEndpoint, q *chanx.Bounded[element.NetworkMessage[T]]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[ep] = q
}

// lookup returns the queue for ep and whether it exists. A lookup only
// ever succeeds for an endpoint whose destination replica is placed on
// this same host process.
func (r *localRegistry[T]) lookup(ep coord.ReceiverEndpoint) (*chanx.Bounded[element.NetworkMessage[T]], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[ep]
	return q, ok
}
