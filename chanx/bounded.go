// Package chanx provides the bounded multi-producer single-consumer
// channel used for every edge between operators, local or remote: a
// thin wrapper over a native Go channel that adds the blocking/timed/
// try receive variants and a two-way select spec section 4.3 requires.
package chanx

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// CHANNEL_CAPACITY is the default bounded capacity for an edge channel.
const CHANNEL_CAPACITY = 64

// ErrEmpty is returned by TryRecv when no message is currently available.
var ErrEmpty = errors.New("chanx: empty")

// ErrDisconnected is returned once Close has been called on the channel.
// Recv and TryRecv still hand out buffered messages first.
var ErrDisconnected = errors.New("chanx: disconnected")

// ErrTimeout is returned by RecvTimeout when the deadline elapses first.
var ErrTimeout = errors.New("chanx: timeout")

// Bounded is a bounded FIFO channel of T, capacity CHANNEL_CAPACITY by
// default. The zero value is not usable; construct with New.
type Bounded[T any] struct {
	ch     chan T
	closed chan struct{}
}

// New constructs a Bounded channel with the given capacity. A capacity of
// 0 or less falls back to CHANNEL_CAPACITY.
func New[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = CHANNEL_CAPACITY
	}
	return &Bounded[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Send suspends the caller if the channel is full, and returns
// ErrDisconnected if the channel has been closed before the send could
// complete.
func (b *Bounded[T]) Send(ctx context.Context, v T) error {
	select {
	case b.ch <- v:
		return nil
	case <-b.closed:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv suspends until a message arrives or the channel is closed.
func (b *Bounded[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-b.ch:
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	case <-b.closed:
		// Drain anything left in flight before declaring disconnection.
		select {
		case v, ok := <-b.ch:
			if ok {
				return v, nil
			}
		default:
		}
		return zero, ErrDisconnected
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryRecv is non-blocking: it fails with ErrEmpty if nothing is ready, or
// ErrDisconnected if the channel has been closed and drained.
func (b *Bounded[T]) TryRecv() (T, error) {
	var zero T
	select {
	case v, ok := <-b.ch:
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	case <-b.closed:
		select {
		case v, ok := <-b.ch:
			if ok {
				return v, nil
			}
		default:
		}
		return zero, ErrDisconnected
	default:
		return zero, ErrEmpty
	}
}

// RecvTimeout suspends up to d, failing with ErrTimeout if the deadline
// elapses or ErrDisconnected if the channel closes first.
func (b *Bounded[T]) RecvTimeout(ctx context.Context, d time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case v, ok := <-b.ch:
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	case <-b.closed:
		return zero, ErrDisconnected
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close marks the channel disconnected. Safe to call more than once.
func (b *Bounded[T]) Close() {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
}

// Select waits on two Bounded channels of possibly different element
// types and reports which one produced a value first: idxA is true when
// a did (the value is in va), false when b did (in vb). When both are simultaneously ready the winner is chosen with
// unbiased eventual fairness (Go's own select statement already
// randomizes amongst ready cases; Select additionally randomizes which
// channel is polled first on each loop iteration so that a consistently
// faster producer cannot starve the other under repeated ties).
func Select[A, B any](ctx context.Context, a *Bounded[A], b *Bounded[B]) (idxA bool, va A, vb B, err error) {
	first := rand.Intn(2) == 0

	try := func(firstA bool) (bool, bool, error) {
		if firstA {
			select {
			case v, ok := <-a.ch:
				if !ok {
					return true, false, ErrDisconnected
				}
				va = v
				return true, true, nil
			default:
			}
			select {
			case v, ok := <-b.ch:
				if !ok {
					return false, false, ErrDisconnected
				}
				vb = v
				return false, true, nil
			default:
			}
		} else {
			select {
			case v, ok := <-b.ch:
				if !ok {
					return false, false, ErrDisconnected
				}
				vb = v
				return false, true, nil
			default:
			}
			select {
			case v, ok := <-a.ch:
				if !ok {
					return true, false, ErrDisconnected
				}
				va = v
				return true, true, nil
			default:
			}
		}
		return false, false, nil
	}

	if isA, ok, e := try(first); ok || e != nil {
		return isA, va, vb, e
	}

	select {
	case v, ok := <-a.ch:
		if !ok {
			return true, va, vb, ErrDisconnected
		}
		return true, v, vb, nil
	case v, ok := <-b.ch:
		if !ok {
			return false, va, vb, ErrDisconnected
		}
		return false, va, v, nil
	case <-a.closed:
		return true, va, vb, ErrDisconnected
	case <-b.closed:
		return false, va, vb, ErrDisconnected
	case <-ctx.Done():
		return false, va, vb, ctx.Err()
	}
}

// SelectTimeout is Select bounded by a deadline.
func SelectTimeout[A, B any](ctx context.Context, a *Bounded[A], b *Bounded[B], d time.Duration) (idxA bool, va A, vb B, err error) {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	idxA, va, vb, err = Select(tctx, a, b)
	if errors.Is(err, context.DeadlineExceeded) {
		err = ErrTimeout
	}
	return
}
