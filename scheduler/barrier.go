package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/network"
	"golang.org/x/sync/errgroup"
)

// dialRetryInterval and dialMaxAttempts bound how long a host waits for
// peers that haven't opened their listening socket yet — every host
// starts its own listener and begins dialing peers concurrently, so
// there is no reliable dial ordering across the job.
const (
	dialRetryInterval = 200 * time.Millisecond
	dialMaxAttempts   = 50 // ~10s total
)

// RequiredPeers returns the distinct hosts to dial from localHost: once
// any block in edgeFromBlocks has a replica on localHost, that is every
// host holding a replica of any block in the plan, localHost included
// (the edges' destination blocks are not consulted); otherwise none.
func RequiredPeers(plan *Plan, localHost coord.HostID, edgeFromBlocks []int) []coord.HostID {
	localBlocks := map[int]bool{}
	for _, pl := range plan.Placements {
		for _, c := range pl.Replicas {
			if c.Host == localHost {
				localBlocks[pl.BlockID] = true
			}
		}
	}

	seen := map[coord.HostID]bool{}
	var out []coord.HostID
	for _, fromBlock := range edgeFromBlocks {
		if !localBlocks[fromBlock] {
			continue
		}
		for _, pl := range plan.Placements {
			for _, c := range pl.Replicas {
				if !seen[c.Host] {
					seen[c.Host] = true
					out = append(out, c.Host)
				}
			}
		}
	}
	return out
}

// AwaitBarrier blocks until mux has an established outgoing connection
// to every host in peers, retrying dial failures with a fixed backoff
// (spec section 4.2: a host is "ready" once its multiplexer is
// connected to every peer host it must send to). Connections to hosts
// not yet listening fail fast with ECONNREFUSED, so this polls rather
// than dialing once.
func AwaitBarrier(ctx context.Context, mux *network.Multiplexer, peers []coord.HostID) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, hostID := range peers {
		hostID := hostID
		group.Go(func() error {
			var lastErr error
			for attempt := 0; attempt < dialMaxAttempts; attempt++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := mux.Connect(ctx, hostID); err == nil {
					return nil
				} else {
					lastErr = err
				}
				select {
				case <-time.After(dialRetryInterval):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return fmt.Errorf("scheduler: barrier: could not connect to host %d after %d attempts: %w", hostID, dialMaxAttempts, lastErr)
		})
	}

	return group.Wait()
}
