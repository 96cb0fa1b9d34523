// Package coord defines the identity primitives used throughout flowmesh:
// the block/host/replica numbering scheme and the receiver-endpoint
// addressing scheme built on top of it.
package coord

import "fmt"

// BlockID identifies a block within one job. Non-negative, unique within
// the job's physical graph.
type BlockID int

// HostID is a 0-based index into the job's host list.
type HostID int

// ReplicaID is a 0-based index within a block's replica set.
type ReplicaID int

// Coord is the identity of a single running operator chain: the block it
// belongs to, the host it is placed on, and its replica index within
// that block.
type Coord struct {
	Block   BlockID
	Host    HostID
	Replica ReplicaID
}

// String renders the coord as "block:host:replica" for logs and spans.
func (c Coord) String() string {
	return fmt.Sprintf("%d:%d:%d", c.Block, c.Host, c.Replica)
}

// Less gives Coord a stable total order: by Block, then Host, then Replica.
func (c Coord) Less(o Coord) bool {
	if c.Block != o.Block {
		return c.Block < o.Block
	}
	if c.Host != o.Host {
		return c.Host < o.Host
	}
	return c.Replica < o.Replica
}

// ReceiverEndpoint is the address of a StartBlock's inbox for one upstream
// block: the destination replica plus the block it is receiving from.
type ReceiverEndpoint struct {
	Destination Coord
	Source      BlockID
}

// String renders the endpoint as "block:host:replica[src=N]" for logs.
func (e ReceiverEndpoint) String() string {
	return fmt.Sprintf("%s[src=%d]", e.Destination, e.Source)
}

// HostPair identifies a directed host-to-host multiplexed connection.
type HostPair struct {
	From HostID
	To   HostID
}

func (p HostPair) String() string {
	return fmt.Sprintf("%d->%d", p.From, p.To)
}
