// Package scheduler places a compiled PhysicalGraph's blocks onto hosts
// and cores, builds the routing tables each EndBlock needs, and drives
// the startup barrier that brings every host's network plane up before
// any operator runs (spec section 4.2).
package scheduler

import (
	"fmt"

	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/graph"
)

// HostInfo is one entry of the static host list (spec section 6): its
// network address and the number of cores to place replicas on.
type HostInfo struct {
	ID       coord.HostID
	Address  string // host:port the multiplexer listens on
	NumCores int
}

// Placement is the fully resolved mapping of one BlockSpec to concrete
// replicas, one per (host, core).
type Placement struct {
	BlockID  int
	Replicas []coord.Coord
}

// Plan is the output of Place: every block's replica placement, plus the
// host list it was computed against.
type Plan struct {
	Hosts      []HostInfo
	Placements []Placement
}

// replicasFor resolves a graph.Replication request against the host
// list: PerCore expands to one replica per core per host (spec section
// 4.1's default for computation blocks); Fixed places exactly that many
// replicas, round-robined across hosts starting at host 0; a Singleton
// block (Fixed(1) in practice) always lands on host 0, core 0.
func replicasFor(rep graph.Replication, hosts []HostInfo, singleton bool) []coord.Coord {
	if singleton {
		return []coord.Coord{{Block: 0, Host: 0, Replica: 0}}
	}

	if rep.PerCore {
		var out []coord.Coord
		for _, h := range hosts {
			for core := 0; core < h.NumCores; core++ {
				out = append(out, coord.Coord{Host: h.ID, Replica: coord.ReplicaID(core)})
			}
		}
		return out
	}

	n := rep.Fixed
	if n < 1 {
		n = 1
	}
	var out []coord.Coord
	for i := 0; i < n; i++ {
		h := hosts[i%len(hosts)]
		core := i / len(hosts)
		out = append(out, coord.Coord{Host: h.ID, Replica: coord.ReplicaID(core)})
	}
	return out
}

// Place resolves every block's replica placement and stamps the Block
// field of every produced coord.Coord, in declaration order.
func Place[T any](pg *graph.PhysicalGraph[T], hosts []HostInfo) (*Plan, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("scheduler: no hosts configured")
	}

	plan := &Plan{Hosts: hosts}
	for _, b := range pg.Blocks {
		coords := replicasFor(b.Replication, hosts, b.Singleton)
		for i := range coords {
			coords[i].Block = coord.BlockID(b.ID)
		}
		plan.Placements = append(plan.Placements, Placement{BlockID: b.ID, Replicas: coords})
	}
	return plan, nil
}

// ReplicasOf returns the resolved replica coordinates for blockID, or
// nil if the block is not in the plan.
func (p *Plan) ReplicasOf(blockID int) []coord.Coord {
	for _, pl := range p.Placements {
		if pl.BlockID == blockID {
			return pl.Replicas
		}
	}
	return nil
}

// ReplicasOnHost returns every replica across every block placed on
// host, used to decide which operators a given process must run.
func (p *Plan) ReplicasOnHost(host coord.HostID) []coord.Coord {
	var out []coord.Coord
	for _, pl := range p.Placements {
		for _, c := range pl.Replicas {
			if c.Host == host {
				out = append(out, c)
			}
		}
	}
	return out
}
