// Package profiler implements the cheap, optional per-endpoint counters
// named in spec section 4.7: items/bytes in and out. It deliberately
// avoids an otel instrument (every Record call on one of those always
// allocates a measurement) in favor of raw atomics behind a boolean,
// matching rockstar-0000-aistore's cmn/cos atomic-counter idiom rather
// than the teacher's otel-everywhere style used in operator/vertex
// metrics, so that a disabled Profiler is a single branch on the hot
// path rather than a disabled-but-still-allocating instrument.
package profiler

import (
	"sync"
	"sync/atomic"

	"github.com/flowmesh/flowmesh/coord"
)

// Counters holds the four values tracked per endpoint.
type Counters struct {
	ItemsIn  int64
	ItemsOut int64
	BytesIn  int64
	BytesOut int64
}

type entry struct {
	itemsIn, itemsOut int64
	bytesIn, bytesOut int64
}

// Profiler tracks Counters keyed by (sender Coord, destination Coord)
// pair. The zero value is disabled; use New(true) to enable.
type Profiler struct {
	enabled bool

	mu      sync.RWMutex
	entries map[key]*entry
}

type key struct {
	sender coord.Coord
	dest   coord.Coord
}

// New constructs a Profiler. When enabled is false every method is a
// no-op save for the initial boolean check.
func New(enabled bool) *Profiler {
	return &Profiler{enabled: enabled, entries: map[key]*entry{}}
}

// Enabled reports whether this profiler records anything.
func (p *Profiler) Enabled() bool { return p != nil && p.enabled }

func (p *Profiler) get(sender, dest coord.Coord) *entry {
	k := key{sender: sender, dest: dest}

	p.mu.RLock()
	e, ok := p.entries[k]
	p.mu.RUnlock()
	if ok {
		return e
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[k]; ok {
		return e
	}
	e = &entry{}
	p.entries[k] = e
	return e
}

// ItemsOut records count items (and their serialized size in bytes, 0 if
// unknown/local) sent from sender to dest.
func (p *Profiler) ItemsOut(sender, dest coord.Coord, count int, bytes int) {
	if !p.Enabled() {
		return
	}
	e := p.get(sender, dest)
	atomic.AddInt64(&e.itemsOut, int64(count))
	atomic.AddInt64(&e.bytesOut, int64(bytes))
}

// ItemsIn records count items (and bytes) received at dest from sender.
func (p *Profiler) ItemsIn(sender, dest coord.Coord, count int, bytes int) {
	if !p.Enabled() {
		return
	}
	e := p.get(sender, dest)
	atomic.AddInt64(&e.itemsIn, int64(count))
	atomic.AddInt64(&e.bytesIn, int64(bytes))
}

// Snapshot returns the current Counters for one (sender, dest) pair.
func (p *Profiler) Snapshot(sender, dest coord.Coord) Counters {
	if !p.Enabled() {
		return Counters{}
	}
	e := p.get(sender, dest)
	return Counters{
		ItemsIn:  atomic.LoadInt64(&e.itemsIn),
		ItemsOut: atomic.LoadInt64(&e.itemsOut),
		BytesIn:  atomic.LoadInt64(&e.bytesIn),
		BytesOut: atomic.LoadInt64(&e.bytesOut),
	}
}

// All returns every tracked (sender, dest) pair and its Counters, for
// introspection/debugging endpoints.
func (p *Profiler) All() map[[2]coord.Coord]Counters {
	out := map[[2]coord.Coord]Counters{}
	if !p.Enabled() {
		return out
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for k, e := range p.entries {
		out[[2]coord.Coord{k.sender, k.dest}] = Counters{
			ItemsIn:  atomic.LoadInt64(&e.itemsIn),
			ItemsOut: atomic.LoadInt64(&e.itemsOut),
			BytesIn:  atomic.LoadInt64(&e.bytesIn),
			BytesOut: atomic.LoadInt64(&e.bytesOut),
		}
	}
	return out
}
