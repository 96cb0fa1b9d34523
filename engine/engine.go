// Package engine is flowmesh's top-level driver: it takes a compiled
// graph.PhysicalGraph and a scheduler.Plan, brings up the network
// plane, materializes every locally placed replica's Operator chain,
// and runs an admin HTTP surface alongside it (spec sections 4, 6 and
// 7), the way the teacher's Pipe ties together Streams, a LogStore and
// a fiber admin app in pipe.go.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/dotexport"
	"github.com/flowmesh/flowmesh/element"
	"github.com/flowmesh/flowmesh/engineerr"
	"github.com/flowmesh/flowmesh/graph"
	"github.com/flowmesh/flowmesh/network"
	"github.com/flowmesh/flowmesh/operator"
	"github.com/flowmesh/flowmesh/profiler"
	"github.com/flowmesh/flowmesh/scheduler"
)

// SourceFactory builds the operator that starts a source block replica,
// given its ExecutionMetadata. Job code registers one per source block
// title via Engine.RegisterSource.
type SourceFactory[T any] func(meta operator.ExecutionMetadata) (operator.Operator[T], error)

// Sink is the shape a sink block's terminal consumer must satisfy —
// exactly connectors.Sink[T]'s method set, kept as a local interface so
// engine never has to import the connectors package.
type Sink[T any] interface {
	Consume(ctx context.Context, el element.StreamElement[T]) error
	Flush(ctx context.Context) error
}

// blockHealth tracks the last time a block replica produced a data
// element, the way the teacher's pipe.go HealthInfo tracks
// LastPayload per stream.
type blockHealth struct {
	mu   sync.Mutex
	last time.Time
}

func (h *blockHealth) touch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	if now.After(h.last) {
		h.last = now
	}
}

func (h *blockHealth) snapshot() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Engine runs every replica this host is responsible for, plus an admin
// fiber app exposing /health and /graph.dot.
type Engine[T any] struct {
	selfHost coord.HostID
	pg       *graph.PhysicalGraph[T]
	plan     *scheduler.Plan
	mux      *network.Multiplexer
	prof     *profiler.Profiler
	codec    network.Codec[T]
	registry *localRegistry[T]
	recorder *Recorder

	app    *fiber.App
	log    *logrus.Logger
	health map[int]*blockHealth

	sources map[string]SourceFactory[T]
	sinks   map[string]Sink[T]
}

// New constructs an Engine for selfHost. profilingEnabled turns on the
// per-endpoint item/byte counters (spec section 4.7); log defaults to
// the teacher's stderr/text/warn-level logrus configuration when nil.
func New[T any](selfHost coord.HostID, pg *graph.PhysicalGraph[T], plan *scheduler.Plan, profilingEnabled bool, log *logrus.Logger) *Engine[T] {
	if log == nil {
		log = defaultLogger()
	}

	e := &Engine[T]{
		selfHost: selfHost,
		pg:       pg,
		plan:     plan,
		prof:     profiler.New(profilingEnabled),
		codec:    network.GobCodec[T]{},
		registry: newLocalRegistry[T](),
		recorder: NewRecorder(log),
		app:      fiber.New(),
		log:      log,
		health:   map[int]*blockHealth{},
		sources:  map[string]SourceFactory[T]{},
		sinks:    map[string]Sink[T]{},
	}
	for _, b := range pg.Blocks {
		e.health[b.ID] = &blockHealth{}
	}

	e.app.Use(recover.New())
	e.registerAdminRoutes()
	return e
}

func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{}
	l.Level = logrus.WarnLevel
	return l
}

// RegisterSource binds the source operator factory for the named source
// block (the title the block's sole Stage was declared with).
func (e *Engine[T]) RegisterSource(blockTitle string, f SourceFactory[T]) {
	e.sources[blockTitle] = f
}

// RegisterSink binds the terminal Sink for the named sink block.
func (e *Engine[T]) RegisterSink(blockTitle string, s Sink[T]) {
	e.sinks[blockTitle] = s
}

func (e *Engine[T]) registerAdminRoutes() {
	e.app.Get("/health", func(c *fiber.Ctx) error {
		out := make(map[int]time.Time, len(e.health))
		for id, h := range e.health {
			out[id] = h.snapshot()
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"host":   e.selfHost,
			"blocks": out,
		})
	})

	e.app.Get("/graph.dot", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/vnd.graphviz")
		return c.SendString(dotexport.Render(e.pg.BlockStructures()))
	})
}

// Run brings up the network plane, waits for every required peer host,
// materializes and runs every locally placed replica, and serves the
// admin app on adminAddr until ctx is cancelled. It returns an
// *engineerr.Error tagged with the right Kind on any startup or
// transport failure (spec section 7).
func (e *Engine[T]) Run(ctx context.Context, listenAddr, adminAddr string) error {
	e.mux = network.NewMultiplexer(e.selfHost, e.hostAddresses(), e.log)

	if err := e.mux.Listen(listenAddr); err != nil {
		return engineerr.At(engineerr.Startup, fmt.Sprintf("host %d", e.selfHost), err)
	}

	fromBlocks := make([]int, 0, len(e.pg.Edges))
	for _, edge := range e.pg.Edges {
		fromBlocks = append(fromBlocks, edge.FromBlock)
	}
	peers := scheduler.RequiredPeers(e.plan, e.selfHost, fromBlocks)
	if err := scheduler.AwaitBarrier(ctx, e.mux, peers); err != nil {
		return engineerr.At(engineerr.Startup, fmt.Sprintf("host %d", e.selfHost), err)
	}

	localReplicas := e.localReplicas()

	// Pass 1: register every local destination's receivers before any
	// sender (local or remote) is built in pass 2.
	upstream := map[coord.Coord]upstreamWiring[T]{}
	for _, lr := range localReplicas {
		upstream[lr.self] = wireUpstream[T](lr.self, lr.block.UpstreamEdges, e.plan, e.mux, e.codec, e.prof, e.registry)
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, lr := range localReplicas {
		lr := lr
		group.Go(func() error {
			return e.runReplica(gctx, lr, upstream[lr.self])
		})
	}

	go func() {
		<-gctx.Done()
		_ = e.mux.Close()
		_ = e.app.Shutdown()
	}()

	group.Go(func() error {
		if err := e.app.Listen(adminAddr); err != nil {
			return engineerr.At(engineerr.Transport, fmt.Sprintf("host %d", e.selfHost), err)
		}
		return nil
	})

	return group.Wait()
}

type localReplica[T any] struct {
	self  coord.Coord
	block *graph.BlockSpec[T]
}

func (e *Engine[T]) localReplicas() []localReplica[T] {
	byID := map[int]*graph.BlockSpec[T]{}
	for _, b := range e.pg.Blocks {
		byID[b.ID] = b
	}

	var out []localReplica[T]
	for _, c := range e.plan.ReplicasOnHost(e.selfHost) {
		out = append(out, localReplica[T]{self: c, block: byID[int(c.Block)]})
	}
	return out
}

func (e *Engine[T]) hostAddresses() []string {
	addrs := make([]string, len(e.plan.Hosts))
	for _, h := range e.plan.Hosts {
		addrs[h.ID] = h.Address
	}
	return addrs
}

// runReplica materializes one block replica's Operator chain and drives
// it to completion: a source block pulls from its registered
// SourceFactory, a sink block drains into its registered Sink, and
// every other block is wrapped in an EndBlock and driven to its own
// End.
func (e *Engine[T]) runReplica(ctx context.Context, lr localReplica[T], up upstreamWiring[T]) error {
	meta := operator.ExecutionMetadata{Self: lr.self, BlockTitle: blockTitle(lr.block), NumUpstream: len(up.expected)}

	recovered := func(err error) {
		e.recorder.Error(lr.self, meta.BlockTitle, err)
	}
	e.recorder.Started(lr.self, meta.BlockTitle)
	defer e.recorder.Ended(lr.self, meta.BlockTitle)

	var base operator.Operator[T]
	if lr.block.IsSourceBlock {
		factory, ok := e.sources[meta.BlockTitle]
		if !ok {
			return engineerr.At(engineerr.Configuration, lr.self.String(), fmt.Errorf("engine: no source registered for block %q", meta.BlockTitle))
		}
		src, err := factory(meta)
		if err != nil {
			return engineerr.At(engineerr.Startup, lr.self.String(), err)
		}
		base = src
	} else {
		base = operator.NewStartBlock[T](lr.self, up.receivers, up.expected)
	}

	if err := base.Setup(ctx, meta); err != nil {
		return engineerr.At(engineerr.Startup, lr.self.String(), err)
	}

	chain := materializeStages(base, lr.block.Stages, recovered)

	if lr.block.IsSinkBlock {
		sink, ok := e.sinks[meta.BlockTitle]
		if !ok {
			return engineerr.At(engineerr.Configuration, lr.self.String(), fmt.Errorf("engine: no sink registered for block %q", meta.BlockTitle))
		}
		return e.driveToSink(ctx, lr, chain, sink)
	}

	edgeSenders := wireDownstream[T](lr.self, lr.block.ID, lr.block.DownstreamEdges, e.plan, e.mux, e.codec, e.prof, e.registry)
	end := operator.NewEndBlock[T](lr.self, chain, lr.block.BatchMode, edgeSenders)
	return e.drive(ctx, lr, end)
}

func (e *Engine[T]) drive(ctx context.Context, lr localReplica[T], end *operator.EndBlock[T]) error {
	for {
		el, err := end.Next(ctx)
		if err != nil {
			if err == context.Canceled {
				return nil
			}
			return engineerr.At(engineerr.Logic, lr.self.String(), err)
		}
		if el.IsData() {
			e.health[lr.block.ID].touch()
		}
		if el.Kind == element.KindEnd || el.Kind == element.KindTerminate {
			return nil
		}
	}
}

func (e *Engine[T]) driveToSink(ctx context.Context, lr localReplica[T], chain operator.Operator[T], sink Sink[T]) error {
	for {
		el, err := chain.Next(ctx)
		if err != nil {
			if err == context.Canceled {
				return sink.Flush(ctx)
			}
			return engineerr.At(engineerr.Logic, lr.self.String(), err)
		}
		if el.IsControl() {
			if err := sink.Flush(ctx); err != nil {
				return engineerr.At(engineerr.UserCode, lr.self.String(), err)
			}
			if el.Kind == element.KindEnd || el.Kind == element.KindTerminate {
				return nil
			}
			continue
		}
		if err := sink.Consume(ctx, el); err != nil {
			return engineerr.At(engineerr.UserCode, lr.self.String(), err)
		}
		e.health[lr.block.ID].touch()
	}
}

func blockTitle[T any](b *graph.BlockSpec[T]) string {
	if len(b.Stages) == 0 {
		return fmt.Sprintf("block-%d", b.ID)
	}
	return b.Stages[0].Info.Title
}
