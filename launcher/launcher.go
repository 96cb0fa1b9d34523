package launcher

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/engine"
	"github.com/flowmesh/flowmesh/engineerr"
	"github.com/flowmesh/flowmesh/graph"
	"github.com/flowmesh/flowmesh/scheduler"
)

// BuildGraph constructs the job's logical-then-physical graph. Job
// binaries supply one of these to Run; it is called once, identically
// on every host, so every host computes the same scheduler.Plan.
type BuildGraph[T any] func() (*graph.PhysicalGraph[T], error)

// Register wires a job's source/sink factories into a freshly
// constructed Engine, before Run calls Engine.Run.
type Register[T any] func(e *engine.Engine[T])

// Run is the entry point a job's main() calls in place of writing its
// own flag parsing: it parses argv and the NOIR_* environment
// variables (spec section 6), resolves this process's Role, spawns the
// rest of a remote job's hosts over SSH when it is the launcher, then
// builds and runs this host's share of the job. It returns the process
// exit code the caller should pass to os.Exit (0 on clean completion,
// engineerr.Kind.ExitCode() otherwise).
func Run[T any](ctx context.Context, argv []string, build BuildGraph[T], register Register[T]) int {
	opts, err := Parse(argv, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engineerr.Configuration.ExitCode()
	}

	hosts, selfHost, err := resolveHosts(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engineerr.Configuration.ExitCode()
	}

	if opts.Role == RoleRemoteLauncher {
		content, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return engineerr.Configuration.ExitCode()
		}
		if err := spawnRemoteWorkers(opts.Config, string(content), opts.Passthrough); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return engineerr.Startup.ExitCode()
		}
	}

	pg, err := build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engineerr.Configuration.ExitCode()
	}

	plan, err := scheduler.Place[T](pg, hosts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engineerr.Configuration.ExitCode()
	}

	log := logrus.New()
	e := engine.New[T](selfHost, pg, plan, false, log)
	register(e)

	listenAddr := hosts[selfHost].Address
	adminAddr := adminAddrFor(listenAddr)

	if err := e.Run(ctx, listenAddr, adminAddr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if fe, ok := err.(*engineerr.Error); ok {
			return fe.Kind.ExitCode()
		}
		return 1
	}
	return 0
}

// resolveHosts turns Options into the static host list scheduler.Place
// needs and this process's own HostID within it. A --local run is a
// single synthetic host with the requested core count.
func resolveHosts(opts *Options) ([]scheduler.HostInfo, coord.HostID, error) {
	if opts.Role == RoleLocal {
		return []scheduler.HostInfo{{ID: 0, Address: "127.0.0.1:9500", NumCores: opts.LocalCores}}, 0, nil
	}

	hosts := make([]scheduler.HostInfo, len(opts.Config.Hosts))
	for i, h := range opts.Config.Hosts {
		hosts[i] = scheduler.HostInfo{ID: coord.HostID(i), Address: fmt.Sprintf("%s:%d", h.Address, h.BasePort), NumCores: h.NumCores}
	}

	switch opts.Role {
	case RoleRemoteLauncher:
		return hosts, 0, nil
	case RoleRemoteWorker:
		if opts.HostID < 0 || opts.HostID >= len(hosts) {
			return nil, 0, fmt.Errorf("launcher: NOIR_HOST_ID %d out of range [0, %d)", opts.HostID, len(hosts))
		}
		return hosts, coord.HostID(opts.HostID), nil
	default:
		return nil, 0, fmt.Errorf("launcher: unknown role")
	}
}

// adminAddrFor derives the admin HTTP address from the replica listen
// address by shifting the port by one, keeping the host's [[host]]
// config free of a second port the operator would otherwise have to
// declare.
func adminAddrFor(listenAddr string) string {
	i := len(listenAddr) - 1
	for i >= 0 && listenAddr[i] != ':' {
		i--
	}
	if i < 0 {
		return ":0"
	}
	var port int
	if _, err := fmt.Sscanf(listenAddr[i+1:], "%d", &port); err != nil {
		return ":0"
	}
	return fmt.Sprintf("%s:%d", listenAddr[:i], port+1)
}
