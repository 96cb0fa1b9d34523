// Package launcher turns flowmesh's command-line/environment contract
// (spec section 6) into a running Engine: it resolves whether this
// process is a local run, a remote launcher, or a spawned remote
// worker, builds the scheduler.Plan, and — for a remote launcher —
// dispatches the rest of the hosts over SSH before running its own
// share of the job. It is grounded on the teacher's cmd/cmd/root.go
// cobra-root-command shape, repurposed from project scaffolding to
// runtime bootstrap.
package launcher

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowmesh/flowmesh/config"
)

func defaultGetenv(key string) string { return os.Getenv(key) }

// Role distinguishes the three ways a flowmesh binary can be invoked
// (spec section 6).
type Role int

const (
	// RoleLocal runs every block on a single host with N cores, no
	// network hops leave the process (spec: "--local N").
	RoleLocal Role = iota
	// RoleRemoteLauncher read a --remote config file, NOIR_HOST_ID is
	// not set on it: it must spawn a worker per remote host and then
	// run its own (host 0's) share.
	RoleRemoteLauncher
	// RoleRemoteWorker was spawned by a launcher: NOIR_HOST_ID and
	// NOIR_CONFIG are both set in its environment.
	RoleRemoteWorker
)

// Options is the resolved outcome of parsing argv plus the two
// environment variables a spawned worker reads (spec section 6).
type Options struct {
	Role        Role
	LocalCores  int            // set when Role == RoleLocal
	Config      *config.Config // set when Role == RoleRemoteLauncher or RoleRemoteWorker
	ConfigPath  string         // set when Role == RoleRemoteLauncher, needed to re-read for spawning
	HostID      int            // set when Role == RoleRemoteWorker
	Passthrough []string       // args after the recognized flags, forwarded to user code
}

// Parse parses argv (excluding the program name, i.e. os.Args[1:])
// into Options. Exactly one of --local/--remote is required unless
// NOIR_HOST_ID is already set in the environment, in which case this
// process is a spawned worker and neither flag is read — envOverride
// lets callers inject a stand-in for os.Getenv in tests.
func Parse(argv []string, envOverride func(string) string) (*Options, error) {
	if envOverride == nil {
		envOverride = defaultGetenv
	}

	if hostIDStr := envOverride("NOIR_HOST_ID"); hostIDStr != "" {
		hostID, err := parseHostID(hostIDStr)
		if err != nil {
			return nil, err
		}
		content := envOverride("NOIR_CONFIG")
		if content == "" {
			return nil, fmt.Errorf("launcher: NOIR_HOST_ID set but NOIR_CONFIG is not")
		}
		cfg, err := config.Parse(content)
		if err != nil {
			return nil, err
		}
		return &Options{Role: RoleRemoteWorker, Config: cfg, HostID: hostID, Passthrough: argv}, nil
	}

	var local int
	var remote string
	var passthrough []string

	root := &cobra.Command{
		Use:                "flowmesh",
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			passthrough = args
			return nil
		},
	}
	root.Flags().IntVar(&local, "local", 0, "run every block on this host with N cores")
	root.Flags().StringVar(&remote, "remote", "", "run the job across the hosts listed in this TOML config")
	root.SetArgs(argv)

	if err := root.Execute(); err != nil {
		return nil, fmt.Errorf("launcher: %w", err)
	}

	localSet := root.Flags().Changed("local")
	remoteSet := root.Flags().Changed("remote")
	if localSet == remoteSet {
		return nil, fmt.Errorf("launcher: exactly one of --local or --remote is required")
	}

	if localSet {
		if local < 1 {
			return nil, fmt.Errorf("launcher: --local must be >= 1, got %d", local)
		}
		return &Options{Role: RoleLocal, LocalCores: local, Passthrough: passthrough}, nil
	}

	cfg, err := config.Load(remote)
	if err != nil {
		return nil, err
	}
	return &Options{Role: RoleRemoteLauncher, Config: cfg, ConfigPath: remote, Passthrough: passthrough}, nil
}

func parseHostID(v string) (int, error) {
	var id int
	if _, err := fmt.Sscanf(v, "%d", &id); err != nil {
		return 0, fmt.Errorf("launcher: NOIR_HOST_ID %q is not an integer: %w", v, err)
	}
	return id, nil
}
