package launcher

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/flowmesh/flowmesh/config"
)

// remoteCommand is the path to the flowmesh binary to invoke on a
// remote host. It is assumed already deployed there — unlike the
// original Rust launcher's spawn_remote_workers, which also scp's the
// executable (and an optional perf_path profiler) across first, this
// launcher does not implement binary distribution (see DESIGN.md's
// Open Question decision): operators are expected to have deployed the
// same flowmesh binary to every host out of band, e.g. via the image
// or package their own CI already builds.
const remoteCommand = "flowmesh"

// spawnRemoteWorkers SSHes into every host but index 0 (host 0's share
// of the job runs in this same launcher process after spawning, the
// way the original's host 0 is also the process that called
// spawn_remote_workers) and runs remoteCommand there with NOIR_HOST_ID
// and NOIR_CONFIG set in its environment, passing configContent
// through so the worker never needs file access (spec section 6).
// passthrough args are forwarded unchanged. It blocks until every
// spawned worker's session exits, returning the first error.
func spawnRemoteWorkers(cfg *config.Config, configContent string, passthrough []string) error {
	group := new(errgroup.Group)

	for i, h := range cfg.Hosts {
		if i == 0 {
			continue
		}
		i, h := i, h
		group.Go(func() error {
			return runRemote(i, h, configContent, passthrough)
		})
	}

	return group.Wait()
}

func runRemote(hostID int, h config.HostConfig, configContent string, passthrough []string) error {
	client, err := dial(h)
	if err != nil {
		return fmt.Errorf("launcher: ssh dial host %d (%s): %w", hostID, h.Address, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("launcher: ssh session host %d (%s): %w", hostID, h.Address, err)
	}
	defer session.Close()

	session.Stdout = prefixedWriter(os.Stdout, hostID)
	session.Stderr = prefixedWriter(os.Stderr, hostID)

	cmd := fmt.Sprintf(
		"NOIR_HOST_ID=%d NOIR_CONFIG=%s %s %s",
		hostID,
		shellQuote(configContent),
		remoteCommand,
		strings.Join(passthrough, " "),
	)

	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("launcher: remote worker host %d (%s) exited: %w", hostID, h.Address, err)
	}
	return nil
}

func dial(h config.HostConfig) (*ssh.Client, error) {
	if h.SSH == nil {
		return nil, fmt.Errorf("host %s has no [host.ssh] credentials", h.Address)
	}

	auth, err := sshAuth(*h.SSH)
	if err != nil {
		return nil, err
	}

	port := h.SSH.SSHPort
	if port == 0 {
		port = 22
	}

	clientCfg := &ssh.ClientConfig{
		User:            h.SSH.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // operator-provided host list, no CA in spec section 6
	}

	return ssh.Dial("tcp", fmt.Sprintf("%s:%d", h.Address, port), clientCfg)
}

func sshAuth(cfg config.SSHConfig) ([]ssh.AuthMethod, error) {
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key_file %s: %w", cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key_file %s: %w", cfg.KeyFile, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(cfg.Password)}, nil
}

// shellQuote wraps v in single quotes for the remote shell, escaping
// any single quote it contains. configContent is a full TOML document
// passed inline on the command line (spec: "so workers need no file
// access"), so this has to survive an arbitrary multi-line string.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

func prefixedWriter(w io.Writer, hostID int) io.Writer {
	return &linePrefixWriter{w: w, prefix: "[host " + strconv.Itoa(hostID) + "] "}
}

// linePrefixWriter prefixes every write with a host tag so an
// operator watching the launcher's own stdout can tell which remote
// worker a line came from.
type linePrefixWriter struct {
	w      io.Writer
	prefix string
}

func (p *linePrefixWriter) Write(b []byte) (int, error) {
	_, err := fmt.Fprintf(p.w, "%s%s", p.prefix, b)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
