// Package config decodes and validates the TOML host list flowmesh's
// remote runtime uses (spec section 6), and resolves the two
// environment variables a spawned worker reads instead of a file.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// SSHConfig is a host's optional remote-launch credentials.
type SSHConfig struct {
	SSHPort  int    `toml:"ssh_port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	KeyFile  string `toml:"key_file"`
}

// HostConfig is one [[host]] table entry.
type HostConfig struct {
	Address  string     `toml:"address"`
	BasePort int        `toml:"base_port"`
	NumCores int        `toml:"num_cores"`
	SSH      *SSHConfig `toml:"ssh"`
}

// Config is the full decoded TOML document: a flat list of hosts, index
// position doubling as HostID (spec section 3: HostID is a dense index).
type Config struct {
	Hosts []HostConfig `toml:"host"`
}

// Load decodes the TOML file at path.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Parse decodes TOML content held in memory, used when a worker reads
// its configuration from the NOIR_CONFIG environment variable rather
// than a file (spec section 6).
func Parse(content string) (*Config, error) {
	var c Config
	if _, err := toml.NewDecoder(bytes.NewReader([]byte(content))).Decode(&c); err != nil {
		return nil, fmt.Errorf("config: decode inline TOML: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate enforces spec section 6's rules: num_cores >= 1, at most one
// of password/key_file per host's SSH config, and base_port +
// num_endpoints <= 65535 (num_endpoints is approximated here by the
// number of hosts, since ports are allocated per receiver block but the
// config stage only knows the host count).
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("config: no hosts declared")
	}

	for i, h := range c.Hosts {
		if h.NumCores < 1 {
			return fmt.Errorf("config: host %d (%s): num_cores must be >= 1, got %d", i, h.Address, h.NumCores)
		}
		if h.BasePort <= 0 || h.BasePort+len(c.Hosts) > 65535 {
			return fmt.Errorf("config: host %d (%s): base_port %d leaves no room for %d endpoint ports below 65535", i, h.Address, h.BasePort, len(c.Hosts))
		}
		if h.SSH != nil && h.SSH.Password != "" && h.SSH.KeyFile != "" {
			return fmt.Errorf("config: host %d (%s): at most one of password/key_file may be set", i, h.Address)
		}
	}
	return nil
}

// Addresses returns "address:base_port" for every host, in index order,
// ready to hand to network.NewMultiplexer.
func (c *Config) Addresses() []string {
	out := make([]string, len(c.Hosts))
	for i, h := range c.Hosts {
		out[i] = fmt.Sprintf("%s:%d", h.Address, h.BasePort)
	}
	return out
}

// HostIDFromEnv reads NOIR_HOST_ID, the integer in [0, num_hosts) a
// spawned remote worker uses to find its own entry in the host list
// (spec section 6 names this env var literally; it is a wire-level
// contract with the launching process, not flowmesh's own naming).
func HostIDFromEnv() (int, error) {
	v := os.Getenv("NOIR_HOST_ID")
	if v == "" {
		return 0, fmt.Errorf("config: NOIR_HOST_ID not set")
	}
	var id int
	if _, err := fmt.Sscanf(v, "%d", &id); err != nil {
		return 0, fmt.Errorf("config: NOIR_HOST_ID %q is not an integer: %w", v, err)
	}
	return id, nil
}

// ConfigFromEnv reads NOIR_CONFIG, the full TOML content a spawned
// worker decodes in place of reading a file (spec section 6: "so
// workers need no file access").
func ConfigFromEnv() (*Config, error) {
	v := os.Getenv("NOIR_CONFIG")
	if v == "" {
		return nil, fmt.Errorf("config: NOIR_CONFIG not set")
	}
	return Parse(v)
}
