package launcher

import (
	"os"
	"path/filepath"
	"testing"
)

func envLookup(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func TestParse_RemoteWorkerRole(t *testing.T) {
	env := envLookup(map[string]string{
		"NOIR_HOST_ID": "1",
		"NOIR_CONFIG": `
[[host]]
address = "host0"
base_port = 9500
num_cores = 4

[[host]]
address = "host1"
base_port = 9500
num_cores = 4
`,
	})

	opts, err := Parse(nil, env)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.Role != RoleRemoteWorker {
		t.Fatalf("expected RoleRemoteWorker, got %v", opts.Role)
	}
	if opts.HostID != 1 {
		t.Fatalf("expected HostID 1, got %d", opts.HostID)
	}
	if len(opts.Config.Hosts) != 2 {
		t.Fatalf("expected 2 hosts decoded from NOIR_CONFIG, got %d", len(opts.Config.Hosts))
	}
}

func TestParse_RemoteWorkerRole_MissingConfig(t *testing.T) {
	env := envLookup(map[string]string{"NOIR_HOST_ID": "0"})
	if _, err := Parse(nil, env); err == nil {
		t.Fatalf("expected error when NOIR_HOST_ID is set but NOIR_CONFIG is not")
	}
}

func TestParse_Local(t *testing.T) {
	opts, err := Parse([]string{"--local", "8"}, envLookup(nil))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.Role != RoleLocal {
		t.Fatalf("expected RoleLocal, got %v", opts.Role)
	}
	if opts.LocalCores != 8 {
		t.Fatalf("expected LocalCores 8, got %d", opts.LocalCores)
	}
}

func TestParse_LocalRejectsZeroCores(t *testing.T) {
	if _, err := Parse([]string{"--local", "0"}, envLookup(nil)); err == nil {
		t.Fatalf("expected error for --local 0")
	}
}

func TestParse_RemoteLauncher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.toml")
	content := `
[[host]]
address = "host0"
base_port = 9500
num_cores = 4
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts, err := Parse([]string{"--remote", path, "--", "extra-arg"}, envLookup(nil))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.Role != RoleRemoteLauncher {
		t.Fatalf("expected RoleRemoteLauncher, got %v", opts.Role)
	}
	if opts.ConfigPath != path {
		t.Fatalf("expected ConfigPath %q, got %q", path, opts.ConfigPath)
	}
	if len(opts.Config.Hosts) != 1 {
		t.Fatalf("expected 1 host, got %d", len(opts.Config.Hosts))
	}
}

func TestParse_RequiresExactlyOneOfLocalOrRemote(t *testing.T) {
	if _, err := Parse(nil, envLookup(nil)); err == nil {
		t.Fatalf("expected error when neither --local nor --remote is given")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.toml")
	os.WriteFile(path, []byte("[[host]]\naddress=\"h\"\nbase_port=1\nnum_cores=1\n"), 0o600) //nolint:errcheck

	if _, err := Parse([]string{"--local", "4", "--remote", path}, envLookup(nil)); err == nil {
		t.Fatalf("expected error when both --local and --remote are given")
	}
}
