package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Ashennwitch/mbg-tracker/internal/config"
)

// TestLoad_ExpandsEnvAndAppliesDefaults verifies env expansion and defaulting.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_ORIGIN", "school-a")
	t.Setenv("TEST_CENTER", "http://center.local:8000")

	path := writeConfig(t, "config.toml", `
[node]
origin_id = "${TEST_ORIGIN}"

[sync]
endpoint = "${TEST_CENTER}/api/sync_gateway_data"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Node.OriginID != "school-a" {
		t.Fatalf("unexpected origin: %q", cfg.Node.OriginID)
	}
	if cfg.Sync.Endpoint != "http://center.local:8000/api/sync_gateway_data" {
		t.Fatalf("unexpected endpoint: %q", cfg.Sync.Endpoint)
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("expected console logging to be enabled by default")
	}
	if got := cfg.Gateway.Listen; got != "0.0.0.0:5000" {
		t.Fatalf("unexpected gateway.listen default: %q", got)
	}
	if got := cfg.Server.Listen; got != "0.0.0.0:8000" {
		t.Fatalf("unexpected server.listen default: %q", got)
	}
	if got := cfg.LocalLog.Path; got != "local_gateway.db" {
		t.Fatalf("unexpected local_log.path default: %q", got)
	}
	if got := cfg.LocalLog.Driver; got != "sqlite" {
		t.Fatalf("unexpected local_log.driver default: %q", got)
	}
	if got := cfg.Sync.Interval.Duration; got != 60*time.Second {
		t.Fatalf("unexpected sync.interval default: %v", got)
	}
	if got := cfg.Sync.Timeout.Duration; got != 10*time.Second {
		t.Fatalf("unexpected sync.timeout default: %v", got)
	}
	if got := cfg.Sync.BatchMax; got != 500 {
		t.Fatalf("unexpected sync.batch_max default: %d", got)
	}
	if got := cfg.Sync.Backoff.Max.Duration; got != 16*time.Minute {
		t.Fatalf("unexpected sync.backoff.max default: %v", got)
	}
	if cfg.Sync.Backoff.Enabled || cfg.Sync.DeadLetterAfter != 0 || cfg.Server.Dedupe {
		t.Fatalf("hardening features must be off by default")
	}
	if err := cfg.ValidateGateway(); err != nil {
		t.Fatalf("validate gateway: %v", err)
	}
}

// TestLoad_ParsesYAML verifies YAML documents decode into the same sections.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ParsesYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
node:
  origin_id: school-b
sync:
  endpoint: center.local:9000
  transport: grpc
  interval: 30s
  backoff:
    enabled: true
    max: 5m
scan:
  status_allow: [dispatched, received, "return_*"]
server:
  dedupe: true
  store:
    driver: postgres
    dsn: postgres://mbg@db/mbg
  rate_limit:
    per_second: 2.5
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}

	if cfg.Sync.Transport != config.TransportGRPC {
		t.Fatalf("unexpected transport: %q", cfg.Sync.Transport)
	}
	if got := cfg.Sync.Interval.Duration; got != 30*time.Second {
		t.Fatalf("unexpected interval: %v", got)
	}
	if got := cfg.Sync.Backoff.Max.Duration; got != 5*time.Minute {
		t.Fatalf("unexpected backoff max: %v", got)
	}
	if len(cfg.Scan.StatusAllow) != 3 || cfg.Scan.StatusAllow[2] != "return_*" {
		t.Fatalf("unexpected status_allow: %v", cfg.Scan.StatusAllow)
	}
	if !cfg.Server.Dedupe || cfg.Server.Store.Driver != "postgres" {
		t.Fatalf("unexpected server section: %+v", cfg.Server)
	}
	if cfg.Server.RateLimit.Burst != 2 {
		t.Fatalf("unexpected derived burst: %d", cfg.Server.RateLimit.Burst)
	}
	if err := cfg.ValidateGateway(); err != nil {
		t.Fatalf("validate gateway: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("validate server: %v", err)
	}
}

// TestLoad_ConfigDirMergesTomlFiles verifies config directory loading and file-order merge.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirMergesTomlFiles(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-node.toml": `
[node]
origin_id = "school-a"
`,
		"10-sync.toml": `
[sync]
endpoint = "http://center:8000/api/sync_gateway_data"
batch_max = 100
`,
		"20-scan.toml": `
[scan]
status_allow = ["dispatched", "received"]
`,
	})

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load config dir: %v", err)
	}

	if cfg.Node.OriginID != "school-a" {
		t.Fatalf("unexpected origin: %q", cfg.Node.OriginID)
	}
	if cfg.Sync.BatchMax != 100 {
		t.Fatalf("unexpected batch_max: %d", cfg.Sync.BatchMax)
	}
	if len(cfg.Scan.StatusAllow) != 2 {
		t.Fatalf("unexpected status_allow: %v", cfg.Scan.StatusAllow)
	}
}

// TestLoad_ConfigDirRejectsWithoutToml verifies config dir validation on empty/non-toml-only directories.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirRejectsWithoutToml(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a config"), 0o644); err != nil {
		t.Fatalf("write non-toml file: %v", err)
	}

	_, err := config.Load(dir)
	if err == nil {
		t.Fatalf("expected error for config dir without *.toml")
	}
	if !strings.Contains(err.Error(), "no *.toml files") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_ConfigDirIgnoresNonToml verifies non-toml files are ignored when valid toml files exist.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirIgnoresNonToml(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-node.toml": `
[node]
origin_id = "school-a"
`,
		"notes.md": `
this file should be ignored by config loader
`,
	})

	if _, err := config.Load(dir); err != nil {
		t.Fatalf("expected config dir with non-toml extras to load: %v", err)
	}
}

// TestValidateGateway_RequiresOriginAndEndpoint verifies role-specific startup errors.
// Params: testing.T for assertions.
// Returns: none.
func TestValidateGateway_RequiresOriginAndEndpoint(t *testing.T) {
	cfg := config.Default()
	err := cfg.ValidateGateway()
	if err == nil || !strings.Contains(err.Error(), "node.origin_id") {
		t.Fatalf("expected origin error, got %v", err)
	}

	cfg.Node.OriginID = "school-a"
	err = cfg.ValidateGateway()
	if err == nil || !strings.Contains(err.Error(), "sync.endpoint") {
		t.Fatalf("expected endpoint error, got %v", err)
	}

	cfg.Sync.Endpoint = "center:8000"
	if err := cfg.ValidateGateway(); err == nil {
		t.Fatalf("expected URL error for http transport")
	}

	cfg.Sync.Transport = config.TransportGRPC
	if err := cfg.ValidateGateway(); err != nil {
		t.Fatalf("expected host:port to pass for grpc: %v", err)
	}
}

// TestValidateServer_DefaultsToLocalSQLite verifies the server starts with no store section.
// Params: testing.T for assertions.
// Returns: none.
func TestValidateServer_DefaultsToLocalSQLite(t *testing.T) {
	cfg := config.Default()
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("validate server: %v", err)
	}
	if cfg.Server.Store.DSN != "central.db" {
		t.Fatalf("unexpected dsn default: %q", cfg.Server.Store.DSN)
	}
}

// TestLoad_RejectsInvalidValues verifies fail-fast on malformed sections.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"transport": `
[sync]
transport = "carrier-pigeon"
`,
		"driver": `
[local_log]
driver = "bolt"
`,
		"store driver": `
[server.store]
driver = "mysql"
`,
		"duration": `
[sync]
interval = "soon"
`,
		"backoff": `
[sync]
interval = "60s"

[sync.backoff]
max = "10s"
`,
		"blank status": `
[scan]
status_allow = ["received", " "]
`,
		"listen": `
[gateway]
listen = "5000"
`,
		"log level": `
[log.console]
level = "verbose"
`,
		"file sink": `
[log.file]
enabled = true
`,
	}

	for name, body := range cases {
		path := writeConfig(t, "config.toml", body)
		if _, err := config.Load(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

// TestLoad_ParsesPprofConfig verifies pprof section parsing and default listen.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ParsesPprofConfig(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[pprof]
enabled = true
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Pprof.Enabled {
		t.Fatalf("expected pprof enabled")
	}
	if cfg.Pprof.Listen != "127.0.0.1:6060" {
		t.Fatalf("unexpected pprof.listen default: %q", cfg.Pprof.Listen)
	}
}

// TestLoad_RejectsInvalidPprofListen verifies pprof listen validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidPprofListen(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[pprof]
enabled = true
listen = "invalid"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for invalid pprof.listen")
	}
}

// writeConfig creates a temp config file for tests.
// Params: t test handle; name file name with extension; body document content.
// Returns: absolute path to temp config.
func writeConfig(t *testing.T, name, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

// writeConfigDir creates a temp config directory populated with provided files.
// Params: t test handle; files map[name]body.
// Returns: absolute directory path.
func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config file %q: %v", name, err)
		}
	}

	return dir
}
