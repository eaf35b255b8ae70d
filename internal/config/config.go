package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "line"
	defaultPprofListen    = "127.0.0.1:6060"
	defaultGatewayListen  = "0.0.0.0:5000"
	defaultLocalLogPath   = "local_gateway.db"
	defaultLocalLogDriver = "sqlite"
	defaultSyncTransport  = TransportHTTP
	defaultSyncInterval   = 60 * time.Second
	defaultSyncTimeout    = 10 * time.Second
	defaultSyncBatchMax   = 500
	defaultBackoffFactor  = 16
	defaultTokenTTL       = 5 * time.Minute
	defaultServerListen   = "0.0.0.0:8000"
	defaultStoreDriver    = "sqlite"
	defaultStoreDSN       = "central.db"
)

// Sync transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Duration wraps time.Duration for TOML and YAML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// UnmarshalYAML parses YAML scalar duration values.
// Params: node is one YAML scalar.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// Config represents the root node configuration shared by both roles.
// Params: TOML or YAML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Node     NodeConfig     `toml:"node" yaml:"node"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Pprof    PprofConfig    `toml:"pprof" yaml:"pprof"`
	Gateway  GatewayConfig  `toml:"gateway" yaml:"gateway"`
	LocalLog LocalLogConfig `toml:"local_log" yaml:"local_log"`
	Sync     SyncConfig     `toml:"sync" yaml:"sync"`
	Scan     ScanConfig     `toml:"scan" yaml:"scan"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
}

// NodeConfig identifies this node.
// Params: origin id reported by the gateway and data directory for disk usage.
// Returns: node identity.
type NodeConfig struct {
	OriginID string `toml:"origin_id" yaml:"origin_id"`
	DataDir  string `toml:"data_dir" yaml:"data_dir"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console" yaml:"console"`
	File    LogSinkConfig `toml:"file" yaml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Level   string `toml:"level" yaml:"level"`
	Format  string `toml:"format" yaml:"format"`
	Path    string `toml:"path" yaml:"path"`
}

// GatewayConfig holds the edge HTTP surface.
type GatewayConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
}

// LocalLogConfig selects the edge event log file and SQL driver.
type LocalLogConfig struct {
	Path   string `toml:"path" yaml:"path"`
	Driver string `toml:"driver" yaml:"driver"`
}

// SyncConfig drives the replicator.
type SyncConfig struct {
	Endpoint        string        `toml:"endpoint" yaml:"endpoint"`
	Transport       string        `toml:"transport" yaml:"transport"`
	Interval        Duration      `toml:"interval" yaml:"interval"`
	Timeout         Duration      `toml:"timeout" yaml:"timeout"`
	BatchMax        int           `toml:"batch_max" yaml:"batch_max"`
	DeadLetterAfter int           `toml:"dead_letter_after" yaml:"dead_letter_after"`
	SyncOnStart     bool          `toml:"sync_on_start" yaml:"sync_on_start"`
	TokenSecret     string        `toml:"token_secret" yaml:"token_secret"`
	TokenTTL        Duration      `toml:"token_ttl" yaml:"token_ttl"`
	Backoff         BackoffConfig `toml:"backoff" yaml:"backoff"`
}

// BackoffConfig enables exponential waits after unreachable cycles.
type BackoffConfig struct {
	Enabled bool     `toml:"enabled" yaml:"enabled"`
	Max     Duration `toml:"max" yaml:"max"`
}

// ScanConfig restricts status labels; empty allows any non-empty label.
type ScanConfig struct {
	StatusAllow []string `toml:"status_allow" yaml:"status_allow"`
}

// ServerConfig holds the central ingestion service.
type ServerConfig struct {
	Listen     string          `toml:"listen" yaml:"listen"`
	GRPCListen string          `toml:"grpc_listen" yaml:"grpc_listen"`
	Dedupe     bool            `toml:"dedupe" yaml:"dedupe"`
	MaxBatch   int             `toml:"max_batch" yaml:"max_batch"`
	Store      StoreConfig     `toml:"store" yaml:"store"`
	RateLimit  RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	Auth       AuthConfig      `toml:"auth" yaml:"auth"`
}

// StoreConfig selects the central database.
type StoreConfig struct {
	Driver string `toml:"driver" yaml:"driver"`
	DSN    string `toml:"dsn" yaml:"dsn"`
}

// RateLimitConfig caps batches per origin; per_second <= 0 disables it.
type RateLimitConfig struct {
	PerSecond float64 `toml:"per_second" yaml:"per_second"`
	Burst     int     `toml:"burst" yaml:"burst"`
}

// AuthConfig enables bearer token verification when secret is set.
type AuthConfig struct {
	Secret string `toml:"secret" yaml:"secret"`
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML/YAML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode YAML %q: %w", path, err)
		}
	} else if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML %q: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and no file read.
// Params: none.
// Returns: defaulted config.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// readConfigSource returns the raw document at path. A directory yields its
// *.toml files in name order, joined by blank lines.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}
	if !info.IsDir() {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		return raw, nil
	}

	snippets, err := filepath.Glob(filepath.Join(path, "*.toml"))
	if err != nil {
		return nil, fmt.Errorf("scan config dir %q: %w", path, err)
	}
	if len(snippets) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}
	sort.Strings(snippets)

	var joined bytes.Buffer
	for _, snippet := range snippets {
		raw, err := os.ReadFile(snippet)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", snippet, err)
		}
		joined.Write(bytes.TrimRight(raw, "\n"))
		joined.WriteString("\n\n")
	}
	return joined.Bytes(), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: none.
func (c *Config) applyDefaults() {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}
	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}

	c.Node.OriginID = strings.TrimSpace(c.Node.OriginID)
	if strings.TrimSpace(c.Gateway.Listen) == "" {
		c.Gateway.Listen = defaultGatewayListen
	}
	if strings.TrimSpace(c.LocalLog.Path) == "" {
		c.LocalLog.Path = defaultLocalLogPath
	}
	c.LocalLog.Driver = lowerOrDefault(c.LocalLog.Driver, defaultLocalLogDriver)
	if strings.TrimSpace(c.Node.DataDir) == "" {
		c.Node.DataDir = filepath.Dir(c.LocalLog.Path)
	}

	c.Sync.Endpoint = strings.TrimSpace(c.Sync.Endpoint)
	c.Sync.Transport = lowerOrDefault(c.Sync.Transport, defaultSyncTransport)
	if c.Sync.Interval.Duration <= 0 {
		c.Sync.Interval.Duration = defaultSyncInterval
	}
	if c.Sync.Timeout.Duration <= 0 {
		c.Sync.Timeout.Duration = defaultSyncTimeout
	}
	if c.Sync.BatchMax == 0 {
		c.Sync.BatchMax = defaultSyncBatchMax
	}
	if c.Sync.TokenTTL.Duration <= 0 {
		c.Sync.TokenTTL.Duration = defaultTokenTTL
	}
	if c.Sync.Backoff.Max.Duration <= 0 {
		c.Sync.Backoff.Max.Duration = defaultBackoffFactor * c.Sync.Interval.Duration
	}

	if strings.TrimSpace(c.Server.Listen) == "" {
		c.Server.Listen = defaultServerListen
	}
	c.Server.Store.Driver = lowerOrDefault(c.Server.Store.Driver, defaultStoreDriver)
	if strings.TrimSpace(c.Server.Store.DSN) == "" && c.Server.Store.Driver == defaultStoreDriver {
		c.Server.Store.DSN = defaultStoreDSN
	}
	if c.Server.RateLimit.PerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = max(1, int(c.Server.RateLimit.PerSecond))
	}
}

// validate checks settings shared by both roles.
// Params: receiver config pointer.
// Returns: first validation error.
func (c *Config) validate() error {
	checks := []error{
		checkSink("log.console", c.Log.Console),
		checkSink("log.file", c.Log.File),
		checkListen("gateway.listen", c.Gateway.Listen),
		checkListen("server.listen", c.Server.Listen),
		oneOf("local_log.driver", c.LocalLog.Driver, "sqlite", "sqlite3"),
		oneOf("sync.transport", c.Sync.Transport, TransportHTTP, TransportGRPC),
		oneOf("server.store.driver", c.Server.Store.Driver, "postgres", "sqlite"),
	}
	if c.Pprof.Enabled {
		checks = append(checks, checkListen("pprof.listen", c.Pprof.Listen))
	}
	if c.Server.GRPCListen != "" {
		checks = append(checks, checkListen("server.grpc_listen", c.Server.GRPCListen))
	}
	if err := errors.Join(checks...); err != nil {
		return err
	}

	switch {
	case c.Sync.BatchMax < 0:
		return errors.New("sync.batch_max must be >= 0")
	case c.Sync.DeadLetterAfter < 0:
		return errors.New("sync.dead_letter_after must be >= 0")
	case c.Sync.Backoff.Max.Duration < c.Sync.Interval.Duration:
		return errors.New("sync.backoff.max must be >= sync.interval")
	case c.Server.MaxBatch < 0:
		return errors.New("server.max_batch must be >= 0")
	}
	for idx, pattern := range c.Scan.StatusAllow {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("scan.status_allow[%d] cannot be empty", idx)
		}
	}
	return nil
}

// ValidateGateway checks settings the gateway role cannot start without.
// Params: receiver config pointer.
// Returns: error naming the first missing setting.
func (c *Config) ValidateGateway() error {
	if c.Node.OriginID == "" {
		return fmt.Errorf("node.origin_id is required")
	}
	if c.Sync.Endpoint == "" {
		return fmt.Errorf("sync.endpoint is required")
	}
	if c.Sync.Transport == TransportGRPC {
		if _, _, err := net.SplitHostPort(c.Sync.Endpoint); err != nil {
			return fmt.Errorf("sync.endpoint must be host:port for grpc: %w", err)
		}
		return nil
	}
	parsed, err := url.Parse(c.Sync.Endpoint)
	if err != nil {
		return fmt.Errorf("sync.endpoint: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("sync.endpoint must be an http(s) URL, got %q", c.Sync.Endpoint)
	}
	return nil
}

// ValidateServer checks settings the server role cannot start without.
// Params: receiver config pointer.
// Returns: error naming the first missing setting.
func (c *Config) ValidateServer() error {
	if strings.TrimSpace(c.Server.Store.DSN) == "" {
		return fmt.Errorf("server.store.dsn is required for driver %q", c.Server.Store.Driver)
	}
	return nil
}

// checkSink validates one log sink. Path matters only for the file sink.
func checkSink(name string, sink LogSinkConfig) error {
	if name == "log.file" && sink.Enabled && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when the sink is enabled", name)
	}
	return errors.Join(
		oneOf(name+".level", sink.Level, "debug", "info", "warn", "error"),
		oneOf(name+".format", sink.Format, "line", "json"),
	)
}

// oneOf reports a configuration error unless value is one of allowed.
func oneOf(field, value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%s: unsupported value %q (want one of %s)", field, value, strings.Join(allowed, ", "))
}

func checkListen(field, listen string) error {
	if strings.TrimSpace(listen) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if _, _, err := net.SplitHostPort(listen); err != nil {
		return fmt.Errorf("%s must be host:port: %w", field, err)
	}
	return nil
}

// lowerOrDefault trims and lower-cases value, falling back when it is empty.
func lowerOrDefault(value, fallback string) string {
	if normalized := strings.ToLower(strings.TrimSpace(value)); normalized != "" {
		return normalized
	}
	return fallback
}
