// Package config loads the static configuration of spec §6 from YAML,
// the way the pack's newtron settings layer loads its own config, and
// hands already-parsed Go structs to the core packages: no network I/O,
// no listening socket, no TLS termination — those stay out of scope per
// spec §1.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML scalars like "90s" or "2m" into a time.Duration;
// yaml.v3 has no built-in notion of time.Duration, so every duration
// field in Config uses this wrapper instead of the bare type.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// PeerConfig names one peer NSA's topology document source (internal/
// fetcher.Peer) and its NSA identity (for internal/registry).
type PeerConfig struct {
	NetworkID string `yaml:"network_id"`
	NSA       string `yaml:"nsa"`
	URL       string `yaml:"url"`
}

// DatabaseConfig names the embedded persistence file and, per spec §6,
// the credentials a real deployment's database backend would need (the
// bbolt-backed internal/store implementation ignores user/password —
// carried here only to round-trip the config keys spec §6 lists).
type DatabaseConfig struct {
	Path     string `yaml:"database"`
	User     string `yaml:"database_user,omitempty"`
	Password string `yaml:"database_password,omitempty"`
}

// TLSConfig carries the config keys spec §6 lists for the listening
// socket; internal/config only parses them, actual TLS termination is
// out of scope per spec §1.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// BackendConfig selects and configures the Connection Manager dispatch.
type BackendConfig struct {
	Type string            `yaml:"type"`
	Args map[string]string `yaml:"args,omitempty"`
}

// Config is the top-level document, covering every spec §6 key.
type Config struct {
	Host            string         `yaml:"host"`
	Port            int            `yaml:"port"`
	TLS             TLSConfig      `yaml:"tls"`
	NetworkName     string         `yaml:"network_name"`
	NRMMapFile      string         `yaml:"nrm_map_file,omitempty"`
	Database        DatabaseConfig `yaml:"database"`
	Peers           []PeerConfig   `yaml:"peers,omitempty"`
	Backend         BackendConfig  `yaml:"backend"`
	LogFile         string         `yaml:"log_file,omitempty"`
	TopologyRefresh Duration       `yaml:"topology_refresh_interval,omitempty"`
	TPCTimeout      Duration       `yaml:"tpc_timeout,omitempty"`
}

// defaults applied when a config document leaves the corresponding key
// unset (or zero).
const (
	DefaultTopologyRefresh = Duration(5 * time.Minute)
	DefaultTPCTimeout      = Duration(2 * time.Minute)
)

// Load reads and parses a YAML config document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML config document, applying defaults for any
// duration field left unset.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if c.TopologyRefresh == 0 {
		c.TopologyRefresh = DefaultTopologyRefresh
	}
	if c.TPCTimeout == 0 {
		c.TPCTimeout = DefaultTPCTimeout
	}
	if c.NetworkName == "" {
		return nil, fmt.Errorf("config: network_name is required")
	}
	return &c, nil
}
