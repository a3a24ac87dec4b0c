// Package config handles reading and writing rknock configuration files.
//
// Files ending in ".toml" are read and written as TOML; anything else is YAML.
//
// Door config is stored at /etc/rknock/door.yaml (default).
// Knocker config is stored at ~/.rknock/config.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/merlos/rknock/internal/crypto"
	"github.com/merlos/rknock/internal/replay"
	"github.com/merlos/rknock/pkg/protocol"
)

// DefaultServerConfigPath is where the door looks for its config.
const DefaultServerConfigPath = "/etc/rknock/door.yaml"

// Door holds the listener settings.
type Door struct {
	// Listen is the UDP address to bind.
	Listen string `yaml:"listen" toml:"listen"`

	// Secret is the shared secret, or "@path" to read it from a file.
	Secret string `yaml:"secret" toml:"secret"`

	// Algorithm selects the tag algorithm: sha256, hmac-sha256 or blake2b-256.
	Algorithm string `yaml:"algorithm" toml:"algorithm"`

	// ReplayCapacity is the number of accepted nonces remembered.
	ReplayCapacity int `yaml:"replay_capacity" toml:"replay_capacity"`

	// AllowCommand is run for each accepted knock, with {ip} replaced by the
	// knocker's address. "@path" reads the template from a file.
	AllowCommand string `yaml:"allow_command" toml:"allow_command"`

	// RevokeCommand, if set, is run RevokeAfter after the last knock.
	RevokeCommand string `yaml:"revoke_command,omitempty" toml:"revoke_command,omitempty"`

	// RevokeAfter is how long an address stays allowed.
	RevokeAfter Duration `yaml:"revoke_after" toml:"revoke_after"`

	// LedgerFile, if set, is a bbolt file recording accepted knocks.
	LedgerFile string `yaml:"ledger_file,omitempty" toml:"ledger_file,omitempty"`

	// MetricsAddr, if set, serves Prometheus metrics over HTTP.
	MetricsAddr string `yaml:"metrics_addr,omitempty" toml:"metrics_addr,omitempty"`
}

// ServerConfig is the top-level structure for /etc/rknock/door.yaml.
type ServerConfig struct {
	Door Door `yaml:"door" toml:"door"`
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{}
	cfg.Door.Listen = fmt.Sprintf("0.0.0.0:%d", protocol.DefaultPort)
	cfg.Door.Algorithm = crypto.DefaultAlgorithm.Name()
	cfg.Door.ReplayCapacity = replay.DefaultCapacity
	cfg.Door.RevokeAfter = Duration{30 * time.Second}
	return cfg
}

// Validate reports the first problem that would stop the door from starting.
func (c *ServerConfig) Validate() error {
	d := c.Door
	if d.Secret == "" {
		return errors.New("door.secret is required")
	}
	if _, err := crypto.AlgorithmByName(d.Algorithm); err != nil {
		return fmt.Errorf("door.algorithm: %w", err)
	}
	if d.ReplayCapacity <= 0 {
		return fmt.Errorf("door.replay_capacity must be positive, got %d", d.ReplayCapacity)
	}
	if _, _, err := net.SplitHostPort(d.Listen); err != nil {
		return fmt.Errorf("door.listen: %w", err)
	}
	if d.AllowCommand == "" {
		return errors.New("door.allow_command is required")
	}
	if d.RevokeAfter.Duration < 0 {
		return fmt.Errorf("door.revoke_after must not be negative, got %s", d.RevokeAfter)
	}
	return nil
}

// Profile is a single named knock target in the client config.
type Profile struct {
	// Target is the door's "host[:port]".
	Target string `yaml:"target" toml:"target"`

	// Secret is the shared secret, or "@path" to read it from a file.
	Secret string `yaml:"secret" toml:"secret"`

	// Algorithm must match the door's.
	Algorithm string `yaml:"algorithm,omitempty" toml:"algorithm,omitempty"`

	// Salt appends a random salt to each nonce.
	Salt bool `yaml:"salt,omitempty" toml:"salt,omitempty"`

	// PostKnock is an optional shell command to run after a successful knock.
	PostKnock string `yaml:"post_knock,omitempty" toml:"post_knock,omitempty"`
}

// Validate checks that p can be used to knock.
func (p *Profile) Validate() error {
	if p.Target == "" {
		return errors.New("profile target is required")
	}
	if p.Secret == "" {
		return errors.New("profile secret is required")
	}
	if _, err := crypto.AlgorithmByName(p.Algorithm); err != nil {
		return fmt.Errorf("profile algorithm: %w", err)
	}
	return nil
}

// ClientConfig is the top-level structure for ~/.rknock/config.yaml.
type ClientConfig struct {
	// Profiles maps profile names to their configuration.
	// The profile named "default" is used when no profile is specified.
	Profiles map[string]*Profile `yaml:"profiles" toml:"profiles"`
}

// DefaultClientConfigPath returns the default path to the client config file.
func DefaultClientConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rknock/config.yaml"
	}
	return filepath.Join(home, ".rknock", "config.yaml")
}

// LoadServerConfig reads and parses a server config file from path. Keys
// missing from the file keep their DefaultServerConfig values.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := load(path, cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

// SaveServerConfig writes the server config to path, creating directories as needed.
func SaveServerConfig(path string, cfg *ServerConfig) error {
	return save(path, cfg, 0o750)
}

// LoadClientConfig reads and parses a client config file from path.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{Profiles: make(map[string]*Profile)}
	if err := load(path, cfg); err != nil {
		return nil, fmt.Errorf("client config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	return cfg, nil
}

// SaveClientConfig writes the client config to path, creating directories as needed.
// The file is written with 0600 permissions since it may contain secrets.
func SaveClientConfig(path string, cfg *ClientConfig) error {
	return save(path, cfg, 0o700)
}

// GetProfile returns the named profile, falling back to "default" if name is empty.
// Returns an error if the profile does not exist.
func GetProfile(cfg *ClientConfig, name string) (*Profile, error) {
	if name == "" {
		name = "default"
	}
	p, ok := cfg.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found in config", name)
	}
	return p, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if isTOML(path) {
		if _, err := toml.Decode(string(data), v); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Marshal encodes v as TOML when path ends in ".toml", otherwise as YAML.
func Marshal(path string, v any) ([]byte, error) {
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return yaml.Marshal(v)
}

func save(path string, v any, dirPerm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := Marshal(path, v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Duration is a wrapper around time.Duration that marshals in human-readable
// form (e.g. "30s", "1m") in both YAML and TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}
