// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads netsession configuration files.
//
// Configuration comes from exactly one file, named by the
// NETSESSION_CONFIG environment variable or the --config flag. There is
// no discovery and no fallback search path.
//
// Two formats are accepted, chosen by extension:
//   - .yaml / .yml: YAML
//   - .json / .jsonc: JSON with // and /* */ comments and trailing commas
//
// A file may carry a "production" section whose non-zero values
// override the base values when environment is "production".
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the path from.
const EnvironmentVariable = "NETSESSION_CONFIG"

// Environment identifies the deployment type.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the file form of a netsession deployment.
type Config struct {
	Environment Environment     `yaml:"environment" json:"environment"`
	Session     SessionConfig   `yaml:"session" json:"session"`
	Lobby       LobbyConfig     `yaml:"lobby" json:"lobby"`
	Transport   TransportConfig `yaml:"transport" json:"transport"`
	Log         LogConfig       `yaml:"log" json:"log"`

	// Production overrides apply when Environment is production.
	Production *SessionConfig `yaml:"production,omitempty" json:"production,omitempty"`
}

// SessionConfig mirrors the tunables of session.Config.
type SessionConfig struct {
	ServerName  string `yaml:"server_name" json:"server_name"`
	ServerData  string `yaml:"server_data" json:"server_data"`
	MapName     string `yaml:"map_name" json:"map_name"`
	GamePackage string `yaml:"game_package" json:"game_package"`
	MapPackage  string `yaml:"map_package" json:"map_package"`
	MaxPlayers  int    `yaml:"max_players" json:"max_players"`

	// Dedicated hosts have no local player and no roster entry.
	Dedicated bool `yaml:"dedicated" json:"dedicated"`

	// DeveloperHost is advertised to clients in the hello.
	DeveloperHost bool `yaml:"developer_host" json:"developer_host"`

	TickRate          int      `yaml:"tick_rate" json:"tick_rate"`
	HandshakeTimeout  Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	RequestTimeout    Duration `yaml:"request_timeout" json:"request_timeout"`
}

// LobbyConfig is threaded opaquely to sockets that create lobbies.
type LobbyConfig struct {
	Name                  string `yaml:"name" json:"name"`
	MaxPlayers            int    `yaml:"max_players" json:"max_players"`
	Hidden                bool   `yaml:"hidden" json:"hidden"`
	Privacy               string `yaml:"privacy" json:"privacy"`
	DestroyWhenHostLeaves bool   `yaml:"destroy_when_host_leaves" json:"destroy_when_host_leaves"`
	AutoSwitchToBestHost  bool   `yaml:"auto_switch_to_best_host" json:"auto_switch_to_best_host"`
}

// TransportConfig configures the socket adapters.
type TransportConfig struct {
	// TCPListen is the host's listen address, e.g. ":27015".
	TCPListen string `yaml:"tcp_listen" json:"tcp_listen"`

	// WebRTCName identifies this peer in signaling.
	WebRTCName string `yaml:"webrtc_name" json:"webrtc_name"`

	// ICEServers are STUN/TURN URLs for WebRTC sockets.
	ICEServers []string `yaml:"ice_servers" json:"ice_servers"`

	MaxMessageSize       int    `yaml:"max_message_size" json:"max_message_size"`
	CompressionThreshold int    `yaml:"compression_threshold" json:"compression_threshold"`
	PackedCompression    string `yaml:"packed_compression" json:"packed_compression"`
	TableCompression     string `yaml:"table_compression" json:"table_compression"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.parse(raw)
}

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.parse(raw)
}

func (d *Duration) parse(raw string) error {
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when a file omits a value.
func Default() *Config {
	return &Config{
		Environment: Development,
		Session: SessionConfig{
			ServerName:        "netsession",
			MaxPlayers:        8,
			TickRate:          30,
			HandshakeTimeout:  Duration(30 * time.Second),
			HeartbeatInterval: Duration(time.Second),
			RequestTimeout:    Duration(10 * time.Second),
		},
		Lobby: LobbyConfig{
			MaxPlayers: 8,
			Privacy:    "public",
		},
		Transport: TransportConfig{
			TCPListen:            ":27015",
			MaxMessageSize:       64 * 1024,
			CompressionThreshold: 512,
			PackedCompression:    "lz4",
			TableCompression:     "zstd",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the file named by NETSESSION_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of a netsession config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads, merges over Default, applies environment overrides,
// and validates the file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the format implied by extension.
func Parse(data []byte, extension string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(extension) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q", extension)
	}

	cfg.applyEnvironmentOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	if c.Environment != Production {
		return
	}
	// Production never advertises developer hosts, whether or not an
	// override section exists.
	c.Session.DeveloperHost = false

	overrides := c.Production
	if overrides == nil {
		return
	}
	if overrides.ServerName != "" {
		c.Session.ServerName = overrides.ServerName
	}
	if overrides.MaxPlayers != 0 {
		c.Session.MaxPlayers = overrides.MaxPlayers
	}
	if overrides.TickRate != 0 {
		c.Session.TickRate = overrides.TickRate
	}
	if overrides.HandshakeTimeout != 0 {
		c.Session.HandshakeTimeout = overrides.HandshakeTimeout
	}
	if overrides.HeartbeatInterval != 0 {
		c.Session.HeartbeatInterval = overrides.HeartbeatInterval
	}
	if overrides.RequestTimeout != 0 {
		c.Session.RequestTimeout = overrides.RequestTimeout
	}
	c.Session.Dedicated = c.Session.Dedicated || overrides.Dedicated
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Session.MaxPlayers < 1 {
		errs = append(errs, fmt.Errorf("session.max_players must be at least 1"))
	}
	if c.Session.TickRate < 1 || c.Session.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("session.tick_rate must be between 1 and 1000"))
	}
	if c.Session.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.handshake_timeout must be positive"))
	}
	if c.Session.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.heartbeat_interval must be positive"))
	}
	if c.Transport.MaxMessageSize < 1024 {
		errs = append(errs, fmt.Errorf("transport.max_message_size must be at least 1024"))
	}
	for _, name := range []string{c.Transport.PackedCompression, c.Transport.TableCompression} {
		switch name {
		case "", "none", "lz4", "zstd":
		default:
			errs = append(errs, fmt.Errorf("unknown compression %q", name))
		}
	}
	switch c.Lobby.Privacy {
	case "", "public", "friends", "private":
	default:
		errs = append(errs, fmt.Errorf("lobby.privacy must be one of public, friends, private"))
	}
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of auto, text, json"))
	}

	return errors.Join(errs...)
}
