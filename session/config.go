// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"maps"
	"time"

	"github.com/bureau-foundation/netsession/lib/compress"
	"github.com/bureau-foundation/netsession/lib/config"
	"github.com/bureau-foundation/netsession/wire"
)

// Config holds the tunables of one session. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// Advertised in the ServerInfo hello.
	ServerName    string
	ServerData    string
	MapName       string
	GamePackage   string
	MapPackage    string
	MaxPlayers    int
	DeveloperHost bool

	// Dedicated hosts have no local player: InitializeHost adds no
	// roster entry for the local identity, and the local identity does
	// not count against MaxPlayers.
	Dedicated bool

	// Identity sent in JoinRequest when this session joins a host.
	DisplayName string
	PlatformID  string
	UserData    map[string]string

	// TickRate is the number of Update calls per second made by Run.
	TickRate int

	// HandshakeTimeout bounds the time from a peer's hello to its
	// admission. A client that loses its host and is not reconnected
	// within the same duration tears itself down.
	HandshakeTimeout time.Duration

	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration

	// MaxMessageSize is the largest frame handed to a socket. Larger
	// reliable frames are chunked.
	MaxMessageSize int

	PackedCompression wire.Compression
	TableCompression  wire.Compression
}

var defaultConfig = DefaultConfig()

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ServerName:        "netsession",
		MaxPlayers:        8,
		TickRate:          30,
		HandshakeTimeout:  30 * time.Second,
		HeartbeatInterval: time.Second,
		RequestTimeout:    10 * time.Second,
		MaxMessageSize:    64 * 1024,
		PackedCompression: wire.Compression{Tag: compress.LZ4, Threshold: 512},
		TableCompression:  wire.Compression{Tag: compress.Zstd, Threshold: 512},
	}
}

// ConfigFromFile converts a loaded configuration file to a Config.
func ConfigFromFile(file *config.Config) (Config, error) {
	packed, err := compress.ParseTag(file.Transport.PackedCompression)
	if err != nil {
		return Config{}, fmt.Errorf("transport.packed_compression: %w", err)
	}
	tables, err := compress.ParseTag(file.Transport.TableCompression)
	if err != nil {
		return Config{}, fmt.Errorf("transport.table_compression: %w", err)
	}
	threshold := file.Transport.CompressionThreshold

	return Config{
		ServerName:        file.Session.ServerName,
		ServerData:        file.Session.ServerData,
		MapName:           file.Session.MapName,
		GamePackage:       file.Session.GamePackage,
		MapPackage:        file.Session.MapPackage,
		MaxPlayers:        file.Session.MaxPlayers,
		DeveloperHost:     file.Session.DeveloperHost,
		Dedicated:         file.Session.Dedicated,
		TickRate:          file.Session.TickRate,
		HandshakeTimeout:  file.Session.HandshakeTimeout.Std(),
		HeartbeatInterval: file.Session.HeartbeatInterval.Std(),
		RequestTimeout:    file.Session.RequestTimeout.Std(),
		MaxMessageSize:    file.Transport.MaxMessageSize,
		PackedCompression: wire.Compression{Tag: packed, Threshold: threshold},
		TableCompression:  wire.Compression{Tag: tables, Threshold: threshold},
	}, nil
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = defaults.MaxPlayers
	}
	if c.TickRate <= 0 {
		c.TickRate = defaults.TickRate
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	c.UserData = maps.Clone(c.UserData)
	return c
}
