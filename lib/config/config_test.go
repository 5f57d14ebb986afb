// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
environment: development
session:
  server_name: arena
  max_players: 16
  handshake_timeout: 5s
  developer_host: true
transport:
  tcp_listen: 127.0.0.1:9000
  ice_servers:
    - stun:stun.example.net:3478
`)
	cfg, err := Parse(data, ".yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Session.ServerName != "arena" {
		t.Errorf("ServerName = %q, want arena", cfg.Session.ServerName)
	}
	if cfg.Session.MaxPlayers != 16 {
		t.Errorf("MaxPlayers = %d, want 16", cfg.Session.MaxPlayers)
	}
	if cfg.Session.HandshakeTimeout.Std() != 5*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 5s", cfg.Session.HandshakeTimeout.Std())
	}
	if !cfg.Session.DeveloperHost {
		t.Error("DeveloperHost should survive in development")
	}
	if len(cfg.Transport.ICEServers) != 1 {
		t.Errorf("ICEServers = %v", cfg.Transport.ICEServers)
	}
	// Untouched values keep their defaults.
	if cfg.Session.TickRate != 30 {
		t.Errorf("TickRate = %d, want default 30", cfg.Session.TickRate)
	}
}

func TestParseJSONC(t *testing.T) {
	data := []byte(`{
		// comment lines are allowed
		"session": {
			"server_name": "lan party",
			"request_timeout": "2s", /* trailing commas too */
		},
	}`)
	cfg, err := Parse(data, ".jsonc")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Session.ServerName != "lan party" {
		t.Errorf("ServerName = %q", cfg.Session.ServerName)
	}
	if cfg.Session.RequestTimeout.Std() != 2*time.Second {
		t.Errorf("RequestTimeout = %v, want 2s", cfg.Session.RequestTimeout.Std())
	}
}

func TestProductionOverrides(t *testing.T) {
	data := []byte(`
environment: production
session:
  max_players: 4
  developer_host: true
production:
  max_players: 64
  handshake_timeout: 10s
  dedicated: true
`)
	cfg, err := Parse(data, ".yml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Session.MaxPlayers != 64 {
		t.Errorf("MaxPlayers = %d, want 64", cfg.Session.MaxPlayers)
	}
	if cfg.Session.HandshakeTimeout.Std() != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 10s", cfg.Session.HandshakeTimeout.Std())
	}
	if !cfg.Session.Dedicated {
		t.Error("Dedicated override not applied")
	}
	if cfg.Session.DeveloperHost {
		t.Error("production must not advertise a developer host")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	cfg.Session.MaxPlayers = 0
	cfg.Transport.PackedCompression = "brotli"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{"staging", "max_players", "brotli"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %q", err, fragment)
		}
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("session:\n  handshake_timeout: soon\n"), ".yaml")
	if err == nil || !strings.Contains(err.Error(), "soon") {
		t.Fatalf("Parse error = %v, want invalid duration", err)
	}
}

func TestParseRejectsUnknownExtension(t *testing.T) {
	if _, err := Parse([]byte("x = 1"), ".toml"); err == nil {
		t.Fatal("expected error for .toml")
	}
}

func TestLoadRequiresEnvironment(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	if _, err := Load(); err == nil {
		t.Fatal("Load should fail without NETSESSION_CONFIG")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netsession.yaml")
	if err := os.WriteFile(path, []byte("session:\n  map_name: dust\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.MapName != "dust" {
		t.Errorf("MapName = %q, want dust", cfg.Session.MapName)
	}
}
