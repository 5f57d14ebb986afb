// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "testing"

func TestICEConfigFromURLs(t *testing.T) {
	config := ICEConfigFromURLs([]string{
		"stun:stun.example.org:3478",
		"  ",
		"turn:alice:s3cret@relay.example.org:3478?transport=udp",
		"turns:relay.example.org:5349",
	})
	if len(config.Servers) != 3 {
		t.Fatalf("got %d servers, want 3", len(config.Servers))
	}

	stun := config.Servers[0]
	if stun.URLs[0] != "stun:stun.example.org:3478" || stun.Username != "" {
		t.Errorf("stun server = %+v", stun)
	}

	turn := config.Servers[1]
	if turn.URLs[0] != "turn:relay.example.org:3478?transport=udp" {
		t.Errorf("turn URL = %q", turn.URLs[0])
	}
	if turn.Username != "alice" || turn.Credential != "s3cret" {
		t.Errorf("turn credentials = %q / %v", turn.Username, turn.Credential)
	}

	if bare := config.Servers[2]; bare.URLs[0] != "turns:relay.example.org:5349" || bare.Username != "" {
		t.Errorf("turns server without credentials = %+v", bare)
	}
}

func TestICEConfigFromURLsEmpty(t *testing.T) {
	if config := ICEConfigFromURLs(nil); len(config.Servers) != 0 {
		t.Errorf("expected no servers, got %+v", config.Servers)
	}
}
