// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN and TURN) used during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds an ICEConfig from server URLs as written in
// the transport configuration. A TURN URL may carry credentials as
// "turn:user:password@host:port". No URLs means host candidates only,
// which is enough on one machine or one LAN.
func ICEConfigFromURLs(urls []string) ICEConfig {
	var config ICEConfig
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		server := webrtc.ICEServer{URLs: []string{raw}}
		scheme, rest, ok := strings.Cut(raw, ":")
		if ok && (scheme == "turn" || scheme == "turns") {
			if credentials, host, found := strings.Cut(rest, "@"); found {
				username, password, _ := strings.Cut(credentials, ":")
				server.URLs = []string{scheme + ":" + host}
				server.Username = username
				server.Credential = password
			}
		}
		config.Servers = append(config.Servers, server)
	}
	return config
}
