// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "github.com/bureau-foundation/netsession/wire"

// Game is the game-specific collaborator. The session calls it from
// the main loop only.
type Game interface {
	// Start runs when the session becomes a host through
	// InitializeHost. An error tears the session down.
	Start(s *Session) error

	// OnServerInfo runs on a client when the host's hello arrives, for
	// example to begin loading the map package. An error disconnects
	// the client.
	OnServerInfo(info ServerInfo) error

	// OnJoined runs on the host when a peer reaches StateWelcome.
	OnJoined(c *Connection)

	// OnActive runs on the host when a peer is admitted.
	OnActive(c *Connection)

	// OnLeave runs when a connection that had reached StateWelcome
	// disconnects.
	OnLeave(c *Connection)

	OnBecameHost()
	OnHostChanged(previous, current *Connection)

	// OnDisconnected runs once when the session is terminated by the
	// host or by losing the host.
	OnDisconnected(reason string)

	// OnRawMessage receives simulation frames (ClientTick through
	// DeltaSnapshotClusterAck) unchanged.
	OnRawMessage(source *Connection, t wire.MessageType, frame []byte)
}

// NopGame implements Game with no-ops. Embed it to implement only the
// hooks a game needs.
type NopGame struct{}

var _ Game = NopGame{}

func (NopGame) Start(*Session) error { return nil }
func (NopGame) OnServerInfo(ServerInfo) error { return nil }
func (NopGame) OnJoined(*Connection) {}
func (NopGame) OnActive(*Connection) {}
func (NopGame) OnLeave(*Connection) {}
func (NopGame) OnBecameHost() {}
func (NopGame) OnHostChanged(previous, current *Connection) {}
func (NopGame) OnDisconnected(reason string) {}
func (NopGame) OnRawMessage(*Connection, wire.MessageType, []byte) {}
