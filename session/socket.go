// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

// Socket is a transport plugin. One session may attach several.
type Socket interface {
	// Initialize is called once by AddSocket. The socket keeps events
	// and invokes them only from inside GetIncomingMessages, or
	// synchronously from Initialize itself to report connections that
	// already exist.
	Initialize(s *Session, events SocketEvents) error

	// GetIncomingMessages delivers queued events and inbound frames on
	// the main loop, in arrival order.
	GetIncomingMessages(handler func(source *Connection, frame []byte))

	// ProcessMessagesInThread runs one step of background I/O, for
	// example flushing batched writes. It must not touch session state.
	ProcessMessagesInThread()

	// Tick runs roughly once per second on the main loop.
	Tick(s *Session)

	// Advisory hooks. No-ops are valid implementations.
	OnConnectionInfoUpdated(s *Session)
	OnSessionFailed(peerID string)
	SetData(key, value string)
	SetServerName(name string)
	SetMapName(name string)

	// AutoDispose reports whether CloseSockets should close this socket.
	AutoDispose() bool
	Close() error
}

// SocketEvents are the callbacks a socket reports transport events
// through.
type SocketEvents struct {
	OnClientConnect    func(c *Connection)
	OnClientDisconnect func(c *Connection)
	OnHostChanged      func(previous, current *Connection)
}

// LobbyConfig describes a lobby to sockets that can create one. The
// session does not interpret it.
type LobbyConfig struct {
	Name                  string
	MaxPlayers            int
	Hidden                bool
	Privacy               string
	DestroyWhenHostLeaves bool
	AutoSwitchToBestHost  bool
}

// LobbyCreator is implemented by sockets that can advertise a lobby.
type LobbyCreator interface {
	CreateLobby(config LobbyConfig) error
}

// Diagnoser is implemented by sockets that can describe their
// transport state for operators.
type Diagnoser interface {
	Diagnostics() map[string]string
}
