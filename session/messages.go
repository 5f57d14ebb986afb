// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "github.com/google/uuid"

// ServerInfo is the hello a host sends to start a handshake.
type ServerInfo struct {
	ServerName           string    `cbor:"1,keyasint"`
	ServerData           string    `cbor:"2,keyasint,omitempty"`
	MaxPlayers           int       `cbor:"3,keyasint"`
	MapName              string    `cbor:"4,keyasint,omitempty"`
	EngineVersion        int       `cbor:"5,keyasint"`
	GamePackage          string    `cbor:"6,keyasint,omitempty"`
	MapPackage           string    `cbor:"7,keyasint,omitempty"`
	HostConnectionID     uuid.UUID `cbor:"8,keyasint"`
	AssignedConnectionID uuid.UUID `cbor:"9,keyasint"`
	DeveloperHost        bool      `cbor:"10,keyasint,omitempty"`
	HandshakeID          uuid.UUID `cbor:"11,keyasint"`
}

func (ServerInfo) MessageName() string { return "netsession.server_info" }

// HandshakeAdvance asks the host to move the sender to State.
type HandshakeAdvance struct {
	HandshakeID uuid.UUID `cbor:"1,keyasint"`
	State       State     `cbor:"2,keyasint"`
}

func (HandshakeAdvance) MessageName() string { return "netsession.handshake_advance" }

// HandshakeStep tells the client the host has finished its part of
// State. For StateWelcome, every table snapshot precedes it.
type HandshakeStep struct {
	HandshakeID uuid.UUID `cbor:"1,keyasint"`
	State       State     `cbor:"2,keyasint"`
}

func (HandshakeStep) MessageName() string { return "netsession.handshake_step" }

// HandshakeRestart asks the host to rerun the handshake. HandshakeID is
// the attempt the client wants abandoned.
type HandshakeRestart struct {
	HandshakeID uuid.UUID `cbor:"1,keyasint"`
}

func (HandshakeRestart) MessageName() string { return "netsession.handshake_restart" }

// JoinRequest is the client's post-handshake identity, sent as a
// request once it has applied every snapshot.
type JoinRequest struct {
	HandshakeID uuid.UUID         `cbor:"1,keyasint"`
	DisplayName string            `cbor:"2,keyasint,omitempty"`
	PlatformID  string            `cbor:"3,keyasint,omitempty"`
	UserData    map[string]string `cbor:"4,keyasint,omitempty"`
}

func (JoinRequest) MessageName() string { return "netsession.join_request" }

// JoinResponse admits or refuses a JoinRequest.
type JoinResponse struct {
	Accepted bool   `cbor:"1,keyasint"`
	Reason   string `cbor:"2,keyasint,omitempty"`
}

func (JoinResponse) MessageName() string { return "netsession.join_response" }

// DisconnectNotice is the host's final message to a peer it is
// removing. Clients treat it as terminal.
type DisconnectNotice struct {
	Reason string `cbor:"1,keyasint"`
}

func (DisconnectNotice) MessageName() string { return "netsession.disconnect" }

// Reasons carried in DisconnectNotice.
const (
	ReasonServerFull       = "server full"
	ReasonHandshakeTimeout = "handshake timed out"
	ReasonHostShutdown     = "host shut down"
	ReasonHostLost         = "connection to host lost"
	ReasonVersionMismatch  = "protocol version mismatch"
)
