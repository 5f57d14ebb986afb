// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "fmt"

// State is a connection's position in the handshake. States are
// ordered; comparisons like state >= StateWelcome are meaningful.
type State uint8

const (
	StateUnconnected State = iota
	StateLoadingServerInformation
	StateWelcome
	StateSnapshot
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateLoadingServerInformation:
		return "loading_server_information"
	case StateWelcome:
		return "welcome"
	case StateSnapshot:
		return "snapshot"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}
