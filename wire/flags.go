// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "strings"

// Flags select delivery guarantees for one send. They combine with |.
type Flags uint8

const (
	// Reliable frames are retransmitted until acknowledged and arrive
	// in order.
	Reliable Flags = 1 << iota

	// SendImmediate bypasses send batching (no Nagle).
	SendImmediate

	// DiscardOnDelay lets an unreliable frame be dropped rather than
	// queued behind a congested link.
	DiscardOnDelay

	// HostOnly marks a message meant for the host. Routing only; never
	// reaches the socket.
	HostOnly

	// OwnerOnly marks a message meant for the owner of an entity.
	// Routing only; never reaches the socket.
	OwnerOnly
)

const (
	// Unreliable is the absence of every flag.
	Unreliable Flags = 0

	// UnreliableNoDelay is the usual choice for per-tick state.
	UnreliableNoDelay = SendImmediate | DiscardOnDelay
)

// TransportFlags are the bits a socket receives with each frame.
type TransportFlags uint8

const (
	TransportUnreliable TransportFlags = 0
	TransportNoNagle    TransportFlags = 1
	TransportNoDelay    TransportFlags = 4
	TransportReliable   TransportFlags = 8
)

// Reliable reports whether the frame must use the reliable channel.
func (f TransportFlags) Reliable() bool { return f&TransportReliable != 0 }

// Has reports whether every bit of other is set in f.
func (f Flags) Has(other Flags) bool { return f&other == other }

// ToTransportFlags maps session delivery flags to socket bits:
//
//	Reliable        -> 8
//	SendImmediate   -> +1
//	DiscardOnDelay  -> +4, only when not Reliable
//
// HostOnly and OwnerOnly contribute nothing.
func (f Flags) ToTransportFlags() TransportFlags {
	var result TransportFlags
	if f.Has(Reliable) {
		result |= TransportReliable
	}
	if f.Has(SendImmediate) {
		result |= TransportNoNagle
	}
	if f.Has(DiscardOnDelay) && !f.Has(Reliable) {
		result |= TransportNoDelay
	}
	return result
}

func (f Flags) String() string {
	if f == Unreliable {
		return "unreliable"
	}
	var parts []string
	for _, named := range []struct {
		flag Flags
		name string
	}{
		{Reliable, "reliable"},
		{SendImmediate, "send_immediate"},
		{DiscardOnDelay, "discard_on_delay"},
		{HostOnly, "host_only"},
		{OwnerOnly, "owner_only"},
	} {
		if f.Has(named.flag) {
			parts = append(parts, named.name)
		}
	}
	return strings.Join(parts, "|")
}
