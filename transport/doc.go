// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides [session.Socket] implementations.
//
// Every socket embeds [BaseSocket], which owns the queue between the
// socket's background goroutines and the session's main loop. Reader
// goroutines call QueueConnect, QueueFrame, QueueDisconnect, and
// QueueHostChanged; the session drains them in arrival order through
// GetIncomingMessages. No socket goroutine ever calls into the session
// directly.
//
// Three transports are provided:
//
//   - [MemoryNetwork] and [MemorySocket]: an in-process lobby service
//     with a star topology and host migration. Tests and single-process
//     tools use it in place of a real network.
//   - [TCPSocket]: a listener (host) or dialer (client) carrying
//     length-prefixed frames. Outbound frames are batched per peer and
//     flushed by ProcessMessagesInThread, or at once for frames sent
//     with [wire.TransportNoNagle].
//   - [WebRTCSocket]: pion/webrtc PeerConnections with one ordered
//     reliable data channel and one unordered channel with no
//     retransmits. Frames are routed by their transport flags.
//
// WebRTC signaling is abstracted behind [Signaler], which publishes and
// polls SDP offers and answers. [MemorySignaler] is the in-process
// implementation. Signaling uses vanilla ICE: all candidates are
// gathered before the SDP is published, so connection establishment
// needs exactly one round trip.
package transport
