// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session turns transport connections into a multiplayer
// session with one authoritative host.
//
// A [Session] owns every piece of mutable session state: the set of
// peer [Connection] values, the local identity, the installed
// replicated tables, the [Roster], and the registry of typed message
// handlers. Nothing is global, so independent sessions can share a
// process.
//
// # Threading
//
// Session is single-writer. All mutation happens on the goroutine that
// calls [Session.Update] (directly, or through [Session.Run]). Sockets
// do their I/O on background goroutines and hand inbound frames and
// connect/disconnect/host-change events back through
// [Socket.GetIncomingMessages], which only Update calls.
//
// # Handshake
//
// When a peer connects to a host, the host assigns it a fresh handshake
// id and sends a [ServerInfo] hello; the peer moves to
// StateLoadingServerInformation. Every later transition is requested by
// the peer with a message carrying that handshake id:
//
//	client                          host
//	  <------------- ServerInfo{H} ---
//	  --- HandshakeAdvance{H, Welcome} ->   snapshots, OnJoined
//	  <-- TableSnapshot... HandshakeStep{H, Welcome}
//	  --- HandshakeAdvance{H, Snapshot} ->
//	  --- Request JoinRequest{H} ------->   AddConnection, OnActive
//	  <-- Response JoinResponse ---------
//
// A message carrying any other handshake id is stale and rejected, and
// states never move backwards except through a disconnect or a restart.
// Peers that do not reach StateConnected within
// [Config.HandshakeTimeout] are disconnected.
package session
