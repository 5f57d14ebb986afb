// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package networking is the operator surface over a session and its
// sockets. It turns targets such as "tcp://10.0.0.5:27015" into
// attached sockets, hosts lobbies on every configured transport, and
// gathers diagnostics from the session and each socket.
//
// A Networking holds exactly one session. Disconnect tears it down and
// replaces it with an idle one, so a single Networking can host, leave,
// and join again over its lifetime.
package networking
