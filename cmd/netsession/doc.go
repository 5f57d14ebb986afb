// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Netsession hosts and joins multiplayer sessions over TCP from the
// command line. It is a smoke-testing and operations tool: a host with
// no game attached still runs the full handshake, roster replication,
// and heartbeats, so "netsession status" against a live host reports
// what any client would see.
//
// Commands:
//
//	netsession host [--listen ADDR] [--lobby NAME]
//	netsession join tcp://HOST:PORT
//	netsession status tcp://HOST:PORT
//	netsession version
//
// Configuration comes from the file named by --config or the
// NETSESSION_CONFIG environment variable. With neither, built-in
// defaults apply.
package main
