// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the byte-level shape of netsession frames.
//
// Every frame starts with a one-byte [MessageType]. The remaining
// layout depends on the type:
//
//	HeartbeatPing/Pong   [type] [i64 unix nanos]
//	Chunk                [type] [u32 id] [u16 index] [u16 count] [bytes]
//	Packed               [type] [compression block of CBOR Envelope]
//	TableSnapshot/Updated [type] [uvarint name length] [name] [compression block]
//	Request/Response     [type] [u32 call id] [compression block of CBOR Envelope]
//	simulation kinds     [type] [opaque game bytes]
//
// Integers are big-endian. Compression blocks are produced by
// lib/compress and start with a tag byte.
//
// [Flags] are the session-level delivery flags attached to every send;
// [Flags.ToTransportFlags] maps them to the bits a socket understands.
package wire
