// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the object-to-bytes codec for netsession payloads.
//
// Every structured payload that crosses a Connection is CBOR: packed
// message envelopes, handshake payloads, replicated table rows and
// deltas, and request/response bodies. The one-byte frame
// discriminant and the small fixed headers in package wire are
// hand-laid binary; everything after them is produced here.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so a
// table snapshot of the same rows always produces the same bytes and
// the same digest on host and client.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Payload types carry `cbor` struct tags. Types that also appear in
// CLI --json output carry `json` tags only; fxamacker/cbor falls back
// to them when no `cbor` tag is present.
package codec
