// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "fmt"

// MessageType is the first byte of every frame. The set is closed:
// receivers switch over it exhaustively and treat anything outside the
// range as Unknown.
type MessageType uint8

const (
	Unknown MessageType = iota
	HeartbeatPing
	HeartbeatPong
	Chunk
	Packed
	ClientTick
	SetCullState
	DeltaSnapshot
	DeltaSnapshotCluster
	DeltaSnapshotAck
	DeltaSnapshotClusterAck
	TableSnapshot
	TableUpdated
	Request
	Response

	messageTypeCount
)

var messageTypeNames = [messageTypeCount]string{
	Unknown:                 "unknown",
	HeartbeatPing:           "heartbeat_ping",
	HeartbeatPong:           "heartbeat_pong",
	Chunk:                   "chunk",
	Packed:                  "packed",
	ClientTick:              "client_tick",
	SetCullState:            "set_cull_state",
	DeltaSnapshot:           "delta_snapshot",
	DeltaSnapshotCluster:    "delta_snapshot_cluster",
	DeltaSnapshotAck:        "delta_snapshot_ack",
	DeltaSnapshotClusterAck: "delta_snapshot_cluster_ack",
	TableSnapshot:           "table_snapshot",
	TableUpdated:            "table_updated",
	Request:                 "request",
	Response:                "response",
}

func (t MessageType) String() string {
	if t < messageTypeCount {
		return messageTypeNames[t]
	}
	return fmt.Sprintf("message_type(%d)", uint8(t))
}

// Valid reports whether t is a known frame type other than Unknown.
func (t MessageType) Valid() bool {
	return t > Unknown && t < messageTypeCount
}

// IsSimulation reports whether frames of this type carry game
// simulation data the session forwards without interpreting.
func (t MessageType) IsSimulation() bool {
	return t >= ClientTick && t <= DeltaSnapshotClusterAck
}

// IsTable reports whether t is a replicated-table frame.
func (t MessageType) IsTable() bool {
	return t == TableSnapshot || t == TableUpdated
}

// TypeOf returns the type byte of frame, or Unknown for an empty or
// out-of-range frame.
func TypeOf(frame []byte) MessageType {
	if len(frame) == 0 {
		return Unknown
	}
	t := MessageType(frame[0])
	if t >= messageTypeCount {
		return Unknown
	}
	return t
}
