// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/bureau-foundation/netsession/lib/codec"
	"github.com/bureau-foundation/netsession/wire"
)

// Handle registers fn for messages of type T arriving in Packed frames.
// Each message name may be registered once per session; a duplicate
// registration panics.
func Handle[T Message](s *Session, fn func(source *Connection, msg T) error) {
	var zero T
	name := zero.MessageName()
	if _, exists := s.handlers[name]; exists {
		panic(fmt.Sprintf("session: duplicate handler for %q", name))
	}
	s.handlers[name] = func(source *Connection, envelope wire.Envelope) error {
		var msg T
		if err := envelope.DecodeBody(&msg); err != nil {
			return err
		}
		return fn(source, msg)
	}
}

// handleFrame dispatches one inbound frame. Errors are logged here and
// never escape: one bad frame does not end the session.
func (s *Session) handleFrame(source *Connection, frame []byte) {
	if s.tornDown {
		return
	}
	source.counters.bytesIn += uint64(len(frame))
	source.counters.packetsIn++

	if err := s.dispatch(source, frame); err != nil {
		s.logger.Warn("dropping frame",
			"connection", source.ID,
			"type", wire.TypeOf(frame),
			"error", err,
		)
	}
}

func (s *Session) dispatch(source *Connection, frame []byte) error {
	switch kind := wire.TypeOf(frame); kind {
	case wire.Unknown:
		return fmt.Errorf("unknown frame type byte")

	case wire.HeartbeatPing:
		return source.SendRawMessage(wire.Pong(frame), wire.UnreliableNoDelay)

	case wire.HeartbeatPong:
		sent, err := wire.DecodeHeartbeat(frame)
		if err != nil {
			return err
		}
		source.Stats.Ping = s.clock.Now().Sub(sent)
		source.counters.pongs++
		return nil

	case wire.Chunk:
		assembled, done, err := source.assembler.Add(frame)
		if err != nil || !done {
			return err
		}
		if wire.TypeOf(assembled) == wire.Chunk {
			return fmt.Errorf("nested chunk frame")
		}
		return s.dispatch(source, assembled)

	case wire.Packed:
		envelope, err := wire.DecodePacked(frame)
		if err != nil {
			return err
		}
		handler, ok := s.handlers[envelope.Name]
		if !ok {
			if body, err := codec.Diagnose(envelope.Body); err == nil {
				s.logger.Debug("unhandled message body", "message", envelope.Name, "body", body)
			}
			return fmt.Errorf("no handler for message %q", envelope.Name)
		}
		return handler(source, envelope)

	case wire.ClientTick, wire.SetCullState,
		wire.DeltaSnapshot, wire.DeltaSnapshotCluster,
		wire.DeltaSnapshotAck, wire.DeltaSnapshotClusterAck:
		s.game.OnRawMessage(source, kind, frame)
		return nil

	case wire.TableSnapshot, wire.TableUpdated:
		return s.TableMessage(source, frame)

	case wire.Request:
		return s.handleRequest(source, frame)

	case wire.Response:
		return s.handleResponse(frame)

	default:
		return fmt.Errorf("unhandled frame type %s", kind)
	}
}
