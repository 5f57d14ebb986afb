// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bureau-foundation/netsession/wire"
)

// Table is a host-authoritative replicated dataset. table.StringTable
// is the stock implementation.
type Table interface {
	Name() string
	ReadSnapshot(data []byte) error
	ReadUpdate(data []byte) error
	WriteSnapshot(w io.Writer) error
	BuildUpdateMessage(w io.Writer) error
	ClearChanges()
	HasChanged() bool
}

// InstallTable registers t. Names are unique within a session.
func (s *Session) InstallTable(t Table) error {
	name := t.Name()
	if name == "" || len(name) > wire.MaxTableNameLength {
		return fmt.Errorf("session: table name %q out of range", name)
	}
	if _, exists := s.tables[name]; exists {
		return fmt.Errorf("session: table %q already installed", name)
	}
	s.tables[name] = t
	s.tableOrder = append(s.tableOrder, name)
	return nil
}

// Table returns the installed table called name.
func (s *Session) Table(name string) (Table, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// SendTableUpdates runs once per tick. A host broadcasts each changed
// table's delta to every peer at or beyond StateWelcome and clears its
// changes. A client only clears; it authors nothing.
func (s *Session) SendTableUpdates() {
	if !s.isHost {
		for _, name := range s.tableOrder {
			s.tables[name].ClearChanges()
		}
		return
	}

	for _, name := range s.tableOrder {
		t := s.tables[name]
		if !t.HasChanged() {
			continue
		}
		var body bytes.Buffer
		if err := t.BuildUpdateMessage(&body); err != nil {
			s.logger.Error("building table update failed", "table", name, "error", err)
			continue
		}
		frame, err := wire.EncodeTable(wire.TableUpdated, name, body.Bytes(), s.config.TableCompression)
		if err != nil {
			s.logger.Error("encoding table update failed", "table", name, "error", err)
			continue
		}
		s.BroadcastRaw(frame, WithMinimumState(StateWelcome))
		t.ClearChanges()
	}
}

// sendSnapshots sends one TableSnapshot frame per installed table to c.
func (s *Session) sendSnapshots(c *Connection) error {
	for _, name := range s.tableOrder {
		var body bytes.Buffer
		if err := s.tables[name].WriteSnapshot(&body); err != nil {
			return fmt.Errorf("writing snapshot of %q: %w", name, err)
		}
		frame, err := wire.EncodeTable(wire.TableSnapshot, name, body.Bytes(), s.config.TableCompression)
		if err != nil {
			return fmt.Errorf("encoding snapshot of %q: %w", name, err)
		}
		if err := c.SendRawMessage(frame, wire.Reliable); err != nil {
			return err
		}
	}
	return nil
}

// TableMessage applies an inbound table frame. A frame naming a table
// that is not installed is logged and dropped.
func (s *Session) TableMessage(source *Connection, frame []byte) error {
	if s.isHost {
		s.logger.Warn("host ignoring table frame from peer", "connection", source.ID)
		return nil
	}
	kind, name, body, err := wire.DecodeTable(frame)
	if err != nil {
		return err
	}
	t, ok := s.tables[name]
	if !ok {
		s.logger.Warn("dropping message for unknown table", "table", name, "type", kind)
		return nil
	}
	switch kind {
	case wire.TableSnapshot:
		return t.ReadSnapshot(body)
	case wire.TableUpdated:
		return t.ReadUpdate(body)
	}
	return nil
}
