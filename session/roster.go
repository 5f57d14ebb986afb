// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/netsession/lib/codec"
)

// RosterTableName is the built-in replicated table carrying the
// roster from the host to every peer.
const RosterTableName = "connections"

// ConnectionInfo is one roster row: a mirror of an admitted connection
// plus user data.
type ConnectionInfo struct {
	ID          uuid.UUID         `cbor:"1,keyasint"`
	DisplayName string            `cbor:"2,keyasint,omitempty"`
	PlatformID  string            `cbor:"3,keyasint,omitempty"`
	IsHost      bool              `cbor:"4,keyasint,omitempty"`
	JoinTime    time.Time         `cbor:"5,keyasint"`
	UserData    map[string]string `cbor:"6,keyasint,omitempty"`
}

// Roster is the set of admitted connections. On the host it is
// authoritative; on clients it is rebuilt from the "connections" table.
type Roster struct {
	entries map[uuid.UUID]*ConnectionInfo
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{entries: make(map[uuid.UUID]*ConnectionInfo)}
}

// Add creates (or replaces) the row for c and returns it for the
// caller to fill in user data.
func (r *Roster) Add(c *Connection) *ConnectionInfo {
	info := &ConnectionInfo{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		PlatformID:  c.PlatformID,
		IsHost:      c.IsHost,
	}
	r.entries[c.ID] = info
	return info
}

// Remove deletes the row for id and reports whether it existed.
func (r *Roster) Remove(id uuid.UUID) bool {
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Get returns the row for id.
func (r *Roster) Get(id uuid.UUID) (*ConnectionInfo, bool) {
	info, ok := r.entries[id]
	return info, ok
}

// Len returns the number of rows.
func (r *Roster) Len() int { return len(r.entries) }

// All returns every row ordered by join time, then id.
func (r *Roster) All() []*ConnectionInfo {
	rows := slices.Collect(maps.Values(r.entries))
	slices.SortFunc(rows, func(a, b *ConnectionInfo) int {
		if c := a.JoinTime.Compare(b.JoinTime); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return rows
}

// AddConnection admits source to the roster. Host only: it returns nil
// on a client. The row is replicated to peers through the roster table,
// sockets are told, and cached lookups are invalidated.
func (s *Session) AddConnection(source *Connection, userData map[string]string) *ConnectionInfo {
	if !s.isHost {
		s.logger.Warn("AddConnection called on a client", "connection", source.ID)
		return nil
	}
	info := s.roster.Add(source)
	info.JoinTime = s.clock.Now().UTC()
	info.UserData = maps.Clone(userData)
	s.publishConnectionInfo(info)
	return info
}

func (s *Session) publishConnectionInfo(info *ConnectionInfo) {
	row, err := codec.Marshal(info)
	if err != nil {
		s.logger.Error("encoding roster row failed", "connection", info.ID, "error", err)
		return
	}
	s.rosterTable.Set(info.ID.String(), row)
	s.rosterChanged()
}

func (s *Session) removeConnectionInfo(id uuid.UUID) {
	if !s.roster.Remove(id) {
		return
	}
	s.rosterTable.Remove(id.String())
	s.rosterChanged()
}

func (s *Session) rosterChanged() {
	s.invalidateLookup()
	for _, socket := range s.Sockets() {
		socket.OnConnectionInfoUpdated(s)
	}
}

// rosterRowChanged mirrors a replicated roster row into the local
// roster on clients.
func (s *Session) rosterRowChanged(key string) {
	if s.isHost {
		return
	}
	id, err := uuid.Parse(key)
	if err != nil {
		s.logger.Warn("ignoring malformed roster key", "key", key)
		return
	}
	row, ok := s.rosterTable.Get(key)
	if !ok {
		s.roster.Remove(id)
		s.rosterChanged()
		return
	}
	var info ConnectionInfo
	if err := codec.Unmarshal(row, &info); err != nil {
		s.logger.Warn("ignoring malformed roster row", "key", key, "error", err)
		return
	}
	s.roster.entries[id] = &info
	s.rosterChanged()
}
