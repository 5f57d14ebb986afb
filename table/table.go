// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package table implements replicated key/value tables.
//
// The host owns the authoritative copy of every table. It mutates rows
// with Set and Remove, and the session ships them to peers in two forms:
//
//   - a snapshot (WriteSnapshot / ReadSnapshot), sent once per join,
//     carrying every row plus a BLAKE3 digest of the contents;
//   - an update (BuildUpdateMessage / ReadUpdate), sent every tick the
//     table changed, carrying only rows set or removed since the last
//     ClearChanges.
//
// Both forms are CBOR. A StringTable is not safe for concurrent use; it
// is mutated only from the session's main loop.
package table

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/netsession/lib/codec"
)

// ErrDigestMismatch is returned by ReadSnapshot when the rows do not
// hash to the digest the sender computed.
var ErrDigestMismatch = errors.New("table: snapshot digest mismatch")

// Digest is a BLAKE3 keyed hash of a table's contents.
type Digest [32]byte

// snapshotDomainKey is the ASCII domain name zero-padded to 32 bytes.
var snapshotDomainKey = [32]byte{
	'n', 'e', 't', 's', 'e', 's', 's', 'i', 'o', 'n', '.', 't', 'a', 'b', 'l', 'e',
	'.', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', 0, 0, 0, 0, 0, 0, 0,
}

type snapshotMessage struct {
	Rows   map[string][]byte `cbor:"1,keyasint"`
	Digest []byte            `cbor:"2,keyasint"`
}

type updateMessage struct {
	Set     map[string][]byte `cbor:"1,keyasint,omitempty"`
	Removed []string          `cbor:"2,keyasint,omitempty"`
}

// StringTable is a replicated table of string keys to opaque values.
type StringTable struct {
	name    string
	rows    map[string][]byte
	dirty   map[string]struct{}
	removed map[string]struct{}

	onChanged func(key string)
}

// New returns an empty table.
func New(name string) *StringTable {
	return &StringTable{
		name:    name,
		rows:    make(map[string][]byte),
		dirty:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
	}
}

// Name returns the table's session-unique name.
func (t *StringTable) Name() string { return t.name }

// OnChanged registers fn to run for every key changed by ReadSnapshot
// or ReadUpdate. Local Set and Remove calls do not trigger it.
func (t *StringTable) OnChanged(fn func(key string)) { t.onChanged = fn }

// Get returns the value stored under key.
func (t *StringTable) Get(key string) ([]byte, bool) {
	value, ok := t.rows[key]
	return value, ok
}

// Keys returns every key in sorted order.
func (t *StringTable) Keys() []string {
	return slices.Sorted(maps.Keys(t.rows))
}

// Len returns the number of rows.
func (t *StringTable) Len() int { return len(t.rows) }

// Set stores value under key and marks the row dirty. Setting a row
// to its current value is not a change.
func (t *StringTable) Set(key string, value []byte) {
	if current, ok := t.rows[key]; ok && bytes.Equal(current, value) {
		return
	}
	t.rows[key] = bytes.Clone(value)
	t.dirty[key] = struct{}{}
	delete(t.removed, key)
}

// Remove deletes key. Removing an absent key is not a change.
func (t *StringTable) Remove(key string) {
	if _, ok := t.rows[key]; !ok {
		return
	}
	delete(t.rows, key)
	delete(t.dirty, key)
	t.removed[key] = struct{}{}
}

// HasChanged reports whether any row was set or removed since the
// last ClearChanges.
func (t *StringTable) HasChanged() bool {
	return len(t.dirty) > 0 || len(t.removed) > 0
}

// ClearChanges forgets pending changes.
func (t *StringTable) ClearChanges() {
	clear(t.dirty)
	clear(t.removed)
}

// Digest returns the keyed hash of the current rows.
func (t *StringTable) Digest() Digest {
	return digestRows(t.rows)
}

// WriteSnapshot writes every row and the content digest to w.
func (t *StringTable) WriteSnapshot(w io.Writer) error {
	digest := digestRows(t.rows)
	return codec.NewEncoder(w).Encode(snapshotMessage{Rows: t.rows, Digest: digest[:]})
}

// ReadSnapshot replaces the table contents with a snapshot. Pending
// local changes are discarded. On a digest mismatch the table is left
// unchanged.
func (t *StringTable) ReadSnapshot(data []byte) error {
	var message snapshotMessage
	if err := codec.Unmarshal(data, &message); err != nil {
		return fmt.Errorf("table %q: decoding snapshot: %w", t.name, err)
	}
	if message.Rows == nil {
		message.Rows = make(map[string][]byte)
	}
	digest := digestRows(message.Rows)
	if !bytes.Equal(digest[:], message.Digest) {
		return fmt.Errorf("table %q: %w", t.name, ErrDigestMismatch)
	}

	var changed []string
	for key, value := range message.Rows {
		if current, ok := t.rows[key]; !ok || !bytes.Equal(current, value) {
			changed = append(changed, key)
		}
	}
	for key := range t.rows {
		if _, ok := message.Rows[key]; !ok {
			changed = append(changed, key)
		}
	}

	t.rows = message.Rows
	t.ClearChanges()
	t.notify(changed)
	return nil
}

// BuildUpdateMessage writes the rows changed since the last
// ClearChanges to w.
func (t *StringTable) BuildUpdateMessage(w io.Writer) error {
	message := updateMessage{}
	if len(t.dirty) > 0 {
		message.Set = make(map[string][]byte, len(t.dirty))
		for key := range t.dirty {
			message.Set[key] = t.rows[key]
		}
	}
	if len(t.removed) > 0 {
		message.Removed = slices.Sorted(maps.Keys(t.removed))
	}
	return codec.NewEncoder(w).Encode(message)
}

// ReadUpdate applies a diff produced by BuildUpdateMessage.
func (t *StringTable) ReadUpdate(data []byte) error {
	var message updateMessage
	if err := codec.Unmarshal(data, &message); err != nil {
		return fmt.Errorf("table %q: decoding update: %w", t.name, err)
	}

	var changed []string
	for key, value := range message.Set {
		t.rows[key] = value
		changed = append(changed, key)
	}
	for _, key := range message.Removed {
		if _, ok := t.rows[key]; ok {
			delete(t.rows, key)
			changed = append(changed, key)
		}
	}
	t.notify(changed)
	return nil
}

func (t *StringTable) notify(keys []string) {
	if t.onChanged == nil {
		return
	}
	slices.Sort(keys)
	for _, key := range keys {
		t.onChanged(key)
	}
}

// digestRows hashes rows in key order, each key and value prefixed
// with its uvarint length so boundaries are unambiguous.
func digestRows(rows map[string][]byte) Digest {
	hasher, err := blake3.NewKeyed(snapshotDomainKey[:])
	if err != nil {
		panic("table: blake3 keyed hasher: " + err.Error())
	}
	var prefix [binary.MaxVarintLen64]byte
	for _, key := range slices.Sorted(maps.Keys(rows)) {
		value := rows[key]
		hasher.Write(prefix[:binary.PutUvarint(prefix[:], uint64(len(key)))])
		hasher.Write([]byte(key))
		hasher.Write(prefix[:binary.PutUvarint(prefix[:], uint64(len(value)))])
		hasher.Write(value)
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}
