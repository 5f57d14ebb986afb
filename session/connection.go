// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/netsession/wire"
)

var (
	// ErrStaleHandshake is returned when a state-advance message
	// carries a handshake id other than the connection's current one.
	ErrStaleHandshake = errors.New("session: stale handshake id")

	// ErrInvalidTransition is returned when a requested state is not
	// the immediate successor of the current state.
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrNoLink is returned when sending on a connection with no
	// transport behind it (the local identity).
	ErrNoLink = errors.New("session: connection has no transport link")

	// ErrFrameTooLarge is returned for unreliable frames above
	// Config.MaxMessageSize. Only reliable frames are chunked.
	ErrFrameTooLarge = errors.New("session: unreliable frame exceeds max message size")
)

// Message is a typed payload carried in Packed, Request, and Response
// frames. MessageName must be constant for the type and unique within a
// session; it is how the receiver finds the handler.
type Message interface {
	MessageName() string
}

// Link is the transport side of one connection. Sockets implement it.
// Send may be called only from the session's main loop; it enqueues
// and returns without waiting for delivery.
type Link interface {
	Send(frame []byte, flags wire.TransportFlags) error
	Close() error
	RemoteAddress() string
}

// ConnectionStats are refreshed once per second by Update.
type ConnectionStats struct {
	Ping                time.Duration
	BytesInPerSecond    uint64
	BytesOutPerSecond   uint64
	PacketsInPerSecond  uint64
	PacketsOutPerSecond uint64

	// Quality is the fraction of heartbeats answered in the last
	// window, from 0 to 1.
	Quality float64
}

type trafficCounters struct {
	bytesIn, bytesOut     uint64
	packetsIn, packetsOut uint64
	pingsSent, pongs      uint64
}

// Connection is one logical peer channel. The local identity of a
// session is also a Connection, with no Link.
type Connection struct {
	ID          uuid.UUID
	PlatformID  string
	DisplayName string
	State       State
	IsHost      bool
	HandshakeID uuid.UUID
	Stats       ConnectionStats

	link    Link
	session *Session

	assembler        wire.Assembler
	handshakeStarted time.Time

	counters trafficCounters
	window   trafficCounters
}

// GenerateConnectionID returns a fresh random connection id.
func GenerateConnectionID() uuid.UUID {
	return uuid.New()
}

// NewConnection returns an unconnected Connection over link with a
// fresh id. Sockets call it when the transport reports a new peer.
func NewConnection(link Link) *Connection {
	return &Connection{ID: GenerateConnectionID(), link: link}
}

// InitializeSystem binds the connection to s, which supplies the
// clock, compression settings, and chunk ids used when sending.
func (c *Connection) InitializeSystem(s *Session) {
	c.session = s
}

// Link returns the transport link, or nil for the local identity.
func (c *Connection) Link() Link { return c.link }

func (c *Connection) String() string {
	if c.DisplayName != "" {
		return fmt.Sprintf("%s (%s)", c.ID, c.DisplayName)
	}
	return c.ID.String()
}

// Advance moves the connection to the next handshake state. It rejects
// a handshake id that is not the current one and any target that is not
// the immediate successor of the current state, so a connection never
// regresses and never skips a stage.
func (c *Connection) Advance(handshakeID uuid.UUID, to State) error {
	if handshakeID != c.HandshakeID {
		return fmt.Errorf("%w: got %s, current %s", ErrStaleHandshake, handshakeID, c.HandshakeID)
	}
	if to != c.State+1 || to > StateConnected {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, to)
	}
	c.State = to
	return nil
}

// reset returns the connection to StateUnconnected, discarding any
// partially reassembled frames.
func (c *Connection) reset() {
	c.State = StateUnconnected
	c.assembler.Reset()
}

// SendMessage packs msg into a Packed frame and sends it.
func (c *Connection) SendMessage(msg Message, flags wire.Flags) error {
	frame, err := wire.EncodePacked(msg.MessageName(), msg, c.config().PackedCompression)
	if err != nil {
		return err
	}
	return c.SendRawMessage(frame, flags)
}

// SendRawMessage sends a pre-built frame. Reliable frames larger than
// Config.MaxMessageSize are split into Chunk frames.
func (c *Connection) SendRawMessage(frame []byte, flags wire.Flags) error {
	if c.link == nil {
		return ErrNoLink
	}
	maxSize := c.config().MaxMessageSize
	transportFlags := flags.ToTransportFlags()

	if len(frame) <= maxSize {
		return c.send(frame, transportFlags)
	}
	if !flags.Has(wire.Reliable) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), maxSize)
	}

	var chunkID uint32
	if c.session != nil {
		c.session.nextChunkID++
		chunkID = c.session.nextChunkID
	}
	chunks, err := wire.SplitChunks(chunkID, frame, maxSize)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := c.send(chunk, transportFlags); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) send(frame []byte, flags wire.TransportFlags) error {
	if err := c.link.Send(frame, flags); err != nil {
		return fmt.Errorf("sending %s to %s: %w", wire.TypeOf(frame), c.ID, err)
	}
	c.counters.bytesOut += uint64(len(frame))
	c.counters.packetsOut++
	return nil
}

func (c *Connection) config() *Config {
	if c.session != nil {
		return &c.session.config
	}
	return &defaultConfig
}

// refreshStats turns the counters accumulated since the previous call
// into per-second rates. elapsed is the time since that call.
func (c *Connection) refreshStats(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	perSecond := func(now, before uint64) uint64 {
		return uint64(float64(now-before) / elapsed.Seconds())
	}
	c.Stats.BytesInPerSecond = perSecond(c.counters.bytesIn, c.window.bytesIn)
	c.Stats.BytesOutPerSecond = perSecond(c.counters.bytesOut, c.window.bytesOut)
	c.Stats.PacketsInPerSecond = perSecond(c.counters.packetsIn, c.window.packetsIn)
	c.Stats.PacketsOutPerSecond = perSecond(c.counters.packetsOut, c.window.packetsOut)

	if pings := c.counters.pingsSent - c.window.pingsSent; pings > 0 {
		quality := float64(c.counters.pongs-c.window.pongs) / float64(pings)
		c.Stats.Quality = min(max(quality, 0), 1)
	}
	c.window = c.counters
}

// Filter selects broadcast recipients. It narrows the state-based
// selection; it never widens it.
type Filter interface {
	IsRecipient(c *Connection) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(c *Connection) bool

// IsRecipient calls f(c).
func (f FilterFunc) IsRecipient(c *Connection) bool { return f(c) }
