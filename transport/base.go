// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/netsession/session"
)

// ErrLinkClosed is returned by Send on a link whose peer is gone.
var ErrLinkClosed = errors.New("transport: link closed")

type eventKind int

const (
	eventFrame eventKind = iota
	eventConnect
	eventDisconnect
	eventHostChanged
)

type socketEvent struct {
	kind       eventKind
	connection *session.Connection
	frame      []byte

	// For eventHostChanged. A nil current with localIsHost set names
	// the session's own identity, which socket goroutines cannot read.
	previous    *session.Connection
	localIsHost bool
}

// BaseSocket is embedded by every socket in this package. It queues
// transport events from background goroutines for delivery on the
// main loop, and supplies no-op advisory hooks.
type BaseSocket struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []socketEvent

	// Set by Bind on the main loop; read only there.
	session *session.Session
	events  session.SocketEvents
}

// Bind records the session and its callbacks. Concrete sockets call it
// first thing in Initialize.
func (b *BaseSocket) Bind(s *session.Session, events session.SocketEvents) {
	b.session = s
	b.events = events
	if b.logger == nil {
		b.logger = s.Logger()
	}
}

// Session returns the bound session, or nil before Initialize.
func (b *BaseSocket) Session() *session.Session { return b.session }

// Logger returns the socket's logger.
func (b *BaseSocket) Logger() *slog.Logger {
	if b.logger == nil {
		return slog.Default()
	}
	return b.logger
}

// QueueConnect reports a new peer.
func (b *BaseSocket) QueueConnect(c *session.Connection) {
	b.queue(socketEvent{kind: eventConnect, connection: c})
}

// QueueDisconnect reports that a peer went away.
func (b *BaseSocket) QueueDisconnect(c *session.Connection) {
	b.queue(socketEvent{kind: eventDisconnect, connection: c})
}

// QueueFrame queues one inbound frame from c. The socket must not
// reuse frame afterwards.
func (b *BaseSocket) QueueFrame(c *session.Connection, frame []byte) {
	b.queue(socketEvent{kind: eventFrame, connection: c, frame: frame})
}

// QueueHostChanged reports a new authoritative host. A nil current
// means this socket's own session became the host.
func (b *BaseSocket) QueueHostChanged(previous, current *session.Connection) {
	b.queue(socketEvent{
		kind:        eventHostChanged,
		connection:  current,
		previous:    previous,
		localIsHost: current == nil,
	})
}

func (b *BaseSocket) queue(event socketEvent) {
	b.mu.Lock()
	b.pending = append(b.pending, event)
	b.mu.Unlock()
}

// GetIncomingMessages delivers queued events in arrival order.
func (b *BaseSocket) GetIncomingMessages(handler func(source *session.Connection, frame []byte)) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, event := range pending {
		switch event.kind {
		case eventFrame:
			handler(event.connection, event.frame)
		case eventConnect:
			if b.events.OnClientConnect != nil {
				b.events.OnClientConnect(event.connection)
			}
		case eventDisconnect:
			if b.events.OnClientDisconnect != nil {
				b.events.OnClientDisconnect(event.connection)
			}
		case eventHostChanged:
			current := event.connection
			if event.localIsHost && b.session != nil {
				current = b.session.Local()
			}
			if b.events.OnHostChanged != nil {
				b.events.OnHostChanged(event.previous, current)
			}
		}
		if b.session != nil && b.session.TornDown() {
			return
		}
	}
}

// Pending returns the number of undelivered events.
func (b *BaseSocket) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *BaseSocket) ProcessMessagesInThread()                 {}
func (b *BaseSocket) Tick(*session.Session)                    {}
func (b *BaseSocket) OnConnectionInfoUpdated(*session.Session) {}
func (b *BaseSocket) OnSessionFailed(string)                   {}
func (b *BaseSocket) SetData(string, string)                   {}
func (b *BaseSocket) SetServerName(string)                     {}
func (b *BaseSocket) SetMapName(string)                        {}
func (b *BaseSocket) AutoDispose() bool                        { return true }
