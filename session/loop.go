// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"time"

	"github.com/bureau-foundation/netsession/wire"
)

// socketTickInterval is how often Update calls Socket.Tick and
// refreshes connection statistics.
const socketTickInterval = time.Second

// ioPumpInterval is how often Run's background goroutine calls
// ProcessMessagesInThread.
const ioPumpInterval = 5 * time.Millisecond

// Update runs one main-loop step: drain every socket, enforce
// timeouts, send heartbeats, tick sockets once per second, and publish
// table deltas.
func (s *Session) Update() {
	if s.tornDown {
		return
	}
	for _, socket := range s.Sockets() {
		socket.GetIncomingMessages(s.handleFrame)
		if s.tornDown {
			return
		}
	}

	now := s.clock.Now()
	s.checkTimeouts(now)
	s.expireCalls(now)
	if s.tornDown {
		return
	}

	if now.Sub(s.lastHeartbeat) >= s.config.HeartbeatInterval {
		s.sendHeartbeats(now)
		s.lastHeartbeat = now
	}
	if elapsed := now.Sub(s.lastTick); elapsed >= socketTickInterval {
		for _, c := range s.candidates() {
			c.refreshStats(elapsed)
		}
		for _, socket := range s.Sockets() {
			socket.Tick(s)
		}
		s.lastTick = now
	}

	s.SendTableUpdates()
}

func (s *Session) sendHeartbeats(now time.Time) {
	ping := wire.EncodeHeartbeat(wire.HeartbeatPing, now)
	for _, c := range s.GetFilteredConnections(StateLoadingServerInformation, nil) {
		if err := c.SendRawMessage(ping, wire.UnreliableNoDelay); err != nil {
			s.logger.Debug("heartbeat send failed", "connection", c.ID, "error", err)
			continue
		}
		c.counters.pingsSent++
	}
}

// Run calls Update Config.TickRate times per second and pumps socket
// I/O on a background goroutine until ctx is done, then shuts the
// session down.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	ticker := s.clock.NewTicker(time.Second / time.Duration(s.config.TickRate))
	defer ticker.Stop()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pump := s.clock.NewTicker(ioPumpInterval)
		defer pump.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pump.C:
				for _, socket := range s.Sockets() {
					socket.ProcessMessagesInThread()
				}
			}
		}
	}()

	defer func() {
		cancel()
		<-pumpDone
		s.Shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Update()
			if s.tornDown {
				return nil
			}
		}
	}
}
