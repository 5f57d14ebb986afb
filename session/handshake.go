// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/netsession/lib/version"
	"github.com/bureau-foundation/netsession/wire"
)

var errNotFromHost = errors.New("session: handshake message not from the host")

// StartHandshake begins a fresh handshake with c: a new handshake id,
// one ServerInfo hello, and StateLoadingServerInformation.
func (s *Session) StartHandshake(c *Connection) {
	c.reset()
	c.HandshakeID = uuid.New()
	c.handshakeStarted = s.clock.Now()

	info := ServerInfo{
		ServerName:           s.config.ServerName,
		ServerData:           s.config.ServerData,
		MaxPlayers:           s.config.MaxPlayers,
		MapName:              s.config.MapName,
		EngineVersion:        version.Protocol,
		GamePackage:          s.config.GamePackage,
		MapPackage:           s.config.MapPackage,
		HostConnectionID:     s.local.ID,
		AssignedConnectionID: c.ID,
		DeveloperHost:        s.config.DeveloperHost,
		HandshakeID:          c.HandshakeID,
	}
	if err := c.SendMessage(info, wire.Reliable); err != nil {
		s.logger.Warn("sending server info failed", "connection", c.ID, "error", err)
	}
	c.State = StateLoadingServerInformation
	s.logger.Debug("handshake started", "connection", c.ID, "handshake", c.HandshakeID)
}

// RestartHandshake abandons the local handshake and asks the current
// host for a new one.
func (s *Session) RestartHandshake() {
	previous := s.local.HandshakeID
	s.local.reset()
	if s.outward == nil {
		// The new host starts a handshake when its link comes up.
		return
	}
	s.outward.reset()
	if err := s.outward.SendMessage(HandshakeRestart{HandshakeID: previous}, wire.Reliable); err != nil {
		s.logger.Warn("requesting handshake restart failed", "error", err)
	}
}

func (s *Session) registerBuiltinHandlers() {
	Handle(s, s.handleServerInfo)
	Handle(s, s.handleHandshakeStep)
	Handle(s, s.handleHandshakeAdvance)
	Handle(s, s.handleHandshakeRestart)
	Handle(s, s.handleDisconnectNotice)
	HandleRequest(s, s.handleJoinRequest)
}

// Client side.

func (s *Session) handleServerInfo(source *Connection, info ServerInfo) error {
	if s.isHost || source != s.outward {
		return errNotFromHost
	}
	if !version.Compatible(info.EngineVersion) {
		s.terminate(fmt.Sprintf("%s: host %d, local %d",
			ReasonVersionMismatch, info.EngineVersion, version.Protocol))
		return nil
	}

	// A hello always starts a new attempt, even mid-handshake or after
	// admission (the host migrated, or asked for a restart).
	s.local.reset()
	s.local.ID = info.AssignedConnectionID
	s.local.HandshakeID = info.HandshakeID
	s.local.State = StateLoadingServerInformation

	source.reset()
	source.ID = info.HostConnectionID
	source.HandshakeID = info.HandshakeID
	source.State = StateLoadingServerInformation
	s.serverInfo = &info
	s.invalidateLookup()

	s.logger.Info("received server info",
		"server_name", info.ServerName,
		"map", info.MapName,
		"handshake", info.HandshakeID,
	)

	if err := s.game.OnServerInfo(info); err != nil {
		s.terminate(fmt.Sprintf("loading server information: %v", err))
		return nil
	}
	return source.SendMessage(HandshakeAdvance{HandshakeID: info.HandshakeID, State: StateWelcome}, wire.Reliable)
}

func (s *Session) handleHandshakeStep(source *Connection, step HandshakeStep) error {
	if s.isHost || source != s.outward {
		return errNotFromHost
	}
	if step.State != StateWelcome {
		return fmt.Errorf("%w: unexpected step %s", ErrInvalidTransition, step.State)
	}
	// Snapshots for every table arrived ahead of this step on the same
	// reliable channel, so Welcome and Snapshot are reached together.
	if err := s.advanceLocal(step.HandshakeID, StateWelcome); err != nil {
		return err
	}
	if err := s.advanceLocal(step.HandshakeID, StateSnapshot); err != nil {
		return err
	}
	if err := source.SendMessage(HandshakeAdvance{HandshakeID: step.HandshakeID, State: StateSnapshot}, wire.Reliable); err != nil {
		return err
	}

	handshakeID := step.HandshakeID
	request := JoinRequest{
		HandshakeID: handshakeID,
		DisplayName: s.config.DisplayName,
		PlatformID:  s.config.PlatformID,
		UserData:    s.config.UserData,
	}
	return s.Call(source, request, func(response Response) {
		s.joinResponse(handshakeID, response)
	})
}

func (s *Session) joinResponse(handshakeID uuid.UUID, response Response) {
	if s.local.HandshakeID != handshakeID || s.tornDown {
		// Superseded by a newer attempt.
		return
	}
	if errors.Is(response.Err, ErrConnectionClosed) || errors.Is(response.Err, ErrTornDown) {
		// Losing the host is handled by migration or the host-lost
		// timeout, not by the pending join.
		return
	}
	if response.Err != nil {
		s.terminate(fmt.Sprintf("join failed: %v", response.Err))
		return
	}
	var join JoinResponse
	if err := response.Decode(&join); err != nil {
		s.terminate(fmt.Sprintf("join failed: %v", err))
		return
	}
	if !join.Accepted {
		s.terminate(join.Reason)
		return
	}
	if err := s.advanceLocal(handshakeID, StateConnected); err != nil {
		s.logger.Warn("join accepted but state did not advance", "error", err)
		return
	}
	s.logger.Info("joined session", "connection", s.local.ID)
}

// advanceLocal advances the local identity and mirrors its state on the
// outward connection, which is how a client sees its host.
func (s *Session) advanceLocal(handshakeID uuid.UUID, to State) error {
	if err := s.local.Advance(handshakeID, to); err != nil {
		return err
	}
	if s.outward != nil {
		s.outward.State = to
	}
	return nil
}

func (s *Session) handleDisconnectNotice(source *Connection, notice DisconnectNotice) error {
	if s.isHost {
		return nil
	}
	if source != s.outward && s.outward != nil {
		return errNotFromHost
	}
	s.terminate(notice.Reason)
	return nil
}

// Host side.

func (s *Session) handleHandshakeAdvance(source *Connection, advance HandshakeAdvance) error {
	if !s.isHost {
		return nil
	}
	switch advance.State {
	case StateWelcome:
		if err := source.Advance(advance.HandshakeID, StateWelcome); err != nil {
			return err
		}
		if err := s.sendSnapshots(source); err != nil {
			return err
		}
		s.game.OnJoined(source)
		return source.SendMessage(HandshakeStep{HandshakeID: advance.HandshakeID, State: StateWelcome}, wire.Reliable)
	case StateSnapshot:
		return source.Advance(advance.HandshakeID, StateSnapshot)
	default:
		// StateConnected is reached only through JoinRequest.
		return fmt.Errorf("%w: advance to %s requested", ErrInvalidTransition, advance.State)
	}
}

func (s *Session) handleHandshakeRestart(source *Connection, restart HandshakeRestart) error {
	if !s.isHost {
		return nil
	}
	if restart.HandshakeID != source.HandshakeID {
		// The attempt the peer wants abandoned is already superseded;
		// the current hello is on its way.
		return nil
	}
	if source.State >= StateWelcome {
		s.game.OnLeave(source)
	}
	s.removeConnectionInfo(source.ID)
	s.StartHandshake(source)
	return nil
}

func (s *Session) handleJoinRequest(source *Connection, request JoinRequest) (JoinResponse, error) {
	if !s.isHost {
		return JoinResponse{Reason: "not the host"}, nil
	}
	if err := source.Advance(request.HandshakeID, StateConnected); err != nil {
		return JoinResponse{Reason: err.Error()}, nil
	}
	source.DisplayName = request.DisplayName
	source.PlatformID = request.PlatformID
	s.AddConnection(source, request.UserData)
	s.game.OnActive(source)
	s.logger.Info("peer admitted", "connection", source.ID, "display_name", source.DisplayName)
	return JoinResponse{Accepted: true}, nil
}

// checkTimeouts disconnects peers stuck in the handshake and ends a
// client whose host vanished without a replacement.
func (s *Session) checkTimeouts(now time.Time) {
	timeout := s.config.HandshakeTimeout
	if s.isHost {
		for _, c := range s.GetFilteredConnections(StateUnconnected, nil) {
			if c.State == StateConnected || c.handshakeStarted.IsZero() {
				continue
			}
			if now.Sub(c.handshakeStarted) < timeout {
				continue
			}
			s.logger.Warn("handshake timed out", "connection", c.ID, "state", c.State)
			if err := c.SendMessage(DisconnectNotice{Reason: ReasonHandshakeTimeout}, wire.Reliable); err != nil {
				s.logger.Debug("sending disconnect notice failed", "connection", c.ID, "error", err)
			}
			for _, socket := range s.Sockets() {
				socket.OnSessionFailed(c.ID.String())
			}
			closeLink(s.logger, c)
			s.OnDisconnected(c)
		}
		return
	}

	if s.outward == nil && !s.hostLostAt.IsZero() && now.Sub(s.hostLostAt) >= timeout {
		s.terminate(ReasonHostLost)
	}
}
