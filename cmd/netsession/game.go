// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"

	"github.com/bureau-foundation/netsession/session"
)

// consoleGame logs session milestones. It carries no simulation.
type consoleGame struct {
	session.NopGame
	logger *slog.Logger

	// reason is set when the session is terminated.
	reason string
}

func (g *consoleGame) OnServerInfo(info session.ServerInfo) error {
	g.logger.Info("joined server",
		"server_name", info.ServerName,
		"map", info.MapName,
		"max_players", info.MaxPlayers,
	)
	return nil
}

func (g *consoleGame) OnActive(c *session.Connection) {
	g.logger.Info("player admitted", "player", c.DisplayName, "connection", c.ID)
}

func (g *consoleGame) OnLeave(c *session.Connection) {
	g.logger.Info("player left", "player", c.DisplayName, "connection", c.ID)
}

func (g *consoleGame) OnBecameHost() {
	g.logger.Warn("this session is now the host")
}

func (g *consoleGame) OnDisconnected(reason string) {
	g.reason = reason
	g.logger.Warn("disconnected", "reason", reason)
}
