// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/netsession/networking"
	"github.com/bureau-foundation/netsession/session"
)

func statusCommand() *command {
	var (
		common  commonFlags
		timeout time.Duration
	)
	return &command{
		name:    "status",
		summary: "Join a host, print its roster, and leave",
		description: `Join the host at TARGET, wait for the roster snapshot, print the
server and its players, then disconnect.`,
		usage: "netsession status tcp://HOST:PORT [flags]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			common.add(flagSet)
			flagSet.DurationVar(&timeout, "timeout", 15*time.Second, "give up if not admitted within this long")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one target, got %d arguments", len(args))
			}
			file, err := common.load()
			if err != nil {
				return err
			}
			game := &consoleGame{}
			n, logger, err := common.newNetworking(file, game, "")
			if err != nil {
				return err
			}
			game.logger = logger

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := n.Connect(ctx, args[0]); err != nil {
				return err
			}
			defer n.Disconnect()

			if err := waitAdmitted(ctx, n); err != nil {
				if game.reason != "" {
					return fmt.Errorf("host refused: %s", game.reason)
				}
				return err
			}
			fmt.Print(renderStatus(n.Diagnostics(), n.ConnectionInfo()))
			return nil
		},
	}
}

// waitAdmitted drives the session until the local connection is
// admitted, the session is torn down, or ctx ends.
func waitAdmitted(ctx context.Context, n *networking.Networking) error {
	s := n.Session()
	ticker := time.NewTicker(time.Second / time.Duration(s.Config().TickRate))
	defer ticker.Stop()
	for {
		s.Update()
		for _, socket := range s.Sockets() {
			socket.ProcessMessagesInThread()
		}
		switch {
		case s.TornDown():
			return fmt.Errorf("session ended before admission")
		case s.Local().State == session.StateConnected:
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for admission: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Faint(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	hostStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// renderStatus formats the server summary and a roster table.
func renderStatus(diagnostics networking.Diagnostics, roster []*session.ConnectionInfo) string {
	var builder strings.Builder
	builder.WriteString(titleStyle.Render(diagnostics.ServerName) + "\n")
	fmt.Fprintf(&builder, "%s %s   %s %d\n\n",
		labelStyle.Render("state"), diagnostics.State,
		labelStyle.Render("players"), diagnostics.RosterSize)

	nameWidth := len("NAME")
	for _, entry := range roster {
		nameWidth = max(nameWidth, lipgloss.Width(entry.DisplayName))
	}
	columns := []struct {
		title string
		width int
	}{
		{"NAME", nameWidth},
		{"ID", 8},
		{"ROLE", 6},
		{"JOINED", 8},
	}

	var header []string
	for _, column := range columns {
		header = append(header, headerStyle.Width(column.width).Render(column.title))
	}
	builder.WriteString(strings.Join(header, "  ") + "\n")

	for _, entry := range roster {
		role := "player"
		style := lipgloss.NewStyle()
		if entry.IsHost {
			role = "host"
			style = hostStyle
		}
		cells := []string{
			entry.DisplayName,
			entry.ID.String()[:8],
			role,
			entry.JoinTime.Local().Format(time.TimeOnly),
		}
		for index, cell := range cells {
			cells[index] = style.Width(columns[index].width).Render(cell)
		}
		builder.WriteString(strings.Join(cells, "  ") + "\n")
	}

	for _, connection := range diagnostics.Connections {
		fmt.Fprintf(&builder, "\n%s %s   %s %s\n",
			labelStyle.Render("link"), connection.Address,
			labelStyle.Render("ping"), connection.Ping.Round(time.Millisecond))
	}
	return builder.String()
}
