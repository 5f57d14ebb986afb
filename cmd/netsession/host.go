// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/netsession/transport"
)

func hostCommand() *command {
	var (
		common commonFlags
		listen string
		lobby  string
	)
	return &command{
		name:    "host",
		summary: "Host a session on a TCP listener",
		description: `Host a session and accept players over TCP until interrupted.

On SIGINT or SIGTERM the host tells every player it is shutting down
before closing the listener.`,
		usage: "netsession host [flags]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("host", pflag.ContinueOnError)
			common.add(flagSet)
			flagSet.StringVar(&listen, "listen", "", "listen address (default: transport.tcp_listen)")
			flagSet.StringVar(&lobby, "lobby", "", "lobby name (default: lobby.name, then the server name)")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			file, err := common.load()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = file.Transport.TCPListen
			}
			if lobby != "" {
				file.Lobby.Name = lobby
			}

			game := &consoleGame{}
			n, logger, err := common.newNetworking(file, game, listen)
			if err != nil {
				return err
			}
			game.logger = logger
			if err := n.CreateLobby(lobbyConfig(file.Lobby)); err != nil {
				return err
			}
			for _, socket := range n.Sockets() {
				if listener, ok := socket.(*transport.TCPSocket); ok {
					logger.Info("listening", "address", listener.Address())
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return n.Session().Run(ctx)
		},
	}
}
