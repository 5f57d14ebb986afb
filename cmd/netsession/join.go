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
)

func joinCommand() *command {
	var common commonFlags
	return &command{
		name:    "join",
		summary: "Join a host and stay connected",
		description: `Join the host at TARGET and stay connected until interrupted or
disconnected by the host. The exit status is non-zero when the host
ends the session.`,
		usage: "netsession join tcp://HOST:PORT [flags]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("join", pflag.ContinueOnError)
			common.add(flagSet)
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

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := n.Connect(ctx, args[0]); err != nil {
				return err
			}
			if err := n.Session().Run(ctx); err != nil {
				return err
			}
			if game.reason != "" {
				return fmt.Errorf("disconnected: %s", game.reason)
			}
			return nil
		},
	}
}
