// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/netsession/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	return root().Execute(args)
}

func root() *command {
	return &command{
		name:        "netsession",
		summary:     "Host and join netsession multiplayer sessions",
		description: "Netsession hosts and joins multiplayer sessions over TCP.",
		subcommands: []*command{
			hostCommand(),
			joinCommand(),
			statusCommand(),
			{
				name:    "version",
				summary: "Print build and protocol version",
				run: func(args []string) error {
					if len(args) > 0 {
						return fmt.Errorf("unexpected argument: %s", args[0])
					}
					fmt.Println(version.Full())
					return nil
				},
			},
		},
	}
}
