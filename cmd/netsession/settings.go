// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/netsession/lib/config"
	"github.com/bureau-foundation/netsession/networking"
	"github.com/bureau-foundation/netsession/session"
	"github.com/bureau-foundation/netsession/transport"
)

// commonFlags are accepted by every command that runs a session.
type commonFlags struct {
	configPath string
	name       string
	logLevel   string
}

func (f *commonFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&f.name, "name", defaultName(), "display name announced to the host")
	flagSet.StringVar(&f.logLevel, "log-level", "", "override log.level from the config file")
}

func defaultName() string {
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "netsession"
}

// load reads the config file named by --config, then by the
// environment, and falls back to built-in defaults when neither names
// one.
func (f *commonFlags) load() (*config.Config, error) {
	var (
		file *config.Config
		err  error
	)
	switch {
	case f.configPath != "":
		file, err = config.LoadFile(f.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		file, err = config.Load()
	default:
		file = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		file.Log.Level = f.logLevel
	}
	return file, nil
}

// newNetworking builds the session options from the config file and
// returns an idle Networking plus its logger.
func (f *commonFlags) newNetworking(file *config.Config, game session.Game, tcpListen string) (*networking.Networking, *slog.Logger, error) {
	logger, err := newLogger(os.Stderr, file.Log)
	if err != nil {
		return nil, nil, err
	}
	sessionConfig, err := session.ConfigFromFile(file)
	if err != nil {
		return nil, nil, err
	}
	sessionConfig.DisplayName = f.name

	n := networking.New(networking.Options{
		Session: session.Options{
			Config: sessionConfig,
			Game:   game,
			Logger: logger,
		},
		Name:      f.name,
		TCPListen: tcpListen,
		ICE:       transport.ICEConfigFromURLs(file.Transport.ICEServers),
	})
	return n, logger, nil
}

// newLogger returns a text logger when output is a terminal and a JSON
// logger otherwise, unless the format is forced.
func newLogger(output *os.File, settings config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if settings.Level != "" {
		if err := level.UnmarshalText([]byte(settings.Level)); err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
	}
	return slog.New(newHandler(output, settings.Format, term.IsTerminal(int(output.Fd())), level)), nil
}

func newHandler(output io.Writer, format string, terminal bool, level slog.Level) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if format == "text" || (format != "json" && terminal) {
		return slog.NewTextHandler(output, options)
	}
	return slog.NewJSONHandler(output, options)
}

// lobbyConfig converts the file form to what sockets receive.
func lobbyConfig(file config.LobbyConfig) session.LobbyConfig {
	return session.LobbyConfig{
		Name:                  file.Name,
		MaxPlayers:            file.MaxPlayers,
		Hidden:                file.Hidden,
		Privacy:               file.Privacy,
		DestroyWhenHostLeaves: file.DestroyWhenHostLeaves,
		AutoSwitchToBestHost:  file.AutoSwitchToBestHost,
	}
}
