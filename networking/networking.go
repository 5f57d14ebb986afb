// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/netsession/session"
	"github.com/bureau-foundation/netsession/transport"
)

var (
	ErrInvalidTarget     = errors.New("networking: invalid target")
	ErrUnsupportedScheme = errors.New("networking: unsupported target scheme")
	ErrAlreadyActive     = errors.New("networking: session is already hosting or connected")
	ErrNoMemoryNetwork   = errors.New("networking: no memory network configured")
	ErrNoSignaler        = errors.New("networking: no WebRTC signaler configured")
	ErrNoTransport       = errors.New("networking: no transport configured for hosting")
)

// Target schemes accepted by Connect.
const (
	SchemeMemory = "mem"
	SchemeTCP    = "tcp"
	SchemeWebRTC = "webrtc"
)

// Options configure New. Each transport is enabled by setting its
// field: Memory for mem:// lobbies, TCPListen for hosting over TCP,
// Signaler for WebRTC.
type Options struct {
	Session session.Options

	// Name identifies this participant on the memory network and in
	// WebRTC signaling. Defaults to Session.Config.DisplayName.
	Name string

	Memory    *transport.MemoryNetwork
	TCPListen string
	Signaler  transport.Signaler
	ICE       transport.ICEConfig
}

// Networking owns one session at a time and the sockets attached to
// it. Like the session, it is not safe for concurrent use: call it from
// the goroutine that runs the session's main loop.
type Networking struct {
	options Options
	logger  *slog.Logger
	session *session.Session
}

// New returns an idle Networking with a fresh session.
func New(options Options) *Networking {
	if options.Session.Logger == nil {
		options.Session.Logger = slog.Default()
	}
	if options.Name == "" {
		options.Name = options.Session.Config.DisplayName
	}
	n := &Networking{options: options, logger: options.Session.Logger}
	n.session = session.New(options.Session)
	return n
}

// Session returns the current session. Disconnect replaces it.
func (n *Networking) Session() *session.Session { return n.session }

// active reports whether the session is hosting or has sockets.
func (n *Networking) active() bool {
	return n.session.IsHost() || len(n.session.Sockets()) > 0
}

// renew replaces a torn-down session so the next Connect or
// CreateLobby starts clean.
func (n *Networking) renew() {
	if n.session.TornDown() {
		n.session = session.New(n.options.Session)
	}
}

// abandon discards a session whose setup failed halfway.
func (n *Networking) abandon() {
	n.session.Shutdown()
	n.session = session.New(n.options.Session)
}

// ParseTarget splits "scheme://address" and validates the scheme.
func ParseTarget(target string) (scheme, address string, err error) {
	scheme, address, found := strings.Cut(target, "://")
	if !found || scheme == "" || address == "" {
		return "", "", fmt.Errorf("%w: %q (expected scheme://address)", ErrInvalidTarget, target)
	}
	switch scheme {
	case SchemeMemory, SchemeTCP, SchemeWebRTC:
		return scheme, address, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

// Connect joins the host named by target:
//
//	mem://<lobby>       a lobby on Options.Memory
//	tcp://<host:port>   a TCP listener
//	webrtc://<name>     a WebRTC host, signaled through Options.Signaler
//
// The handshake completes asynchronously as the session is updated.
func (n *Networking) Connect(ctx context.Context, target string) error {
	scheme, address, err := ParseTarget(target)
	if err != nil {
		return err
	}
	n.renew()
	if n.active() {
		return ErrAlreadyActive
	}
	logger := n.logger.With("target", target)

	switch scheme {
	case SchemeMemory:
		if n.options.Memory == nil {
			return ErrNoMemoryNetwork
		}
		socket := transport.NewMemorySocket(n.options.Memory, n.options.Name, logger)
		if err := n.session.AddSocket(socket); err != nil {
			return err
		}
		if err := socket.Join(address); err != nil {
			n.abandon()
			return fmt.Errorf("joining lobby %q: %w", address, err)
		}

	case SchemeTCP:
		socket, err := transport.DialTCP(ctx, address, logger)
		if err != nil {
			return err
		}
		if err := n.session.AddSocket(socket); err != nil {
			return err
		}

	case SchemeWebRTC:
		if n.options.Signaler == nil {
			return ErrNoSignaler
		}
		socket := transport.NewWebRTCClient(n.options.Signaler, n.options.Name, address, n.options.ICE, logger)
		if err := n.session.AddSocket(socket); err != nil {
			return err
		}
	}

	logger.Info("connecting to host")
	return nil
}

// CreateLobby makes this session the host and opens every configured
// transport. config is handed unchanged to sockets that advertise
// lobbies. An empty lobby name defaults to the server name.
func (n *Networking) CreateLobby(config session.LobbyConfig) error {
	n.renew()
	if n.active() {
		return ErrAlreadyActive
	}
	if n.options.Memory == nil && n.options.TCPListen == "" && n.options.Signaler == nil {
		return ErrNoTransport
	}
	if config.Name == "" {
		config.Name = n.session.Config().ServerName
	}
	if err := n.session.InitializeHost(); err != nil {
		n.abandon()
		return err
	}
	if err := n.openHostSockets(config); err != nil {
		n.abandon()
		return err
	}
	n.logger.Info("lobby created", "lobby", config.Name, "sockets", len(n.session.Sockets()))
	return nil
}

func (n *Networking) openHostSockets(config session.LobbyConfig) error {
	if n.options.Memory != nil {
		socket := transport.NewMemorySocket(n.options.Memory, n.options.Name, n.logger)
		if err := n.session.AddSocket(socket); err != nil {
			return err
		}
	}
	if n.options.TCPListen != "" {
		socket, err := transport.ListenTCP(n.options.TCPListen, n.logger)
		if err != nil {
			return err
		}
		if err := n.session.AddSocket(socket); err != nil {
			return err
		}
	}
	if n.options.Signaler != nil {
		socket := transport.NewWebRTCHost(n.options.Signaler, n.options.Name, n.options.ICE, n.logger)
		if err := n.session.AddSocket(socket); err != nil {
			return err
		}
	}

	for _, socket := range n.session.Sockets() {
		creator, ok := socket.(session.LobbyCreator)
		if !ok {
			continue
		}
		if err := creator.CreateLobby(config); err != nil {
			return fmt.Errorf("creating lobby %q on %T: %w", config.Name, socket, err)
		}
	}
	return nil
}

// Disconnect shuts the current session down and starts a fresh idle
// one. Hosts notify their peers first.
func (n *Networking) Disconnect() {
	if !n.session.TornDown() {
		n.session.Shutdown()
	}
	n.session = session.New(n.options.Session)
}

// Sockets returns the sockets attached to the current session.
func (n *Networking) Sockets() []session.Socket { return n.session.Sockets() }

// Connections returns the session's peer connections.
func (n *Networking) Connections() []*session.Connection { return n.session.Connections() }

// ConnectionInfo returns the roster ordered by join time.
func (n *Networking) ConnectionInfo() []*session.ConnectionInfo {
	return n.session.Roster().All()
}

// ConnectionDiagnostics describes one peer connection.
type ConnectionDiagnostics struct {
	ID      string
	Name    string
	Address string
	State   session.State
	IsHost  bool
	Ping    time.Duration
	Quality float64
}

// Diagnostics is a point-in-time description of the session for
// operators.
type Diagnostics struct {
	// Role is "host", "client", or "idle".
	Role        string
	State       session.State
	ServerName  string
	RosterSize  int
	Connections []ConnectionDiagnostics
	Sockets     []map[string]string
}

// Diagnostics collects the session state and every socket's
// self-description.
func (n *Networking) Diagnostics() Diagnostics {
	s := n.session
	diagnostics := Diagnostics{
		Role:       "idle",
		State:      s.Local().State,
		ServerName: s.Config().ServerName,
		RosterSize: s.Roster().Len(),
	}
	switch {
	case s.IsHost():
		diagnostics.Role = "host"
	case len(s.Sockets()) > 0:
		diagnostics.Role = "client"
		if info := s.ServerInfo(); info != nil {
			diagnostics.ServerName = info.ServerName
		}
	}

	for _, c := range s.Connections() {
		entry := ConnectionDiagnostics{
			ID:      c.ID.String(),
			Name:    c.DisplayName,
			State:   c.State,
			IsHost:  c.IsHost,
			Ping:    c.Stats.Ping,
			Quality: c.Stats.Quality,
		}
		if link := c.Link(); link != nil {
			entry.Address = link.RemoteAddress()
		}
		diagnostics.Connections = append(diagnostics.Connections, entry)
	}
	slices.SortFunc(diagnostics.Connections, func(a, b ConnectionDiagnostics) int {
		return cmp.Compare(a.Address, b.Address)
	})

	for _, socket := range s.Sockets() {
		values := map[string]string{"type": fmt.Sprintf("%T", socket)}
		if diagnoser, ok := socket.(session.Diagnoser); ok {
			maps.Copy(values, diagnoser.Diagnostics())
		}
		diagnostics.Sockets = append(diagnostics.Sockets, values)
	}
	return diagnostics
}
