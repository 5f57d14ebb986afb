// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/netsession/lib/clock"
	"github.com/bureau-foundation/netsession/table"
	"github.com/bureau-foundation/netsession/wire"
)

// ErrTornDown is returned by operations on a session after Shutdown.
var ErrTornDown = errors.New("session: torn down")

// Options configure New.
type Options struct {
	Config Config
	Game   Game

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Session is the hub of one multiplayer session. See the package
// documentation for the threading rules.
type Session struct {
	config Config
	game   Game
	logger *slog.Logger
	clock  clock.Clock

	local       *Connection
	outward     *Connection
	connections []*Connection
	lookup      map[uuid.UUID]*Connection
	isHost      bool
	tornDown    bool
	terminated  bool
	hostLostAt  time.Time
	serverInfo  *ServerInfo

	// socketsMu guards sockets against the background I/O pump in Run.
	socketsMu sync.Mutex
	sockets   []Socket

	tables      map[string]Table
	tableOrder  []string
	roster      *Roster
	rosterTable *table.StringTable

	handlers        map[string]func(source *Connection, envelope wire.Envelope) error
	requestHandlers map[string]func(source *Connection, envelope wire.Envelope) (Message, error)
	pendingCalls    map[uint32]*pendingCall
	nextCallID      uint32
	nextChunkID     uint32

	lastHeartbeat time.Time
	lastTick      time.Time
}

// New returns a session that is neither host nor client. Call
// InitializeHost to host, or attach a socket that connects to a host.
func New(options Options) *Session {
	s := &Session{
		config:          options.Config.withDefaults(),
		game:            options.Game,
		logger:          options.Logger,
		clock:           options.Clock,
		tables:          make(map[string]Table),
		roster:          NewRoster(),
		handlers:        make(map[string]func(*Connection, wire.Envelope) error),
		requestHandlers: make(map[string]func(*Connection, wire.Envelope) (Message, error)),
		pendingCalls:    make(map[uint32]*pendingCall),
	}
	if s.game == nil {
		s.game = NopGame{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}

	s.local = &Connection{
		ID:          GenerateConnectionID(),
		DisplayName: s.config.DisplayName,
		PlatformID:  s.config.PlatformID,
	}
	s.local.InitializeSystem(s)

	s.rosterTable = table.New(RosterTableName)
	s.rosterTable.OnChanged(s.rosterRowChanged)
	if err := s.InstallTable(s.rosterTable); err != nil {
		panic("session: installing roster table: " + err.Error())
	}

	s.registerBuiltinHandlers()
	now := s.clock.Now()
	s.lastHeartbeat = now
	s.lastTick = now
	return s
}

// Config returns the session configuration.
func (s *Session) Config() Config { return s.config }

// Logger returns the session logger. Sockets derive theirs from it.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Clock returns the session clock.
func (s *Session) Clock() clock.Clock { return s.clock }

// Local returns the session's own identity. It is never a broadcast
// target.
func (s *Session) Local() *Connection { return s.local }

// Outward returns the connection to the host, or nil.
func (s *Session) Outward() *Connection { return s.outward }

// IsHost reports whether this session is authoritative.
func (s *Session) IsHost() bool { return s.isHost }

// TornDown reports whether Shutdown has run.
func (s *Session) TornDown() bool { return s.tornDown }

// Roster returns the connection roster.
func (s *Session) Roster() *Roster { return s.roster }

// ServerInfo returns the last hello received from a host, or nil.
func (s *Session) ServerInfo() *ServerInfo { return s.serverInfo }

// Connections returns the peer connections this session knows about:
// the host's connection set, plus the outward connection. The local
// identity is never included.
func (s *Session) Connections() []*Connection {
	return s.candidates()
}

// Sockets returns the attached sockets.
func (s *Session) Sockets() []Socket {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	return slices.Clone(s.sockets)
}

// Connect binds c as the session's single outward connection to a
// host. Sockets in client role report their host link through
// OnClientConnect, which calls Connect.
func (s *Session) Connect(c *Connection) {
	c.InitializeSystem(s)
	c.IsHost = true
	s.outward = c
	s.hostLostAt = time.Time{}
	s.invalidateLookup()
	s.logger.Info("connected to host", "connection", c.ID, "address", linkAddress(c))
}

// InitializeHost makes this session the authoritative host. It makes no
// network round trips. If the game refuses to start, the session is
// torn down and the error returned.
func (s *Session) InitializeHost() error {
	if s.tornDown {
		return ErrTornDown
	}
	s.isHost = true
	s.outward = nil
	s.local.IsHost = true
	s.local.State = StateConnected

	// Tables start from their current contents; a joining peer gets
	// them in its snapshot, not as a delta.
	for _, name := range s.tableOrder {
		s.tables[name].ClearChanges()
	}
	if !s.config.Dedicated {
		s.AddConnection(s.local, s.config.UserData)
	}

	if err := s.game.Start(s); err != nil {
		s.logger.Error("game refused to start, tearing down", "error", err)
		s.Shutdown()
		return fmt.Errorf("starting game: %w", err)
	}
	s.logger.Info("hosting session",
		"server_name", s.config.ServerName,
		"max_players", s.config.MaxPlayers,
		"dedicated", s.config.Dedicated,
	)
	return nil
}

// playerCount is the number of admitted or admitting players, counting
// the local identity unless dedicated.
func (s *Session) playerCount() int {
	count := len(s.connections)
	if !s.config.Dedicated {
		count++
	}
	return count
}

// OnConnected is called when a socket reports a new peer. A host adds
// it and starts the handshake; a client binds it as its outward
// connection.
func (s *Session) OnConnected(c *Connection) {
	if s.tornDown {
		return
	}
	c.InitializeSystem(s)
	if !s.isHost {
		s.Connect(c)
		return
	}

	if s.playerCount() >= s.config.MaxPlayers {
		s.logger.Warn("rejecting connection, server full",
			"connection", c.ID, "max_players", s.config.MaxPlayers)
		if err := c.SendMessage(DisconnectNotice{Reason: ReasonServerFull}, wire.Reliable); err != nil {
			s.logger.Warn("sending disconnect notice failed", "connection", c.ID, "error", err)
		}
		closeLink(s.logger, c)
		return
	}

	s.connections = append(s.connections, c)
	s.invalidateLookup()
	s.logger.Info("peer connected", "connection", c.ID, "address", linkAddress(c))
	s.StartHandshake(c)
}

// OnDisconnected is called when a socket reports that a peer went away.
// It is idempotent and safe at any point of the handshake.
func (s *Session) OnDisconnected(c *Connection) {
	if c == nil || c == s.local {
		return
	}
	known := false
	if index := slices.Index(s.connections, c); index >= 0 {
		s.connections = slices.Delete(s.connections, index, index+1)
		known = true
	}
	if c == s.outward {
		s.outward = nil
		s.hostLostAt = s.clock.Now()
		known = true
	}

	if c.State >= StateWelcome {
		s.game.OnLeave(c)
	}
	c.reset()
	s.failCallsTo(c)

	if s.isHost {
		s.removeConnectionInfo(c.ID)
	}
	if known {
		s.invalidateLookup()
		s.logger.Info("peer disconnected", "connection", c.ID)
	}
}

// broadcastSettings collect BroadcastOption values.
type broadcastSettings struct {
	minimumState State
	filter       Filter
	flags        wire.Flags
}

// BroadcastOption adjusts one Broadcast call.
type BroadcastOption func(*broadcastSettings)

// WithMinimumState sends only to connections at or beyond state. The
// default is StateSnapshot.
func WithMinimumState(state State) BroadcastOption {
	return func(settings *broadcastSettings) { settings.minimumState = state }
}

// WithFilter narrows the recipients further.
func WithFilter(filter Filter) BroadcastOption {
	return func(settings *broadcastSettings) { settings.filter = filter }
}

// WithFlags sets the delivery flags. The default is wire.Reliable.
func WithFlags(flags wire.Flags) BroadcastOption {
	return func(settings *broadcastSettings) { settings.flags = flags }
}

func collectBroadcastOptions(options []BroadcastOption) broadcastSettings {
	settings := broadcastSettings{minimumState: StateSnapshot, flags: wire.Reliable}
	for _, option := range options {
		option(&settings)
	}
	return settings
}

// Broadcast packs msg once and sends it to every selected connection.
// Per-connection send failures are logged, not returned.
func (s *Session) Broadcast(msg Message, options ...BroadcastOption) error {
	frame, err := wire.EncodePacked(msg.MessageName(), msg, s.config.PackedCompression)
	if err != nil {
		return err
	}
	s.BroadcastRaw(frame, options...)
	return nil
}

// BroadcastRaw sends a pre-built frame to every selected connection
// and returns the number of connections it was sent to.
func (s *Session) BroadcastRaw(frame []byte, options ...BroadcastOption) int {
	settings := collectBroadcastOptions(options)
	filter := settings.filter
	if settings.flags.Has(wire.HostOnly) {
		filter = hostOnlyFilter{next: filter}
	}

	sent := 0
	for _, c := range s.GetFilteredConnections(settings.minimumState, filter) {
		if err := c.SendRawMessage(frame, settings.flags); err != nil {
			s.logger.Warn("broadcast send failed", "connection", c.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

type hostOnlyFilter struct{ next Filter }

func (f hostOnlyFilter) IsRecipient(c *Connection) bool {
	return c.IsHost && (f.next == nil || f.next.IsRecipient(c))
}

// GetFilteredConnections returns the connections Broadcast would send
// to: every candidate whose state is at least minimumState and that the
// filter (if any) accepts. The local identity is always excluded.
func (s *Session) GetFilteredConnections(minimumState State, filter Filter) []*Connection {
	var result []*Connection
	for _, c := range s.candidates() {
		if c.State < minimumState {
			continue
		}
		if filter != nil && !filter.IsRecipient(c) {
			continue
		}
		result = append(result, c)
	}
	return result
}

// candidates is the host's connection set (empty on a client) unioned
// with the outward connection, de-duplicated, without the local
// identity.
func (s *Session) candidates() []*Connection {
	seen := make(map[*Connection]struct{}, len(s.connections)+1)
	result := make([]*Connection, 0, len(s.connections)+1)
	add := func(c *Connection) {
		if c == nil || c == s.local {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		result = append(result, c)
	}
	if s.isHost {
		for _, c := range s.connections {
			add(c)
		}
	}
	add(s.outward)
	return result
}

// FindConnection returns the connection with id, including the local
// identity, or nil.
func (s *Session) FindConnection(id uuid.UUID) *Connection {
	if s.lookup == nil {
		s.lookup = make(map[uuid.UUID]*Connection, len(s.connections)+2)
		s.lookup[s.local.ID] = s.local
		for _, c := range s.connections {
			s.lookup[c.ID] = c
		}
		if s.outward != nil {
			s.lookup[s.outward.ID] = s.outward
		}
	}
	return s.lookup[id]
}

func (s *Session) invalidateLookup() { s.lookup = nil }

// AddSocket attaches socket. After Shutdown the socket is closed and a
// warning logged instead.
func (s *Session) AddSocket(socket Socket) error {
	if s.tornDown {
		s.logger.Warn("socket added after session teardown, closing it",
			"socket", fmt.Sprintf("%T", socket))
		if err := socket.Close(); err != nil {
			s.logger.Warn("closing late socket failed", "error", err)
		}
		return nil
	}

	s.socketsMu.Lock()
	s.sockets = append(s.sockets, socket)
	s.socketsMu.Unlock()

	events := SocketEvents{
		OnClientConnect:    s.OnConnected,
		OnClientDisconnect: s.OnDisconnected,
		OnHostChanged:      s.OnHostChanged,
	}
	if err := socket.Initialize(s, events); err != nil {
		s.removeSocket(socket)
		socket.Close()
		return fmt.Errorf("initializing socket %T: %w", socket, err)
	}
	return nil
}

func (s *Session) removeSocket(socket Socket) {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	if index := slices.Index(s.sockets, socket); index >= 0 {
		s.sockets = slices.Delete(s.sockets, index, index+1)
	}
}

// CloseSockets closes every auto-disposable socket and detaches all of
// them.
func (s *Session) CloseSockets() {
	s.socketsMu.Lock()
	sockets := s.sockets
	s.sockets = nil
	s.socketsMu.Unlock()

	for _, socket := range sockets {
		if !socket.AutoDispose() {
			continue
		}
		if err := socket.Close(); err != nil {
			s.logger.Warn("closing socket failed", "socket", fmt.Sprintf("%T", socket), "error", err)
		}
	}
}

// OnHostChanged is called when a socket reports a new authoritative
// host. current is the local identity when this session takes over.
func (s *Session) OnHostChanged(previous, current *Connection) {
	if s.tornDown {
		return
	}
	wasHost := s.isHost
	s.isHost = current == s.local
	s.local.IsHost = s.isHost
	for _, c := range s.connections {
		c.IsHost = c == current
	}
	if s.outward != nil {
		s.outward.IsHost = s.outward == current
	}

	s.logger.Info("host changed",
		"previous", connectionID(previous),
		"current", connectionID(current),
		"local_is_host", s.isHost,
	)

	switch {
	case s.isHost && !wasHost:
		s.becomeHost()
		s.game.OnBecameHost()
	case !s.isHost && s.local.State != StateConnected && s.local.State != StateUnconnected:
		// Our handshake was against the old host.
		s.RestartHandshake()
	}
	s.game.OnHostChanged(previous, current)
}

// becomeHost promotes a client that the transport picked as the new
// host. Peers rejoin through fresh handshakes.
func (s *Session) becomeHost() {
	if s.outward != nil {
		s.failCallsTo(s.outward)
		s.outward = nil
	}
	s.hostLostAt = time.Time{}
	s.local.State = StateConnected
	s.local.HandshakeID = uuid.Nil

	for _, info := range s.roster.All() {
		if info.ID != s.local.ID {
			s.removeConnectionInfo(info.ID)
		}
	}
	if !s.config.Dedicated {
		if info, ok := s.roster.Get(s.local.ID); ok {
			info.IsHost = true
			s.publishConnectionInfo(info)
		} else {
			s.AddConnection(s.local, s.config.UserData)
		}
	}
	s.invalidateLookup()
}

// Shutdown tears the session down: peers are told (when hosting) and
// disconnected, sockets are closed, and later AddSocket calls close
// their socket immediately. Idempotent.
func (s *Session) Shutdown() {
	if s.tornDown {
		return
	}
	if s.isHost {
		s.Broadcast(DisconnectNotice{Reason: ReasonHostShutdown},
			WithMinimumState(StateLoadingServerInformation))
	}
	for _, c := range slices.Clone(s.connections) {
		closeLink(s.logger, c)
		s.OnDisconnected(c)
	}
	if s.outward != nil {
		outward := s.outward
		closeLink(s.logger, outward)
		s.OnDisconnected(outward)
	}
	s.CloseSockets()

	for id, call := range s.pendingCalls {
		delete(s.pendingCalls, id)
		call.callback(Response{Err: ErrTornDown})
	}
	s.local.reset()
	s.hostLostAt = time.Time{}
	s.tornDown = true
	s.logger.Info("session torn down")
}

// terminate ends a client session with a user-facing reason. Only the
// first call has any effect.
func (s *Session) terminate(reason string) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.logger.Warn("session terminated", "reason", reason)
	s.Shutdown()
	s.game.OnDisconnected(reason)
}

// SetServerName updates the advertised server name on every socket.
func (s *Session) SetServerName(name string) {
	s.config.ServerName = name
	for _, socket := range s.Sockets() {
		socket.SetServerName(name)
	}
}

// SetMapName updates the advertised map name on every socket.
func (s *Session) SetMapName(name string) {
	s.config.MapName = name
	for _, socket := range s.Sockets() {
		socket.SetMapName(name)
	}
}

// SetData publishes a lobby metadata key on every socket.
func (s *Session) SetData(key, value string) {
	for _, socket := range s.Sockets() {
		socket.SetData(key, value)
	}
}

func closeLink(logger *slog.Logger, c *Connection) {
	if c.link == nil {
		return
	}
	if err := c.link.Close(); err != nil {
		logger.Debug("closing link failed", "connection", c.ID, "error", err)
	}
}

func linkAddress(c *Connection) string {
	if c.link == nil {
		return ""
	}
	return c.link.RemoteAddress()
}

func connectionID(c *Connection) string {
	if c == nil {
		return ""
	}
	return c.ID.String()
}
