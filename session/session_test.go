// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/netsession/lib/clock"
	"github.com/bureau-foundation/netsession/wire"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// recordingGame counts every collaborator call.
type recordingGame struct {
	NopGame

	startErr      error
	serverInfoErr error

	starts      int
	serverInfos []ServerInfo
	joined      []*Connection
	active      []*Connection
	leaves      []*Connection
	becameHost  int
	hostChanges int
	disconnects []string
	raw         []wire.MessageType
}

func (g *recordingGame) Start(*Session) error { g.starts++; return g.startErr }

func (g *recordingGame) OnServerInfo(info ServerInfo) error {
	g.serverInfos = append(g.serverInfos, info)
	return g.serverInfoErr
}

func (g *recordingGame) OnJoined(c *Connection) { g.joined = append(g.joined, c) }
func (g *recordingGame) OnActive(c *Connection) { g.active = append(g.active, c) }
func (g *recordingGame) OnLeave(c *Connection) { g.leaves = append(g.leaves, c) }
func (g *recordingGame) OnBecameHost() { g.becameHost++ }
func (g *recordingGame) OnHostChanged(_, _ *Connection) { g.hostChanges++ }

func (g *recordingGame) OnDisconnected(reason string) {
	g.disconnects = append(g.disconnects, reason)
}

func (g *recordingGame) OnRawMessage(_ *Connection, t wire.MessageType, _ []byte) {
	g.raw = append(g.raw, t)
}

type sentFrame struct {
	frame []byte
	flags wire.TransportFlags
}

// testLink records frames and optionally hands them to a peer.
type testLink struct {
	sent    []sentFrame
	closed  bool
	deliver func(frame []byte)
}

func (l *testLink) Send(frame []byte, flags wire.TransportFlags) error {
	if l.closed {
		return errors.New("link closed")
	}
	l.sent = append(l.sent, sentFrame{frame: slices.Clone(frame), flags: flags})
	if l.deliver != nil {
		l.deliver(slices.Clone(frame))
	}
	return nil
}

func (l *testLink) Close() error { l.closed = true; return nil }
func (l *testLink) RemoteAddress() string { return "test" }

// messageNames returns the names of every Packed frame sent.
func (l *testLink) messageNames(t *testing.T) []string {
	t.Helper()
	var names []string
	for _, sent := range l.sent {
		if wire.TypeOf(sent.frame) != wire.Packed {
			continue
		}
		envelope, err := wire.DecodePacked(sent.frame)
		if err != nil {
			t.Fatalf("decoding sent frame: %v", err)
		}
		names = append(names, envelope.Name)
	}
	return names
}

type inbound struct {
	source *Connection
	frame  []byte
}

// testSocket queues inbound frames for GetIncomingMessages.
type testSocket struct {
	events      SocketEvents
	inbox       []inbound
	closed      bool
	manual      bool
	ticks       int
	infoUpdates int
	failed      []string
	serverName  string
}

func newTestSocket() *testSocket { return &testSocket{} }

func (s *testSocket) Initialize(_ *Session, events SocketEvents) error {
	s.events = events
	return nil
}

func (s *testSocket) GetIncomingMessages(handler func(*Connection, []byte)) {
	inbox := s.inbox
	s.inbox = nil
	for _, message := range inbox {
		handler(message.source, message.frame)
	}
}

func (s *testSocket) ProcessMessagesInThread() {}
func (s *testSocket) Tick(*Session) { s.ticks++ }
func (s *testSocket) OnConnectionInfoUpdated(*Session) { s.infoUpdates++ }
func (s *testSocket) OnSessionFailed(peerID string) { s.failed = append(s.failed, peerID) }
func (s *testSocket) SetData(string, string) {}
func (s *testSocket) SetServerName(name string) { s.serverName = name }
func (s *testSocket) SetMapName(string) {}
func (s *testSocket) AutoDispose() bool { return !s.manual }
func (s *testSocket) Close() error { s.closed = true; return nil }

func newTestSession(t *testing.T, config Config, game Game, fake *clock.FakeClock) *Session {
	t.Helper()
	if fake == nil {
		fake = clock.Fake(epoch)
	}
	return New(Options{Config: config, Game: game, Logger: discardLogger(), Clock: fake})
}

func newHost(t *testing.T, game Game, fake *clock.FakeClock) *Session {
	t.Helper()
	host := newTestSession(t, DefaultConfig(), game, fake)
	if err := host.InitializeHost(); err != nil {
		t.Fatalf("InitializeHost: %v", err)
	}
	return host
}

// connectPair links client to host through two test sockets and
// reports the transport connect on both sides. Nothing is delivered
// until the sessions Update.
func connectPair(t *testing.T, host, client *Session) (hostSide, clientSide *Connection) {
	t.Helper()
	hostSocket, clientSocket := newTestSocket(), newTestSocket()
	if err := host.AddSocket(hostSocket); err != nil {
		t.Fatal(err)
	}
	if err := client.AddSocket(clientSocket); err != nil {
		t.Fatal(err)
	}

	hostLink, clientLink := &testLink{}, &testLink{}
	hostSide = NewConnection(hostLink)
	clientSide = NewConnection(clientLink)
	hostLink.deliver = func(frame []byte) {
		clientSocket.inbox = append(clientSocket.inbox, inbound{source: clientSide, frame: frame})
	}
	clientLink.deliver = func(frame []byte) {
		hostSocket.inbox = append(hostSocket.inbox, inbound{source: hostSide, frame: frame})
	}

	clientSocket.events.OnClientConnect(clientSide)
	hostSocket.events.OnClientConnect(hostSide)
	return hostSide, clientSide
}

func pump(sessions ...*Session) {
	for range 20 {
		for _, s := range sessions {
			s.Update()
		}
	}
}

// peer adds a connection with a recording link to a host at state.
func peer(s *Session, state State) (*Connection, *testLink) {
	link := &testLink{}
	c := NewConnection(link)
	c.InitializeSystem(s)
	c.State = state
	s.connections = append(s.connections, c)
	s.invalidateLookup()
	return c, link
}

func TestGetFilteredConnectionsSelection(t *testing.T) {
	host := newHost(t, nil, nil)
	states := []State{
		StateUnconnected, StateLoadingServerInformation, StateWelcome,
		StateSnapshot, StateConnected, StateConnected,
	}
	var all []*Connection
	for _, state := range states {
		c, _ := peer(host, state)
		all = append(all, c)
	}
	// The local identity must be excluded even if it leaks into the
	// candidate set.
	host.local.State = StateConnected
	host.connections = append(host.connections, host.local)

	evenIndex := FilterFunc(func(c *Connection) bool {
		return slices.Index(all, c)%2 == 0
	})
	for minimum := StateUnconnected; minimum <= StateConnected; minimum++ {
		for _, filter := range []Filter{nil, evenIndex} {
			var want []*Connection
			for _, c := range all {
				if c.State >= minimum && (filter == nil || filter.IsRecipient(c)) {
					want = append(want, c)
				}
			}
			got := host.GetFilteredConnections(minimum, filter)
			if !slices.Equal(got, want) {
				t.Errorf("GetFilteredConnections(%s, filter=%v) = %d connections, want %d",
					minimum, filter != nil, len(got), len(want))
			}
			if slices.Contains(got, host.local) {
				t.Errorf("GetFilteredConnections(%s) included the local identity", minimum)
			}
		}
	}
}

func TestCandidatesDeduplicateOutward(t *testing.T) {
	host := newHost(t, nil, nil)
	c, _ := peer(host, StateConnected)
	host.outward = c
	if got := host.GetFilteredConnections(StateUnconnected, nil); len(got) != 1 {
		t.Fatalf("outward connection counted %d times", len(got))
	}
}

func TestClientCandidatesAreOutwardOnly(t *testing.T) {
	client := newTestSession(t, DefaultConfig(), nil, nil)
	stray, _ := peer(client, StateConnected)
	outwardLink := &testLink{}
	outward := NewConnection(outwardLink)
	client.Connect(outward)
	outward.State = StateConnected

	got := client.GetFilteredConnections(StateUnconnected, nil)
	if len(got) != 1 || got[0] != outward {
		t.Fatalf("client candidates = %v, want only the outward connection", got)
	}
	if slices.Contains(got, stray) {
		t.Error("client broadcast would reach a non-outward connection")
	}
}

func TestBroadcastNeverSendsToLocal(t *testing.T) {
	host := newHost(t, nil, nil)
	localLink := &testLink{}
	host.local.link = localLink
	host.connections = append(host.connections, host.local)
	host.outward = host.local
	other, otherLink := peer(host, StateConnected)

	for range 3 {
		if err := host.Broadcast(JoinResponse{Accepted: true}); err != nil {
			t.Fatal(err)
		}
	}
	if len(localLink.sent) != 0 {
		t.Fatalf("Broadcast sent %d frames to the local identity", len(localLink.sent))
	}
	if len(otherLink.sent) != 3 {
		t.Fatalf("peer %s received %d frames, want 3", other, len(otherLink.sent))
	}
}

func TestBroadcastOptions(t *testing.T) {
	host := newHost(t, nil, nil)
	_, welcomeLink := peer(host, StateWelcome)
	connected, connectedLink := peer(host, StateConnected)

	host.Broadcast(JoinResponse{})
	if len(welcomeLink.sent) != 0 || len(connectedLink.sent) != 1 {
		t.Fatalf("default minimum state: welcome got %d, connected got %d",
			len(welcomeLink.sent), len(connectedLink.sent))
	}

	host.Broadcast(JoinResponse{}, WithMinimumState(StateWelcome), WithFlags(wire.UnreliableNoDelay))
	if len(welcomeLink.sent) != 1 {
		t.Fatalf("WithMinimumState(Welcome) did not reach the welcome peer")
	}
	if got := welcomeLink.sent[0].flags; got != wire.TransportNoNagle|wire.TransportNoDelay {
		t.Errorf("transport flags = %d, want 5", got)
	}

	onlyConnected := FilterFunc(func(c *Connection) bool { return c == connected })
	host.Broadcast(JoinResponse{}, WithMinimumState(StateUnconnected), WithFilter(onlyConnected))
	if len(welcomeLink.sent) != 1 || len(connectedLink.sent) != 3 {
		t.Errorf("filter not applied: welcome %d, connected %d", len(welcomeLink.sent), len(connectedLink.sent))
	}

	// HostOnly restricts to the host connection, which no peer of a
	// host is.
	if sent := host.BroadcastRaw([]byte{byte(wire.ClientTick)}, WithFlags(wire.Reliable|wire.HostOnly)); sent != 0 {
		t.Errorf("HostOnly broadcast reached %d peers", sent)
	}
}

func TestFindConnectionCacheInvalidation(t *testing.T) {
	host := newHost(t, nil, nil)
	link := &testLink{}
	a := NewConnection(link)
	host.OnConnected(a)

	// Prime the cache before membership changes.
	if host.FindConnection(host.local.ID) != host.local {
		t.Fatal("local identity not found")
	}
	host.AddConnection(a, map[string]string{"team": "red"})
	if got := host.FindConnection(a.ID); got != a {
		t.Fatalf("FindConnection(A) = %v, want A", got)
	}

	host.OnDisconnected(a)
	if got := host.FindConnection(a.ID); got != nil {
		t.Fatalf("FindConnection(A) after removal = %v, want nil", got)
	}
	if _, ok := host.Roster().Get(a.ID); ok {
		t.Error("roster entry survived disconnect")
	}
}

func TestOnDisconnectedLeaveHook(t *testing.T) {
	game := &recordingGame{}
	host := newHost(t, game, nil)

	connected, _ := peer(host, StateConnected)
	host.OnDisconnected(connected)
	host.OnDisconnected(connected)
	if len(game.leaves) != 1 {
		t.Fatalf("OnLeave called %d times for a connected peer, want 1", len(game.leaves))
	}
	if connected.State != StateUnconnected {
		t.Errorf("state after disconnect = %s", connected.State)
	}

	loading, _ := peer(host, StateLoadingServerInformation)
	host.OnDisconnected(loading)
	if len(game.leaves) != 1 {
		t.Fatalf("OnLeave called for a peer still loading server information")
	}
}

func TestInitializeHostNonDedicated(t *testing.T) {
	game := &recordingGame{}
	config := DefaultConfig()
	config.MaxPlayers = 8
	host := newTestSession(t, config, game, nil)
	socket := newTestSocket()
	if err := host.AddSocket(socket); err != nil {
		t.Fatal(err)
	}

	if err := host.InitializeHost(); err != nil {
		t.Fatalf("InitializeHost: %v", err)
	}
	if !host.IsHost() {
		t.Error("IsHost() = false")
	}
	if host.Local().State != StateConnected {
		t.Errorf("local state = %s, want connected", host.Local().State)
	}
	if _, ok := host.Roster().Get(host.Local().ID); !ok {
		t.Error("no roster entry for the local identity")
	}
	if game.starts != 1 {
		t.Errorf("Game.Start called %d times", game.starts)
	}
	if len(host.Connections()) != 0 {
		t.Error("InitializeHost created connections")
	}
	if socket.infoUpdates == 0 {
		t.Error("sockets were not told about the roster entry")
	}
}

func TestInitializeHostDedicated(t *testing.T) {
	config := DefaultConfig()
	config.Dedicated = true
	host := newTestSession(t, config, nil, nil)
	if err := host.InitializeHost(); err != nil {
		t.Fatal(err)
	}
	if host.Roster().Len() != 0 {
		t.Errorf("dedicated host has %d roster entries", host.Roster().Len())
	}
	if host.Local().State != StateConnected {
		t.Errorf("local state = %s", host.Local().State)
	}
}

func TestInitializeHostGameRefuses(t *testing.T) {
	game := &recordingGame{startErr: errors.New("no map")}
	host := newTestSession(t, DefaultConfig(), game, nil)
	socket := newTestSocket()
	host.AddSocket(socket)

	if err := host.InitializeHost(); err == nil {
		t.Fatal("InitializeHost succeeded although the game refused")
	}
	if !host.TornDown() {
		t.Error("session not torn down")
	}
	if !socket.closed {
		t.Error("socket not closed")
	}
}

func TestAddSocketAfterTeardown(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), nil, nil)
	s.Shutdown()

	socket := newTestSocket()
	if err := s.AddSocket(socket); err != nil {
		t.Fatalf("AddSocket after teardown returned %v", err)
	}
	if !socket.closed {
		t.Error("late socket was not closed")
	}
	if len(s.Sockets()) != 0 {
		t.Error("late socket was attached")
	}
}

func TestCloseSocketsRespectsAutoDispose(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), nil, nil)
	automatic, manual := newTestSocket(), newTestSocket()
	manual.manual = true
	s.AddSocket(automatic)
	s.AddSocket(manual)

	s.CloseSockets()
	if !automatic.closed || manual.closed {
		t.Errorf("closed: automatic=%v manual=%v", automatic.closed, manual.closed)
	}
	if len(s.Sockets()) != 0 {
		t.Error("CloseSockets left sockets attached")
	}
}

func TestServerFull(t *testing.T) {
	config := DefaultConfig()
	config.MaxPlayers = 2
	host := newTestSession(t, config, nil, nil)
	host.InitializeHost()

	first := NewConnection(&testLink{})
	host.OnConnected(first)
	secondLink := &testLink{}
	second := NewConnection(secondLink)
	host.OnConnected(second)

	if got := host.Connections(); len(got) != 1 || got[0] != first {
		t.Fatalf("connections = %v, want only the first peer", got)
	}
	if !secondLink.closed {
		t.Error("rejected peer's link not closed")
	}
	if names := secondLink.messageNames(t); !slices.Equal(names, []string{DisconnectNotice{}.MessageName()}) {
		t.Errorf("rejected peer received %v", names)
	}
}

func TestHostChangedToLocal(t *testing.T) {
	game := &recordingGame{}
	client := newTestSession(t, DefaultConfig(), game, nil)
	old := NewConnection(&testLink{})
	client.Connect(old)
	client.local.State = StateConnected

	client.OnDisconnected(old)
	client.OnHostChanged(old, client.Local())

	if !client.IsHost() {
		t.Fatal("session did not become host")
	}
	if client.Local().State != StateConnected {
		t.Errorf("local state = %s", client.Local().State)
	}
	if game.becameHost != 1 || game.hostChanges != 1 {
		t.Errorf("OnBecameHost=%d OnHostChanged=%d, want 1 and 1", game.becameHost, game.hostChanges)
	}
	if _, ok := client.Roster().Get(client.Local().ID); !ok {
		t.Error("new host has no roster entry for itself")
	}

	// No host-lost teardown once we are the host.
	client.clock.(*clock.FakeClock).Advance(time.Minute)
	client.Update()
	if client.TornDown() {
		t.Error("new host tore itself down")
	}
}

func TestHostChangedRestartsUnfinishedHandshake(t *testing.T) {
	game := &recordingGame{}
	client := newTestSession(t, DefaultConfig(), game, nil)
	link := &testLink{}
	newHostConnection := NewConnection(link)
	client.Connect(newHostConnection)
	client.local.State = StateWelcome

	client.OnHostChanged(nil, newHostConnection)

	if client.IsHost() {
		t.Fatal("client became host")
	}
	if client.Local().State != StateUnconnected {
		t.Errorf("local state = %s, want unconnected", client.Local().State)
	}
	if names := link.messageNames(t); !slices.Equal(names, []string{HandshakeRestart{}.MessageName()}) {
		t.Errorf("sent %v, want a handshake restart", names)
	}
	if game.hostChanges != 1 || game.becameHost != 0 {
		t.Errorf("OnHostChanged=%d OnBecameHost=%d", game.hostChanges, game.becameHost)
	}
}

func TestShutdownNotifiesPeers(t *testing.T) {
	host := newHost(t, nil, nil)
	_, link := peer(host, StateConnected)

	host.Shutdown()
	host.Shutdown()
	if names := link.messageNames(t); !slices.Equal(names, []string{DisconnectNotice{}.MessageName()}) {
		t.Errorf("peer received %v", names)
	}
	if !link.closed {
		t.Error("peer link not closed")
	}
	if len(host.Connections()) != 0 {
		t.Error("connections survived shutdown")
	}
}

func TestAdvisorySetters(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), nil, nil)
	socket := newTestSocket()
	s.AddSocket(socket)
	s.SetServerName("arena")
	if socket.serverName != "arena" || s.Config().ServerName != "arena" {
		t.Errorf("server name not propagated: socket %q", socket.serverName)
	}
}
