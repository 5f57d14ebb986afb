// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/netsession/lib/clock"
	"github.com/bureau-foundation/netsession/lib/codec"
	"github.com/bureau-foundation/netsession/lib/version"
	"github.com/bureau-foundation/netsession/table"
	"github.com/bureau-foundation/netsession/wire"
)

func TestConnectionAdvance(t *testing.T) {
	current := uuid.New()
	tests := []struct {
		name    string
		from    State
		id      uuid.UUID
		to      State
		wantErr error
	}{
		{"successor", StateLoadingServerInformation, current, StateWelcome, nil},
		{"last step", StateSnapshot, current, StateConnected, nil},
		{"stale id", StateLoadingServerInformation, uuid.New(), StateWelcome, ErrStaleHandshake},
		{"skip", StateLoadingServerInformation, current, StateSnapshot, ErrInvalidTransition},
		{"regress", StateSnapshot, current, StateWelcome, ErrInvalidTransition},
		{"repeat", StateWelcome, current, StateWelcome, ErrInvalidTransition},
		{"past connected", StateConnected, current, StateConnected + 1, ErrInvalidTransition},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := &Connection{State: test.from, HandshakeID: current}
			err := c.Advance(test.id, test.to)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("Advance err = %v, want %v", err, test.wantErr)
			}
			if err != nil && c.State != test.from {
				t.Errorf("state changed to %s on rejection", c.State)
			}
			if err == nil && c.State != test.to {
				t.Errorf("state = %s, want %s", c.State, test.to)
			}
		})
	}
}

func TestStartHandshakeSendsOneHello(t *testing.T) {
	host := newHost(t, nil, nil)
	link := &testLink{}
	c := NewConnection(link)
	if c.State != StateUnconnected {
		t.Fatalf("new connection state = %s", c.State)
	}

	host.OnConnected(c)

	if c.State != StateLoadingServerInformation {
		t.Fatalf("state after handshake start = %s", c.State)
	}
	if len(link.sent) != 1 {
		t.Fatalf("handshake start sent %d frames, want 1", len(link.sent))
	}
	if !link.sent[0].flags.Reliable() {
		t.Error("hello not sent reliably")
	}

	envelope, err := wire.DecodePacked(link.sent[0].frame)
	if err != nil {
		t.Fatal(err)
	}
	var info ServerInfo
	if err := envelope.DecodeBody(&info); err != nil {
		t.Fatal(err)
	}
	if info.HandshakeID != c.HandshakeID || info.HandshakeID == uuid.Nil {
		t.Errorf("hello handshake id = %s, connection has %s", info.HandshakeID, c.HandshakeID)
	}
	if info.AssignedConnectionID != c.ID || info.HostConnectionID != host.Local().ID {
		t.Error("hello carries the wrong connection ids")
	}
	if info.EngineVersion != version.Protocol || info.MaxPlayers != 8 {
		t.Errorf("hello = %+v", info)
	}
}

func TestFullHandshake(t *testing.T) {
	fake := clock.Fake(epoch)
	hostGame, clientGame := &recordingGame{}, &recordingGame{}

	host := newTestSession(t, DefaultConfig(), hostGame, fake)
	scores := table.New("scores")
	scores.Set("alice", []byte("10"))
	if err := host.InstallTable(scores); err != nil {
		t.Fatal(err)
	}
	if err := host.InitializeHost(); err != nil {
		t.Fatal(err)
	}

	clientConfig := DefaultConfig()
	clientConfig.DisplayName = "bob"
	clientConfig.UserData = map[string]string{"team": "blue"}
	client := newTestSession(t, clientConfig, clientGame, fake)
	clientScores := table.New("scores")
	client.InstallTable(clientScores)

	hostSide, clientSide := connectPair(t, host, client)
	pump(host, client)

	if hostSide.State != StateConnected {
		t.Fatalf("host sees peer in %s", hostSide.State)
	}
	if client.Local().State != StateConnected {
		t.Fatalf("client local state = %s", client.Local().State)
	}
	if client.Local().ID != hostSide.ID {
		t.Error("client did not adopt its assigned connection id")
	}
	if clientSide.ID != host.Local().ID || !clientSide.IsHost {
		t.Error("client's outward connection does not mirror the host identity")
	}
	if hostSide.DisplayName != "bob" {
		t.Errorf("host recorded display name %q", hostSide.DisplayName)
	}
	if len(hostGame.joined) != 1 || len(hostGame.active) != 1 {
		t.Errorf("OnJoined=%d OnActive=%d, want 1 and 1", len(hostGame.joined), len(hostGame.active))
	}
	if len(clientGame.serverInfos) != 1 {
		t.Errorf("OnServerInfo called %d times", len(clientGame.serverInfos))
	}

	// The snapshot carried the table contents.
	if value, ok := clientScores.Get("alice"); !ok || string(value) != "10" {
		t.Errorf("client scores[alice] = %q, %v", value, ok)
	}

	// Both rosters hold both identities.
	for name, s := range map[string]*Session{"host": host, "client": client} {
		if s.Roster().Len() != 2 {
			t.Errorf("%s roster has %d entries, want 2", name, s.Roster().Len())
		}
	}
	info, ok := client.Roster().Get(client.Local().ID)
	if !ok || info.UserData["team"] != "blue" {
		t.Errorf("client roster entry for itself = %+v", info)
	}
	if client.FindConnection(host.Local().ID) != clientSide {
		t.Error("client cannot find the host by its id")
	}

	// Later changes arrive as deltas.
	scores.Set("carol", []byte("3"))
	scores.Remove("alice")
	pump(host, client)
	if clientScores.Digest() != scores.Digest() {
		t.Error("client table diverged after delta")
	}
}

func TestStaleHandshakeRejected(t *testing.T) {
	fake := clock.Fake(epoch)
	host := newHost(t, nil, fake)
	client := newTestSession(t, DefaultConfig(), nil, fake)
	hostSide, clientSide := connectPair(t, host, client)

	// Deliver only the hello.
	client.Update()
	if client.Local().State != StateLoadingServerInformation {
		t.Fatalf("client state after hello = %s", client.Local().State)
	}
	current := client.Local().HandshakeID

	stale := HandshakeStep{HandshakeID: uuid.New(), State: StateWelcome}
	if err := client.handleHandshakeStep(clientSide, stale); !errors.Is(err, ErrStaleHandshake) {
		t.Fatalf("stale step err = %v, want ErrStaleHandshake", err)
	}
	if client.Local().State != StateLoadingServerInformation {
		t.Errorf("stale step moved state to %s", client.Local().State)
	}

	// The host side applies the same guard.
	staleAdvance := HandshakeAdvance{HandshakeID: uuid.New(), State: StateWelcome}
	if err := host.handleHandshakeAdvance(hostSide, staleAdvance); !errors.Is(err, ErrStaleHandshake) {
		t.Fatalf("stale advance err = %v", err)
	}
	if hostSide.State != StateLoadingServerInformation {
		t.Errorf("host peer state = %s", hostSide.State)
	}

	// The real handshake still completes.
	pump(host, client)
	if client.Local().State != StateConnected || client.Local().HandshakeID != current {
		t.Fatalf("handshake did not complete: %s", client.Local().State)
	}

	// Once connected, a replayed step cannot move the state backwards.
	replay := HandshakeStep{HandshakeID: current, State: StateWelcome}
	if err := client.handleHandshakeStep(clientSide, replay); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("replayed step err = %v, want ErrInvalidTransition", err)
	}
	if client.Local().State != StateConnected {
		t.Errorf("replay regressed state to %s", client.Local().State)
	}
}

func TestHostRejectsDirectAdvanceToConnected(t *testing.T) {
	host := newHost(t, nil, nil)
	c := NewConnection(&testLink{})
	host.OnConnected(c)
	c.State = StateSnapshot

	err := host.handleHandshakeAdvance(c, HandshakeAdvance{HandshakeID: c.HandshakeID, State: StateConnected})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if c.State != StateSnapshot {
		t.Errorf("state = %s", c.State)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	fake := clock.Fake(epoch)
	game := &recordingGame{}
	host := newHost(t, game, fake)
	socket := newTestSocket()
	host.AddSocket(socket)

	link := &testLink{}
	stuck := NewConnection(link)
	host.OnConnected(stuck)

	fake.Advance(29 * time.Second)
	host.Update()
	if len(host.Connections()) != 1 {
		t.Fatal("peer dropped before the timeout")
	}

	fake.Advance(2 * time.Second)
	host.Update()
	if len(host.Connections()) != 0 {
		t.Fatal("stuck peer still connected after the timeout")
	}
	if !link.closed {
		t.Error("link not closed")
	}
	names := link.messageNames(t)
	if names[len(names)-1] != (DisconnectNotice{}).MessageName() {
		t.Errorf("last message = %s, want a disconnect notice", names[len(names)-1])
	}
	if !slices.Equal(socket.failed, []string{stuck.ID.String()}) {
		t.Errorf("OnSessionFailed calls = %v", socket.failed)
	}
	if len(game.leaves) != 0 {
		t.Error("OnLeave called for a peer that never reached welcome")
	}
}

func TestAdmittedPeerNeverTimesOut(t *testing.T) {
	fake := clock.Fake(epoch)
	host := newHost(t, nil, fake)
	client := newTestSession(t, DefaultConfig(), nil, fake)
	connectPair(t, host, client)
	pump(host, client)

	fake.Advance(5 * time.Minute)
	pump(host, client)
	if len(host.Connections()) != 1 {
		t.Fatal("admitted peer was disconnected")
	}
}

func TestDisconnectNoticeIsTerminal(t *testing.T) {
	game := &recordingGame{}
	client := newTestSession(t, DefaultConfig(), game, nil)
	outward := NewConnection(&testLink{})
	client.Connect(outward)

	notice := DisconnectNotice{Reason: "kicked"}
	if err := client.handleDisconnectNotice(outward, notice); err != nil {
		t.Fatal(err)
	}
	if err := client.handleDisconnectNotice(outward, notice); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(game.disconnects, []string{"kicked"}) {
		t.Errorf("OnDisconnected calls = %v, want exactly one", game.disconnects)
	}
	if !client.TornDown() || client.Local().State != StateUnconnected {
		t.Error("client not torn down")
	}
}

func TestServerInfoRejectedByGame(t *testing.T) {
	fake := clock.Fake(epoch)
	clientGame := &recordingGame{serverInfoErr: errors.New("missing map package")}
	host := newHost(t, nil, fake)
	client := newTestSession(t, DefaultConfig(), clientGame, fake)
	connectPair(t, host, client)
	pump(host, client)

	if len(clientGame.disconnects) != 1 || !strings.Contains(clientGame.disconnects[0], "missing map package") {
		t.Fatalf("disconnects = %v", clientGame.disconnects)
	}
	if !client.TornDown() {
		t.Error("client not torn down")
	}
}

func TestVersionMismatch(t *testing.T) {
	game := &recordingGame{}
	client := newTestSession(t, DefaultConfig(), game, nil)
	outward := NewConnection(&testLink{})
	client.Connect(outward)

	info := ServerInfo{EngineVersion: version.Protocol + 1, HandshakeID: uuid.New()}
	if err := client.handleServerInfo(outward, info); err != nil {
		t.Fatal(err)
	}
	if len(game.disconnects) != 1 || !strings.HasPrefix(game.disconnects[0], ReasonVersionMismatch) {
		t.Fatalf("disconnects = %v", game.disconnects)
	}
	if len(game.serverInfos) != 0 {
		t.Error("game saw server info from an incompatible host")
	}
}

func TestHostRestartsHandshakeOnRequest(t *testing.T) {
	fake := clock.Fake(epoch)
	hostGame := &recordingGame{}
	host := newHost(t, hostGame, fake)
	client := newTestSession(t, DefaultConfig(), nil, fake)
	hostSide, _ := connectPair(t, host, client)
	pump(host, client)
	first := hostSide.HandshakeID

	client.RestartHandshake()
	if client.Local().State != StateUnconnected {
		t.Fatalf("local state after restart = %s", client.Local().State)
	}
	pump(host, client)

	if hostSide.HandshakeID == first {
		t.Error("host reused the abandoned handshake id")
	}
	if hostSide.State != StateConnected || client.Local().State != StateConnected {
		t.Fatalf("restart did not complete: host sees %s, client %s", hostSide.State, client.Local().State)
	}
	if len(hostGame.leaves) != 1 || len(hostGame.active) != 2 {
		t.Errorf("OnLeave=%d OnActive=%d, want 1 and 2", len(hostGame.leaves), len(hostGame.active))
	}
}

func TestHostIgnoresSupersededRestart(t *testing.T) {
	host := newHost(t, nil, nil)
	link := &testLink{}
	c := NewConnection(link)
	host.OnConnected(c)
	current := c.HandshakeID

	if err := host.handleHandshakeRestart(c, HandshakeRestart{HandshakeID: uuid.New()}); err != nil {
		t.Fatal(err)
	}
	if c.HandshakeID != current || len(link.sent) != 1 {
		t.Error("host restarted for a superseded attempt")
	}
}

func TestHostLostTimeout(t *testing.T) {
	fake := clock.Fake(epoch)
	game := &recordingGame{}
	client := newTestSession(t, DefaultConfig(), game, fake)
	outward := NewConnection(&testLink{})
	client.Connect(outward)
	client.OnDisconnected(outward)

	fake.Advance(29 * time.Second)
	client.Update()
	if client.TornDown() {
		t.Fatal("client gave up before the timeout")
	}

	fake.Advance(time.Second)
	client.Update()
	if !slices.Equal(game.disconnects, []string{ReasonHostLost}) {
		t.Fatalf("disconnects = %v", game.disconnects)
	}
}

func TestRosterRowsReplicate(t *testing.T) {
	client := newTestSession(t, DefaultConfig(), nil, nil)
	id := uuid.New()
	row, err := codec.Marshal(ConnectionInfo{ID: id, DisplayName: "eve"})
	if err != nil {
		t.Fatal(err)
	}

	host := table.New(RosterTableName)
	host.Set(id.String(), row)
	var buffer bytes.Buffer
	if err := host.BuildUpdateMessage(&buffer); err != nil {
		t.Fatal(err)
	}
	if err := client.rosterTable.ReadUpdate(buffer.Bytes()); err != nil {
		t.Fatal(err)
	}
	info, ok := client.Roster().Get(id)
	if !ok || info.DisplayName != "eve" {
		t.Fatalf("roster row = %+v, %v", info, ok)
	}
}
