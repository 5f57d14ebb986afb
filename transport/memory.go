// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/netsession/session"
	"github.com/bureau-foundation/netsession/wire"
)

// Compile-time interface checks.
var (
	_ session.Socket       = (*MemorySocket)(nil)
	_ session.LobbyCreator = (*MemorySocket)(nil)
	_ session.Diagnoser    = (*MemorySocket)(nil)
	_ session.Link         = (*memoryLink)(nil)
)

var (
	ErrLobbyExists   = errors.New("transport: lobby already exists")
	ErrLobbyNotFound = errors.New("transport: lobby not found")
	ErrLobbyFull     = errors.New("transport: lobby full")
	ErrAlreadyJoined = errors.New("transport: socket already in a lobby")
)

// MemoryNetwork is an in-process lobby service. Each lobby is a star:
// every member holds one link to the lobby host. When the host leaves a
// lobby created with AutoSwitchToBestHost, the earliest-joined remaining
// member becomes host and every other member is linked to it.
type MemoryNetwork struct {
	mu      sync.Mutex
	lobbies map[string]*memoryLobby
}

// LobbyInfo describes one advertised lobby.
type LobbyInfo struct {
	Name       string
	Host       string
	Members    int
	MaxPlayers int
	Data       map[string]string
}

type memoryLobby struct {
	config  session.LobbyConfig
	host    *MemorySocket
	members []*MemorySocket
	data    map[string]string
}

// NewMemoryNetwork returns an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{lobbies: make(map[string]*memoryLobby)}
}

// Lobbies returns every lobby that is not hidden, sorted by name.
func (n *MemoryNetwork) Lobbies() []LobbyInfo {
	n.mu.Lock()
	defer n.mu.Unlock()

	var infos []LobbyInfo
	for name, lobby := range n.lobbies {
		if lobby.config.Hidden {
			continue
		}
		infos = append(infos, LobbyInfo{
			Name:       name,
			Host:       lobby.host.name,
			Members:    len(lobby.members),
			MaxPlayers: lobby.config.MaxPlayers,
			Data:       maps.Clone(lobby.data),
		})
	}
	slices.SortFunc(infos, func(a, b LobbyInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// MemorySocket is one participant's attachment to a MemoryNetwork.
type MemorySocket struct {
	BaseSocket

	network *MemoryNetwork
	name    string

	// Guarded by network.mu.
	lobby *memoryLobby
	peers map[*MemorySocket]*session.Connection
}

// NewMemorySocket returns a socket on network. name identifies the
// participant in lobby listings and link addresses.
func NewMemorySocket(network *MemoryNetwork, name string, logger *slog.Logger) *MemorySocket {
	return &MemorySocket{
		BaseSocket: BaseSocket{logger: logger},
		network:    network,
		name:       name,
		peers:      make(map[*MemorySocket]*session.Connection),
	}
}

// Name returns the participant name.
func (m *MemorySocket) Name() string { return m.name }

func (m *MemorySocket) Initialize(s *session.Session, events session.SocketEvents) error {
	m.Bind(s, events)
	return nil
}

// CreateLobby advertises a lobby hosted by this socket.
func (m *MemorySocket) CreateLobby(config session.LobbyConfig) error {
	if config.Name == "" {
		return fmt.Errorf("transport: lobby name is required")
	}
	n := m.network
	n.mu.Lock()
	defer n.mu.Unlock()

	if m.lobby != nil {
		return ErrAlreadyJoined
	}
	if _, exists := n.lobbies[config.Name]; exists {
		return fmt.Errorf("%w: %q", ErrLobbyExists, config.Name)
	}
	lobby := &memoryLobby{
		config:  config,
		host:    m,
		members: []*MemorySocket{m},
		data:    make(map[string]string),
	}
	n.lobbies[config.Name] = lobby
	m.lobby = lobby
	m.Logger().Info("lobby created", "lobby", config.Name, "max_players", config.MaxPlayers)
	return nil
}

// Join links this socket to the host of the named lobby. The host link
// is reported to the session on its next Update.
func (m *MemorySocket) Join(name string) error {
	n := m.network
	n.mu.Lock()
	defer n.mu.Unlock()

	lobby, ok := n.lobbies[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLobbyNotFound, name)
	}
	if m.lobby != nil {
		return ErrAlreadyJoined
	}
	if lobby.config.MaxPlayers > 0 && len(lobby.members) >= lobby.config.MaxPlayers {
		return fmt.Errorf("%w: %q has %d members", ErrLobbyFull, name, len(lobby.members))
	}
	lobby.members = append(lobby.members, m)
	m.lobby = lobby
	n.linkLocked(lobby.host, m)
	return nil
}

// Close leaves the lobby. Closing the host either migrates the lobby
// or destroys it, depending on its LobbyConfig.
func (m *MemorySocket) Close() error {
	n := m.network
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leaveLocked(m)
	return nil
}

func (m *MemorySocket) SetServerName(name string) { m.setLobbyData("server_name", name) }
func (m *MemorySocket) SetMapName(name string)    { m.setLobbyData("map_name", name) }
func (m *MemorySocket) SetData(key, value string) { m.setLobbyData(key, value) }

// Tick publishes the current player count as lobby metadata.
func (m *MemorySocket) Tick(s *session.Session) {
	if s.IsHost() {
		m.setLobbyData("players", strconv.Itoa(s.Roster().Len()))
	}
}

func (m *MemorySocket) OnConnectionInfoUpdated(s *session.Session) { m.Tick(s) }

func (m *MemorySocket) OnSessionFailed(peerID string) {
	m.Logger().Warn("session failed for peer", "peer", peerID, "socket", m.name)
}

// Diagnostics describes the socket's lobby membership.
func (m *MemorySocket) Diagnostics() map[string]string {
	n := m.network
	n.mu.Lock()
	defer n.mu.Unlock()

	diagnostics := map[string]string{
		"transport": "memory",
		"name":      m.name,
		"peers":     strconv.Itoa(len(m.peers)),
		"pending":   strconv.Itoa(m.Pending()),
	}
	if m.lobby != nil {
		diagnostics["lobby"] = m.lobby.config.Name
		diagnostics["role"] = "client"
		if m.lobby.host == m {
			diagnostics["role"] = "host"
		}
	}
	return diagnostics
}

func (m *MemorySocket) setLobbyData(key, value string) {
	n := m.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if m.lobby != nil && m.lobby.host == m {
		m.lobby.data[key] = value
	}
}

// linkLocked creates the connection pair between host and member and
// reports it to both sides.
func (n *MemoryNetwork) linkLocked(host, member *MemorySocket) {
	hostLink := &memoryLink{network: n, owner: host, remote: member}
	memberLink := &memoryLink{network: n, owner: member, remote: host}
	onHost := session.NewConnection(hostLink)
	onMember := session.NewConnection(memberLink)
	hostLink.peer = onMember
	memberLink.peer = onHost

	host.peers[member] = onHost
	member.peers[host] = onMember
	host.QueueConnect(onHost)
	member.QueueConnect(onMember)
}

// unlinkLocked tears down the pair between a and b, reports the
// disconnect to b, and returns b's connection for a.
func (n *MemoryNetwork) unlinkLocked(a, b *MemorySocket) *session.Connection {
	if c, ok := a.peers[b]; ok {
		c.Link().(*memoryLink).closed.Store(true)
		delete(a.peers, b)
	}
	c, ok := b.peers[a]
	if !ok {
		return nil
	}
	c.Link().(*memoryLink).closed.Store(true)
	delete(b.peers, a)
	b.QueueDisconnect(c)
	return c
}

func (n *MemoryNetwork) leaveLocked(m *MemorySocket) {
	lobby := m.lobby
	if lobby == nil {
		return
	}
	m.lobby = nil
	lobby.members = slices.DeleteFunc(lobby.members, func(member *MemorySocket) bool { return member == m })

	previous := make(map[*MemorySocket]*session.Connection)
	for peer := range m.peers {
		previous[peer] = n.unlinkLocked(m, peer)
	}
	if lobby.host != m {
		return
	}

	name := lobby.config.Name
	if len(lobby.members) == 0 || lobby.config.DestroyWhenHostLeaves || !lobby.config.AutoSwitchToBestHost {
		for _, member := range lobby.members {
			member.lobby = nil
		}
		delete(n.lobbies, name)
		m.Logger().Info("lobby destroyed", "lobby", name)
		return
	}

	newHost := lobby.members[0]
	lobby.host = newHost
	newHost.QueueHostChanged(previous[newHost], nil)
	for _, member := range lobby.members[1:] {
		n.linkLocked(newHost, member)
		member.QueueHostChanged(previous[member], member.peers[newHost])
	}
	m.Logger().Info("lobby host migrated", "lobby", name, "host", newHost.name)
}

// memoryLink delivers frames straight into the remote socket's queue.
// Unreliable frames are delivered like reliable ones.
type memoryLink struct {
	network *MemoryNetwork
	owner   *MemorySocket
	remote  *MemorySocket

	// peer is the remote socket's connection for owner.
	peer   *session.Connection
	closed atomic.Bool
}

func (l *memoryLink) Send(frame []byte, _ wire.TransportFlags) error {
	if l.closed.Load() {
		return ErrLinkClosed
	}
	l.remote.QueueFrame(l.peer, bytes.Clone(frame))
	return nil
}

func (l *memoryLink) Close() error {
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	if !l.closed.Load() {
		l.network.unlinkLocked(l.owner, l.remote)
	}
	return nil
}

func (l *memoryLink) RemoteAddress() string { return "mem://" + l.remote.name }
