// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bureau-foundation/netsession/lib/netutil"
	"github.com/bureau-foundation/netsession/session"
	"github.com/bureau-foundation/netsession/wire"
)

// Compile-time interface checks.
var (
	_ session.Socket    = (*TCPSocket)(nil)
	_ session.Diagnoser = (*TCPSocket)(nil)
	_ session.Link      = (*tcpPeer)(nil)
)

// tcpHeaderSize is the frame header on the stream: a big-endian u32
// payload length followed by the sender's transport flags byte.
// Receivers ignore the flags; every TCP frame is reliable.
const tcpHeaderSize = 5

// MaxTCPFrameSize bounds one frame on the stream. Session frames stay
// far below it because reliable frames are chunked at
// Config.MaxMessageSize.
const MaxTCPFrameSize = 64 << 20

// tcpWriteTimeout bounds one batched write to a peer. A peer that
// cannot take a batch within it is disconnected.
const tcpWriteTimeout = 10 * time.Second

// ErrFrameTooLarge is returned for frames above MaxTCPFrameSize.
var ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")

// TCPSocket carries session frames over TCP. A listening socket is a
// host that accepts any number of peers; a dialed socket is a client
// with a single link to its host.
type TCPSocket struct {
	BaseSocket

	listener net.Listener
	role     string

	mu     sync.Mutex
	peers  map[*tcpPeer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// ListenTCP creates a host socket on address (e.g. ":27015"). Use
// "127.0.0.1:0" for a random port. Peers are accepted once the socket
// is attached to a session.
func ListenTCP(address string, logger *slog.Logger) (*TCPSocket, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPSocket{
		BaseSocket: BaseSocket{logger: logger},
		listener:   listener,
		role:       "host",
		peers:      make(map[*tcpPeer]struct{}),
	}, nil
}

// DialTCP connects to a host at address. The host link is reported to
// the session on its first Update after AddSocket.
func DialTCP(ctx context.Context, address string, logger *slog.Logger) (*TCPSocket, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	socket := &TCPSocket{
		BaseSocket: BaseSocket{logger: logger},
		role:       "client",
		peers:      make(map[*tcpPeer]struct{}),
	}
	socket.addPeer(conn)
	return socket, nil
}

// Address returns the listening address, or "" for a client socket.
func (t *TCPSocket) Address() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *TCPSocket) Initialize(s *session.Session, events session.SocketEvents) error {
	t.Bind(s, events)
	if t.listener != nil {
		t.wg.Add(1)
		go t.acceptLoop()
	}
	return nil
}

func (t *TCPSocket) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.Logger().Error("accepting TCP connection failed", "error", err)
			}
			return
		}
		t.Logger().Debug("accepted TCP connection", "address", conn.RemoteAddr().String())
		t.addPeer(conn)
	}
}

func (t *TCPSocket) addPeer(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	peer := &tcpPeer{
		socket: t,
		conn:   conn,
		kick:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	peer.connection = session.NewConnection(peer)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.peers[peer] = struct{}{}
	t.wg.Add(2)
	t.mu.Unlock()

	t.QueueConnect(peer.connection)
	go peer.readLoop()
	go peer.writeLoop()
}

func (t *TCPSocket) removePeer(peer *tcpPeer) {
	t.mu.Lock()
	delete(t.peers, peer)
	t.mu.Unlock()
}

// ProcessMessagesInThread flushes every peer's batched frames.
func (t *TCPSocket) ProcessMessagesInThread() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for peer := range t.peers {
		peer.signal()
	}
}

func (t *TCPSocket) OnSessionFailed(peerID string) {
	t.Logger().Warn("session failed for TCP peer", "peer", peerID)
}

// Diagnostics describes the socket.
func (t *TCPSocket) Diagnostics() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	diagnostics := map[string]string{
		"transport": "tcp",
		"role":      t.role,
		"peers":     strconv.Itoa(len(t.peers)),
		"pending":   strconv.Itoa(t.Pending()),
	}
	if t.listener != nil {
		diagnostics["address"] = t.listener.Addr().String()
	}
	for peer := range t.peers {
		if t.listener == nil {
			diagnostics["address"] = peer.conn.RemoteAddr().String()
		}
	}
	return diagnostics
}

// Close stops accepting, closes every peer, and waits for the I/O
// goroutines to exit.
func (t *TCPSocket) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := make([]*tcpPeer, 0, len(t.peers))
	for peer := range t.peers {
		peers = append(peers, peer)
	}
	t.mu.Unlock()

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	for _, peer := range peers {
		peer.Close()
	}
	t.wg.Wait()
	return err
}

// tcpPeer is one stream. It is the session.Link for its connection.
type tcpPeer struct {
	socket     *TCPSocket
	conn       net.Conn
	connection *session.Connection

	mu       sync.Mutex
	outbound []byte

	// writeMu keeps batches in order when Close flushes concurrently
	// with writeLoop.
	writeMu sync.Mutex

	kick      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// Send appends frame to the peer's batch. Frames sent with
// TransportNoNagle are flushed at once; the rest wait for
// ProcessMessagesInThread.
func (p *tcpPeer) Send(frame []byte, flags wire.TransportFlags) error {
	select {
	case <-p.closed:
		return ErrLinkClosed
	default:
	}
	if len(frame) > MaxTCPFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}

	var header [tcpHeaderSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(frame)))
	header[4] = byte(flags)

	p.mu.Lock()
	p.outbound = append(p.outbound, header[:]...)
	p.outbound = append(p.outbound, frame...)
	p.mu.Unlock()

	if flags&wire.TransportNoNagle != 0 {
		p.signal()
	}
	return nil
}

// Close flushes pending frames and closes the stream. The session that
// called it has already accounted for the disconnect, so none is
// queued.
func (p *tcpPeer) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
	}
	err := p.flush()
	p.shutdown()
	return err
}

func (p *tcpPeer) RemoteAddress() string {
	return "tcp://" + p.conn.RemoteAddr().String()
}

func (p *tcpPeer) signal() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *tcpPeer) shutdown() (first bool) {
	p.closeOnce.Do(func() {
		first = true
		close(p.closed)
		p.conn.Close()
		p.socket.removePeer(p)
	})
	return first
}

func (p *tcpPeer) readLoop() {
	defer p.socket.wg.Done()
	var header [tcpHeaderSize]byte
	for {
		if _, err := io.ReadFull(p.conn, header[:]); err != nil {
			p.fail(err)
			return
		}
		length := binary.BigEndian.Uint32(header[:4])
		if length > MaxTCPFrameSize {
			p.fail(fmt.Errorf("%w: peer announced %d bytes", ErrFrameTooLarge, length))
			return
		}
		frame := make([]byte, length)
		if _, err := io.ReadFull(p.conn, frame); err != nil {
			p.fail(err)
			return
		}
		p.socket.QueueFrame(p.connection, frame)
	}
}

func (p *tcpPeer) writeLoop() {
	defer p.socket.wg.Done()
	for {
		select {
		case <-p.closed:
			return
		case <-p.kick:
			if err := p.flush(); err != nil {
				p.fail(err)
				return
			}
		}
	}
}

func (p *tcpPeer) flush() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	batch := p.outbound
	p.outbound = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	p.conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout))
	_, err := p.conn.Write(batch)
	return err
}

// fail tears the stream down after an I/O error and reports the
// disconnect, unless the stream was already closed locally.
func (p *tcpPeer) fail(err error) {
	if !p.shutdown() {
		return
	}
	if reason := netutil.CloseReason(err); reason != "" {
		p.socket.Logger().Info("TCP peer disconnected", "address", p.conn.RemoteAddr().String(), "reason", reason)
	} else {
		p.socket.Logger().Warn("TCP peer failed", "address", p.conn.RemoteAddr().String(), "error", err)
	}
	p.socket.QueueDisconnect(p.connection)
}
