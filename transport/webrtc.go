// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/netsession/session"
	"github.com/bureau-foundation/netsession/wire"
)

// Compile-time interface checks.
var (
	_ session.Socket    = (*WebRTCSocket)(nil)
	_ session.Diagnoser = (*WebRTCSocket)(nil)
	_ session.Link      = (*webrtcPeer)(nil)
)

// Data channel labels. The offerer creates both; the answerer accepts
// them by label.
const (
	reliableChannelLabel   = "reliable"
	unreliableChannelLabel = "unreliable"
)

// signalingPollInterval is how often the host polls for offers and a
// client polls for its answer.
const signalingPollInterval = 100 * time.Millisecond

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before publishing the SDP.
const iceGatherTimeout = 15 * time.Second

// answerTimeout is the maximum time a client waits for the host's
// answer.
const answerTimeout = 30 * time.Second

// WebRTCSocket carries session frames over pion/webrtc data channels.
// Each peer gets one PeerConnection with two channels: an ordered,
// reliable channel, and an unordered channel with no retransmits.
// Frames are routed by wire.TransportFlags.Reliable.
//
// A host socket answers every offer addressed to its name. A client
// socket offers to one host name when it is attached to a session.
type WebRTCSocket struct {
	BaseSocket

	signaler Signaler
	name     string
	hostName string
	ice      ICEConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	peers   map[string]*webrtcPeer
	dialErr error
}

// NewWebRTCHost returns a host socket that answers offers addressed to
// name.
func NewWebRTCHost(signaler Signaler, name string, ice ICEConfig, logger *slog.Logger) *WebRTCSocket {
	return newWebRTCSocket(signaler, name, "", ice, logger)
}

// NewWebRTCClient returns a client socket named name that connects to
// the host named hostName.
func NewWebRTCClient(signaler Signaler, name, hostName string, ice ICEConfig, logger *slog.Logger) *WebRTCSocket {
	return newWebRTCSocket(signaler, name, hostName, ice, logger)
}

func newWebRTCSocket(signaler Signaler, name, hostName string, ice ICEConfig, logger *slog.Logger) *WebRTCSocket {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebRTCSocket{
		BaseSocket: BaseSocket{logger: logger},
		signaler:   signaler,
		name:       name,
		hostName:   hostName,
		ice:        ice,
		ctx:        ctx,
		cancel:     cancel,
		peers:      make(map[string]*webrtcPeer),
	}
}

func (w *WebRTCSocket) isHost() bool { return w.hostName == "" }

func (w *WebRTCSocket) Initialize(s *session.Session, events session.SocketEvents) error {
	w.Bind(s, events)
	w.wg.Add(1)
	if w.isHost() {
		go w.signalingPoller()
	} else {
		go w.dial()
	}
	return nil
}

// Close shuts every PeerConnection down and waits for signaling to
// stop.
func (w *WebRTCSocket) Close() error {
	w.cancel()
	w.mu.Lock()
	peers := make([]*webrtcPeer, 0, len(w.peers))
	for name, peer := range w.peers {
		peers = append(peers, peer)
		delete(w.peers, name)
	}
	w.mu.Unlock()

	for _, peer := range peers {
		peer.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *WebRTCSocket) OnSessionFailed(peerID string) {
	w.Logger().Warn("session failed for WebRTC peer", "peer", peerID)
}

// Diagnostics describes the socket and the state of each peer.
func (w *WebRTCSocket) Diagnostics() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	diagnostics := map[string]string{
		"transport": "webrtc",
		"role":      "host",
		"name":      w.name,
		"peers":     strconv.Itoa(len(w.peers)),
		"pending":   strconv.Itoa(w.Pending()),
	}
	if !w.isHost() {
		diagnostics["role"] = "client"
		diagnostics["host"] = w.hostName
	}
	if w.dialErr != nil {
		diagnostics["error"] = w.dialErr.Error()
	}
	for name, peer := range w.peers {
		diagnostics["peer."+name] = peer.pc.ConnectionState().String()
	}
	return diagnostics
}

// signalingPoller answers offers until the socket closes.
func (w *WebRTCSocket) signalingPoller() {
	defer w.wg.Done()
	ticker := time.NewTicker(signalingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			offers, err := w.signaler.PollOffers(w.ctx, w.name)
			if err != nil {
				w.Logger().Warn("polling for SDP offers failed", "error", err)
				continue
			}
			for _, offer := range offers {
				if err := w.answerOffer(offer); err != nil {
					w.Logger().Error("answering WebRTC offer failed", "peer", offer.Peer, "error", err)
				}
			}
		}
	}
}

// answerOffer creates a PeerConnection for an incoming offer. A newer
// offer from the same peer replaces its previous PeerConnection.
func (w *WebRTCSocket) answerOffer(offer SignalMessage) error {
	peer, err := w.newPeer(offer.Peer)
	if err != nil {
		return err
	}
	peer.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch dc.Label() {
		case reliableChannelLabel:
			peer.attach(dc, true)
		case unreliableChannelLabel:
			peer.attach(dc, false)
		default:
			w.Logger().Warn("closing unexpected data channel", "peer", offer.Peer, "label", dc.Label())
			dc.Close()
		}
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := peer.pc.SetRemoteDescription(remoteOffer); err != nil {
		peer.pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := peer.pc.CreateAnswer(nil)
	if err != nil {
		peer.pc.Close()
		return fmt.Errorf("creating SDP answer: %w", err)
	}
	sdp, err := w.gather(peer.pc, answer)
	if err != nil {
		peer.pc.Close()
		return err
	}
	if err := w.signaler.PublishAnswer(w.ctx, offer.Peer, w.name, sdp); err != nil {
		peer.pc.Close()
		return fmt.Errorf("publishing SDP answer: %w", err)
	}

	w.mu.Lock()
	previous := w.peers[offer.Peer]
	w.peers[offer.Peer] = peer
	w.mu.Unlock()
	if previous != nil {
		previous.fail()
	}
	w.Logger().Info("WebRTC offer answered", "peer", offer.Peer)
	return nil
}

// dial offers to the host and waits for its answer. The host link is
// reported to the session once both data channels are open.
func (w *WebRTCSocket) dial() {
	defer w.wg.Done()
	if err := w.establishOutbound(); err != nil {
		w.mu.Lock()
		w.dialErr = err
		w.mu.Unlock()
		if !errors.Is(err, context.Canceled) {
			w.Logger().Error("WebRTC connection to host failed", "host", w.hostName, "error", err)
		}
	}
}

func (w *WebRTCSocket) establishOutbound() (err error) {
	peer, err := w.newPeer(w.hostName)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.peers[w.hostName] = peer
	w.mu.Unlock()
	defer func() {
		if err != nil {
			peer.Close()
		}
	}()
	if err := w.ctx.Err(); err != nil {
		return err
	}

	ordered, unordered := true, false
	var noRetransmits uint16
	reliable, err := peer.pc.CreateDataChannel(reliableChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("creating reliable data channel: %w", err)
	}
	unreliable, err := peer.pc.CreateDataChannel(unreliableChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &noRetransmits,
	})
	if err != nil {
		return fmt.Errorf("creating unreliable data channel: %w", err)
	}
	peer.attach(reliable, true)
	peer.attach(unreliable, false)

	offer, err := peer.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}
	sdp, err := w.gather(peer.pc, offer)
	if err != nil {
		return err
	}
	if err := w.signaler.PublishOffer(w.ctx, w.name, w.hostName, sdp); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}
	w.Logger().Info("WebRTC offer published", "host", w.hostName)

	answerSDP, err := w.waitForAnswer()
	if err != nil {
		return fmt.Errorf("waiting for SDP answer from %s: %w", w.hostName, err)
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := peer.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

func (w *WebRTCSocket) waitForAnswer() (string, error) {
	deadline := time.After(answerTimeout)
	ticker := time.NewTicker(signalingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return "", fmt.Errorf("timed out after %s", answerTimeout)
		case <-w.ctx.Done():
			return "", w.ctx.Err()
		case <-ticker.C:
			answers, err := w.signaler.PollAnswers(w.ctx, w.name)
			if err != nil {
				w.Logger().Warn("polling for SDP answer failed", "error", err)
				continue
			}
			for _, answer := range answers {
				if answer.Peer == w.hostName {
					return answer.SDP, nil
				}
			}
		}
	}
}

// gather sets description as the local description and waits for ICE
// gathering, returning the complete SDP.
func (w *WebRTCSocket) gather(pc *webrtc.PeerConnection, description webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-w.ctx.Done():
		return "", w.ctx.Err()
	}
	return pc.LocalDescription().SDP, nil
}

func (w *WebRTCSocket) newPeer(name string) (*webrtcPeer, error) {
	pc, err := w.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	peer := &webrtcPeer{socket: w, name: name, pc: pc}
	peer.connection = session.NewConnection(peer)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		w.Logger().Debug("WebRTC connection state change", "peer", name, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			peer.fail()
		}
	})
	return peer, nil
}

// newPeerConnection creates a pion PeerConnection. Loopback candidates
// are included so peers on one machine can connect.
func (w *WebRTCSocket) newPeerConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: w.ice.Servers})
}

func (w *WebRTCSocket) removePeer(peer *webrtcPeer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if current, ok := w.peers[peer.name]; ok && current == peer {
		delete(w.peers, peer.name)
	}
}

// webrtcPeer is one PeerConnection. It is the session.Link for its
// connection.
type webrtcPeer struct {
	socket     *WebRTCSocket
	name       string
	pc         *webrtc.PeerConnection
	connection *session.Connection

	mu         sync.Mutex
	reliable   *webrtc.DataChannel
	unreliable *webrtc.DataChannel
	open       int
	connected  bool
	gone       bool
	closed     bool

	// early holds frames that arrived on one channel before the other
	// opened, so the session never sees a frame ahead of the connect.
	early [][]byte
}

func (p *webrtcPeer) attach(dc *webrtc.DataChannel, reliable bool) {
	p.mu.Lock()
	if reliable {
		p.reliable = dc
	} else {
		p.unreliable = dc
	}
	p.mu.Unlock()

	dc.OnOpen(p.channelOpened)
	dc.OnMessage(func(message webrtc.DataChannelMessage) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gone {
			return
		}
		if !p.connected {
			p.early = append(p.early, message.Data)
			return
		}
		p.socket.QueueFrame(p.connection, message.Data)
	})
}

func (p *webrtcPeer) channelOpened() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open++
	if p.open < 2 || p.connected || p.gone {
		return
	}
	p.connected = true
	p.socket.QueueConnect(p.connection)
	for _, frame := range p.early {
		p.socket.QueueFrame(p.connection, frame)
	}
	p.early = nil
	p.socket.Logger().Info("WebRTC peer connected", "peer", p.name)
}

// fail reports the peer gone, once, unless it was closed locally.
func (p *webrtcPeer) fail() {
	p.mu.Lock()
	if p.gone {
		p.mu.Unlock()
		return
	}
	p.gone = true
	report := p.connected && !p.closed
	p.mu.Unlock()

	p.socket.removePeer(p)
	p.pc.Close()
	if report {
		p.socket.QueueDisconnect(p.connection)
	}
}

func (p *webrtcPeer) Send(frame []byte, flags wire.TransportFlags) error {
	p.mu.Lock()
	channel := p.unreliable
	if flags.Reliable() {
		channel = p.reliable
	}
	usable := p.connected && !p.gone
	p.mu.Unlock()

	if !usable || channel == nil {
		return ErrLinkClosed
	}
	return channel.Send(frame)
}

// Close closes the PeerConnection without reporting a disconnect.
func (p *webrtcPeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.fail()
	return nil
}

func (p *webrtcPeer) RemoteAddress() string { return "webrtc://" + p.name }
