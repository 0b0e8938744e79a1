// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package testsetup

import (
	"sync"
	"time"

	"github.com/AccelByte/extend-match-engine/pkg/transport"
)

// StubPeer is an in-memory transport.Peer that records every message sent to
// it. Safe for concurrent use.
type StubPeer struct {
	PeerID      string
	Addr        string
	ConnectedTs time.Time

	mu           sync.Mutex
	sent         []transport.Message
	disconnected bool
	lastReason   transport.DisconnectReason

	// SendErr, when set, is returned by every Send.
	SendErr error
}

func NewStubPeer(id string) *StubPeer {
	return &StubPeer{
		PeerID:      id,
		Addr:        "127.0.0.1:0",
		ConnectedTs: time.Now().UTC(),
	}
}

func (p *StubPeer) ID() string {
	return p.PeerID
}

func (p *StubPeer) Address() string {
	return p.Addr
}

func (p *StubPeer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.disconnected
}

func (p *StubPeer) ConnectedAt() time.Time {
	return p.ConnectedTs
}

func (p *StubPeer) Send(msg transport.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return p.SendErr
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *StubPeer) Disconnect(reason transport.DisconnectReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
	p.lastReason = reason
}

// SentMessages returns a copy of everything sent so far.
func (p *StubPeer) SentMessages() []transport.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]transport.Message(nil), p.sent...)
}

// SentOpCodes returns the opcodes of everything sent so far, in order.
func (p *StubPeer) SentOpCodes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]int, 0, len(p.sent))
	for _, msg := range p.sent {
		ops = append(ops, msg.OpCode)
	}
	return ops
}

// LastDisconnectReason returns the reason of the most recent Disconnect.
func (p *StubPeer) LastDisconnectReason() transport.DisconnectReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReason
}

// StubTransport is an in-memory transport.Transport for driving the engine
// in tests without a network.
type StubTransport struct {
	mu      sync.Mutex
	running bool
	handler transport.Handler
	peers   map[string]*StubPeer
}

func NewStubTransport() *StubTransport {
	return &StubTransport{
		peers: make(map[string]*StubPeer),
	}
}

func (t *StubTransport) Name() string {
	return "stub"
}

func (t *StubTransport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *StubTransport) Start(_ transport.Config, handler transport.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.handler = handler
	return nil
}

func (t *StubTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	return nil
}

func (t *StubTransport) SendTo(peer transport.Peer, msg transport.Message) error {
	return peer.Send(msg)
}

func (t *StubTransport) Broadcast(msg transport.Message, peers []transport.Peer) {
	for _, peer := range peers {
		_ = peer.Send(msg)
	}
}

func (t *StubTransport) ConnectedPeers() []transport.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.Peer, 0, len(t.peers))
	for _, peer := range t.peers {
		if peer.IsConnected() {
			out = append(out, peer)
		}
	}
	return out
}

func (t *StubTransport) GetPeer(peerID string) (transport.Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peer, ok := t.peers[peerID]
	if !ok {
		return nil, false
	}
	return peer, true
}

func (t *StubTransport) DisconnectPeer(peer transport.Peer, reason transport.DisconnectReason) {
	peer.Disconnect(reason)
}

// Connect registers the peer and fires the connected callback as a live
// transport would.
func (t *StubTransport) Connect(peer *StubPeer) {
	t.mu.Lock()
	t.peers[peer.ID()] = peer
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		handler.OnPeerConnected(peer)
	}
}

// DeliverDisconnect simulates the peer going away.
func (t *StubTransport) DeliverDisconnect(peer *StubPeer, reason transport.DisconnectReason) {
	peer.Disconnect(reason)

	t.mu.Lock()
	delete(t.peers, peer.ID())
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		handler.OnPeerDisconnected(peer, reason)
	}
}

// DeliverMessage injects one inbound message from the peer.
func (t *StubTransport) DeliverMessage(peer *StubPeer, msg transport.Message) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		handler.OnMessage(peer, msg)
	}
}

// StubConnectionRequest records the admission outcome.
type StubConnectionRequest struct {
	Addr     string
	Key      string
	Accepted bool
	Rejected bool
	Reason   string
}

func (r *StubConnectionRequest) Address() string {
	return r.Addr
}

func (r *StubConnectionRequest) ConnectionKey() string {
	return r.Key
}

func (r *StubConnectionRequest) Accept() {
	r.Accepted = true
}

func (r *StubConnectionRequest) Reject(reason string) {
	r.Rejected = true
	r.Reason = reason
}
