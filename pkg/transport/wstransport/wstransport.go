// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package wstransport is the websocket implementation of the transport
// boundary: one upgrade endpoint, JSON message framing, a write pump per
// peer. Delivery mode is advisory here, everything rides the same ordered
// reliable stream.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gopkg.in/typ.v4/sync2"

	"github.com/AccelByte/extend-match-engine/pkg/common"
	"github.com/AccelByte/extend-match-engine/pkg/transport"
)

// ConnectionKeyHeader carries the shared admission secret. The query
// parameter of the same name is accepted for clients that cannot set
// headers.
const ConnectionKeyHeader = "X-Connection-Key"

const shutdownTimeout = 5 * time.Second

// WSTransport serves the websocket endpoint and tracks connected peers.
type WSTransport struct {
	cfg      transport.Config
	handler  transport.Handler
	server   *http.Server
	listener net.Listener
	peers    sync2.Map[string, *wsPeer]

	peerCount atomic.Int64
	running   atomic.Bool

	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func New() *WSTransport {
	return &WSTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// admission is the connection key's job, not the Origin header's
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logrus.WithField("component", "wstransport"),
	}
}

func (t *WSTransport) Name() string {
	return "websocket"
}

func (t *WSTransport) IsRunning() bool {
	return t.running.Load()
}

// Addr returns the bound listen address, useful when Start was given port 0.
func (t *WSTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Start binds the listener and begins accepting upgrades at /ws. The
// handler receives every transport event from here on.
func (t *WSTransport) Start(cfg transport.Config, handler transport.Handler) error {
	if !t.running.CompareAndSwap(false, true) {
		return errors.New("transport already running")
	}

	t.cfg = cfg
	t.handler = handler

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", t.serveWS)

	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		t.running.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	t.listener = listener
	t.server = &http.Server{Handler: mux}

	go func() {
		if serveErr := t.server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			t.log.WithError(serveErr).Error("websocket server stopped unexpectedly")
		}
	}()

	t.log.Infof("websocket transport listening on %s", addr)

	return nil
}

// Stop disconnects every peer and shuts the server down.
func (t *WSTransport) Stop() error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}

	t.peers.Range(func(_ string, peer *wsPeer) bool {
		peer.Disconnect(transport.DisconnectRequested)
		return true
	})

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return t.server.Shutdown(ctx)
}

func (t *WSTransport) SendTo(peer transport.Peer, msg transport.Message) error {
	return peer.Send(msg)
}

// Broadcast fans the message out. Per-peer failures are already logged by
// the peer, a slow receiver never blocks the rest.
func (t *WSTransport) Broadcast(msg transport.Message, peers []transport.Peer) {
	for _, peer := range peers {
		_ = peer.Send(msg)
	}
}

func (t *WSTransport) ConnectedPeers() []transport.Peer {
	out := make([]transport.Peer, 0)
	t.peers.Range(func(_ string, peer *wsPeer) bool {
		if peer.IsConnected() {
			out = append(out, peer)
		}
		return true
	})

	return out
}

func (t *WSTransport) GetPeer(peerID string) (transport.Peer, bool) {
	peer, ok := t.peers.Load(peerID)
	if !ok {
		return nil, false
	}

	return peer, true
}

func (t *WSTransport) DisconnectPeer(peer transport.Peer, reason transport.DisconnectReason) {
	peer.Disconnect(reason)
}

// serveWS runs the admission handshake and, when accepted, upgrades the
// connection and starts the peer's pumps.
func (t *WSTransport) serveWS(w http.ResponseWriter, r *http.Request) {
	if t.cfg.MaxConnections > 0 && int(t.peerCount.Load()) >= t.cfg.MaxConnections {
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	key := r.Header.Get(ConnectionKeyHeader)
	if key == "" {
		key = r.URL.Query().Get("connection_key")
	}

	req := &connectionRequest{
		address:       r.RemoteAddr,
		connectionKey: key,
	}
	t.handler.OnConnectionRequest(req)

	if !req.accepted {
		http.Error(w, req.rejectReason, http.StatusForbidden)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.WithError(err).Warnf("upgrade failed for %s", r.RemoteAddr)
		return
	}

	peer := newWSPeer(common.GenerateUUID(), conn, t.log)
	t.peers.Store(peer.ID(), peer)
	t.peerCount.Add(1)

	t.handler.OnPeerConnected(peer)

	go peer.writePump()
	go t.runReadPump(peer)
}

func (t *WSTransport) runReadPump(peer *wsPeer) {
	peer.readPump(func(msg transport.Message) {
		t.handler.OnMessage(peer, msg)
	})

	t.peers.Delete(peer.ID())
	t.peerCount.Add(-1)
	t.handler.OnPeerDisconnected(peer, peer.disconnectReason())
}

// connectionRequest is the pre-upgrade admission decision. serveWS reads the
// outcome synchronously after the handler returns.
type connectionRequest struct {
	address       string
	connectionKey string
	accepted      bool
	rejectReason  string
}

func (r *connectionRequest) Address() string {
	return r.address
}

func (r *connectionRequest) ConnectionKey() string {
	return r.connectionKey
}

func (r *connectionRequest) Accept() {
	r.accepted = true
}

func (r *connectionRequest) Reject(reason string) {
	r.accepted = false
	r.rejectReason = reason
}
