// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package wstransport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/AccelByte/extend-match-engine/pkg/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

var errPeerGone = errors.New("peer is disconnected")

// wsPeer is one websocket connection. All writes funnel through sendCh into
// the single write pump; the read pump is the only reader. Both pumps exit
// when the connection closes.
type wsPeer struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time

	sendCh    chan transport.Message
	connected atomic.Bool
	closeOnce sync.Once

	// reason recorded by whoever initiated the close; defaults to
	// connection lost when the socket just dies.
	reasonMu sync.Mutex
	reason   transport.DisconnectReason

	log *logrus.Entry
}

func newWSPeer(id string, conn *websocket.Conn, log *logrus.Entry) *wsPeer {
	p := &wsPeer{
		id:          id,
		conn:        conn,
		connectedAt: time.Now().UTC(),
		sendCh:      make(chan transport.Message, sendQueueSize),
		reason:      transport.DisconnectConnectionLost,
		log:         log,
	}
	p.connected.Store(true)

	return p
}

func (p *wsPeer) ID() string {
	return p.id
}

func (p *wsPeer) Address() string {
	return p.conn.RemoteAddr().String()
}

func (p *wsPeer) IsConnected() bool {
	return p.connected.Load()
}

func (p *wsPeer) ConnectedAt() time.Time {
	return p.connectedAt
}

// Send queues the message for the write pump. A full queue drops the
// message rather than blocking the caller.
func (p *wsPeer) Send(msg transport.Message) error {
	if !p.connected.Load() {
		return errPeerGone
	}

	select {
	case p.sendCh <- msg:
		return nil
	default:
		p.log.Warnf("send queue full for peer %s, dropping opcode %d", p.id, msg.OpCode)
		return errors.New("send queue full")
	}
}

func (p *wsPeer) Disconnect(reason transport.DisconnectReason) {
	p.closeWith(reason)
}

// closeWith records the reason and closes the socket exactly once. The read
// pump unblocks on the close and drives the disconnect callback.
func (p *wsPeer) closeWith(reason transport.DisconnectReason) {
	p.closeOnce.Do(func() {
		p.reasonMu.Lock()
		p.reason = reason
		p.reasonMu.Unlock()
		p.connected.Store(false)

		deadline := time.Now().Add(writeWait)
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason.String()), deadline)
		_ = p.conn.Close()
	})
}

func (p *wsPeer) disconnectReason() transport.DisconnectReason {
	p.reasonMu.Lock()
	defer p.reasonMu.Unlock()

	return p.reason
}

// writePump owns every write on the connection, including keepalive pings.
func (p *wsPeer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-p.sendCh:
			if !ok {
				return
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(msg); err != nil {
				p.log.WithError(err).Debugf("write failed for peer %s", p.id)
				p.closeWith(transport.DisconnectConnectionLost)
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.closeWith(transport.DisconnectTimeout)
				return
			}
		}
	}
}

// readPump is the sole reader. It returns when the connection dies for any
// reason; the caller runs the disconnect bookkeeping after it exits.
func (p *wsPeer) readPump(onMessage func(transport.Message)) {
	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg transport.Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.closeWith(transport.DisconnectRemoteClose)
			} else {
				p.closeWith(transport.DisconnectConnectionLost)
			}
			return
		}

		onMessage(msg)
	}
}
