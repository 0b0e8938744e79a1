// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package transport defines the boundary between the match engine core and
// the network layer. The engine consumes these interfaces only; concrete
// implementations (see wstransport) own framing, delivery semantics and peer
// lifecycle.
package transport

import "time"

// DeliveryMode is the reliability/ordering contract requested for one send.
// Transports honor it as far as their protocol allows.
type DeliveryMode int

const (
	DeliveryUnreliable DeliveryMode = iota
	DeliveryReliableOrdered
	DeliveryReliableUnordered
	DeliveryUnreliableSequenced
)

// DisconnectReason describes why a peer went away.
type DisconnectReason int

const (
	DisconnectRequested DisconnectReason = iota
	DisconnectTimeout
	DisconnectConnectionLost
	DisconnectRemoteClose
	DisconnectKicked
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectRequested:
		return "requested"
	case DisconnectTimeout:
		return "timeout"
	case DisconnectConnectionLost:
		return "connection_lost"
	case DisconnectRemoteClose:
		return "remote_close"
	case DisconnectKicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// Message is one framed unit on the wire.
type Message struct {
	OpCode       int          `json:"op_code"`
	Data         []byte       `json:"data"`
	DeliveryMode DeliveryMode `json:"delivery_mode"`
	Channel      byte         `json:"channel"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Peer is one connected remote endpoint.
type Peer interface {
	ID() string
	Address() string
	IsConnected() bool
	ConnectedAt() time.Time

	// Send writes one message to the peer. Callers treat failures as
	// fire-and-forget: an error must never abort the calling loop.
	Send(msg Message) error

	Disconnect(reason DisconnectReason)
}

// ConnectionRequest is a prospective peer awaiting admission. Exactly one of
// Accept or Reject must be called.
type ConnectionRequest interface {
	Address() string
	ConnectionKey() string

	Accept()
	Reject(reason string)
}

// Handler receives transport events. All callbacks may be invoked from
// transport-owned goroutines; implementations synchronize internally.
type Handler interface {
	OnConnectionRequest(req ConnectionRequest)
	OnPeerConnected(peer Peer)
	OnPeerDisconnected(peer Peer, reason DisconnectReason)
	OnMessage(peer Peer, msg Message)
}

// Config carries transport listener settings.
type Config struct {
	Address        string
	Port           int
	MaxConnections int
}

// Transport accepts peers and moves messages.
type Transport interface {
	Name() string
	IsRunning() bool

	Start(cfg Config, handler Handler) error
	Stop() error

	SendTo(peer Peer, msg Message) error
	Broadcast(msg Message, peers []Peer)

	ConnectedPeers() []Peer
	GetPeer(peerID string) (Peer, bool)
	DisconnectPeer(peer Peer, reason DisconnectReason)
}
