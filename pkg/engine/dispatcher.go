// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package engine

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AccelByte/extend-match-engine/pkg/constants"
	"github.com/AccelByte/extend-match-engine/pkg/models"
	"github.com/AccelByte/extend-match-engine/pkg/transport"
)

// matchDispatcher is the transport-backed Dispatcher handed to handlers. All
// failures are logged and swallowed: a dead peer never aborts the match.
type matchDispatcher struct {
	match *MatchInstance
	trans transport.Transport
	log   *logrus.Entry
}

func newMatchDispatcher(match *MatchInstance, trans transport.Transport, log *logrus.Entry) Dispatcher {
	return &matchDispatcher{
		match: match,
		trans: trans,
		log:   log,
	}
}

func (d *matchDispatcher) BroadcastMessage(opCode int, data []byte, recipients []*models.PlayerPresence) {
	targets := recipients
	if targets == nil {
		targets = d.match.Presences()
	}
	if len(targets) == 0 {
		return
	}

	peers := make([]transport.Peer, 0, len(targets))
	for _, p := range targets {
		if p.IsConnected() {
			peers = append(peers, p.Peer)
		}
	}
	if len(peers) == 0 {
		return
	}

	d.trans.Broadcast(transport.Message{
		OpCode:       opCode,
		Data:         data,
		DeliveryMode: transport.DeliveryReliableOrdered,
		Timestamp:    time.Now().UTC(),
	}, peers)
}

func (d *matchDispatcher) SendToPlayer(player *models.PlayerPresence, opCode int, data []byte) {
	if !player.IsConnected() {
		return
	}

	err := d.trans.SendTo(player.Peer, transport.Message{
		OpCode:       opCode,
		Data:         data,
		DeliveryMode: transport.DeliveryReliableOrdered,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		d.log.WithError(err).Errorf("failed to send message %d to player %s in match %s", opCode, player.UserID, d.match.ID)
	}
}

func (d *matchDispatcher) KickPlayer(player *models.PlayerPresence, reason string) {
	d.log.Infof("kicking player %s from match %s, reason: %s", player.UserID, d.match.ID, reason)

	kickData, err := json.Marshal(models.KickPayload{Reason: reason})
	if err == nil {
		d.SendToPlayer(player, constants.OpKick, kickData)
	}

	// disconnect and removal run off the callback goroutine: handlers call
	// KickPlayer from inside their own callbacks, and the removal takes the
	// same callback lock.
	go func() {
		// let the kick payload flush before the disconnect
		time.Sleep(constants.KickGraceDelay)

		if player.Peer != nil {
			player.Peer.Disconnect(transport.DisconnectKicked)
		}

		d.match.RemovePlayer(d.match.ctx.Scope, player)
	}()
}

func (d *matchDispatcher) UpdateMatchLabel(label string) {
	d.match.UpdateLabel(label)
	d.log.Infof("updated label for match %s: %s", d.match.ID, label)
}
