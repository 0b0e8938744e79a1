// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/typ.v4/sync2"

	"github.com/AccelByte/extend-match-engine/pkg/common"
	"github.com/AccelByte/extend-match-engine/pkg/config"
	"github.com/AccelByte/extend-match-engine/pkg/constants"
	"github.com/AccelByte/extend-match-engine/pkg/envelope"
	"github.com/AccelByte/extend-match-engine/pkg/matchmaking"
	"github.com/AccelByte/extend-match-engine/pkg/metrics"
	"github.com/AccelByte/extend-match-engine/pkg/models"
	"github.com/AccelByte/extend-match-engine/pkg/transport"
)

// MatchEngine is the top-level registry: handlers by name, running match
// instances by id and connected player sessions by session id. It is also
// the transport.Handler, so every network event enters here.
type MatchEngine struct {
	nodeID  string
	cfg     *config.Config
	trans   transport.Transport
	metrics metrics.EngineMetrics

	handlerMu sync.RWMutex
	handlers  map[string]MatchHandler

	matches    sync2.Map[string, *MatchInstance]
	matchCount atomic.Int64

	// playerSessions is keyed by session id, which is the peer id.
	playerSessions sync2.Map[string, *models.PlayerPresence]

	matchmaker *matchmaking.Service

	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func NewMatchEngine(cfg *config.Config, trans transport.Transport, m metrics.EngineMetrics) *MatchEngine {
	return &MatchEngine{
		nodeID:   common.GenerateUUID(),
		cfg:      cfg,
		trans:    trans,
		metrics:  m,
		handlers: make(map[string]MatchHandler),
		stopCh:   make(chan struct{}),
	}
}

// NodeID returns this engine instance's identity.
func (e *MatchEngine) NodeID() string {
	return e.nodeID
}

// RegisterHandler adds a simulation handler to the registry. Registering the
// same name twice replaces the previous handler for future matches only.
func (e *MatchEngine) RegisterHandler(scope *envelope.Scope, handler MatchHandler) error {
	name := handler.HandlerName()
	if name == "" {
		return ErrEmptyHandlerName
	}

	e.handlerMu.Lock()
	e.handlers[name] = handler
	e.handlerMu.Unlock()

	scope.Log.Infof("registered match handler: %s", name)

	return nil
}

func (e *MatchEngine) handler(name string) (MatchHandler, bool) {
	e.handlerMu.RLock()
	defer e.handlerMu.RUnlock()

	h, ok := e.handlers[name]
	return h, ok
}

// CreateMatch creates and initializes a new match instance for the named
// handler. The match starts ticking before this returns.
func (e *MatchEngine) CreateMatch(rootScope *envelope.Scope, handlerName string, params map[string]interface{}) (string, error) {
	scope := rootScope.NewChildScope("MatchEngine.CreateMatch")
	defer scope.Finish()

	handler, ok := e.handler(handlerName)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrHandlerNotRegistered, handlerName)
	}

	matchID := uuid.NewString()
	scope.SetAttributes(envelope.MatchIDTag, matchID)

	matchScope := envelope.NewRootScope(context.Background(), "match:"+matchID, "")
	matchScope.SetAttributes(envelope.MatchIDTag, matchID)

	ctx := &MatchContext{
		MatchID: matchID,
		NodeID:  e.nodeID,
		Scope:   matchScope,
		Env:     map[string]string{"node_id": e.nodeID},
	}

	instance := NewMatchInstance(matchID, handlerName, handler, ctx, e.metrics)
	ctx.Dispatcher = newMatchDispatcher(instance, e.trans, matchScope.Log)

	if err := instance.Initialize(scope, params); err != nil {
		matchScope.Finish()
		return "", fmt.Errorf("failed to initialize match: %w", err)
	}

	e.matches.Store(matchID, instance)
	count := e.matchCount.Add(1)
	if e.metrics != nil {
		e.metrics.SetActiveMatches(int(count))
	}

	scope.Log.Infof("created match %s with handler %s", matchID, handlerName)

	return matchID, nil
}

// JoinMatch admits the session into the match. Soft failure contract: any
// missing match, missing session or handler veto returns false, never an
// error.
func (e *MatchEngine) JoinMatch(rootScope *envelope.Scope, matchID string, sessionID string) bool {
	scope := rootScope.NewChildScope("MatchEngine.JoinMatch")
	defer scope.Finish()
	scope.SetAttributes(envelope.MatchIDTag, matchID)

	instance, ok := e.matches.Load(matchID)
	if !ok || instance.IsTerminated() {
		scope.Log.Warnf("join rejected, match %s not found", matchID)
		return false
	}

	presence, ok := e.playerSessions.Load(sessionID)
	if !ok {
		scope.Log.Warnf("join rejected, session %s not connected", sessionID)
		return false
	}

	return instance.TryJoinPlayer(scope, presence)
}

// LeaveMatch removes the session from the match. Leaving a match you are not
// in is a no-op.
func (e *MatchEngine) LeaveMatch(rootScope *envelope.Scope, matchID string, sessionID string) bool {
	scope := rootScope.NewChildScope("MatchEngine.LeaveMatch")
	defer scope.Finish()
	scope.SetAttributes(envelope.MatchIDTag, matchID)

	instance, ok := e.matches.Load(matchID)
	if !ok {
		return false
	}

	presence, ok := e.playerSessions.Load(sessionID)
	if !ok {
		return false
	}

	instance.RemovePlayer(scope, presence)

	return true
}

// TerminateMatch shuts the match down and removes it from the registry.
// It reports false when no such match exists.
func (e *MatchEngine) TerminateMatch(rootScope *envelope.Scope, matchID string, graceSeconds int) bool {
	scope := rootScope.NewChildScope("MatchEngine.TerminateMatch")
	defer scope.Finish()
	scope.SetAttributes(envelope.MatchIDTag, matchID)

	instance, ok := e.matches.LoadAndDelete(matchID)
	if !ok {
		return false
	}

	instance.Terminate(scope, graceSeconds)

	count := e.matchCount.Add(-1)
	if e.metrics != nil {
		e.metrics.SetActiveMatches(int(count))
	}

	return true
}

// GetMatch returns the live instance for a match id.
func (e *MatchEngine) GetMatch(matchID string) (*MatchInstance, bool) {
	return e.matches.Load(matchID)
}

// MatchState returns a deep copy of one match's live state. Observers may
// mutate the copy without touching the running match.
func (e *MatchEngine) MatchState(matchID string) (*models.MatchState, error) {
	instance, ok := e.matches.Load(matchID)
	if !ok {
		return nil, ErrMatchNotFound
	}

	return instance.StateSnapshot()
}

// ListMatches returns projections of the running matches, newest first,
// optionally filtered by handler name. A zero limit means no limit.
func (e *MatchEngine) ListMatches(handlerName string, limit int) []models.MatchInfo {
	infos := make([]models.MatchInfo, 0)
	e.matches.Range(func(_ string, instance *MatchInstance) bool {
		if instance.IsTerminated() {
			return true
		}
		infos = append(infos, instance.Info())
		return true
	})

	if handlerName != "" {
		infos = pie.Filter(infos, func(info models.MatchInfo) bool {
			return info.HandlerName == handlerName
		})
	}
	infos = pie.SortStableUsing(infos, func(a, b models.MatchInfo) bool {
		return a.CreatedAt.After(b.CreatedAt)
	})

	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}

	return infos
}

// MatchCount returns the number of registered match instances.
func (e *MatchEngine) MatchCount() int {
	return int(e.matchCount.Load())
}

// Start begins serving: the transport comes up with the engine as its
// handler, the cleanup sweep starts, and matchmaking (when configured)
// starts sweeping its queues.
func (e *MatchEngine) Start(scope *envelope.Scope, transportCfg transport.Config) error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := e.trans.Start(transportCfg, e); err != nil {
		e.started.Store(false)
		return fmt.Errorf("failed to start transport: %w", err)
	}

	go e.runCleanupSweep()

	if e.matchmaker != nil {
		e.matchmaker.Start(scope)
	}

	scope.Log.Infof("match engine %s started on %s:%d", e.nodeID, transportCfg.Address, transportCfg.Port)

	return nil
}

// Stop terminates every match with the shutdown grace period, halts
// matchmaking and the cleanup sweep and brings the transport down.
func (e *MatchEngine) Stop(scope *envelope.Scope) error {
	if !e.started.CompareAndSwap(true, false) {
		return nil
	}

	e.stopOnce.Do(func() {
		close(e.stopCh)
	})

	if e.matchmaker != nil {
		e.matchmaker.Stop()
	}

	e.matches.Range(func(matchID string, _ *MatchInstance) bool {
		e.TerminateMatch(scope, matchID, constants.StopTerminateGraceSeconds)
		return true
	})

	if err := e.trans.Stop(); err != nil {
		return fmt.Errorf("failed to stop transport: %w", err)
	}

	scope.Log.Infof("match engine %s stopped", e.nodeID)

	return nil
}

// runCleanupSweep periodically evicts terminated matches and matches idle
// beyond the inactivity timeout.
func (e *MatchEngine) runCleanupSweep() {
	interval := time.Duration(e.cfg.MatchCleanupIntervalSecond) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			scope := envelope.NewRootScope(context.Background(), "MatchEngine.cleanupSweep", "")
			e.CleanupMatches(scope)
			scope.Finish()
		}
	}
}

// CleanupMatches runs one eviction pass. Exported so the sweep is callable
// deterministically without the ticker.
func (e *MatchEngine) CleanupMatches(scope *envelope.Scope) {
	timeout := time.Duration(e.cfg.MatchInactivityTimeoutMinute) * time.Minute

	var evict []string
	e.matches.Range(func(matchID string, instance *MatchInstance) bool {
		if instance.IsTerminated() || time.Since(instance.LastActivity()) > timeout {
			evict = append(evict, matchID)
		}
		return true
	})

	for _, matchID := range evict {
		scope.Log.Infof("cleaning up match %s", matchID)
		e.TerminateMatch(scope, matchID, 0)
	}
}

// OnConnectionRequest gates admission on the shared connection key. An empty
// configured key admits everyone.
func (e *MatchEngine) OnConnectionRequest(req transport.ConnectionRequest) {
	if e.cfg.ConnectionKey != "" && req.ConnectionKey() != e.cfg.ConnectionKey {
		logrus.Warnf("rejected connection from %s: invalid connection key", req.Address())
		req.Reject("invalid connection key")
		return
	}

	req.Accept()
}

// OnPeerConnected mints the player presence for the new peer. The session id
// is the peer id.
func (e *MatchEngine) OnPeerConnected(peer transport.Peer) {
	presence := &models.PlayerPresence{
		UserID:    "user_" + peer.ID(),
		SessionID: peer.ID(),
		Username:  "Player_" + shortID(peer.ID()),
		Peer:      peer,
		JoinTime:  time.Now().UTC(),
		Metadata:  make(map[string]interface{}),
	}

	e.playerSessions.Store(presence.SessionID, presence)

	logrus.Infof("peer connected: %s (%s)", presence.Username, peer.Address())
}

// OnPeerDisconnected fans the departure out: the session's matchmaking
// ticket is cancelled and the player is removed from every match they
// occupy.
func (e *MatchEngine) OnPeerDisconnected(peer transport.Peer, reason transport.DisconnectReason) {
	presence, ok := e.playerSessions.LoadAndDelete(peer.ID())
	if !ok {
		return
	}

	scope := envelope.NewRootScope(context.Background(), "MatchEngine.OnPeerDisconnected", "")
	defer scope.Finish()

	scope.Log.Infof("peer disconnected: %s, reason: %s", presence.Username, reason)

	if e.matchmaker != nil {
		e.matchmaker.LeaveQueue(scope, presence.SessionID)
	}

	e.matches.Range(func(_ string, instance *MatchInstance) bool {
		if instance.HasSession(presence.SessionID) {
			instance.RemovePlayer(scope, presence)
		}
		return true
	})
}

// OnMessage routes one inbound frame. Reserved opcodes are dispatched to
// their control handlers; unknown reserved opcodes are rejected; everything
// at GameplayOpcodeMin and above is queued verbatim to the sender's matches.
func (e *MatchEngine) OnMessage(peer transport.Peer, msg transport.Message) {
	presence, ok := e.playerSessions.Load(peer.ID())
	if !ok {
		return
	}

	if msg.OpCode >= constants.GameplayOpcodeMin {
		e.routeGameplayMessage(presence, msg)
		return
	}

	scope := envelope.NewRootScope(context.Background(), "MatchEngine.OnMessage", "")
	defer scope.Finish()

	switch msg.OpCode {
	case constants.OpCreateMatch:
		e.handleCreateMatch(scope, presence, msg.Data)
	case constants.OpJoinMatch:
		e.handleJoinMatch(scope, presence, msg.Data)
	case constants.OpLeaveMatch:
		e.handleLeaveMatch(scope, presence, msg.Data)
	case constants.OpFindMatch:
		e.handleFindMatch(scope, presence, msg.Data)
	case constants.OpCancelMatchmaking:
		e.handleCancelMatchmaking(scope, presence)
	default:
		scope.Log.Warnf("rejected reserved opcode %d from %s", msg.OpCode, presence.Username)
	}
}

// routeGameplayMessage queues the message on every match the sender
// occupies.
func (e *MatchEngine) routeGameplayMessage(presence *models.PlayerPresence, msg transport.Message) {
	matchMsg := &models.MatchMessage{
		OpCode:     msg.OpCode,
		Data:       msg.Data,
		Sender:     presence,
		ReceivedAt: time.Now().UTC(),
	}

	e.matches.Range(func(_ string, instance *MatchInstance) bool {
		if instance.HasSession(presence.SessionID) {
			instance.QueueMessage(matchMsg)
		}
		return true
	})
}

func (e *MatchEngine) handleCreateMatch(scope *envelope.Scope, presence *models.PlayerPresence, data []byte) {
	var req models.CreateMatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		e.respond(scope, presence, constants.OpCreateMatchResponse, models.CreateMatchResponse{
			Success: false, Error: "malformed create match request",
		})
		return
	}

	matchID, err := e.CreateMatch(scope, req.HandlerName, req.Parameters)
	if err != nil {
		scope.Log.WithError(err).Warnf("create match failed for %s", presence.Username)
		e.respond(scope, presence, constants.OpCreateMatchResponse, models.CreateMatchResponse{
			Success: false, Error: err.Error(),
		})
		return
	}

	e.respond(scope, presence, constants.OpCreateMatchResponse, models.CreateMatchResponse{
		Success: true, MatchID: matchID,
	})
}

func (e *MatchEngine) handleJoinMatch(scope *envelope.Scope, presence *models.PlayerPresence, data []byte) {
	var req models.JoinMatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		e.respond(scope, presence, constants.OpJoinMatchResponse, models.JoinMatchResponse{
			Success: false, Error: "malformed join match request",
		})
		return
	}

	joined := e.JoinMatch(scope, req.MatchID, presence.SessionID)
	resp := models.JoinMatchResponse{Success: joined}
	if !joined {
		resp.Error = "unable to join match"
	}
	e.respond(scope, presence, constants.OpJoinMatchResponse, resp)
}

func (e *MatchEngine) handleLeaveMatch(scope *envelope.Scope, presence *models.PlayerPresence, data []byte) {
	var req models.LeaveMatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		e.respond(scope, presence, constants.OpLeaveMatchResponse, models.LeaveMatchResponse{Success: false})
		return
	}

	left := e.LeaveMatch(scope, req.MatchID, presence.SessionID)
	e.respond(scope, presence, constants.OpLeaveMatchResponse, models.LeaveMatchResponse{Success: left})
}

// respond marshals and sends one control response. Best effort.
func (e *MatchEngine) respond(scope *envelope.Scope, presence *models.PlayerPresence, opCode int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		scope.Log.WithError(err).Errorf("failed to marshal response for opcode %d", opCode)
		return
	}

	if presence.Peer == nil {
		return
	}
	err = presence.Peer.Send(transport.Message{
		OpCode:       opCode,
		Data:         data,
		DeliveryMode: transport.DeliveryReliableOrdered,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		scope.Log.WithError(err).Warnf("failed to send response %d to %s", opCode, presence.Username)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
