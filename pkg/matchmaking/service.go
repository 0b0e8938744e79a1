// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/typ.v4/sync2"

	"github.com/AccelByte/extend-match-engine/pkg/common"
	"github.com/AccelByte/extend-match-engine/pkg/config"
	"github.com/AccelByte/extend-match-engine/pkg/constants"
	"github.com/AccelByte/extend-match-engine/pkg/envelope"
	"github.com/AccelByte/extend-match-engine/pkg/mathutil"
	"github.com/AccelByte/extend-match-engine/pkg/metrics"
	"github.com/AccelByte/extend-match-engine/pkg/models"
	"github.com/AccelByte/extend-match-engine/pkg/transport"
)

// SessionProvider creates and manages the game sessions that matched tickets
// are placed into. The match engine is the production implementation; tests
// stub it.
type SessionProvider interface {
	// CreateMatch creates a new session for the given handler and returns its
	// match id.
	CreateMatch(scope *envelope.Scope, handlerName string, params map[string]interface{}) (string, error)

	// JoinMatch admits the session id into the match. A false return means
	// the handler vetoed the join or the match is gone.
	JoinMatch(scope *envelope.Scope, matchID string, sessionID string) bool

	// TerminateMatch tears the match down, reporting whether it existed.
	TerminateMatch(scope *envelope.Scope, matchID string, graceSeconds int) bool
}

var ErrGameModeNotRegistered = errors.New("game mode is not registered")

// Service owns every game mode queue, the periodic matching and cleanup
// sweeps and the per-player active-ticket bookkeeping. At most one live
// ticket exists per session id at any time.
type Service struct {
	cfg      *config.Config
	sessions SessionProvider
	metrics  metrics.EngineMetrics

	queueMu sync.RWMutex
	queues  map[string]*Queue
	configs map[string]*models.GameModeConfig

	// playerTickets maps session id to the player's single live ticket.
	playerTickets sync2.Map[string, *models.MatchmakingTicket]

	// finalizeWG tracks in-flight match finalizations.
	finalizeWG sync.WaitGroup

	statsMu           sync.Mutex
	totalMatches      int
	successfulMatches int
	failedMatches     int
	waitTimesSeconds  []float64

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

func NewService(cfg *config.Config, sessions SessionProvider, m metrics.EngineMetrics) *Service {
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		metrics:  m,
		queues:   make(map[string]*Queue),
		configs:  make(map[string]*models.GameModeConfig),
		stopCh:   make(chan struct{}),
	}
}

// RegisterGameMode validates the config, fills defaults and creates the
// mode's queue. Re-registering an existing mode replaces its policy but
// keeps the queue and its waiting tickets.
func (s *Service) RegisterGameMode(scope *envelope.Scope, modeCfg *models.GameModeConfig) error {
	modeCfg.SetDefaultValues()
	if err := modeCfg.Validate(); err != nil {
		return fmt.Errorf("invalid game mode config: %w", err)
	}

	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	s.configs[modeCfg.GameMode] = modeCfg
	if queue, exists := s.queues[modeCfg.GameMode]; exists {
		queue.SetConfig(modeCfg)
	} else {
		s.queues[modeCfg.GameMode] = NewQueue(modeCfg.GameMode, modeCfg, s.metrics)
	}

	scope.Log.Infof("registered game mode %s (players %d-%d, handler %s)",
		modeCfg.GameMode, modeCfg.MinPlayers, modeCfg.MaxPlayers, modeCfg.HandlerName)

	return nil
}

// JoinQueue enqueues the ticket. A session holds at most one live ticket
// across every game mode: any existing ticket is withdrawn before the new
// one is created, so re-queueing restarts the wait instead of stacking.
func (s *Service) JoinQueue(rootScope *envelope.Scope, ticket *models.MatchmakingTicket) error {
	scope := rootScope.NewChildScope("Service.JoinQueue")
	defer scope.Finish()
	scope.SetAttributes(envelope.GameModeTag, ticket.GameMode)

	queue, ok := s.queue(ticket.GameMode)
	if !ok {
		return fmt.Errorf("%w: %s", ErrGameModeNotRegistered, ticket.GameMode)
	}

	sessionID := ticket.Player.SessionID
	if prev, loaded := s.playerTickets.LoadAndDelete(sessionID); loaded {
		if prevQueue, found := s.queue(prev.GameMode); found {
			prevQueue.RemoveTicket(scope, prev.TicketID)
		}
		scope.Log.Infof("withdrew ticket %s (%s) before re-queueing session %s",
			prev.TicketID, prev.GameMode, sessionID)
	}
	s.playerTickets.Store(sessionID, ticket)

	queue.AddTicket(scope, ticket)

	s.notify(scope, ticket.Player, constants.EventQueueJoined, map[string]interface{}{
		"ticket_id":              ticket.TicketID,
		"game_mode":              ticket.GameMode,
		"estimated_wait_seconds": int(s.EstimatedWaitTime(ticket.GameMode).Seconds()),
	})

	return nil
}

// LeaveQueue cancels the session's live ticket if it has one.
func (s *Service) LeaveQueue(rootScope *envelope.Scope, sessionID string) bool {
	scope := rootScope.NewChildScope("Service.LeaveQueue")
	defer scope.Finish()

	ticket, ok := s.playerTickets.LoadAndDelete(sessionID)
	if !ok {
		return false
	}

	if queue, found := s.queue(ticket.GameMode); found {
		queue.RemoveTicket(scope, ticket.TicketID)
	}

	s.notify(scope, ticket.Player, constants.EventQueueLeft, map[string]interface{}{
		"ticket_id": ticket.TicketID,
		"game_mode": ticket.GameMode,
	})

	return true
}

// TicketForSession returns the session's live ticket, if any.
func (s *Service) TicketForSession(sessionID string) (*models.MatchmakingTicket, bool) {
	return s.playerTickets.Load(sessionID)
}

// Start launches the matching and ticket cleanup sweeps. It is a no-op when
// already started.
func (s *Service) Start(scope *envelope.Scope) {
	s.queueMu.Lock()
	if s.started {
		s.queueMu.Unlock()
		return
	}
	s.started = true
	s.queueMu.Unlock()

	matchInterval := time.Duration(s.cfg.MatchmakingIntervalSecond) * time.Second
	cleanupInterval := time.Duration(s.cfg.TicketCleanupIntervalSecond) * time.Second

	go s.runSweep(matchInterval, s.Sweep)
	go s.runSweep(cleanupInterval, s.CleanupTickets)

	scope.Log.Infof("matchmaking service started (sweep interval %s)", matchInterval)
}

// Stop halts the sweep goroutines. Tickets already in queues stay there.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Service) runSweep(interval time.Duration, fn func(*envelope.Scope)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			scope := envelope.NewRootScope(context.Background(), "Service.sweep", "")
			fn(scope)
			scope.Finish()
		}
	}
}

// Sweep runs one matching pass over every queue. Exported so the sweep is
// callable without the ticker. Each matched set is finalized on its own
// goroutine: handler callbacks during session creation may suspend, and a
// slow one must not stall the remaining queues or the next sweep.
func (s *Service) Sweep(rootScope *envelope.Scope) {
	for _, queue := range s.allQueues() {
		matched := queue.TryCreateMatch(rootScope)
		if len(matched) == 0 {
			continue
		}

		s.finalizeWG.Add(1)
		go func(queue *Queue, matched []*models.MatchmakingTicket) {
			defer s.finalizeWG.Done()

			// the sweep scope finishes as soon as Sweep returns, so
			// finalization carries its own root scope
			scope := envelope.NewRootScope(context.Background(), "Service.finalizeMatch", "")
			defer scope.Finish()

			s.finalizeMatch(scope, queue, matched)
		}(queue, matched)
	}
}

// CleanupTickets runs one expiry pass over every queue and drops the active
// ticket mapping for any ticket that is no longer actionable.
func (s *Service) CleanupTickets(rootScope *envelope.Scope) {
	for _, queue := range s.allQueues() {
		queue.CleanExpiredTickets(rootScope)
	}

	s.playerTickets.Range(func(sessionID string, ticket *models.MatchmakingTicket) bool {
		if ticket.IsExpired() || !ticket.Player.IsConnected() {
			s.playerTickets.Delete(sessionID)
		}
		return true
	})
}

// finalizeMatch turns one set of matched tickets into a live session. Any
// failure requeues every ticket with a refreshed LastUpdate so the players
// keep their spot (CreatedAt, and with it queue priority and expiry, is
// untouched).
func (s *Service) finalizeMatch(rootScope *envelope.Scope, queue *Queue, matched []*models.MatchmakingTicket) {
	scope := rootScope.NewChildScope("Service.finalizeMatch")
	defer scope.Finish()
	scope.SetAttributes(envelope.GameModeTag, queue.GameMode())

	modeCfg := s.modeConfig(queue.GameMode())

	matchID, err := s.sessions.CreateMatch(scope, modeCfg.HandlerName, modeCfg.HandlerParameters)
	if err != nil {
		scope.Log.WithError(err).Errorf("failed to create session for %s match", queue.GameMode())
		s.failMatch(scope, queue, matched, constants.ReasonSessionCreateFailed)
		return
	}
	scope.SetAttributes(envelope.MatchIDTag, matchID)

	for _, ticket := range matched {
		if s.sessions.JoinMatch(scope, matchID, ticket.Player.SessionID) {
			continue
		}

		scope.Log.Errorf("player %s failed to join match %s, rolling back", ticket.Player.Username, matchID)
		s.sessions.TerminateMatch(scope, matchID, 0)
		s.failMatch(scope, queue, matched, constants.ReasonSessionJoinFailed)
		return
	}

	now := time.Now().UTC()
	for _, ticket := range matched {
		s.playerTickets.Delete(ticket.Player.SessionID)

		wait := ticket.WaitTime()
		s.recordWait(wait)
		if s.metrics != nil {
			s.metrics.AddMatchmakingWaitTime(queue.GameMode(), wait)
		}

		s.notify(scope, ticket.Player, constants.EventMatchFound, map[string]interface{}{
			"ticket_id":    ticket.TicketID,
			"game_mode":    queue.GameMode(),
			"match_id":     matchID,
			"matched_at":   now,
			"wait_seconds": int(wait.Seconds()),
			"player_count": len(matched),
		})
	}

	s.statsMu.Lock()
	s.totalMatches++
	s.successfulMatches++
	s.statsMu.Unlock()

	if s.metrics != nil {
		s.metrics.AddMatchCreated(queue.GameMode())
	}

	scope.Log.Infof("match %s created for %d players in %s", matchID, len(matched), queue.GameMode())
	scope.Log.Debugf("matchmaking stats: %s", common.LogJSONFormatter(s.GetStats()))
}

// failMatch requeues every ticket and notifies the players the attempt fell
// through.
func (s *Service) failMatch(scope *envelope.Scope, queue *Queue, matched []*models.MatchmakingTicket, reason string) {
	now := time.Now().UTC()
	for _, ticket := range matched {
		ticket.LastUpdate = now
		queue.AddTicket(scope, ticket)

		s.notify(scope, ticket.Player, constants.EventMatchFailed, map[string]interface{}{
			"ticket_id": ticket.TicketID,
			"game_mode": queue.GameMode(),
			"reason":    reason,
		})
	}

	s.statsMu.Lock()
	s.totalMatches++
	s.failedMatches++
	s.statsMu.Unlock()

	if s.metrics != nil {
		s.metrics.AddMatchFailed(queue.GameMode(), reason)
	}
}

// EstimatedWaitTime is the user-facing queue wait estimate: fifteen seconds
// per player still needed, floored and capped by configuration. Estimates
// never go negative even when the queue already holds enough players.
func (s *Service) EstimatedWaitTime(gameMode string) time.Duration {
	modeCfg := s.modeConfig(gameMode)
	if modeCfg == nil {
		return time.Duration(s.cfg.EstimatedWaitMinSecond) * time.Second
	}

	inQueue := 0
	if queue, ok := s.queue(gameMode); ok {
		inQueue = queue.Count()
	}

	needed := modeCfg.MinPlayers - inQueue + 1
	seconds := mathutil.Clamp(needed*15, s.cfg.EstimatedWaitMinSecond, s.cfg.EstimatedWaitMaxSecond)

	return time.Duration(seconds) * time.Second
}

// GetQueueStatus reports the depth and oldest wait for one game mode queue.
func (s *Service) GetQueueStatus(gameMode string) (count int, oldestWait time.Duration, ok bool) {
	queue, found := s.queue(gameMode)
	if !found {
		return 0, 0, false
	}

	return queue.Count(), queue.oldestWait(), true
}

// GetStats returns the aggregate matchmaking snapshot.
func (s *Service) GetStats() models.MatchmakingStats {
	stats := models.MatchmakingStats{
		QueuesByGameMode: make(map[string]int),
	}

	for _, queue := range s.allQueues() {
		depth := queue.Count()
		stats.QueuesByGameMode[queue.GameMode()] = depth
		stats.TotalPlayersInQueue += depth
	}

	s.statsMu.Lock()
	stats.TotalMatches = s.totalMatches
	stats.SuccessfulMatches = s.successfulMatches
	stats.FailedMatches = s.failedMatches
	if len(s.waitTimesSeconds) > 0 {
		stats.AverageWaitTime = stat.Mean(s.waitTimesSeconds, nil)
	}
	s.statsMu.Unlock()

	return stats
}

func (s *Service) recordWait(wait time.Duration) {
	s.statsMu.Lock()
	s.waitTimesSeconds = append(s.waitTimesSeconds, wait.Seconds())
	s.statsMu.Unlock()
}

// notify pushes one matchmaking event to the player. Delivery is best
// effort; a send failure never affects matchmaking state.
func (s *Service) notify(scope *envelope.Scope, player *models.PlayerPresence, eventType string, data map[string]interface{}) {
	if player == nil || player.Peer == nil {
		return
	}

	payload, err := json.Marshal(models.Notification{
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		scope.Log.WithError(err).Error("failed to marshal matchmaking notification")
		return
	}

	err = player.Peer.Send(transport.Message{
		OpCode:       constants.OpMatchmakingNotification,
		Data:         payload,
		DeliveryMode: transport.DeliveryReliableOrdered,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		scope.Log.WithError(err).Warnf("failed to send %s notification to %s", eventType, player.Username)
	}
}

func (s *Service) queue(gameMode string) (*Queue, bool) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()

	q, ok := s.queues[gameMode]
	return q, ok
}

func (s *Service) modeConfig(gameMode string) *models.GameModeConfig {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()

	return s.configs[gameMode]
}

func (s *Service) allQueues() []*Queue {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()

	out := make([]*Queue, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, q)
	}

	return out
}
