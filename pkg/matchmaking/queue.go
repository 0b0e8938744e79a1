// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package matchmaking implements the skill- and preference-aware queueing
// engine: per-game-mode ticket queues, the periodic matching sweep and the
// queue-state notification contract.
package matchmaking

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/AccelByte/extend-match-engine/pkg/constants"
	"github.com/AccelByte/extend-match-engine/pkg/envelope"
	"github.com/AccelByte/extend-match-engine/pkg/mathutil"
	"github.com/AccelByte/extend-match-engine/pkg/metrics"
	"github.com/AccelByte/extend-match-engine/pkg/models"
	"github.com/AccelByte/extend-match-engine/pkg/utils"
)

// Queue is the holding pen of waiting tickets for exactly one game mode.
// The matching algorithm destructively drains and rebuilds the ticket list,
// so everything runs under one exclusive lock per queue. Different queues
// never contend with each other.
type Queue struct {
	gameMode string
	metrics  metrics.EngineMetrics

	mu      sync.Mutex
	config  *models.GameModeConfig
	tickets []*models.MatchmakingTicket
}

func NewQueue(gameMode string, cfg *models.GameModeConfig, m metrics.EngineMetrics) *Queue {
	return &Queue{
		gameMode: gameMode,
		config:   cfg,
		metrics:  m,
	}
}

// GameMode returns the mode this queue serves.
func (q *Queue) GameMode() string {
	return q.gameMode
}

// SetConfig swaps the matching policy. Waiting tickets are kept and matched
// under the new policy from the next attempt on.
func (q *Queue) SetConfig(cfg *models.GameModeConfig) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.config = cfg
}

// Count returns the current queue depth.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tickets)
}

// AddTicket stamps the ticket's game mode and appends it.
func (q *Queue) AddTicket(scope *envelope.Scope, ticket *models.MatchmakingTicket) {
	ticket.GameMode = q.gameMode

	q.mu.Lock()
	q.tickets = append(q.tickets, ticket)
	depth := len(q.tickets)
	q.mu.Unlock()

	scope.Log.Infof("added player %s to %s queue, queue size: %d", ticket.Player.Username, q.gameMode, depth)

	if q.metrics != nil {
		q.metrics.SetPlayersInQueue(q.gameMode, depth)
	}
}

// RemoveTicket removes a specific ticket if present, preserving the relative
// order of the remainder.
func (q *Queue) RemoveTicket(scope *envelope.Scope, ticketID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.tickets[:0]
	found := false
	for _, ticket := range q.tickets {
		if ticket.TicketID == ticketID {
			found = true
			scope.Log.Infof("removed player %s from %s queue", ticket.Player.Username, q.gameMode)
			continue
		}
		kept = append(kept, ticket)
	}
	q.tickets = kept

	if found && q.metrics != nil {
		q.metrics.SetPlayersInQueue(q.gameMode, len(q.tickets))
	}

	return found
}

// TryCreateMatch runs the matching search under the queue's exclusive lock.
// On success it removes the matched tickets from the queue and returns them;
// otherwise every surviving ticket is requeued untouched and nil is
// returned. Expired tickets and tickets whose player disconnected are
// dropped either way.
//
// The search is greedy and anchor-biased: the longest-waiting ticket is the
// anchor, its wait time widens the skill tolerance, and candidates are
// admitted in FIFO order. Quick matches for the oldest ticket win over
// global optimality.
func (q *Queue) TryCreateMatch(rootScope *envelope.Scope) []*models.MatchmakingTicket {
	scope := rootScope.NewChildScope("Queue.TryCreateMatch")
	defer scope.Finish()

	q.mu.Lock()
	defer q.mu.Unlock()

	available := q.drainValidLocked(scope)

	match := q.findBestMatch(available)
	if len(match) >= q.config.MinPlayers {
		matchedIDs := make([]string, 0, len(match))
		for _, ticket := range match {
			matchedIDs = append(matchedIDs, ticket.TicketID)
		}
		for _, ticket := range available {
			if !utils.Contains(matchedIDs, ticket.TicketID) {
				q.tickets = append(q.tickets, ticket)
			}
		}

		scope.Log.Infof("created match for %d players in %s", len(match), q.gameMode)
		if q.metrics != nil {
			q.metrics.SetPlayersInQueue(q.gameMode, len(q.tickets))
		}

		return match
	}

	q.tickets = append(q.tickets, available...)

	return nil
}

// findBestMatch walks the candidate tickets oldest-first and greedily builds
// one match around the anchor. Returns nil when the minimum size cannot be
// met.
func (q *Queue) findBestMatch(tickets []*models.MatchmakingTicket) []*models.MatchmakingTicket {
	if len(tickets) < q.config.MinPlayers {
		return nil
	}

	sort.SliceStable(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})

	anchor := tickets[0]
	match := []*models.MatchmakingTicket{anchor}

	tolerance := q.effectiveTolerance(anchor)

	for _, candidate := range tickets[1:] {
		if len(match) >= q.config.MaxPlayers {
			break
		}

		if mathutil.Abs(anchor.SkillLevel-candidate.SkillLevel) > tolerance {
			continue
		}
		if q.config.RequireSameRegion && anchor.Region != candidate.Region {
			continue
		}
		if !arePreferencesCompatible(anchor, candidate) {
			continue
		}

		match = append(match, candidate)
	}

	if len(match) < q.config.MinPlayers {
		return nil
	}

	return match
}

// effectiveTolerance widens the configured skill tolerance monotonically
// with the anchor's wait time.
func (q *Queue) effectiveTolerance(anchor *models.MatchmakingTicket) int {
	relaxSteps := int(anchor.WaitTime() / q.config.SkillRelaxInterval)

	return q.config.MaxSkillDifference + relaxSteps*q.config.SkillRelaxStep
}

// drainValidLocked empties the queue and returns the tickets that are still
// actionable, dropping expired and disconnected ones.
func (q *Queue) drainValidLocked(scope *envelope.Scope) []*models.MatchmakingTicket {
	available := make([]*models.MatchmakingTicket, 0, len(q.tickets))
	for _, ticket := range q.tickets {
		if ticket.IsExpired() {
			scope.Log.Warnf("ticket expired for player %s", ticket.Player.Username)
			if q.metrics != nil {
				q.metrics.AddUnmatchedReason(q.gameMode, constants.ReasonTicketExpired)
			}
			continue
		}
		if !ticket.Player.IsConnected() {
			scope.Log.Warnf("player %s disconnected, removing from queue", ticket.Player.Username)
			if q.metrics != nil {
				q.metrics.AddUnmatchedReason(q.gameMode, constants.ReasonPlayerDisconnected)
			}
			continue
		}
		available = append(available, ticket)
	}
	q.tickets = q.tickets[:0]

	return available
}

// CleanExpiredTickets removes expired and disconnected tickets without
// attempting a match.
func (q *Queue) CleanExpiredTickets(rootScope *envelope.Scope) {
	scope := rootScope.NewChildScope("Queue.CleanExpiredTickets")
	defer scope.Finish()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.tickets = q.drainValidLocked(scope)

	if q.metrics != nil {
		q.metrics.SetPlayersInQueue(q.gameMode, len(q.tickets))
	}
}

// Snapshot returns a point-in-time copy of the waiting tickets.
func (q *Queue) Snapshot() []models.MatchmakingTicket {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.MatchmakingTicket, 0, len(q.tickets))
	for _, ticket := range q.tickets {
		out = append(out, *ticket)
	}

	return out
}

// arePreferencesCompatible requires equality on every shared preference key.
// A key present on only one side is compatible by default.
func arePreferencesCompatible(a, b *models.MatchmakingTicket) bool {
	for key, av := range a.Preferences {
		bv, shared := b.Preferences[key]
		if shared && !reflect.DeepEqual(av, bv) {
			return false
		}
	}

	return true
}

// oldestWait returns how long the oldest ticket has waited; zero for an
// empty queue.
func (q *Queue) oldestWait() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	var oldest time.Duration
	for _, ticket := range q.tickets {
		oldest = mathutil.Max(oldest, ticket.WaitTime())
	}

	return oldest
}
