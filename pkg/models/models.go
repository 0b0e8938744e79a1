// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/copystructure"
	ulid "github.com/oklog/ulid/v2"

	"github.com/AccelByte/extend-match-engine/pkg/constants"
	"github.com/AccelByte/extend-match-engine/pkg/mathutil"
	"github.com/AccelByte/extend-match-engine/pkg/transport"
)

// PlayerPresence is one connected participant. The Peer reference is weak:
// the presence never owns the connection, and connectivity is always derived
// from the peer rather than stored.
type PlayerPresence struct {
	UserID    string                 `json:"user_id"`
	SessionID string                 `json:"session_id"`
	Username  string                 `json:"username"`
	Peer      transport.Peer         `json:"-"`
	JoinTime  time.Time              `json:"join_time"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// IsConnected reports whether the presence still has a live transport peer.
func (p *PlayerPresence) IsConnected() bool {
	return p != nil && p.Peer != nil && p.Peer.IsConnected()
}

// MatchState is the per-match mutable snapshot. Exactly one MatchState is
// live per match; handler callbacks return a new-or-same state which replaces
// it wholesale, they never mutate another copy.
type MatchState struct {
	MatchID      string                 `json:"match_id"`
	Label        string                 `json:"label"`
	TickRate     int                    `json:"tick_rate"`
	TickCount    int64                  `json:"tick_count"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
	Terminated   bool                   `json:"terminated"`
	Presences    []*PlayerPresence      `json:"presences"`
	GameData     map[string]interface{} `json:"game_data,omitempty"`
}

// NewMatchState returns a state with the default tick rate and fresh
// timestamps.
func NewMatchState(matchID string) *MatchState {
	now := time.Now().UTC()

	return &MatchState{
		MatchID:      matchID,
		TickRate:     constants.DefaultTickRate,
		CreatedAt:    now,
		LastActivity: now,
		Presences:    make([]*PlayerPresence, 0),
		GameData:     make(map[string]interface{}),
	}
}

// ClampedTickRate returns the tick rate limited to the supported range.
func (s *MatchState) ClampedTickRate() int {
	return mathutil.Clamp(s.TickRate, constants.MinTickRate, constants.MaxTickRate)
}

// Touch refreshes the last-activity timestamp.
func (s *MatchState) Touch() {
	s.LastActivity = time.Now().UTC()
}

// HasSession reports whether a presence with the given session id is in the
// match.
func (s *MatchState) HasSession(sessionID string) bool {
	for _, p := range s.Presences {
		if p.SessionID == sessionID {
			return true
		}
	}
	return false
}

// AddPresence appends the presence, keeping join order.
func (s *MatchState) AddPresence(p *PlayerPresence) {
	s.Presences = append(s.Presences, p)
}

// RemovePresence drops every presence with the given session id, preserving
// the order of the remainder.
func (s *MatchState) RemovePresence(sessionID string) {
	kept := s.Presences[:0]
	for _, p := range s.Presences {
		if p.SessionID != sessionID {
			kept = append(kept, p)
		}
	}
	s.Presences = kept
}

// Copy returns a deep copy of the state. Peer references are shared, they
// are weak by contract.
func (s *MatchState) Copy() (*MatchState, error) {
	copied, err := copystructure.Copy(s)
	if err != nil {
		return nil, err
	}
	state, ok := copied.(*MatchState)
	if !ok {
		return nil, fmt.Errorf("unexpected copy type %T", copied)
	}

	return state, nil
}

// MatchMessage is one inbound gameplay event, immutable once created.
type MatchMessage struct {
	OpCode     int
	Data       []byte
	Sender     *PlayerPresence
	ReceivedAt time.Time
}

// MatchInfo is a read-only projection of one running match.
type MatchInfo struct {
	MatchID     string    `json:"match_id"`
	HandlerName string    `json:"handler_name"`
	Label       string    `json:"label"`
	PlayerCount int       `json:"player_count"`
	TickRate    int       `json:"tick_rate"`
	TickCount   int64     `json:"tick_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// MatchmakingTicket is one player's outstanding wait-for-match request.
// Ticket ids are ULIDs so lexical order follows creation order.
type MatchmakingTicket struct {
	TicketID    string                 `json:"ticket_id"`
	Player      *PlayerPresence        `json:"player"`
	GameMode    string                 `json:"game_mode"`
	SkillLevel  int                    `json:"skill_level"`
	Region      string                 `json:"region"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	LastUpdate  time.Time              `json:"last_update"`
	MaxWaitTime time.Duration          `json:"max_wait_time"`
}

// NewMatchmakingTicket builds a ticket with defaults matching the original
// request surface: skill 1000, region "default", five minute expiry.
func NewMatchmakingTicket(player *PlayerPresence, gameMode string, skillLevel int, region string, preferences map[string]interface{}) *MatchmakingTicket {
	if skillLevel <= 0 {
		skillLevel = 1000
	}
	if region == "" {
		region = "default"
	}
	if preferences == nil {
		preferences = make(map[string]interface{})
	}
	now := time.Now().UTC()

	return &MatchmakingTicket{
		TicketID:    ulid.Make().String(),
		Player:      player,
		GameMode:    gameMode,
		SkillLevel:  skillLevel,
		Region:      region,
		Preferences: preferences,
		CreatedAt:   now,
		LastUpdate:  now,
		MaxWaitTime: constants.DefaultTicketMaxWait,
	}
}

// IsExpired is a pure function of wall clock vs creation time.
func (t *MatchmakingTicket) IsExpired() bool {
	return time.Since(t.CreatedAt) > t.MaxWaitTime
}

// WaitTime is how long the ticket has been waiting so far.
func (t *MatchmakingTicket) WaitTime() time.Duration {
	return time.Since(t.CreatedAt)
}

// GameModeConfig is the immutable per-mode matchmaking policy.
type GameModeConfig struct {
	GameMode           string                 `json:"game_mode"`
	MinPlayers         int                    `json:"min_players"`
	MaxPlayers         int                    `json:"max_players"`
	MaxSkillDifference int                    `json:"max_skill_difference"`
	RequireSameRegion  bool                   `json:"require_same_region"`
	SkillRelaxInterval time.Duration          `json:"skill_relax_interval"`
	SkillRelaxStep     int                    `json:"skill_relax_step"`
	MatchTimeout       time.Duration          `json:"match_timeout"`
	HandlerName        string                 `json:"handler_name"`
	HandlerParameters  map[string]interface{} `json:"handler_parameters,omitempty"`
}

// Validate rejects configs the queue cannot act on.
func (c *GameModeConfig) Validate() error {
	if c.GameMode == "" {
		return errors.New("game mode name is required")
	}
	if c.MinPlayers < 1 {
		return errors.New("min players must be at least 1")
	}
	if c.MaxPlayers < c.MinPlayers {
		return errors.New("max players must be >= min players")
	}
	if c.MaxSkillDifference < 0 {
		return errors.New("max skill difference must not be negative")
	}
	if c.SkillRelaxStep < 0 {
		return errors.New("skill relax step must not be negative")
	}

	return nil
}

// SetDefaultValues fills zero fields with the defaults the original policy
// shipped with.
func (c *GameModeConfig) SetDefaultValues() {
	if c.MaxSkillDifference == 0 {
		c.MaxSkillDifference = 200
	}
	if c.SkillRelaxInterval == 0 {
		c.SkillRelaxInterval = time.Minute
	}
	if c.SkillRelaxStep == 0 {
		c.SkillRelaxStep = 50
	}
	if c.MatchTimeout == 0 {
		c.MatchTimeout = 30 * time.Second
	}
	if c.HandlerName == "" {
		c.HandlerName = c.GameMode
	}
	if c.HandlerParameters == nil {
		c.HandlerParameters = make(map[string]interface{})
	}
}

// MatchmakingStats is the aggregate matchmaking counter snapshot. Counters
// accumulate monotonically for the process lifetime.
type MatchmakingStats struct {
	TotalPlayersInQueue int            `json:"total_players_in_queue"`
	TotalMatches        int            `json:"total_matches"`
	SuccessfulMatches   int            `json:"successful_matches"`
	FailedMatches       int            `json:"failed_matches"`
	AverageWaitTime     float64        `json:"average_wait_time"`
	QueuesByGameMode    map[string]int `json:"queues_by_game_mode"`
}
