// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package engine

import (
	"encoding/json"

	"github.com/AccelByte/extend-match-engine/pkg/constants"
	"github.com/AccelByte/extend-match-engine/pkg/envelope"
	"github.com/AccelByte/extend-match-engine/pkg/matchmaking"
	"github.com/AccelByte/extend-match-engine/pkg/models"
)

// SetupMatchmaking attaches a matchmaking service backed by this engine and
// registers the given game modes. The engine is the session provider, so
// matched tickets become real match instances. Call before Start.
func (e *MatchEngine) SetupMatchmaking(scope *envelope.Scope, modeConfigs ...*models.GameModeConfig) error {
	service := matchmaking.NewService(e.cfg, e, e.metrics)

	for _, modeCfg := range modeConfigs {
		if err := service.RegisterGameMode(scope, modeCfg); err != nil {
			return err
		}
	}

	e.matchmaker = service

	return nil
}

// Matchmaking returns the attached matchmaking service, or nil when
// SetupMatchmaking was never called.
func (e *MatchEngine) Matchmaking() *matchmaking.Service {
	return e.matchmaker
}

func (e *MatchEngine) handleFindMatch(scope *envelope.Scope, presence *models.PlayerPresence, data []byte) {
	if e.matchmaker == nil {
		e.respond(scope, presence, constants.OpFindMatchResponse, models.FindMatchResponse{
			Success: false, Error: "matchmaking is not enabled",
		})
		return
	}

	var req models.FindMatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		e.respond(scope, presence, constants.OpFindMatchResponse, models.FindMatchResponse{
			Success: false, Error: "malformed find match request",
		})
		return
	}

	ticket := models.NewMatchmakingTicket(presence, req.GameMode, req.SkillLevel, req.Region, req.Preferences)
	if err := e.matchmaker.JoinQueue(scope, ticket); err != nil {
		scope.Log.WithError(err).Warnf("find match failed for %s", presence.Username)
		e.respond(scope, presence, constants.OpFindMatchResponse, models.FindMatchResponse{
			Success: false, Error: err.Error(),
		})
		return
	}

	e.respond(scope, presence, constants.OpFindMatchResponse, models.FindMatchResponse{
		Success: true, TicketID: ticket.TicketID,
	})
}

func (e *MatchEngine) handleCancelMatchmaking(scope *envelope.Scope, presence *models.PlayerPresence) {
	cancelled := false
	if e.matchmaker != nil {
		cancelled = e.matchmaker.LeaveQueue(scope, presence.SessionID)
	}

	e.respond(scope, presence, constants.OpCancelMatchmakingResponse, models.CancelMatchmakingResponse{
		Success: cancelled,
	})
}
