// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package engine

import (
	"github.com/AccelByte/extend-match-engine/pkg/models"
	"github.com/AccelByte/extend-match-engine/pkg/utils"
)

// BaseMatchHandler supplies safe defaults for every callback except
// MatchLoop: accept-all joins, presence bookkeeping, log-only terminate.
// Concrete handlers embed it and override what they need.
type BaseMatchHandler struct {
	Name string
}

func (b *BaseMatchHandler) HandlerName() string {
	return b.Name
}

func (b *BaseMatchHandler) MatchInit(ctx *MatchContext, params map[string]interface{}) (*models.MatchState, error) {
	state := models.NewMatchState(ctx.MatchID)
	state.Label = b.Name

	if label, ok := utils.GetMapValueAs[string](params, "label"); ok {
		state.Label = label
	}
	if rate, ok := utils.GetMapValueAs[int](params, "tick_rate"); ok {
		state.TickRate = rate
	} else if rate, ok := utils.GetMapValueAs[float64](params, "tick_rate"); ok {
		// JSON numbers arrive as float64
		state.TickRate = int(rate)
	}

	ctx.Scope.Log.Infof("match %s initialized with handler %s", ctx.MatchID, b.Name)

	return state, nil
}

func (b *BaseMatchHandler) MatchJoinAttempt(ctx *MatchContext, state *models.MatchState, presence *models.PlayerPresence) (bool, error) {
	return true, nil
}

func (b *BaseMatchHandler) MatchJoin(ctx *MatchContext, state *models.MatchState, presences []*models.PlayerPresence) (*models.MatchState, error) {
	for _, presence := range presences {
		ctx.Scope.Log.Infof("player %s (%s) joined match %s", presence.Username, presence.UserID, ctx.MatchID)
		state.AddPresence(presence)
	}
	state.Touch()

	return state, nil
}

func (b *BaseMatchHandler) MatchLeave(ctx *MatchContext, state *models.MatchState, presences []*models.PlayerPresence) (*models.MatchState, error) {
	for _, presence := range presences {
		ctx.Scope.Log.Infof("player %s (%s) left match %s", presence.Username, presence.UserID, ctx.MatchID)
		state.RemovePresence(presence.SessionID)
	}
	state.Touch()

	return state, nil
}

func (b *BaseMatchHandler) MatchTerminate(ctx *MatchContext, state *models.MatchState, graceSeconds int) (*models.MatchState, error) {
	ctx.Scope.Log.Infof("match %s terminating with %ds grace period", ctx.MatchID, graceSeconds)

	return state, nil
}

func (b *BaseMatchHandler) MatchSignal(ctx *MatchContext, state *models.MatchState, signal string) (*models.MatchState, string, error) {
	return state, "", nil
}
