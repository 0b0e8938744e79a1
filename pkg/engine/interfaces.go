// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package engine hosts the authoritative match execution core: a registry of
// independently ticked match instances driven by pluggable simulation
// handlers, bridged to the network transport.
package engine

import (
	"github.com/AccelByte/extend-match-engine/pkg/envelope"
	"github.com/AccelByte/extend-match-engine/pkg/models"
)

/*
MatchHandler is the pluggable per-game-mode simulation. The engine owns the
lifecycle and the single live MatchState; the handler owns the semantics.
Every callback returns the state the match should carry forward - returning
the same pointer is fine, returning nil from MatchLoop ends the match, and
returning an error escalates to an immediate zero-grace termination of that
match only. Callbacks may block; the engine never runs two callbacks for the
same match concurrently.
*/
type MatchHandler interface {
	// HandlerName identifies the handler in the engine registry.
	HandlerName() string

	// MatchInit builds the initial state. Returning nil state (or an error)
	// aborts the match creation.
	MatchInit(ctx *MatchContext, params map[string]interface{}) (*models.MatchState, error)

	// MatchLoop runs once per tick with the messages queued since the
	// previous tick, in arrival order. Returning nil state terminates the
	// match.
	MatchLoop(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error)

	// MatchJoinAttempt decides whether the presence may join. A false result
	// rejects the player without touching state.
	MatchJoinAttempt(ctx *MatchContext, state *models.MatchState, presence *models.PlayerPresence) (bool, error)

	// MatchJoin admits accepted presences into the state.
	MatchJoin(ctx *MatchContext, state *models.MatchState, presences []*models.PlayerPresence) (*models.MatchState, error)

	// MatchLeave removes departing presences from the state.
	MatchLeave(ctx *MatchContext, state *models.MatchState, presences []*models.PlayerPresence) (*models.MatchState, error)

	// MatchTerminate runs once when the match shuts down, with the grace
	// period the caller granted. Best effort: failures are logged, never
	// propagated.
	MatchTerminate(ctx *MatchContext, state *models.MatchState, graceSeconds int) (*models.MatchState, error)

	// MatchSignal handles an out-of-band control message and may answer with
	// a response string.
	MatchSignal(ctx *MatchContext, state *models.MatchState, signal string) (*models.MatchState, string, error)
}

// Dispatcher is the outbound surface the engine exposes to handlers through
// the match context. All sends are fire-and-forget: failures are logged and
// swallowed so a dead peer can never abort match processing.
type Dispatcher interface {
	// BroadcastMessage sends to the given recipients, or to every presence
	// in the match when recipients is nil.
	BroadcastMessage(opCode int, data []byte, recipients []*models.PlayerPresence)

	SendToPlayer(player *models.PlayerPresence, opCode int, data []byte)

	// KickPlayer sends a kick payload, waits briefly so it can flush, then
	// disconnects the peer and removes the player from the match.
	KickPlayer(player *models.PlayerPresence, reason string)

	UpdateMatchLabel(label string)
}

// MatchContext is handed to every handler callback. It is scoped to one
// match for its whole lifetime.
type MatchContext struct {
	MatchID    string
	NodeID     string
	Scope      *envelope.Scope
	Dispatcher Dispatcher
	Env        map[string]string
}
