// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package constants

import "time"

// Opcode surface. Opcodes up to ControlOpcodeMax are reserved for the
// engine; anything at GameplayOpcodeMin or above is gameplay traffic and is
// fanned out verbatim to the sender's matches. Reserved opcodes that are not
// listed here are rejected, never forwarded.
const (
	OpCreateMatch       = 100
	OpJoinMatch         = 101
	OpLeaveMatch        = 102
	OpFindMatch         = 103
	OpCancelMatchmaking = 104

	OpCreateMatchResponse = 110
	OpJoinMatchResponse   = 111
	OpLeaveMatchResponse  = 112

	OpMatchmakingNotification   = 300
	OpFindMatchResponse         = 310
	OpCancelMatchmakingResponse = 311

	OpKick = 999

	ControlOpcodeMax  = 999
	GameplayOpcodeMin = 1000
)

// Tick loop bounds.
const (
	MinTickRate     = 1
	MaxTickRate     = 60
	DefaultTickRate = 10
)

const (
	// KickGraceDelay is how long the dispatcher waits after sending the kick
	// payload before force-disconnecting the peer.
	KickGraceDelay = 100 * time.Millisecond

	// StopTerminateGraceSeconds is the grace passed to every match when the
	// engine shuts down.
	StopTerminateGraceSeconds = 5

	// DefaultTicketMaxWait is how long a matchmaking ticket stays valid
	// unless the request overrides it.
	DefaultTicketMaxWait = 5 * time.Minute
)

// Matchmaking notification event types.
const (
	EventQueueJoined = "QUEUE_JOINED"
	EventQueueLeft   = "QUEUE_LEFT"
	EventMatchFound  = "MATCH_FOUND"
	EventMatchFailed = "MATCH_FAILED"
)

// Unmatched reason constants.
const (
	ReasonNotEnoughPlayers    = "not_enough_players"
	ReasonTicketExpired       = "ticket_expired"
	ReasonPlayerDisconnected  = "player_disconnected"
	ReasonSessionCreateFailed = "session_create_failed"
	ReasonSessionJoinFailed   = "session_join_failed"
)
