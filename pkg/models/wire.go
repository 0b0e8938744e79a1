// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import "time"

// Control-plane payloads carried on the reserved opcode range.

type CreateMatchRequest struct {
	HandlerName string                 `json:"handler_name"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type CreateMatchResponse struct {
	Success bool   `json:"success"`
	MatchID string `json:"match_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type JoinMatchRequest struct {
	MatchID string `json:"match_id"`
}

type JoinMatchResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type LeaveMatchRequest struct {
	MatchID string `json:"match_id"`
}

type LeaveMatchResponse struct {
	Success bool `json:"success"`
}

type FindMatchRequest struct {
	GameMode    string                 `json:"game_mode"`
	SkillLevel  int                    `json:"skill_level"`
	Region      string                 `json:"region"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
}

type FindMatchResponse struct {
	Success  bool   `json:"success"`
	TicketID string `json:"ticket_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

type CancelMatchmakingResponse struct {
	Success bool `json:"success"`
}

// Notification is the matchmaking event envelope delivered on
// OpMatchmakingNotification.
type Notification struct {
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// KickPayload is sent on OpKick just before the peer is disconnected.
type KickPayload struct {
	Reason string `json:"reason"`
}
