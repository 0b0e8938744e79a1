// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EngineMetrics interface {
	SetActiveMatches(count int)
	AddMatchTick(handlerName string, elapsed time.Duration)
	SetPlayersInQueue(gameMode string, count int)
	AddMatchCreated(gameMode string)
	AddMatchFailed(gameMode string, reason string)
	AddMatchmakingWaitTime(gameMode string, wait time.Duration)
	AddUnmatchedReason(gameMode string, reason string)
}

func NewMetrics(registry *prometheus.Registry) EngineMetrics {
	return setupPrometheusMetrics(registry)
}
