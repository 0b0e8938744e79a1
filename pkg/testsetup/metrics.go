package testsetup

import (
	"time"

	"github.com/AccelByte/extend-match-engine/pkg/metrics"
)

type stubMetricsCollection struct{}

func (s stubMetricsCollection) SetActiveMatches(count int) {}

func (s stubMetricsCollection) AddMatchTick(handlerName string, elapsed time.Duration) {}

func (s stubMetricsCollection) SetPlayersInQueue(gameMode string, count int) {}

func (s stubMetricsCollection) AddMatchCreated(gameMode string) {}

func (s stubMetricsCollection) AddMatchFailed(gameMode string, reason string) {}

func (s stubMetricsCollection) AddMatchmakingWaitTime(gameMode string, wait time.Duration) {}

func (s stubMetricsCollection) AddUnmatchedReason(gameMode string, reason string) {}

func NewMetrics() metrics.EngineMetrics {
	return stubMetricsCollection{}
}
