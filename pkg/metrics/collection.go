// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type prometheusMetrics struct {
	activeMatches       prometheus.Gauge
	matchTickDuration   prometheus.HistogramVec
	playersInQueue      prometheus.GaugeVec
	matchesCreated      prometheus.CounterVec
	matchesFailed       prometheus.CounterVec
	matchmakingWaitTime prometheus.HistogramVec
	unmatchedReasons    prometheus.CounterVec
}

func setupPrometheusMetrics(registry *prometheus.Registry) prometheusMetrics {
	factory := promauto.With(registry)

	activeMatches := factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "ab_me_active_matches",
			Help: "Number of matches currently registered in the engine",
		})

	//nolint:promlinter
	matchTickDuration := factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ab_me_match_tick_duration_ms",
			Help:    "A histogram of match loop tick duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"handler"})

	playersInQueue := factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ab_me_players_in_match_queue",
			Help: "Number of tickets waiting in each game mode queue",
		}, []string{"game_mode"})

	matchesCreated := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_me_matches_created_total",
			Help: "Matches successfully created from the matchmaking sweep",
		}, []string{"game_mode"})

	matchesFailed := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_me_matches_failed_total",
			Help: "Match finalizations that failed and re-enqueued their tickets",
		}, []string{"game_mode", "reason"})

	//nolint:promlinter
	matchmakingWaitTime := factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ab_me_matchmaking_wait_time_seconds",
			Help:    "A histogram of ticket wait time until a match was found",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"game_mode"})

	unmatchedReasons := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_me_unmatched_reasons",
			Help: "Reasons tickets were dropped from a queue without matching",
		}, []string{"game_mode", "reason"})

	return prometheusMetrics{
		activeMatches:       activeMatches,
		matchTickDuration:   *matchTickDuration,
		playersInQueue:      *playersInQueue,
		matchesCreated:      *matchesCreated,
		matchesFailed:       *matchesFailed,
		matchmakingWaitTime: *matchmakingWaitTime,
		unmatchedReasons:    *unmatchedReasons,
	}
}

func (metrics prometheusMetrics) SetActiveMatches(count int) {
	metrics.activeMatches.Set(float64(count))
}

func (metrics prometheusMetrics) AddMatchTick(handlerName string, elapsed time.Duration) {
	metrics.matchTickDuration.With(prometheus.Labels{"handler": handlerName}).Observe(float64(elapsed.Milliseconds()))
}

func (metrics prometheusMetrics) SetPlayersInQueue(gameMode string, count int) {
	metrics.playersInQueue.With(prometheus.Labels{"game_mode": gameMode}).Set(float64(count))
}

func (metrics prometheusMetrics) AddMatchCreated(gameMode string) {
	metrics.matchesCreated.With(prometheus.Labels{"game_mode": gameMode}).Add(1)
}

func (metrics prometheusMetrics) AddMatchFailed(gameMode string, reason string) {
	metrics.matchesFailed.With(prometheus.Labels{"game_mode": gameMode, "reason": reason}).Add(1)
}

func (metrics prometheusMetrics) AddMatchmakingWaitTime(gameMode string, wait time.Duration) {
	metrics.matchmakingWaitTime.With(prometheus.Labels{"game_mode": gameMode}).Observe(wait.Seconds())
}

func (metrics prometheusMetrics) AddUnmatchedReason(gameMode string, reason string) {
	metrics.unmatchedReasons.With(prometheus.Labels{"game_mode": gameMode, "reason": reason}).Add(1)
}
