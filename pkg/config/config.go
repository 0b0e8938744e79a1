// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package config

import (
	env "github.com/caarlos0/env"
)

type Config struct {
	ConnectionKey                string `env:"CONNECTION_KEY"                  envDefault:""    envDocs:"shared secret checked on connection requests (empty disables the check)"`
	MatchmakingIntervalSecond    int    `env:"MATCHMAKING_INTERVAL_SECOND"     envDefault:"2"   envDocs:"interval between matching sweeps over all game mode queues"`
	TicketCleanupIntervalSecond  int    `env:"TICKET_CLEANUP_INTERVAL_SECOND"  envDefault:"30"  envDocs:"interval between ticket expiry sweeps"`
	MatchCleanupIntervalSecond   int    `env:"MATCH_CLEANUP_INTERVAL_SECOND"   envDefault:"30"  envDocs:"interval between terminated/inactive match sweeps"`
	MatchInactivityTimeoutMinute int    `env:"MATCH_INACTIVITY_TIMEOUT_MINUTE" envDefault:"30"  envDocs:"matches idle longer than this are evicted by the cleanup sweep"`
	EstimatedWaitMinSecond       int    `env:"ESTIMATED_WAIT_MIN_SECOND"       envDefault:"5"   envDocs:"floor for the user-facing estimated queue wait"`
	EstimatedWaitMaxSecond       int    `env:"ESTIMATED_WAIT_MAX_SECOND"       envDefault:"300" envDocs:"cap for the user-facing estimated queue wait"`
}

// FromEnv builds a Config from process environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
