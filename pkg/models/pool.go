// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"gopkg.in/typ.v4/sync2"
)

// Pool reusable objects to reduce garbage collector
type Pool struct {
	MessageBatches *sync2.Pool[[]*MatchMessage]
}

func NewPool() *Pool {
	return &Pool{
		MessageBatches: &sync2.Pool[[]*MatchMessage]{
			New: func() []*MatchMessage {
				return make([]*MatchMessage, 0, 32)
			},
		},
	}
}
