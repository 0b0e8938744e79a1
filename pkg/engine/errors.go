// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyHandlerName is returned when registering a handler under an
	// empty name.
	ErrEmptyHandlerName = errors.New("handler name cannot be empty")

	// ErrHandlerNotRegistered is returned by CreateMatch for an unknown
	// handler name.
	ErrHandlerNotRegistered = errors.New("no handler registered for name")

	// ErrInitReturnedNoState is returned when a handler init callback
	// produces no state.
	ErrInitReturnedNoState = errors.New("match init returned no state")

	// ErrMatchNotFound is returned for lookups of unknown match ids.
	ErrMatchNotFound = errors.New("match not found")
)

func newHandlerPanicError(recovered interface{}) error {
	return fmt.Errorf("match handler panicked: %v", recovered)
}
