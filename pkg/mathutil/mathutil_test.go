// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package mathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(0, 1, 60))
	assert.Equal(t, 1, Clamp(-10, 1, 60))
	assert.Equal(t, 60, Clamp(200, 1, 60))
	assert.Equal(t, 30, Clamp(30, 1, 60))
	assert.Equal(t, 2.5, Clamp(2.5, 1.0, 5.0))
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, 5, Max(3, 5))
	assert.Equal(t, 3, Min(3, 5))
	assert.Equal(t, "b", Max("a", "b"))
}

func TestAbs(t *testing.T) {
	assert.Equal(t, 7, Abs(-7))
	assert.Equal(t, 7, Abs(7))
	assert.Equal(t, 0, Abs(0))
	assert.Equal(t, 1.5, Abs(-1.5))
}
