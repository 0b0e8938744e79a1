// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMapValueAs(t *testing.T) {
	m := map[string]interface{}{
		"label": "ranked",
		"rate":  float64(30),
	}

	label, ok := GetMapValueAs[string](m, "label")
	assert.True(t, ok)
	assert.Equal(t, "ranked", label)

	rate, ok := GetMapValueAs[float64](m, "rate")
	assert.True(t, ok)
	assert.Equal(t, float64(30), rate)

	// wrong type
	_, ok = GetMapValueAs[int](m, "label")
	assert.False(t, ok)

	// missing key
	_, ok = GetMapValueAs[string](m, "nope")
	assert.False(t, ok)

	// nil map
	_, ok = GetMapValueAs[string](nil, "label")
	assert.False(t, ok)
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"a", "b"}, "b"))
	assert.False(t, Contains([]string{"a", "b"}, "c"))
	assert.False(t, Contains(nil, 1))
}
