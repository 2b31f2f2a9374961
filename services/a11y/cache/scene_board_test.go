// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSceneBoardIndex_DiscoveryOrder(t *testing.T) {
	x := NewSceneBoardIndex()
	x.Insert(9, 90)
	x.Insert(7, 70)
	x.Insert(8, 80)

	assert.Equal(t, []int32{9, 7, 8}, x.InnerWindows(), "not sorted")
	assert.Equal(t, []Pair{{9, 90}, {7, 70}, {8, 80}}, x.Pairs())

	anchor, ok := x.AnchorOf(7)
	assert.True(t, ok)
	assert.Equal(t, int64(70), anchor)

	w, ok := x.WindowOf(80)
	assert.True(t, ok)
	assert.Equal(t, int32(8), w)
}

func TestSceneBoardIndex_ReinsertKeepsPosition(t *testing.T) {
	x := NewSceneBoardIndex()
	x.Insert(9, 90)
	x.Insert(7, 70)
	x.Insert(9, 91)

	assert.Equal(t, []int32{9, 7}, x.InnerWindows())
	_, ok := x.WindowOf(90)
	assert.False(t, ok, "old anchor released")
	w, _ := x.WindowOf(91)
	assert.Equal(t, int32(9), w)
}

func TestSceneBoardIndex_AnchorMovesToNewWindow(t *testing.T) {
	x := NewSceneBoardIndex()
	x.Insert(9, 90)
	x.Insert(7, 90)

	_, ok := x.AnchorOf(9)
	assert.False(t, ok)
	assert.Equal(t, []int32{7}, x.InnerWindows())
}

func TestSceneBoardIndex_RemoveAndClear(t *testing.T) {
	x := NewSceneBoardIndex()
	x.Insert(9, 90)
	x.Insert(7, 70)

	assert.True(t, x.Remove(9))
	assert.False(t, x.Remove(9))
	assert.Equal(t, []int32{7}, x.InnerWindows())
	assert.Equal(t, 1, x.Len())

	x.Clear()
	assert.Zero(t, x.Len())
	assert.Empty(t, x.InnerWindows())
	_, ok := x.AnchorOf(7)
	assert.False(t, ok)
}
