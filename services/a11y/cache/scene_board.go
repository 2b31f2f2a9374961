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
	"slices"
	"sync"
)

// Pair is one inner window of the scene-board window and the scene-board
// element anchoring it.
type Pair struct {
	InnerWindowID   int32 `json:"inner_window_id"`
	AnchorElementID int64 `json:"anchor_element_id"`
}

// SceneBoardIndex maps inner windows of the scene-board window to their
// anchor elements, in discovery order.
//
// Description:
//
//	The scene-board window hosts many independently addressed inner
//	windows. The index remembers which scene-board element hosts which
//	inner window so scene-board lookups can fall through to the inner
//	windows' caches and invalidating the scene-board drops them as well.
//	Pairs are bidirectional: an inner window has one anchor and an anchor
//	hosts one inner window.
//
// Thread Safety: Safe for concurrent use.
type SceneBoardIndex struct {
	mu      sync.RWMutex
	anchors map[int32]int64
	windows map[int64]int32
	order   []int32
}

// NewSceneBoardIndex creates an empty index.
func NewSceneBoardIndex() *SceneBoardIndex {
	return &SceneBoardIndex{
		anchors: make(map[int32]int64),
		windows: make(map[int64]int32),
	}
}

// Insert records that anchorElementID hosts innerWindowID. Re-inserting a
// known inner window updates its anchor and keeps its discovery position.
// A pair previously using the same anchor is replaced.
func (x *SceneBoardIndex) Insert(innerWindowID int32, anchorElementID int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if other, ok := x.windows[anchorElementID]; ok && other != innerWindowID {
		x.removeLocked(other)
	}
	if old, ok := x.anchors[innerWindowID]; ok {
		delete(x.windows, old)
	} else {
		x.order = append(x.order, innerWindowID)
	}
	x.anchors[innerWindowID] = anchorElementID
	x.windows[anchorElementID] = innerWindowID
	sceneBoardPairs.Set(float64(len(x.order)))
}

// Remove forgets innerWindowID. Returns false if it was not mapped.
func (x *SceneBoardIndex) Remove(innerWindowID int32) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	ok := x.removeLocked(innerWindowID)
	sceneBoardPairs.Set(float64(len(x.order)))
	return ok
}

// removeLocked removes one pair. Caller must hold x.mu.
func (x *SceneBoardIndex) removeLocked(innerWindowID int32) bool {
	anchor, ok := x.anchors[innerWindowID]
	if !ok {
		return false
	}
	delete(x.anchors, innerWindowID)
	delete(x.windows, anchor)
	x.order = slices.DeleteFunc(x.order, func(w int32) bool { return w == innerWindowID })
	return true
}

// AnchorOf returns the scene-board element hosting innerWindowID.
func (x *SceneBoardIndex) AnchorOf(innerWindowID int32) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	anchor, ok := x.anchors[innerWindowID]
	return anchor, ok
}

// WindowOf returns the inner window hosted by anchorElementID.
func (x *SceneBoardIndex) WindowOf(anchorElementID int64) (int32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	w, ok := x.windows[anchorElementID]
	return w, ok
}

// InnerWindows returns the mapped inner windows in discovery order.
func (x *SceneBoardIndex) InnerWindows() []int32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.order)
}

// Pairs returns every pair in discovery order.
func (x *SceneBoardIndex) Pairs() []Pair {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Pair, len(x.order))
	for i, w := range x.order {
		out[i] = Pair{InnerWindowID: w, AnchorElementID: x.anchors[w]}
	}
	return out
}

// Len returns the number of pairs.
func (x *SceneBoardIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.order)
}

// Clear removes every pair.
func (x *SceneBoardIndex) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	clear(x.anchors)
	clear(x.windows)
	x.order = nil
	sceneBoardPairs.Set(0)
}
