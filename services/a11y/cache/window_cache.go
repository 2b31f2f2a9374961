// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds the provider batches of each window together with
// the scene-board window index, and rebuilds assembled trees from them.
package cache

import (
	"container/list"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/a11ysync/services/a11y/assembler"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

// windowEntry is the cached content of one window. It is never patched: a
// new write replaces the whole entry.
type windowEntry struct {
	windowID int32
	nodes    map[int64]element.ElementSnapshot
	order    []int64

	// roots maps every tree stored as a complete root batch to whether it
	// hangs below a virtual root.
	roots map[int32]bool
}

// Write is the stored form of one window.
type Write struct {
	WindowID int32

	// Nodes are the window's nodes as the provider reported them: no
	// virtual root, parents and child lists untouched by splicing.
	Nodes []element.ElementSnapshot

	// Roots maps each tree answered by a consistent root query to whether
	// its batch had a virtual root. RootTree needs the main tree of the
	// window and of every window spliced into it.
	Roots map[int32]bool
}

// WindowCache caches whole element trees per window.
//
// Description:
//
//	Each window maps element ids to snapshots in provider form and is
//	written as a unit by Commit or Replace. Assembled trees are rebuilt
//	from the stored batches on read, so synthesized virtual roots and
//	splice links are never stored. The number of windows is bounded; when
//	full the oldest written window is evicted (first in, first out, where
//	re-writing a window makes it the newest). Lookups never reach the
//	provider: a miss is reported to the caller who decides whether to
//	fetch.
//
//	Writers capture Version before querying the provider. Commit drops the
//	windows invalidated or cleared after that version, so a batch fetched
//	before a structural change never lands after it.
//
// Thread Safety: All methods are safe for concurrent use. The cache lock
// is independent of any caller lock and is taken before the scene-board
// index lock.
//
// Performance:
//
//	| Operation  | Complexity            |
//	|------------|-----------------------|
//	| Get        | O(1)                  |
//	| Commit     | O(n) in written nodes |
//	| RootTree   | O(n) in tree size     |
//	| Invalidate | O(k) in inner windows |
type WindowCache struct {
	mu      sync.RWMutex
	opts    CacheOptions
	entries map[int32]*list.Element
	order   *list.List // Front = newest, Back = oldest
	index   *SceneBoardIndex
	logger  *slog.Logger

	// seq advances on every invalidation. invalidatedAt and clearedAt
	// hold the seq of the last one per window and for the whole cache.
	seq           uint64
	invalidatedAt map[int32]uint64
	clearedAt     uint64

	hits          atomic.Int64
	misses        atomic.Int64
	evictions     atomic.Int64
	replacements  atomic.Int64
	invalidations atomic.Int64
	failClosed    atomic.Int64
	staleWrites   atomic.Int64
}

// NewWindowCache creates an empty cache.
//
// Inputs:
//   - opts: Functional options. Defaults to DefaultMaxWindows windows and
//     a fresh SceneBoardIndex.
//
// Outputs:
//   - *WindowCache: The cache. Never nil.
func NewWindowCache(opts ...CacheOption) *WindowCache {
	o := DefaultCacheOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Index == nil {
		o.Index = NewSceneBoardIndex()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &WindowCache{
		opts:    o,
		entries:       make(map[int32]*list.Element, o.MaxWindows),
		order:         list.New(),
		index:         o.Index,
		logger:        o.Logger,
		invalidatedAt: make(map[int32]uint64),
	}
}

// Index returns the scene-board index used by the cache.
func (c *WindowCache) Index() *SceneBoardIndex {
	return c.index
}

// Replace stores nodes as the main-tree root batch of windowID,
// regardless of pending invalidations.
//
// Description:
//
//	Swaps the whole entry atomically; concurrent readers observe either
//	the old or the new content, never a mix. The window becomes the
//	newest. When the cache holds more than MaxWindows windows afterwards,
//	the oldest is evicted. Replacing with no nodes removes the window.
//
// Outputs:
//   - []int32: Windows evicted to make room, oldest first.
func (c *WindowCache) Replace(windowID int32, nodes []element.ElementSnapshot) []int32 {
	if len(nodes) == 0 {
		c.Remove(windowID)
		return nil
	}
	w := Write{WindowID: windowID, Nodes: nodes, Roots: map[int32]bool{element.MainTreeID: false}}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(w)
}

// Version returns the current invalidation sequence. Capture it before
// querying the provider and pass it to Commit.
func (c *WindowCache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// Commit stores the windows of one provider round trip.
//
// Description:
//
//	Windows invalidated, and every window when the cache was cleared,
//	after version are skipped: their batches predate the change. Writes
//	without nodes are ignored. Scene-board nodes declaring an inner
//	window are recorded in the index. Each stored window becomes the
//	newest; eviction runs as in Replace.
//
// Inputs:
//   - version: The Version captured before the provider was queried.
//   - writes: One entry per window, in discovery order.
//
// Outputs:
//   - stored: The windows written.
//   - evicted: Windows evicted to make room, oldest first.
func (c *WindowCache) Commit(version uint64, writes []Write) (stored, evicted []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, w := range writes {
		if len(w.Nodes) == 0 {
			continue
		}
		if c.clearedAt > version || c.invalidatedAt[w.WindowID] > version {
			c.staleWrites.Add(1)
			cacheStaleWritesTotal.Inc()
			c.logger.Debug("dropped element batch fetched before an invalidation",
				slog.Int("window_id", int(w.WindowID)),
				slog.Uint64("version", version),
			)
			continue
		}
		if w.WindowID == element.SceneBoardWindowID {
			for _, n := range w.Nodes {
				if inner, ok := n.ChildWindow(); ok && inner != element.SceneBoardWindowID {
					c.index.Insert(inner, n.ElementID)
				}
			}
		}
		evicted = append(evicted, c.putLocked(w)...)
		stored = append(stored, w.WindowID)
	}
	return stored, evicted
}

// putLocked swaps in the entry for w and evicts the oldest windows while
// over capacity. Caller must hold c.mu for writing.
func (c *WindowCache) putLocked(w Write) []int32 {
	entry := &windowEntry{
		windowID: w.WindowID,
		nodes:    make(map[int64]element.ElementSnapshot, len(w.Nodes)),
		order:    make([]int64, 0, len(w.Nodes)),
		roots:    make(map[int32]bool, len(w.Roots)),
	}
	for _, n := range w.Nodes {
		if _, dup := entry.nodes[n.ElementID]; !dup {
			entry.order = append(entry.order, n.ElementID)
		}
		entry.nodes[n.ElementID] = n.Clone()
	}
	for tree, virtual := range w.Roots {
		entry.roots[tree] = virtual
	}

	if elem, ok := c.entries[w.WindowID]; ok {
		c.order.Remove(elem)
	}
	c.entries[w.WindowID] = c.order.PushFront(entry)
	c.replacements.Add(1)
	cacheReplacementsTotal.Inc()

	var evicted []int32
	for c.order.Len() > c.opts.MaxWindows {
		oldest := c.order.Back()
		e := oldest.Value.(*windowEntry)
		c.order.Remove(oldest)
		delete(c.entries, e.windowID)
		evicted = append(evicted, e.windowID)
		c.evictions.Add(1)
		cacheEvictionsTotal.Inc()
		c.logger.Debug("evicted window from element cache",
			slog.Int("window_id", int(e.windowID)),
			slog.Int("elements", len(e.order)),
		)
	}
	cacheWindows.Set(float64(c.order.Len()))
	return evicted
}

// Get returns one cached element. A node continuing in a stored window or
// tree lists the head of that subtree among its children, as a by-id
// assembly does.
func (c *WindowCache) Get(windowID int32, elementID int64) (element.ElementSnapshot, bool) {
	c.mu.RLock()
	n, ok := c.getLocked(windowID, elementID)
	if ok {
		n = c.viewLocked(n)
	}
	c.mu.RUnlock()

	c.countLookup("get", ok)
	return n, ok
}

// Lookup is Get with scene-board fallback: a miss in the scene-board
// window is retried in each known inner window, in discovery order.
func (c *WindowCache) Lookup(windowID int32, elementID int64) (element.ElementSnapshot, bool) {
	var inner []int32
	if windowID == element.SceneBoardWindowID {
		inner = c.index.InnerWindows()
	}

	c.mu.RLock()
	n, ok := c.getLocked(windowID, elementID)
	for _, w := range inner {
		if ok {
			break
		}
		n, ok = c.getLocked(w, elementID)
	}
	if ok {
		n = c.viewLocked(n)
	}
	c.mu.RUnlock()

	c.countLookup("lookup", ok)
	return n, ok
}

// getLocked reads one element. Caller must hold c.mu.
func (c *WindowCache) getLocked(windowID int32, elementID int64) (element.ElementSnapshot, bool) {
	elem, ok := c.entries[windowID]
	if !ok {
		return element.ElementSnapshot{}, false
	}
	n, ok := elem.Value.(*windowEntry).nodes[elementID]
	return n, ok
}

// viewLocked returns a copy of n with the head of its stored continuation
// appended to ChildIDs. Caller must hold c.mu.
func (c *WindowCache) viewLocked(n element.ElementSnapshot) element.ElementSnapshot {
	n = n.Clone()
	if !n.HasContinuation() {
		return n
	}
	if head, ok := c.headLocked(n.Continuation()); ok && !slices.Contains(n.ChildIDs, head) {
		n.ChildIDs = append(n.ChildIDs, head)
	}
	return n
}

// headLocked returns the id assembly gives the first node of a stored root
// batch: the first virtual root id of a call, else the batch root. Caller
// must hold c.mu.
func (c *WindowCache) headLocked(windowID, treeID int32) (int64, bool) {
	nodes, virtual, ok := c.rootBatchLocked(windowID, treeID)
	if !ok || len(nodes) == 0 {
		return 0, false
	}
	if virtual {
		return element.VirtualRootID - 1, true
	}
	for _, n := range nodes {
		if n.IsRoot {
			return n.ElementID, true
		}
	}
	return nodes[0].ElementID, true
}

// RootTree returns the assembled tree of windowID rebuilt from cached
// batches.
//
// Description:
//
//	Replays assembly over the stored root batches of the window and of
//	every window or tree spliced into it, so the result equals a fresh
//	assembly of the same provider answers. If any batch is missing or any
//	listed child id cannot be found the rebuild fails closed: nothing is
//	returned rather than a partial tree.
//
// Outputs:
//   - []element.ElementSnapshot: The tree, root first.
//   - bool: False on a miss or a fail-closed rebuild.
func (c *WindowCache) RootTree(windowID int32) ([]element.ElementSnapshot, bool) {
	c.mu.RLock()
	_, cached := c.entries[windowID]
	var (
		nodes []element.ElementSnapshot
		ok    bool
	)
	if cached {
		nodes, ok = assembler.Rebuild(windowID, c.rootBatchLocked)
	}
	c.mu.RUnlock()

	if cached && !ok {
		c.failClosed.Add(1)
		cacheFailClosedTotal.Inc()
		c.logger.Debug("cached root tree is incomplete",
			slog.Int("window_id", int(windowID)),
		)
	}
	c.countLookup("root", ok)
	return nodes, ok
}

// rootBatchLocked returns the stored root batch of one window tree in
// stored order. Caller must hold c.mu.
func (c *WindowCache) rootBatchLocked(windowID, treeID int32) ([]element.ElementSnapshot, bool, bool) {
	elem, ok := c.entries[windowID]
	if !ok {
		return nil, false, false
	}
	entry := elem.Value.(*windowEntry)
	virtual, ok := entry.roots[treeID]
	if !ok {
		return nil, false, false
	}

	nodes := make([]element.ElementSnapshot, 0, len(entry.order))
	for _, id := range entry.order {
		if n := entry.nodes[id]; n.TreeID() == treeID {
			nodes = append(nodes, n)
		}
	}
	return nodes, virtual, true
}

// Invalidate removes windowID. Invalidating the scene-board window also
// removes every inner window the index maps and clears the index. The
// provider is never contacted. Batches fetched before the call are refused
// by Commit for every target, cached or not.
//
// Outputs:
//   - []int32: The windows actually removed.
func (c *WindowCache) Invalidate(windowID int32) []int32 {
	c.mu.Lock()
	targets := []int32{windowID}
	if windowID == element.SceneBoardWindowID {
		targets = append(targets, c.index.InnerWindows()...)
		c.index.Clear()
	}

	c.seq++
	var removed []int32
	for _, w := range targets {
		c.invalidatedAt[w] = c.seq
		if c.removeLocked(w) {
			removed = append(removed, w)
		}
	}
	cacheWindows.Set(float64(c.order.Len()))
	c.mu.Unlock()

	c.invalidations.Add(int64(len(removed)))
	cacheInvalidationsTotal.Add(float64(len(removed)))
	if len(removed) > 0 {
		c.logger.Debug("invalidated element cache",
			slog.Int("window_id", int(windowID)),
			slog.Any("removed", removed),
		)
	}
	return removed
}

// Remove drops one window without touching the scene-board index.
func (c *WindowCache) Remove(windowID int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.removeLocked(windowID)
	cacheWindows.Set(float64(c.order.Len()))
	return ok
}

// removeLocked drops one window. Caller must hold c.mu.
func (c *WindowCache) removeLocked(windowID int32) bool {
	elem, ok := c.entries[windowID]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.entries, windowID)
	return true
}

// Clear drops every window and the scene-board index. Batches fetched
// before the call are refused by Commit.
func (c *WindowCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.order.Init()
	c.seq++
	c.clearedAt = c.seq
	clear(c.invalidatedAt)
	c.index.Clear()
	cacheWindows.Set(0)
}

// Contains reports whether windowID is cached.
func (c *WindowCache) Contains(windowID int32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[windowID]
	return ok
}

// Windows returns the cached window ids, oldest first.
func (c *WindowCache) Windows() []int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int32, 0, c.order.Len())
	for e := c.order.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(*windowEntry).windowID)
	}
	return out
}

// Elements returns every cached element of windowID in write order.
func (c *WindowCache) Elements(windowID int32) ([]element.ElementSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	elem, ok := c.entries[windowID]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*windowEntry)
	out := make([]element.ElementSnapshot, len(entry.order))
	for i, id := range entry.order {
		out[i] = entry.nodes[id].Clone()
	}
	return out, true
}

// Stats returns a snapshot of the cache counters.
func (c *WindowCache) Stats() CacheStats {
	c.mu.RLock()
	windows := c.order.Len()
	elements := 0
	for _, elem := range c.entries {
		elements += len(elem.Value.(*windowEntry).nodes)
	}
	c.mu.RUnlock()

	return CacheStats{
		WindowCount:     windows,
		ElementCount:    elements,
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Evictions:       c.evictions.Load(),
		Replacements:    c.replacements.Load(),
		Invalidations:   c.invalidations.Load(),
		FailClosed:      c.failClosed.Load(),
		StaleWrites:     c.staleWrites.Load(),
		MaxWindows:      c.opts.MaxWindows,
		SceneBoardPairs: c.index.Len(),
	}
}

func (c *WindowCache) countLookup(op string, hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	recordLookup(op, hit)
}
