// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package client is the element query facade: it serves queries from the
// window cache, assembles trees from the provider on a miss and keeps the
// cache coherent with structural-change events.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/a11ysync/services/a11y/assembler"
	"github.com/AleutianAI/a11ysync/services/a11y/cache"
	"github.com/AleutianAI/a11ysync/services/a11y/channel"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/AleutianAI/a11ysync/services/a11y/events"
)

// Client answers element queries for one process.
//
// Description:
//
//	Every query needs a provider connection and establishes one through
//	the Dialer when there is none. Tree queries try the window cache
//	first; on a miss the tree is assembled from the provider, written to
//	the cache per window (and to the scene-board index) and returned.
//	Concurrent identical fetches share one provider round trip.
//
// Thread Safety: Safe for concurrent use. Queries hold the read lock for
// their whole duration; Connect, Close, SetCacheMode and connection drops
// take the write lock. The cache has its own lock.
type Client struct {
	mu     sync.RWMutex
	dialer Dialer
	ch     channel.Channel
	asm    *assembler.Assembler
	mode   element.PrefetchMode

	cache  *cache.WindowCache
	group  singleflight.Group
	logger *slog.Logger
}

// session is the connection state a query runs against.
type session struct {
	ch   channel.Channel
	asm  *assembler.Assembler
	mode element.PrefetchMode
}

// New creates a Client. No connection is made until the first query or
// Connect.
func New(dialer Dialer, opts ...Option) *Client {
	o := Options{CacheMode: DefaultCacheMode}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Cache == nil {
		o.Cache = cache.NewWindowCache(cache.WithLogger(o.Logger))
	}
	return &Client{
		dialer: dialer,
		mode:   o.CacheMode,
		cache:  o.Cache,
		logger: o.Logger,
	}
}

// Connect establishes the provider connection if there is none.
//
// Outputs:
//
//	error - Wraps element.ErrNoConnection when the provider did not come
//	  up within the dialer's bounded wait.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.ch != nil {
		return nil
	}
	ch, err := c.dialer.Connect(ctx)
	if err != nil {
		return err
	}
	c.ch = ch
	c.asm = assembler.New(ch, assembler.WithLogger(c.logger))
	return nil
}

// Connected reports whether a provider connection is established.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ch != nil
}

// Close drops the connection and every cached window.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch = nil
	c.asm = nil
	c.cache.Clear()
	return c.dialer.Close()
}

// acquire returns the current session with the read lock held,
// connecting first when needed. Callers must call release.
func (c *Client) acquire(ctx context.Context) (session, error) {
	c.mu.RLock()
	if c.ch != nil {
		return session{ch: c.ch, asm: c.asm, mode: c.mode}, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	err := c.connectLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return session{}, err
	}

	c.mu.RLock()
	if c.ch == nil {
		c.mu.RUnlock()
		return session{}, fmt.Errorf("connection dropped: %w", element.ErrNoConnection)
	}
	return session{ch: c.ch, asm: c.asm, mode: c.mode}, nil
}

// release gives up the read lock and drops the connection when the
// provider reported it unavailable.
func (c *Client) release(s session, err error) {
	c.mu.RUnlock()
	if err != nil && errors.Is(err, channel.ErrUnavailable) {
		c.drop(s.ch)
	}
}

// drop forgets ch and every cached window: events published while the
// provider was unreachable are lost.
func (c *Client) drop(ch channel.Channel) {
	c.mu.Lock()
	if c.ch == ch {
		c.ch = nil
		c.asm = nil
		c.cache.Clear()
	}
	c.mu.Unlock()
	c.dialer.Drop(ch)
}

// withSession runs fn against a connected session.
func withSession[T any](ctx context.Context, c *Client, fn func(ctx context.Context, s session) (T, error)) (T, error) {
	s, err := c.acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := fn(ctx, s)
	c.release(s, err)
	return out, err
}

// GetRoot returns the tree of the active window, root first.
func (c *Client) GetRoot(ctx context.Context) ([]element.ElementSnapshot, error) {
	return withSession(ctx, c, func(ctx context.Context, s session) ([]element.ElementSnapshot, error) {
		windowID, err := s.ch.ActiveWindow(ctx)
		if err != nil {
			return nil, providerErr("active window", err)
		}
		if windowID < 0 {
			return nil, fmt.Errorf("no active window: %w", element.ErrEmptyProviderResult)
		}
		return c.rootTree(ctx, s, windowID)
	})
}

// GetRootByWindow returns the tree of windowID, root first, with subtrees
// hosted by other windows spliced in.
//
// Description:
//
//	Served from the cache when the window's cached tree is complete;
//	otherwise assembled from the provider and cached for every window
//	that contributed nodes.
//
// Outputs:
//
//	[]element.ElementSnapshot - The tree, every node tagged with
//	  MainWindowID.
//	error - element.ErrInvalidParam for a negative window,
//	  element.ErrNoConnection, element.ErrEmptyProviderResult or
//	  element.ErrProviderQueryFailed.
func (c *Client) GetRootByWindow(ctx context.Context, windowID int32) ([]element.ElementSnapshot, error) {
	if windowID < 0 {
		return nil, fmt.Errorf("window %d: %w", windowID, element.ErrInvalidParam)
	}
	return withSession(ctx, c, func(ctx context.Context, s session) ([]element.ElementSnapshot, error) {
		return c.rootTree(ctx, s, windowID)
	})
}

func (c *Client) rootTree(ctx context.Context, s session, windowID int32) ([]element.ElementSnapshot, error) {
	if nodes, ok := c.cache.RootTree(windowID); ok {
		return nodes, nil
	}
	res, err := c.fetch(ctx, s, assembler.Request{
		WindowID:  windowID,
		ElementID: element.RootElementID,
		Mode:      s.mode,
		TreeID:    element.MainTreeID,
	})
	if err != nil {
		return nil, err
	}
	return element.CloneAll(res.Nodes), nil
}

// GetByElementID returns one element of windowID. element.RootElementID
// selects the window root.
func (c *Client) GetByElementID(ctx context.Context, windowID int32, elementID int64) (element.ElementSnapshot, error) {
	if windowID < 0 {
		return element.ElementSnapshot{}, fmt.Errorf("window %d: %w", windowID, element.ErrInvalidParam)
	}
	return withSession(ctx, c, func(ctx context.Context, s session) (element.ElementSnapshot, error) {
		if elementID == element.RootElementID {
			nodes, err := c.rootTree(ctx, s, windowID)
			if err != nil {
				return element.ElementSnapshot{}, err
			}
			return nodes[0], nil
		}
		return c.elementIn(ctx, s, []int32{windowID}, elementID)
	})
}

// GetChildElementInfo returns the child at index of parent.
func (c *Client) GetChildElementInfo(ctx context.Context, parent element.ElementSnapshot, index int) (element.ElementSnapshot, error) {
	childID, ok := parent.ChildID(index)
	if !ok {
		return element.ElementSnapshot{}, fmt.Errorf("child %d of element %d with %d children: %w",
			index, parent.ElementID, len(parent.ChildIDs), element.ErrInvalidParam)
	}
	return withSession(ctx, c, func(ctx context.Context, s session) (element.ElementSnapshot, error) {
		return c.childOf(ctx, s, parent, childID)
	})
}

// childOf returns childID of parent as the assembled tree shows it: a
// subtree head hosted elsewhere hangs below parent, and every child
// carries parent's main window. A virtual root head is rebuilt from the
// continuation.
func (c *Client) childOf(ctx context.Context, s session, parent element.ElementSnapshot, childID int64) (element.ElementSnapshot, error) {
	if element.IsSynthetic(childID) && parent.HasContinuation() {
		return c.continuationRoot(ctx, s, parent)
	}
	child, err := c.elementIn(ctx, s, childWindows(parent), childID)
	if err != nil {
		return element.ElementSnapshot{}, err
	}
	if child.WindowID != parent.WindowID || child.TreeID() != parent.TreeID() {
		if !child.Parent.IsPending() {
			child.Parent = element.RealParent(parent.ElementID)
		}
	}
	child.MainWindowID = mainWindowOf(parent)
	return child, nil
}

// GetChildren returns the children of parent in order. A parent without
// listed children that declares a child window or tree yields the root of
// that subtree.
func (c *Client) GetChildren(ctx context.Context, parent element.ElementSnapshot) ([]element.ElementSnapshot, error) {
	return withSession(ctx, c, func(ctx context.Context, s session) ([]element.ElementSnapshot, error) {
		if len(parent.ChildIDs) == 0 {
			if !parent.HasContinuation() {
				return []element.ElementSnapshot{}, nil
			}
			root, err := c.continuationRoot(ctx, s, parent)
			if err != nil {
				return nil, err
			}
			return []element.ElementSnapshot{root}, nil
		}

		out := make([]element.ElementSnapshot, 0, len(parent.ChildIDs))
		for _, childID := range parent.ChildIDs {
			child, err := c.childOf(ctx, s, parent, childID)
			if err != nil {
				return nil, err
			}
			out = append(out, child)
		}
		return out, nil
	})
}

// continuationRoot fetches the root of the subtree parent continues in.
func (c *Client) continuationRoot(ctx context.Context, s session, parent element.ElementSnapshot) (element.ElementSnapshot, error) {
	windowID, treeID := parent.Continuation()

	var root element.ElementSnapshot
	if treeID == element.MainTreeID {
		nodes, err := c.rootTree(ctx, s, windowID)
		if err != nil {
			return element.ElementSnapshot{}, err
		}
		root = nodes[0]
	} else {
		res, err := c.fetch(ctx, s, assembler.Request{
			WindowID:  windowID,
			ElementID: element.RootElementID,
			Mode:      s.mode,
			TreeID:    treeID,
		})
		if err != nil {
			return element.ElementSnapshot{}, err
		}
		root = res.Nodes[0].Clone()
	}

	if !root.Parent.IsPending() {
		root.Parent = element.RealParent(parent.ElementID)
	}
	root.MainWindowID = mainWindowOf(parent)
	return root, nil
}

// GetParentElementInfo returns the parent of child.
//
// Description:
//
//	A cross-window pending parent is resolved through the provider. A
//	known parent id is looked up in the cache, then fetched from the
//	child's window; only when that window has no such element is the
//	child's main window tried.
//
// Outputs:
//
//	element.ElementSnapshot - The parent.
//	error - element.ErrInvalidParam for a top-level child or a child of a
//	  virtual root, else a connection or provider error.
func (c *Client) GetParentElementInfo(ctx context.Context, child element.ElementSnapshot) (element.ElementSnapshot, error) {
	if child.Parent.IsNone() {
		return element.ElementSnapshot{}, fmt.Errorf("element %d has no parent: %w", child.ElementID, element.ErrInvalidParam)
	}
	if id, ok := child.Parent.Real(); ok && element.IsSynthetic(id) {
		return element.ElementSnapshot{}, fmt.Errorf("element %d is top-level below virtual root %d: %w",
			child.ElementID, id, element.ErrInvalidParam)
	}
	return withSession(ctx, c, func(ctx context.Context, s session) (element.ElementSnapshot, error) {
		if child.Parent.IsPending() {
			version := c.cache.Version()
			parent, res, err := s.asm.ResolveParent(ctx, child, s.mode)
			if err != nil {
				return element.ElementSnapshot{}, err
			}
			c.store(version, res)
			return parent.Clone(), nil
		}

		parentID, _ := child.Parent.Real()
		windows := []int32{child.WindowID}
		if child.MainWindowID > 0 && child.MainWindowID != child.WindowID {
			windows = append(windows, child.MainWindowID)
		}
		return c.elementIn(ctx, s, windows, parentID)
	})
}

// GetByContent returns the elements below elementID of windowID whose text
// matches. Text results are not cached.
func (c *Client) GetByContent(ctx context.Context, windowID int32, elementID int64, text string) ([]element.ElementSnapshot, error) {
	if text == "" {
		return nil, fmt.Errorf("empty search text: %w", element.ErrInvalidParam)
	}
	if windowID < 0 {
		return nil, fmt.Errorf("window %d: %w", windowID, element.ErrInvalidParam)
	}
	return withSession(ctx, c, func(ctx context.Context, s session) ([]element.ElementSnapshot, error) {
		nodes, err := s.ch.QueryByText(ctx, windowID, elementID, text)
		if err != nil {
			return nil, providerErr("query by text", err)
		}
		if len(nodes) == 0 {
			return nil, fmt.Errorf("no element with text %q in window %d: %w", text, windowID, element.ErrEmptyProviderResult)
		}
		out := element.CloneAll(nodes)
		for i := range out {
			out[i].MainWindowID = windowID
		}
		return out, nil
	})
}

// GetFocus returns the element holding focusType in any window.
func (c *Client) GetFocus(ctx context.Context, focusType element.FocusType) (element.ElementSnapshot, error) {
	if !focusType.Valid() {
		return element.ElementSnapshot{}, fmt.Errorf("focus type %d: %w", int32(focusType), element.ErrInvalidParam)
	}
	return withSession(ctx, c, func(ctx context.Context, s session) (element.ElementSnapshot, error) {
		n, err := s.ch.QueryFocused(ctx, element.AnyWindowID, element.RootElementID, focusType)
		if err != nil {
			return element.ElementSnapshot{}, providerErr("query focused", err)
		}
		return tagMain(n, n.WindowID), nil
	})
}

// GetFocusByElementInfo returns the element holding focusType below node.
func (c *Client) GetFocusByElementInfo(ctx context.Context, node element.ElementSnapshot, focusType element.FocusType) (element.ElementSnapshot, error) {
	if !focusType.Valid() {
		return element.ElementSnapshot{}, fmt.Errorf("focus type %d: %w", int32(focusType), element.ErrInvalidParam)
	}
	return withSession(ctx, c, func(ctx context.Context, s session) (element.ElementSnapshot, error) {
		n, err := s.ch.QueryFocused(ctx, node.WindowID, node.ElementID, focusType)
		if err != nil {
			return element.ElementSnapshot{}, providerErr("query focused", err)
		}
		return tagMain(n, mainWindowOf(node)), nil
	})
}

// GetNext returns the next focusable element from node in direction.
func (c *Client) GetNext(ctx context.Context, node element.ElementSnapshot, direction element.Direction) (element.ElementSnapshot, error) {
	if !direction.Valid() {
		return element.ElementSnapshot{}, fmt.Errorf("direction %d: %w", int32(direction), element.ErrInvalidParam)
	}
	return withSession(ctx, c, func(ctx context.Context, s session) (element.ElementSnapshot, error) {
		n, err := s.ch.FocusMoveSearch(ctx, node.WindowID, node.ElementID, direction)
		if err != nil {
			return element.ElementSnapshot{}, providerErr("focus move search", err)
		}
		return tagMain(n, mainWindowOf(node)), nil
	})
}

// SetCacheMode drops every cached window and forwards mode on every later
// by-id query. Unknown bits are dropped and a negative mode selects no
// prefetching.
func (c *Client) SetCacheMode(mode int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = element.NormalizePrefetchMode(mode)
	c.cache.Clear()
	c.logger.Info("element cache mode changed", slog.String("mode", c.mode.String()))
}

// CacheMode returns the prefetch mode forwarded on by-id queries.
func (c *Client) CacheMode() element.PrefetchMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Invalidate drops windowID from the cache (with its inner windows for the
// scene-board window). It never contacts the provider.
func (c *Client) Invalidate(windowID int32) []int32 {
	return c.cache.Invalidate(windowID)
}

// HandleEvent applies a change notification to the cache. Structural
// events invalidate the window; a removed window also leaves the
// scene-board index.
func (c *Client) HandleEvent(ev events.Event) {
	if !ev.Kind.Structural() {
		return
	}
	removed := c.cache.Invalidate(ev.WindowID)
	if ev.Kind == events.KindWindowRemoved {
		c.cache.Index().Remove(ev.WindowID)
	}
	c.logger.Debug("applied element event",
		slog.String("event", ev.String()),
		slog.Any("removed", removed),
	)
}

// Cache returns the window cache.
func (c *Client) Cache() *cache.WindowCache {
	return c.cache
}

// CacheStats returns the window cache statistics.
func (c *Client) CacheStats() cache.CacheStats {
	return c.cache.Stats()
}

// elementIn returns elementID from the first window that has it. The
// cache is checked for every window before the provider is asked; the
// next window is only queried when the previous one reported no such
// element.
func (c *Client) elementIn(ctx context.Context, s session, windows []int32, elementID int64) (element.ElementSnapshot, error) {
	if element.IsSynthetic(elementID) {
		return element.ElementSnapshot{}, fmt.Errorf("virtual root %d is not a provider element: %w", elementID, element.ErrInvalidParam)
	}
	for _, w := range windows {
		if n, ok := c.cache.Lookup(w, elementID); ok {
			return n, nil
		}
	}

	var lastErr error
	for _, w := range windows {
		n, err := c.fetchElement(ctx, s, w, elementID)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, element.ErrEmptyProviderResult) {
			return element.ElementSnapshot{}, err
		}
		lastErr = err
	}
	return element.ElementSnapshot{}, lastErr
}

// fetchElement assembles a by-id query and picks the element out of it.
func (c *Client) fetchElement(ctx context.Context, s session, windowID int32, elementID int64) (element.ElementSnapshot, error) {
	res, err := c.fetch(ctx, s, assembler.Request{
		WindowID:  windowID,
		ElementID: elementID,
		Mode:      s.mode,
		TreeID:    element.TreeIDOf(elementID),
	})
	if err != nil {
		return element.ElementSnapshot{}, err
	}
	if n, ok := res.Find(windowID, elementID); ok {
		return n.Clone(), nil
	}
	if windowID == element.SceneBoardWindowID {
		for _, n := range res.Nodes {
			if n.ElementID == elementID {
				return n.Clone(), nil
			}
		}
	}
	return element.ElementSnapshot{}, fmt.Errorf("element %d not in window %d batch: %w", elementID, windowID, element.ErrEmptyProviderResult)
}

// fetch assembles req once for all concurrent identical callers and
// caches the result.
func (c *Client) fetch(ctx context.Context, s session, req assembler.Request) (*assembler.Result, error) {
	key := fmt.Sprintf("%d/%d/%d/%d", req.WindowID, req.ElementID, req.TreeID, req.Mode)
	v, err, shared := c.group.Do(key, func() (any, error) {
		version := c.cache.Version()
		res, err := s.asm.Assemble(ctx, req)
		if err != nil {
			return nil, err
		}
		c.store(version, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("shared element fetch", slog.String("key", key))
	}
	return v.(*assembler.Result), nil
}

// store writes the batches of an assembled result to the cache, one
// wholesale entry per contributing window. A window whose batches all
// belong to other trees is not written over its main tree. Windows
// invalidated since version are left out by the cache.
func (c *Client) store(version uint64, res *assembler.Result) {
	var (
		writes  []cache.Write
		at      = make(map[int32]int, len(res.Windows))
		hasMain = make(map[int32]bool, len(res.Windows))
	)
	for _, b := range res.Batches {
		i, ok := at[b.WindowID]
		if !ok {
			i = len(writes)
			at[b.WindowID] = i
			writes = append(writes, cache.Write{WindowID: b.WindowID})
		}
		w := &writes[i]
		w.Nodes = append(w.Nodes, b.Nodes...)
		if b.TreeID == element.MainTreeID {
			hasMain[b.WindowID] = true
		}
		if b.Root && !b.Inconsistent {
			if w.Roots == nil {
				w.Roots = make(map[int32]bool)
			}
			w.Roots[b.TreeID] = b.Virtual
		}
	}
	writes = slices.DeleteFunc(writes, func(w cache.Write) bool { return !hasMain[w.WindowID] })

	stored, evicted := c.cache.Commit(version, writes)
	if len(stored) < len(writes) || len(evicted) > 0 {
		c.logger.Debug("stored element batches",
			slog.Any("stored", stored),
			slog.Any("evicted", evicted),
			slog.Int("offered", len(writes)),
		)
	}
}

// childWindows lists where the children of parent can live.
func childWindows(parent element.ElementSnapshot) []int32 {
	windows := []int32{parent.WindowID}
	if w, ok := parent.ChildWindow(); ok && w != parent.WindowID {
		windows = append(windows, w)
	}
	return windows
}

func mainWindowOf(n element.ElementSnapshot) int32 {
	if n.MainWindowID > 0 {
		return n.MainWindowID
	}
	return n.WindowID
}

func tagMain(n element.ElementSnapshot, mainWindowID int32) element.ElementSnapshot {
	n = n.Clone()
	if n.MainWindowID <= 0 {
		n.MainWindowID = mainWindowID
	}
	return n
}

// providerErr classifies a failed single-element channel call.
func providerErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, element.ErrProviderQueryFailed, err)
}
