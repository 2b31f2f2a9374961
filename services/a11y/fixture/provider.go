// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/AleutianAI/a11ysync/services/a11y/events"
)

// windowIndex is the query view of one window.
type windowIndex struct {
	src   Window
	byID  map[int64]Element
	order []int64 // preorder over the window's tops
}

func newWindowIndex(w Window) *windowIndex {
	w.Elements = slices.Clone(w.Elements)
	idx := &windowIndex{src: w, byID: make(map[int64]Element, len(w.Elements))}
	for _, e := range w.Elements {
		idx.byID[e.ID] = e
	}
	seen := make(map[int64]bool, len(w.Elements))
	var walk func(id int64)
	walk = func(id int64) {
		e, ok := idx.byID[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		idx.order = append(idx.order, id)
		for _, c := range e.Children {
			walk(c)
		}
	}
	for _, id := range idx.tops(-1) {
		walk(id)
	}
	// Elements unreachable from any top keep document order at the end.
	for _, e := range w.Elements {
		if !seen[e.ID] {
			seen[e.ID] = true
			idx.order = append(idx.order, e.ID)
		}
	}
	return idx
}

// tops returns the top-level elements of treeID in document order. A
// negative treeID matches every tree.
func (w *windowIndex) tops(treeID int32) []int64 {
	var out []int64
	for _, e := range w.src.Elements {
		if treeID >= 0 && element.TreeIDOf(e.ID) != treeID {
			continue
		}
		if e.Parent != nil {
			if _, inWindow := w.byID[*e.Parent]; inWindow {
				continue
			}
		}
		out = append(out, e.ID)
	}
	return out
}

func (w *windowIndex) snapshot(id int64) element.ElementSnapshot {
	return w.byID[id].Snapshot(w.src.ID)
}

// descendants returns the children of id (recursively when deep) in
// breadth-first order.
func (w *windowIndex) descendants(id int64, deep bool) []int64 {
	var out []int64
	seen := map[int64]bool{id: true}
	queue := []int64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range w.byID[cur].Children {
			if _, ok := w.byID[c]; !ok || seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			if deep {
				queue = append(queue, c)
			}
		}
	}
	return out
}

// ancestors returns the in-window parent chain of id, nearest first.
func (w *windowIndex) ancestors(id int64) []int64 {
	var out []int64
	seen := map[int64]bool{id: true}
	for {
		e := w.byID[id]
		if e.Parent == nil {
			return out
		}
		p := *e.Parent
		if _, ok := w.byID[p]; !ok || seen[p] {
			return out
		}
		seen[p] = true
		out = append(out, p)
		id = p
	}
}

func (w *windowIndex) inSubtree(root, id int64) bool {
	if root == element.RootElementID || root == id {
		return true
	}
	return slices.Contains(w.ancestors(id), root)
}

// Provider serves a Document as an element channel.
//
// Thread Safety: safe for concurrent use. Replace swaps the document
// atomically with respect to queries.
type Provider struct {
	mu      sync.RWMutex
	active  int32
	windows map[int32]*windowIndex
	order   []int32
	logger  *slog.Logger
}

// NewProvider returns a provider serving doc. A nil logger uses
// slog.Default().
func NewProvider(doc *Document, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{logger: logger}
	p.install(doc)
	return p
}

func (p *Provider) install(doc *Document) {
	p.active = doc.ActiveWindow
	p.windows = make(map[int32]*windowIndex, len(doc.Windows))
	p.order = p.order[:0]
	for _, w := range doc.Windows {
		p.windows[w.ID] = newWindowIndex(w)
		p.order = append(p.order, w.ID)
	}
}

// Replace swaps in doc and returns one event per window that changed.
func (p *Provider) Replace(doc *Document) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.windows
	oldActive := p.active
	p.install(doc)

	var out []events.Event
	for _, id := range p.order {
		prev, ok := old[id]
		cur := p.windows[id]
		switch {
		case !ok:
			out = append(out, events.New(id, events.KindWindowAdded))
		case !sameStructure(prev.src.Elements, cur.src.Elements):
			out = append(out, events.New(id, events.KindSubtreeChanged))
		case !reflect.DeepEqual(prev.src.Elements, cur.src.Elements):
			ev := events.New(id, events.KindContentChanged)
			if changed, ok := firstChanged(prev.src.Elements, cur.src.Elements); ok {
				ev = ev.WithSource(changed)
			}
			out = append(out, ev)
		case !reflect.DeepEqual(prev.src.TreeParents, cur.src.TreeParents), !sameInfo(prev.src, cur.src):
			out = append(out, events.New(id, events.KindWindowUpdated))
		case prev.src.Focus != cur.src.Focus:
			ev := events.New(id, events.KindFocusChanged)
			if cur.src.Focus.Input != 0 && cur.src.Focus.Input != prev.src.Focus.Input {
				ev = ev.WithSource(cur.src.Focus.Input)
			}
			out = append(out, ev)
		}
	}
	removed := make([]int32, 0)
	for id := range old {
		if _, ok := p.windows[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	for _, id := range removed {
		out = append(out, events.New(id, events.KindWindowRemoved))
	}
	if oldActive != p.active {
		if _, ok := p.windows[p.active]; ok {
			out = append(out, events.New(p.active, events.KindFocusChanged))
		}
	}
	p.logger.Info("fixture replaced", slog.Int("windows", len(p.windows)), slog.Int("events", len(out)))
	return out
}

// sameStructure reports whether two element lists differ at most in
// attributes.
func sameStructure(a, b []Element) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		x.Attributes, y.Attributes = nil, nil
		if !reflect.DeepEqual(x, y) {
			return false
		}
	}
	return true
}

// firstChanged returns the first element whose attributes differ between
// two structurally equal lists.
func firstChanged(a, b []Element) (int64, bool) {
	for i := range a {
		if !reflect.DeepEqual(a[i].Attributes, b[i].Attributes) {
			return b[i].ID, true
		}
	}
	return 0, false
}

// Windows returns the served window ids in document order.
func (p *Provider) Windows() []int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.order)
}

func (p *Provider) window(windowID int32) (*windowIndex, bool) {
	if windowID == element.AnyWindowID {
		windowID = p.active
	}
	w, ok := p.windows[windowID]
	return w, ok
}

func empty(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), element.ErrEmptyProviderResult)
}

// QueryByElementID implements channel.Channel.
func (p *Provider) QueryByElementID(ctx context.Context, windowID int32, elementID int64, mode element.PrefetchMode, treeID int32) ([]element.ElementSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.window(windowID)
	if !ok {
		return nil, nil
	}
	if elementID == element.RootElementID {
		return w.rootBatch(mode, treeID), nil
	}
	if _, ok := w.byID[elementID]; !ok {
		return nil, nil
	}
	return w.elementBatch(elementID, mode), nil
}

func (w *windowIndex) rootBatch(mode element.PrefetchMode, treeID int32) []element.ElementSnapshot {
	tops := w.tops(treeID)
	if len(tops) == 0 {
		return nil
	}
	out := make([]element.ElementSnapshot, 0, len(w.byID)+1)
	if len(tops) > 1 {
		out = append(out, element.ElementSnapshot{
			WindowID:  w.src.ID,
			ElementID: element.VirtualRootID,
			Parent:    element.NoParent(),
		})
	}
	for _, id := range tops {
		out = append(out, w.snapshot(id))
	}
	if !mode.Has(element.PrefetchChildren) && !mode.Has(element.PrefetchRecursiveChildren) {
		return out
	}
	deep := mode.Has(element.PrefetchRecursiveChildren)
	for _, id := range tops {
		for _, d := range w.descendants(id, deep) {
			out = append(out, w.snapshot(d))
		}
	}
	return out
}

func (w *windowIndex) elementBatch(id int64, mode element.PrefetchMode) []element.ElementSnapshot {
	ids := []int64{id}
	included := map[int64]bool{id: true}
	add := func(more []int64) {
		for _, m := range more {
			if !included[m] {
				included[m] = true
				ids = append(ids, m)
			}
		}
	}
	switch {
	case mode.Has(element.PrefetchRecursiveChildren):
		add(w.descendants(id, true))
	case mode.Has(element.PrefetchChildren):
		add(w.descendants(id, false))
	}
	if mode.Has(element.PrefetchPredecessors) {
		add(w.ancestors(id))
	}
	if mode.Has(element.PrefetchSiblings) {
		if parent := w.byID[id].Parent; parent != nil {
			add(w.byID[*parent].Children)
		}
	}

	out := make([]element.ElementSnapshot, 0, len(ids))
	for _, i := range ids {
		if _, ok := w.byID[i]; ok {
			out = append(out, w.snapshot(i))
		}
	}
	return out
}

// QueryByText implements channel.Channel.
func (p *Provider) QueryByText(ctx context.Context, windowID int32, elementID int64, text string) ([]element.ElementSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.window(windowID)
	if !ok {
		return nil, nil
	}
	if elementID != element.RootElementID {
		if _, ok := w.byID[elementID]; !ok {
			return nil, nil
		}
	}
	var out []element.ElementSnapshot
	for _, id := range w.order {
		if !w.inSubtree(elementID, id) {
			continue
		}
		if strings.Contains(w.byID[id].Attributes["text"], text) {
			out = append(out, w.snapshot(id))
		}
	}
	return out, nil
}

// QueryFocused implements channel.Channel.
func (p *Provider) QueryFocused(ctx context.Context, windowID int32, elementID int64, focusType element.FocusType) (element.ElementSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return element.ElementSnapshot{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.window(windowID)
	if !ok {
		return element.ElementSnapshot{}, empty("window %d", windowID)
	}
	var id int64
	switch focusType {
	case element.FocusTypeInput:
		id = w.src.Focus.Input
	case element.FocusTypeAccessibility:
		id = w.src.Focus.Accessibility
	default:
		return element.ElementSnapshot{}, fmt.Errorf("focus type %d: %w", focusType, element.ErrInvalidParam)
	}
	if _, ok := w.byID[id]; !ok || id == 0 {
		return element.ElementSnapshot{}, empty("window %d has no %s focus", w.src.ID, focusType)
	}
	if !w.inSubtree(elementID, id) {
		return element.ElementSnapshot{}, empty("focus of window %d is outside element %d", w.src.ID, elementID)
	}
	return w.snapshot(id), nil
}

// FocusMoveSearch implements channel.Channel. Movement follows preorder:
// forward, down and right step to the next element, the others step back.
func (p *Provider) FocusMoveSearch(ctx context.Context, windowID int32, elementID int64, direction element.Direction) (element.ElementSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return element.ElementSnapshot{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.window(windowID)
	if !ok {
		return element.ElementSnapshot{}, empty("window %d", windowID)
	}
	pos := slices.Index(w.order, elementID)
	if pos < 0 {
		return element.ElementSnapshot{}, empty("element %d in window %d", elementID, w.src.ID)
	}
	switch direction {
	case element.DirectionForward, element.DirectionDown, element.DirectionRight:
		pos++
	case element.DirectionBackward, element.DirectionUp, element.DirectionLeft:
		pos--
	default:
		return element.ElementSnapshot{}, fmt.Errorf("direction %d: %w", direction, element.ErrInvalidParam)
	}
	if pos < 0 || pos >= len(w.order) {
		return element.ElementSnapshot{}, empty("no element %s of %d", direction, elementID)
	}
	return w.snapshot(w.order[pos]), nil
}

// ResolveCrossWindowParent implements channel.Channel.
func (p *Provider) ResolveCrossWindowParent(ctx context.Context, windowID int32, treeID int32) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.window(windowID)
	if !ok {
		return 0, empty("window %d", windowID)
	}
	id, ok := w.src.TreeParents[treeID]
	if !ok {
		return 0, empty("no parent for tree %d of window %d", treeID, windowID)
	}
	return id, nil
}

// ActiveWindow implements channel.Channel.
func (p *Provider) ActiveWindow(ctx context.Context) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.windows[p.active]; !ok {
		return 0, empty("active window %d", p.active)
	}
	return p.active, nil
}

// QueryWindows implements channel.Channel.
func (p *Provider) QueryWindows(ctx context.Context) ([]element.WindowInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]element.WindowInfo, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.windows[id].src.Info(p.active))
	}
	return out, nil
}
