// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package channeltest provides a scriptable in-memory Channel for tests.
package channeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/a11ysync/services/a11y/channel"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

// Operation names used by call counters and error injection.
const (
	OpQueryByElementID         = "QueryByElementID"
	OpQueryByText              = "QueryByText"
	OpQueryFocused             = "QueryFocused"
	OpFocusMoveSearch          = "FocusMoveSearch"
	OpResolveCrossWindowParent = "ResolveCrossWindowParent"
	OpActiveWindow             = "ActiveWindow"
	OpQueryWindows             = "QueryWindows"
)

// Call records one channel invocation.
type Call struct {
	Op        string
	WindowID  int32
	ElementID int64
	TreeID    int32
	Mode      element.PrefetchMode
}

type batchKey struct {
	windowID  int32
	elementID int64
	treeID    int32
}

type textKey struct {
	windowID  int32
	elementID int64
	text      string
}

type focusKey struct {
	windowID  int32
	focusType element.FocusType
}

type moveKey struct {
	windowID  int32
	elementID int64
	direction element.Direction
}

type treeKey struct {
	windowID int32
	treeID   int32
}

// Fake is a Channel answering from scripted data. Unscripted by-id and text
// queries return an empty batch; unscripted single-element queries return
// element.ErrEmptyProviderResult.
//
// Thread Safety: Safe for concurrent use.
type Fake struct {
	mu         sync.Mutex
	batches    map[batchKey][]element.ElementSnapshot
	texts      map[textKey][]element.ElementSnapshot
	focused    map[focusKey]element.ElementSnapshot
	moves      map[moveKey]element.ElementSnapshot
	parents    map[treeKey]int64
	active     int32
	windows    []element.WindowInfo
	opErrs     map[string]error
	windowErrs map[int32]error
	calls      []Call
}

var _ channel.Channel = (*Fake)(nil)

// New returns an empty Fake with active window element.InvalidWindowID.
func New() *Fake {
	return &Fake{
		batches:    make(map[batchKey][]element.ElementSnapshot),
		texts:      make(map[textKey][]element.ElementSnapshot),
		focused:    make(map[focusKey]element.ElementSnapshot),
		moves:      make(map[moveKey]element.ElementSnapshot),
		parents:    make(map[treeKey]int64),
		active:     element.InvalidWindowID,
		opErrs:     make(map[string]error),
		windowErrs: make(map[int32]error),
	}
}

// SetBatch scripts the answer of QueryByElementID(windowID, elementID, *, treeID).
func (f *Fake) SetBatch(windowID int32, elementID int64, treeID int32, nodes ...element.ElementSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[batchKey{windowID, elementID, treeID}] = element.CloneAll(nodes)
}

// SetRoot scripts the root batch of a window's main tree.
func (f *Fake) SetRoot(windowID int32, nodes ...element.ElementSnapshot) {
	f.SetBatch(windowID, element.RootElementID, element.MainTreeID, nodes...)
}

// SetText scripts the answer of QueryByText.
func (f *Fake) SetText(windowID int32, elementID int64, text string, nodes ...element.ElementSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[textKey{windowID, elementID, text}] = element.CloneAll(nodes)
}

// SetFocused scripts the answer of QueryFocused for a window.
func (f *Fake) SetFocused(windowID int32, focusType element.FocusType, node element.ElementSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused[focusKey{windowID, focusType}] = node.Clone()
}

// SetNext scripts the answer of FocusMoveSearch.
func (f *Fake) SetNext(windowID int32, elementID int64, direction element.Direction, node element.ElementSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves[moveKey{windowID, elementID, direction}] = node.Clone()
}

// SetParent scripts the answer of ResolveCrossWindowParent.
func (f *Fake) SetParent(windowID, treeID int32, parentID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parents[treeKey{windowID, treeID}] = parentID
}

// SetActiveWindow scripts the answer of ActiveWindow.
func (f *Fake) SetActiveWindow(windowID int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = windowID
}

// SetWindows scripts the answer of QueryWindows.
func (f *Fake) SetWindows(windows ...element.WindowInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = cloneWindows(windows)
}

// FailOp makes every call of op fail with err. A nil err clears it.
func (f *Fake) FailOp(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.opErrs, op)
		return
	}
	f.opErrs[op] = err
}

// FailWindow makes every call addressing windowID fail with err. A nil err
// clears it.
func (f *Fake) FailWindow(windowID int32, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.windowErrs, windowID)
		return
	}
	f.windowErrs[windowID] = err
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// TotalCalls returns the number of invocations of any operation.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// History returns a copy of the recorded calls in order.
func (f *Fake) History() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// ResetCalls forgets the recorded calls.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// record appends a call and returns the injected error for it, if any.
// Caller must hold f.mu.
func (f *Fake) record(c Call) error {
	f.calls = append(f.calls, c)
	if err, ok := f.opErrs[c.Op]; ok {
		return err
	}
	if err, ok := f.windowErrs[c.WindowID]; ok {
		return err
	}
	return nil
}

// QueryByElementID implements channel.Channel.
func (f *Fake) QueryByElementID(_ context.Context, windowID int32, elementID int64, mode element.PrefetchMode, treeID int32) ([]element.ElementSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpQueryByElementID, WindowID: windowID, ElementID: elementID, TreeID: treeID, Mode: mode}); err != nil {
		return nil, err
	}
	return element.CloneAll(f.batches[batchKey{windowID, elementID, treeID}]), nil
}

// QueryByText implements channel.Channel.
func (f *Fake) QueryByText(_ context.Context, windowID int32, elementID int64, text string) ([]element.ElementSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpQueryByText, WindowID: windowID, ElementID: elementID}); err != nil {
		return nil, err
	}
	return element.CloneAll(f.texts[textKey{windowID, elementID, text}]), nil
}

// QueryFocused implements channel.Channel.
func (f *Fake) QueryFocused(_ context.Context, windowID int32, elementID int64, focusType element.FocusType) (element.ElementSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpQueryFocused, WindowID: windowID, ElementID: elementID}); err != nil {
		return element.ElementSnapshot{}, err
	}
	node, ok := f.focused[focusKey{windowID, focusType}]
	if !ok {
		return element.ElementSnapshot{}, fmt.Errorf("no %s focus in window %d: %w", focusType, windowID, element.ErrEmptyProviderResult)
	}
	return node.Clone(), nil
}

// FocusMoveSearch implements channel.Channel.
func (f *Fake) FocusMoveSearch(_ context.Context, windowID int32, elementID int64, direction element.Direction) (element.ElementSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpFocusMoveSearch, WindowID: windowID, ElementID: elementID}); err != nil {
		return element.ElementSnapshot{}, err
	}
	node, ok := f.moves[moveKey{windowID, elementID, direction}]
	if !ok {
		return element.ElementSnapshot{}, fmt.Errorf("no element %s of %d: %w", direction, elementID, element.ErrEmptyProviderResult)
	}
	return node.Clone(), nil
}

// ResolveCrossWindowParent implements channel.Channel.
func (f *Fake) ResolveCrossWindowParent(_ context.Context, windowID int32, treeID int32) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpResolveCrossWindowParent, WindowID: windowID, TreeID: treeID}); err != nil {
		return 0, err
	}
	id, ok := f.parents[treeKey{windowID, treeID}]
	if !ok {
		return 0, fmt.Errorf("no parent for tree %d of window %d: %w", treeID, windowID, element.ErrEmptyProviderResult)
	}
	return id, nil
}

// ActiveWindow implements channel.Channel.
func (f *Fake) ActiveWindow(_ context.Context) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpActiveWindow, WindowID: element.AnyWindowID}); err != nil {
		return element.InvalidWindowID, err
	}
	return f.active, nil
}

// QueryWindows implements channel.Channel.
func (f *Fake) QueryWindows(_ context.Context) ([]element.WindowInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpQueryWindows, WindowID: element.AnyWindowID}); err != nil {
		return nil, err
	}
	return cloneWindows(f.windows), nil
}

func cloneWindows(windows []element.WindowInfo) []element.WindowInfo {
	if windows == nil {
		return nil
	}
	out := make([]element.WindowInfo, len(windows))
	for i, w := range windows {
		out[i] = w.Clone()
	}
	return out
}

// Node builds a snapshot for test fixtures.
func Node(windowID int32, elementID int64, parent element.ParentRef, children ...int64) element.ElementSnapshot {
	return element.ElementSnapshot{
		WindowID:  windowID,
		ElementID: elementID,
		Parent:    parent,
		ChildIDs:  children,
	}
}

// Root builds a root snapshot for test fixtures.
func Root(windowID int32, elementID int64, children ...int64) element.ElementSnapshot {
	n := Node(windowID, elementID, element.NoParent(), children...)
	n.IsRoot = true
	return n
}
