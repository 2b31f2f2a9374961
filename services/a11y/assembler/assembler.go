// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assembler turns flat provider batches into one coherent,
// cross-window stitched sequence of element snapshots.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/AleutianAI/a11ysync/services/a11y/channel"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

// Request identifies what to assemble.
type Request struct {
	// WindowID is the window to query. It becomes MainWindowID of every
	// returned node.
	WindowID int32

	// ElementID is the element to query, or element.RootElementID.
	ElementID int64

	// Mode is forwarded to the provider on every by-id query.
	Mode element.PrefetchMode

	// TreeID is the logical tree of the window to query.
	TreeID int32
}

// IsRootQuery reports whether the request asks for a window root.
func (r Request) IsRootQuery() bool {
	return r.ElementID == element.RootElementID
}

// Result is one assembled sequence.
type Result struct {
	// Request is the request the result answers.
	Request Request

	// Nodes are ordered breadth-first per window with spliced subtrees
	// immediately after their host node.
	Nodes []element.ElementSnapshot

	// Inconsistent is set when at least one batch could not be ordered and
	// was returned as received.
	Inconsistent bool

	// Windows lists the windows that contributed nodes, in discovery order.
	Windows []int32

	// Batches holds every answered query in queue order, in the form the
	// provider reported it. Rebuild turns stored batches back into Nodes.
	Batches []Batch
}

// Batch is the provider's answer to one query of an assembly, ordered but
// not spliced.
//
// Nodes keep the parent the provider reported, the virtual root is left
// out and MainWindowID is the node's own window.
type Batch struct {
	WindowID int32
	TreeID   int32

	// Root is set when the batch answers a root query.
	Root bool

	// Virtual is set when the provider reported several top-level nodes.
	Virtual bool

	// Inconsistent batches keep the provider's order.
	Inconsistent bool

	Nodes []element.ElementSnapshot
}

// Root returns the first node, the root of the requested window or tree for
// root queries.
func (r *Result) Root() (element.ElementSnapshot, bool) {
	if len(r.Nodes) == 0 {
		return element.ElementSnapshot{}, false
	}
	return r.Nodes[0], true
}

// Find returns the node with the given window and element id.
func (r *Result) Find(windowID int32, elementID int64) (element.ElementSnapshot, bool) {
	for _, n := range r.Nodes {
		if n.WindowID == windowID && n.ElementID == elementID {
			return n, true
		}
	}
	return element.ElementSnapshot{}, false
}

// Assembler builds coherent trees out of Channel batches.
//
// Thread Safety: Safe for concurrent use. Every call owns its own state.
type Assembler struct {
	ch     channel.Channel
	logger *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Assembler querying ch.
func New(ch channel.Channel, opts ...Option) *Assembler {
	a := &Assembler{ch: ch, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// task is one pending query of the splice work queue.
type task struct {
	windowID  int32
	elementID int64
	treeID    int32
	parent    handle
}

type windowTree struct {
	windowID int32
	treeID   int32
}

// level is the answer to one task.
type level struct {
	// nodes are ordered for output, virtual root first when there is one.
	nodes        []element.ElementSnapshot
	inconsistent bool
	batch        Batch
}

// levelFunc answers one task. syn hands out virtual root ids in queue
// order.
type levelFunc func(t task, syn *synthesizer) (level, error)

// Assemble queries the provider and returns one ordered sequence.
//
// Description:
//
//	Queries req, orders the batch breadth-first (synthesizing a virtual
//	root when the provider reports several top-level nodes), then follows
//	every node declaring a child window or tree different from the one
//	just queried: that window/tree is queried for its root and the result
//	is spliced right after the host node. Each window/tree is queried at
//	most once per call. Every returned node carries MainWindowID ==
//	req.WindowID.
//
// Inputs:
//
//	ctx - Carries tracing and transport deadlines.
//	req - What to assemble.
//
// Outputs:
//
//	*Result - The assembled nodes. Never partial.
//	error - element.ErrEmptyProviderResult when the requested batch is
//	  empty, element.ErrProviderQueryFailed (wrapping the channel error)
//	  when any query fails.
//
// Thread Safety: Safe for concurrent use.
func (a *Assembler) Assemble(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := startAssembleSpan(ctx, "Assemble", req)
	defer func() { endAssembleSpan(span, res, err) }()

	next := func(t task, syn *synthesizer) (level, error) {
		return a.assembleLevel(ctx, t, req.Mode, syn)
	}
	skip := func(t task) {
		a.logger.Debug("continuation window returned no elements",
			slog.Int("window_id", int(t.windowID)),
			slog.Int("tree_id", int(t.treeID)),
		)
	}

	res, err = splice(req, next, skip)
	if err != nil {
		return nil, err
	}
	recordSplices(ctx, len(res.Batches)-1)
	recordAssembled(ctx, len(res.Nodes))
	return res, nil
}

// BatchFunc returns the stored root batch of one window tree in stored
// order and whether it hangs below a virtual root.
type BatchFunc func(windowID, treeID int32) (nodes []element.ElementSnapshot, virtual bool, ok bool)

// errNotStored stops a rebuild.
var errNotStored = errors.New("batch not stored")

// Rebuild assembles the main tree of windowID from stored root batches
// without querying the provider.
//
// Description:
//
//	Runs the same splice loop as Assemble over batches obtained from
//	batch, so the output equals what Assemble returned for the same
//	provider answers: same order, same virtual root ids, spliced heads
//	parented to their host and MainWindowID == windowID. Every listed
//	child must be present.
//
// Outputs:
//
//	[]element.ElementSnapshot - The tree, root first.
//	bool - False when a batch is missing, empty or cannot be ordered.
//
// Thread Safety: Safe for concurrent use if batch is.
func Rebuild(windowID int32, batch BatchFunc) ([]element.ElementSnapshot, bool) {
	req := Request{
		WindowID:  windowID,
		ElementID: element.RootElementID,
		Mode:      element.PrefetchRecursiveChildren,
		TreeID:    element.MainTreeID,
	}
	next := func(t task, syn *synthesizer) (level, error) {
		nodes, virtual, ok := batch(t.windowID, t.treeID)
		if !ok || len(nodes) == 0 {
			return level{}, errNotStored
		}
		if virtual {
			sentinel := element.ElementSnapshot{WindowID: t.windowID, ElementID: element.VirtualRootID}
			nodes = append([]element.ElementSnapshot{sentinel}, nodes...)
		}
		ordered, reason := orderBatch(prepareBatch(nodes, t.windowID, syn), element.RootElementID, req.Mode)
		if reason != "" {
			return level{}, errNotStored
		}
		return level{nodes: ordered}, nil
	}

	res, err := splice(req, next, nil)
	if err != nil {
		return nil, false
	}
	return res.Nodes, true
}

// splice runs the splice work queue for req. When skip is set, a
// continuation answering element.ErrEmptyProviderResult is reported to it
// and dropped; otherwise every failure ends the call.
func splice(req Request, next levelFunc, skip func(task)) (*Result, error) {
	syn := newSynthesizer()
	ar := newArena()
	out := &Result{Request: req}

	seen := map[windowTree]bool{{req.WindowID, req.TreeID}: true}
	queue := []task{{windowID: req.WindowID, elementID: req.ElementID, treeID: req.TreeID, parent: noHandle}}

	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]

		lv, err := next(t, syn)
		if err != nil {
			if skip != nil && t.parent != noHandle && errors.Is(err, element.ErrEmptyProviderResult) {
				skip(t)
				continue
			}
			return nil, err
		}

		out.Inconsistent = out.Inconsistent || lv.inconsistent
		out.Batches = append(out.Batches, lv.batch)
		if !slices.Contains(out.Windows, t.windowID) {
			out.Windows = append(out.Windows, t.windowID)
		}

		group := ar.add(lv.nodes)
		ar.attach(t.parent, group)
		if lv.inconsistent {
			continue
		}

		for _, h := range group {
			n := ar.node(h)
			if !n.HasContinuation() {
				continue
			}
			w, tr := n.Continuation()
			target := windowTree{w, tr}
			if target == (windowTree{t.windowID, t.treeID}) || seen[target] {
				continue
			}
			seen[target] = true
			queue = append(queue, task{
				windowID:  target.windowID,
				elementID: element.RootElementID,
				treeID:    target.treeID,
				parent:    h,
			})
		}
	}

	out.Nodes = ar.flatten(req.WindowID)
	return out, nil
}

// assembleLevel runs one by-id query and orders its batch. An inconsistent
// batch is returned as received without the sentinel record.
func (a *Assembler) assembleLevel(ctx context.Context, t task, mode element.PrefetchMode, syn *synthesizer) (level, error) {
	batch, err := a.ch.QueryByElementID(ctx, t.windowID, t.elementID, mode, t.treeID)
	recordChannelQuery(ctx, err != nil)
	if err != nil {
		return level{}, fmt.Errorf("query window %d element %d tree %d: %w: %w",
			t.windowID, t.elementID, t.treeID, element.ErrProviderQueryFailed, err)
	}

	p := prepareBatch(batch, t.windowID, syn)
	if len(p.plain) == 0 {
		return level{}, fmt.Errorf("query window %d element %d tree %d: %w",
			t.windowID, t.elementID, t.treeID, element.ErrEmptyProviderResult)
	}

	b := Batch{
		WindowID: t.windowID,
		TreeID:   t.treeID,
		Root:     t.elementID == element.RootElementID,
		Virtual:  p.virtual,
	}
	ordered, reason := orderBatch(p, t.elementID, mode)
	if reason == "" {
		b.Nodes = native(p, ordered)
		return level{nodes: ordered, batch: b}, nil
	}

	a.logger.Warn("element batch is inconsistent, returning it unsorted",
		slog.Int("window_id", int(t.windowID)),
		slog.Int64("element_id", t.elementID),
		slog.Int("tree_id", int(t.treeID)),
		slog.String("reason", reason),
		slog.Int("nodes", len(p.plain)),
	)
	recordInconsistent(ctx, reason)
	b.Inconsistent = true
	b.Nodes = native(prepared{plain: p.plain, nodes: p.plain}, p.plain)
	return level{nodes: p.plain, inconsistent: true, batch: b}, nil
}

// ResolveParent fetches the cross-window parent of node.
//
// Description:
//
//	Asks the provider which element hosts node's tree, then assembles that
//	element with a by-id query. The parent is looked up in node's main
//	window when it was reached through another window, else in node's own
//	window.
//
// Inputs:
//
//	ctx - Carries tracing and transport deadlines.
//	node - A node whose Parent is CrossWindowPending.
//	mode - Prefetch mode of the follow-up query.
//
// Outputs:
//
//	element.ElementSnapshot - The parent node.
//	*Result - The assembled batch containing the parent, for caching.
//	error - element.ErrInvalidParam when node's parent is not pending,
//	  element.ErrEmptyProviderResult when the parent is not in the batch,
//	  element.ErrProviderQueryFailed when a query fails.
func (a *Assembler) ResolveParent(ctx context.Context, node element.ElementSnapshot, mode element.PrefetchMode) (element.ElementSnapshot, *Result, error) {
	if !node.Parent.IsPending() {
		return element.ElementSnapshot{}, nil, fmt.Errorf("element %d parent is %s: %w",
			node.ElementID, node.Parent, element.ErrInvalidParam)
	}

	parentID, err := a.ch.ResolveCrossWindowParent(ctx, node.WindowID, node.TreeID())
	if err != nil {
		return element.ElementSnapshot{}, nil, fmt.Errorf("resolve parent of window %d tree %d: %w: %w",
			node.WindowID, node.TreeID(), element.ErrProviderQueryFailed, err)
	}

	windowID := node.WindowID
	if node.MainWindowID > 0 && node.MainWindowID != node.WindowID {
		windowID = node.MainWindowID
	}

	res, err := a.Assemble(ctx, Request{
		WindowID:  windowID,
		ElementID: parentID,
		Mode:      mode,
		TreeID:    element.TreeIDOf(parentID),
	})
	if err != nil {
		return element.ElementSnapshot{}, nil, err
	}

	parent, ok := res.Find(windowID, parentID)
	if !ok {
		return element.ElementSnapshot{}, nil, fmt.Errorf("parent %d not in window %d batch: %w",
			parentID, windowID, element.ErrEmptyProviderResult)
	}
	return parent, res, nil
}
