// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assembler

import (
	"slices"

	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

// handle addresses a node in an arena. Handles stay valid while the arena
// grows, unlike indexes into the output sequence.
type handle int

// noHandle marks a task without a parent (the requested window itself).
const noHandle handle = -1

// arena owns every node produced by one assembly call together with the
// splice links between them.
//
// Thread Safety: Not safe for concurrent use. One arena per call.
type arena struct {
	nodes   []element.ElementSnapshot
	top     []handle
	spliced map[handle][][]handle
}

func newArena() *arena {
	return &arena{spliced: make(map[handle][][]handle)}
}

// add stores nodes and returns their handles in order.
func (a *arena) add(nodes []element.ElementSnapshot) []handle {
	hs := make([]handle, len(nodes))
	for i, n := range nodes {
		hs[i] = handle(len(a.nodes))
		a.nodes = append(a.nodes, n)
	}
	return hs
}

// node returns a pointer to the node behind h. The pointer is only valid
// until the next add.
func (a *arena) node(h handle) *element.ElementSnapshot {
	return &a.nodes[h]
}

// attach records group as the top-level sequence (parent == noHandle) or
// splices it below parent: the group's first node becomes a child of
// parent and parent lists it in ChildIDs. The head keeps IsRoot since it is
// still the root of its own window or tree.
func (a *arena) attach(parent handle, group []handle) {
	if len(group) == 0 {
		return
	}
	if parent == noHandle {
		a.top = group
		return
	}

	p := a.node(parent)
	head := a.node(group[0])
	if !slices.Contains(p.ChildIDs, head.ElementID) {
		p.ChildIDs = append(p.ChildIDs, head.ElementID)
	}
	head.Parent = element.RealParent(p.ElementID)
	a.spliced[parent] = append(a.spliced[parent], group)
}

// flatten emits the nodes in output order: every spliced group follows its
// parent immediately, recursively.
func (a *arena) flatten(mainWindowID int32) []element.ElementSnapshot {
	out := make([]element.ElementSnapshot, 0, len(a.nodes))
	var emit func(h handle)
	emit = func(h handle) {
		n := a.nodes[h]
		n.MainWindowID = mainWindowID
		out = append(out, n)
		for _, group := range a.spliced[h] {
			for _, g := range group {
				emit(g)
			}
		}
	}
	for _, h := range a.top {
		emit(h)
	}
	return out
}
