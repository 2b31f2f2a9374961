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
	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

// Reasons a batch could not be ordered. Used as log and metric labels.
const (
	reasonDuplicateID  = "duplicate_id"
	reasonMissingChild = "missing_child"
	reasonRevisit      = "revisit"
	reasonUnreachable  = "unreachable"
)

// synthesizer hands out virtual root ids for one assembly call. Ids start
// just below element.VirtualRootID and strictly decrease.
type synthesizer struct {
	next int64
}

func newSynthesizer() *synthesizer {
	return &synthesizer{next: element.VirtualRootID - 1}
}

func (s *synthesizer) id() int64 {
	id := s.next
	s.next--
	return id
}

// prepared is one batch ready for ordering.
type prepared struct {
	// plain is the batch without the sentinel record, as received.
	plain []element.ElementSnapshot

	// nodes is plain with the virtual root prepended and attached, or
	// plain itself when the batch had no sentinel.
	nodes []element.ElementSnapshot

	// virtual is true when nodes[0] is a synthesized virtual root.
	virtual bool
}

// prepareBatch removes the virtual-root sentinel and, when present,
// synthesizes one virtual root adopting every parentless record in batch
// order.
func prepareBatch(batch []element.ElementSnapshot, windowID int32, syn *synthesizer) prepared {
	if len(batch) == 0 || batch[0].ElementID != element.VirtualRootID {
		plain := element.CloneAll(batch)
		return prepared{plain: plain, nodes: plain}
	}

	plain := element.CloneAll(batch[1:])
	if len(plain) == 0 {
		return prepared{}
	}

	root := element.ElementSnapshot{
		WindowID:  windowID,
		ElementID: syn.id(),
		Parent:    element.NoParent(),
		IsRoot:    true,
	}
	nodes := make([]element.ElementSnapshot, 0, len(plain)+1)
	nodes = append(nodes, root)
	for _, n := range plain {
		n = n.Clone()
		if n.Parent.IsNone() {
			n.Parent = element.RealParent(root.ElementID)
			n.IsRoot = false
			nodes[0].ChildIDs = append(nodes[0].ChildIDs, n.ElementID)
		}
		nodes = append(nodes, n)
	}
	return prepared{plain: plain, nodes: nodes, virtual: true}
}

// native returns ordered in provider form: the virtual root is dropped,
// adopted nodes get their own parent back and MainWindowID is the node's
// window.
func native(p prepared, ordered []element.ElementSnapshot) []element.ElementSnapshot {
	var plain map[int64]element.ElementSnapshot
	if p.virtual {
		plain = make(map[int64]element.ElementSnapshot, len(p.plain))
		for _, n := range p.plain {
			plain[n.ElementID] = n
		}
	}

	out := make([]element.ElementSnapshot, 0, len(ordered))
	for _, n := range ordered {
		if p.virtual {
			var ok bool
			if n, ok = plain[n.ElementID]; !ok {
				continue
			}
		}
		n = n.Clone()
		n.MainWindowID = n.WindowID
		out = append(out, n)
	}
	return out
}

// startIndex picks the BFS start: the virtual root or the IsRoot record for
// root queries, the requested element for by-id queries, else the first
// record.
func startIndex(p prepared, index map[int64]int, elementID int64) int {
	if elementID == element.RootElementID {
		if p.virtual {
			return 0
		}
		for i, n := range p.nodes {
			if n.IsRoot {
				return i
			}
		}
		return 0
	}
	if i, ok := index[elementID]; ok {
		return i
	}
	return 0
}

// childrenExpected reports whether the provider was asked to include the
// children of a node, so a missing child means the batch is inconsistent.
func childrenExpected(mode element.PrefetchMode, isStart bool) bool {
	if mode.Has(element.PrefetchRecursiveChildren) {
		return true
	}
	return isStart && mode.Has(element.PrefetchChildren)
}

// orderBatch returns the nodes of p in breadth-first order from the start
// node, visiting ChildIDs in listed order.
//
// Description:
//
//	Children the prefetch mode did not ask for may be absent and are
//	skipped. A missing expected child, a node reached twice or, for root
//	queries, a node not reachable from the root makes the batch
//	inconsistent. For by-id queries the records not reachable from the
//	requested element (prefetched ancestors and siblings) follow the BFS
//	order in batch order.
//
// Outputs:
//
//	[]element.ElementSnapshot - The ordered nodes, nil when inconsistent.
//	string - The inconsistency reason, empty on success.
func orderBatch(p prepared, elementID int64, mode element.PrefetchMode) ([]element.ElementSnapshot, string) {
	nodes := p.nodes
	index := make(map[int64]int, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n.ElementID]; dup {
			return nil, reasonDuplicateID
		}
		index[n.ElementID] = i
	}

	start := startIndex(p, index, elementID)
	visited := make([]bool, len(nodes))
	visited[start] = true
	order := make([]int, 0, len(nodes))
	queue := []int{start}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)

		for _, childID := range nodes[i].ChildIDs {
			j, ok := index[childID]
			if !ok {
				if childrenExpected(mode, i == start) {
					return nil, reasonMissingChild
				}
				continue
			}
			if visited[j] {
				return nil, reasonRevisit
			}
			visited[j] = true
			queue = append(queue, j)
		}
	}

	if len(order) < len(nodes) {
		if elementID == element.RootElementID {
			return nil, reasonUnreachable
		}
		for i := range nodes {
			if !visited[i] {
				order = append(order, i)
			}
		}
	}

	out := make([]element.ElementSnapshot, len(order))
	for k, i := range order {
		out[k] = nodes[i]
	}
	return out, ""
}
