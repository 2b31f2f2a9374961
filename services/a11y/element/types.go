// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package element defines the element snapshot model shared by the
// accessibility tree synchronization layer: identity and linkage fields,
// protocol constants, and the error taxonomy.
package element

import (
	"fmt"
	"slices"
)

// Element id layout.
//
// The low 40 bits of an element id are the node id assigned by the UI
// framework; bits 40..51 carry the logical tree id within the window.
const (
	// TreeIDShift is the bit offset of the tree id inside an element id.
	TreeIDShift = 40

	// TreeIDMask masks the tree id after shifting.
	TreeIDMask = 0xFFF

	// nodeIDMask masks the node id portion of an element id.
	nodeIDMask = (int64(1) << TreeIDShift) - 1
)

// Reserved ids used on the provider protocol.
const (
	// RootElementID asks the provider for the root of a window or tree.
	RootElementID int64 = -1

	// VirtualRootID marks the first record of a batch that carries several
	// disjoint top-level nodes. Synthesized virtual roots use ids strictly
	// below it.
	VirtualRootID int64 = -2

	// InvalidWindowID is never a real window.
	InvalidWindowID int32 = -1

	// AnyWindowID lets the provider pick the window (focus queries).
	AnyWindowID int32 = -2

	// SceneBoardWindowID is the compound window hosting inner windows.
	SceneBoardWindowID int32 = 1

	// MainTreeID is the default logical tree of a window.
	MainTreeID int32 = 0
)

// ComposeElementID builds an element id from a tree id and a node id.
func ComposeElementID(treeID int32, nodeID int64) int64 {
	return (int64(treeID)&TreeIDMask)<<TreeIDShift | (nodeID & nodeIDMask)
}

// TreeIDOf extracts the tree id encoded in the high bits of an element id.
// Reserved (negative) ids belong to the main tree.
func TreeIDOf(elementID int64) int32 {
	if elementID < 0 {
		return MainTreeID
	}
	return int32((elementID >> TreeIDShift) & TreeIDMask)
}

// IsSynthetic reports whether the id was synthesized for a virtual root.
func IsSynthetic(elementID int64) bool {
	return elementID < VirtualRootID
}

// ParentKind tags the variant held by a ParentRef.
type ParentKind uint8

const (
	// ParentNone marks a top-level node.
	ParentNone ParentKind = iota

	// ParentReal marks a node whose parent id is known.
	ParentReal

	// ParentCrossWindowPending marks a node whose parent lives in another
	// window and must be resolved with an extra provider round trip.
	ParentCrossWindowPending
)

// String returns the wire name of the kind.
func (k ParentKind) String() string {
	switch k {
	case ParentNone:
		return "none"
	case ParentReal:
		return "real"
	case ParentCrossWindowPending:
		return "pending"
	default:
		return fmt.Sprintf("ParentKind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ParentKind) MarshalText() ([]byte, error) {
	switch k {
	case ParentNone, ParentReal, ParentCrossWindowPending:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("unknown parent kind %d", uint8(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ParentKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "none":
		*k = ParentNone
	case "real":
		*k = ParentReal
	case "pending":
		*k = ParentCrossWindowPending
	default:
		return fmt.Errorf("unknown parent kind %q", string(text))
	}
	return nil
}

// ParentRef is the tagged parent link of a snapshot: None, Real(id) or
// CrossWindowPending. ID is meaningful only for ParentReal.
type ParentRef struct {
	Kind ParentKind `json:"kind" yaml:"kind"`
	ID   int64      `json:"id,omitempty" yaml:"id,omitempty"`
}

// NoParent returns the None variant.
func NoParent() ParentRef { return ParentRef{Kind: ParentNone} }

// RealParent returns the Real(id) variant.
func RealParent(id int64) ParentRef { return ParentRef{Kind: ParentReal, ID: id} }

// PendingParent returns the CrossWindowPending variant.
func PendingParent() ParentRef { return ParentRef{Kind: ParentCrossWindowPending} }

// IsNone reports whether the ref is the None variant.
func (p ParentRef) IsNone() bool { return p.Kind == ParentNone }

// IsPending reports whether the parent still has to be resolved.
func (p ParentRef) IsPending() bool { return p.Kind == ParentCrossWindowPending }

// Real returns the parent id and true for the Real variant.
func (p ParentRef) Real() (int64, bool) {
	if p.Kind != ParentReal {
		return 0, false
	}
	return p.ID, true
}

// String renders the ref for logs.
func (p ParentRef) String() string {
	if p.Kind == ParentReal {
		return fmt.Sprintf("real(%d)", p.ID)
	}
	return p.Kind.String()
}

// ElementSnapshot is a point-in-time record of one UI element's identity and
// linkage as reported by the provider.
//
// Thread Safety: A snapshot is a value. Clone before mutating a copy that
// shares ChildIDs or Attributes with a cached instance.
type ElementSnapshot struct {
	// WindowID is the window whose id namespace ElementID belongs to.
	WindowID int32 `json:"window_id" yaml:"window_id"`

	// ElementID is unique within WindowID and its tree.
	ElementID int64 `json:"element_id" yaml:"element_id"`

	// Parent links the node to its parent.
	Parent ParentRef `json:"parent" yaml:"parent"`

	// ChildIDs lists the children in display order.
	ChildIDs []int64 `json:"child_ids,omitempty" yaml:"child_ids,omitempty"`

	// ChildWindowID is set when the subtree continues in another window.
	ChildWindowID *int32 `json:"child_window_id,omitempty" yaml:"child_window_id,omitempty"`

	// ChildTreeID is set when the subtree continues in another logical
	// tree of the same window.
	ChildTreeID *int32 `json:"child_tree_id,omitempty" yaml:"child_tree_id,omitempty"`

	// MainWindowID is the window the node was requested through.
	// Assigned after assembly.
	MainWindowID int32 `json:"main_window_id" yaml:"main_window_id"`

	// IsRoot marks the root record of a window or tree.
	IsRoot bool `json:"is_root,omitempty" yaml:"is_root,omitempty"`

	// Attributes is the opaque semantic payload (text, role, ...).
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// TreeID returns the logical tree the element belongs to.
func (e ElementSnapshot) TreeID() int32 {
	return TreeIDOf(e.ElementID)
}

// ChildWindow returns the continuation window, if any.
func (e ElementSnapshot) ChildWindow() (int32, bool) {
	if e.ChildWindowID == nil {
		return InvalidWindowID, false
	}
	return *e.ChildWindowID, true
}

// ChildTree returns the continuation tree, if any.
func (e ElementSnapshot) ChildTree() (int32, bool) {
	if e.ChildTreeID == nil {
		return MainTreeID, false
	}
	return *e.ChildTreeID, true
}

// HasContinuation reports whether the node declares a subtree hosted
// outside its own window/tree.
func (e ElementSnapshot) HasContinuation() bool {
	if w, ok := e.ChildWindow(); ok && w != e.WindowID {
		return true
	}
	if t, ok := e.ChildTree(); ok && t != e.TreeID() {
		return true
	}
	return false
}

// Continuation returns the window and tree the node's subtree continues
// in: the child window (else the node's own window) and the child tree
// (else the main tree).
func (e ElementSnapshot) Continuation() (windowID int32, treeID int32) {
	windowID, treeID = e.WindowID, MainTreeID
	if w, ok := e.ChildWindow(); ok {
		windowID = w
	}
	if t, ok := e.ChildTree(); ok {
		treeID = t
	}
	return windowID, treeID
}

// ChildID returns the id of the child at index.
func (e ElementSnapshot) ChildID(index int) (int64, bool) {
	if index < 0 || index >= len(e.ChildIDs) {
		return 0, false
	}
	return e.ChildIDs[index], true
}

// Text returns the "text" attribute.
func (e ElementSnapshot) Text() string {
	return e.Attributes["text"]
}

// Clone returns a deep copy that shares no slices, maps or pointers.
func (e ElementSnapshot) Clone() ElementSnapshot {
	out := e
	out.ChildIDs = slices.Clone(e.ChildIDs)
	if e.ChildWindowID != nil {
		w := *e.ChildWindowID
		out.ChildWindowID = &w
	}
	if e.ChildTreeID != nil {
		t := *e.ChildTreeID
		out.ChildTreeID = &t
	}
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Int32 returns a pointer to v, for optional snapshot fields.
func Int32(v int32) *int32 { return &v }

// IDs returns the element ids of nodes in order.
func IDs(nodes []ElementSnapshot) []int64 {
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ElementID
	}
	return ids
}

// CloneAll deep-copies a slice of snapshots.
func CloneAll(nodes []ElementSnapshot) []ElementSnapshot {
	if nodes == nil {
		return nil
	}
	out := make([]ElementSnapshot, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}
