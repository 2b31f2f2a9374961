// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package element

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestComposeElementID_RoundTripsTreeID(t *testing.T) {
	id := ComposeElementID(7, 1234)
	assert.Equal(t, int32(7), TreeIDOf(id))
	assert.Equal(t, int64(1234), id&nodeIDMask)

	assert.Equal(t, MainTreeID, TreeIDOf(42))
	assert.Equal(t, MainTreeID, TreeIDOf(RootElementID), "reserved ids belong to the main tree")
}

func TestIsSynthetic(t *testing.T) {
	assert.False(t, IsSynthetic(RootElementID))
	assert.False(t, IsSynthetic(VirtualRootID))
	assert.True(t, IsSynthetic(VirtualRootID-1))
	assert.False(t, IsSynthetic(0))
}

func TestParentRef_Variants(t *testing.T) {
	assert.True(t, NoParent().IsNone())
	assert.True(t, PendingParent().IsPending())

	id, ok := RealParent(9).Real()
	assert.True(t, ok)
	assert.Equal(t, int64(9), id)

	_, ok = PendingParent().Real()
	assert.False(t, ok)

	assert.Equal(t, "real(9)", RealParent(9).String())
	assert.Equal(t, "pending", PendingParent().String())
}

func TestParentRef_JSONUsesKindNames(t *testing.T) {
	data, err := json.Marshal(RealParent(12))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"real","id":12}`, string(data))

	var ref ParentRef
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"pending"}`), &ref))
	assert.True(t, ref.IsPending())

	err = json.Unmarshal([]byte(`{"kind":"sideways"}`), &ref)
	assert.Error(t, err)
}

func TestElementSnapshot_YAMLDecoding(t *testing.T) {
	src := `
window_id: 5
element_id: 102
parent: {kind: real, id: 100}
child_window_id: 6
is_root: false
attributes:
  text: Settings
`
	var e ElementSnapshot
	require.NoError(t, yaml.Unmarshal([]byte(src), &e))

	assert.Equal(t, int32(5), e.WindowID)
	assert.Equal(t, RealParent(100), e.Parent)
	w, ok := e.ChildWindow()
	require.True(t, ok)
	assert.Equal(t, int32(6), w)
	_, ok = e.ChildTree()
	assert.False(t, ok)
	assert.Equal(t, "Settings", e.Text())
}

func TestElementSnapshot_HasContinuation(t *testing.T) {
	tests := []struct {
		name string
		node ElementSnapshot
		want bool
	}{
		{"plain", ElementSnapshot{WindowID: 5, ElementID: 1}, false},
		{"same window", ElementSnapshot{WindowID: 5, ElementID: 1, ChildWindowID: Int32(5)}, false},
		{"other window", ElementSnapshot{WindowID: 5, ElementID: 1, ChildWindowID: Int32(6)}, true},
		{"other tree", ElementSnapshot{WindowID: 5, ElementID: 1, ChildTreeID: Int32(2)}, true},
		{"own tree", ElementSnapshot{WindowID: 5, ElementID: ComposeElementID(2, 1), ChildTreeID: Int32(2)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.node.HasContinuation())
		})
	}
}

func TestElementSnapshot_Continuation(t *testing.T) {
	w, tree := ElementSnapshot{WindowID: 5, ElementID: 1}.Continuation()
	assert.Equal(t, int32(5), w)
	assert.Equal(t, MainTreeID, tree)

	w, tree = ElementSnapshot{WindowID: 5, ElementID: 1, ChildWindowID: Int32(6)}.Continuation()
	assert.Equal(t, int32(6), w)
	assert.Equal(t, MainTreeID, tree)

	w, tree = ElementSnapshot{WindowID: 5, ElementID: 1, ChildTreeID: Int32(3)}.Continuation()
	assert.Equal(t, int32(5), w)
	assert.Equal(t, int32(3), tree)
}

func TestElementSnapshot_CloneIsDeep(t *testing.T) {
	orig := ElementSnapshot{
		WindowID:      5,
		ElementID:     1,
		ChildIDs:      []int64{2, 3},
		ChildWindowID: Int32(6),
		Attributes:    map[string]string{"text": "a"},
	}
	cp := orig.Clone()
	cp.ChildIDs[0] = 99
	*cp.ChildWindowID = 7
	cp.Attributes["text"] = "b"

	assert.Equal(t, []int64{2, 3}, orig.ChildIDs)
	assert.Equal(t, int32(6), *orig.ChildWindowID)
	assert.Equal(t, "a", orig.Attributes["text"])
}

func TestElementSnapshot_ChildID(t *testing.T) {
	e := ElementSnapshot{ChildIDs: []int64{10, 11}}
	id, ok := e.ChildID(1)
	assert.True(t, ok)
	assert.Equal(t, int64(11), id)

	_, ok = e.ChildID(2)
	assert.False(t, ok)
	_, ok = e.ChildID(-1)
	assert.False(t, ok)
}

func TestNormalizePrefetchMode(t *testing.T) {
	assert.Equal(t, PrefetchMode(0), NormalizePrefetchMode(-5))
	assert.Equal(t, PrefetchChildren, NormalizePrefetchMode(int32(PrefetchChildren)))
	assert.Equal(t, PrefetchMask, NormalizePrefetchMode(0x7FFF), "unknown bits are dropped")
	assert.Equal(t, "predecessors|children", (PrefetchPredecessors | PrefetchChildren).String())
	assert.Equal(t, "none", PrefetchMode(0).String())
}

func TestDirectionAndFocusParsing(t *testing.T) {
	assert.Equal(t, DirectionForward, ParseDirection("Forward"))
	assert.Equal(t, DirectionInvalid, ParseDirection("diagonal"))
	assert.False(t, DirectionInvalid.Valid())
	assert.True(t, DirectionBackward.Valid())

	assert.Equal(t, FocusTypeAccessibility, ParseFocusType("a11y"))
	assert.False(t, ParseFocusType("mouse").Valid())
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeOK},
		{ErrNoConnection, CodeNoConnection},
		{fmt.Errorf("get root: %w", ErrInvalidParam), CodeInvalidParam},
		{fmt.Errorf("query: %w: %w", ErrProviderQueryFailed, fmt.Errorf("boom")), CodeProviderQueryFailed},
		{fmt.Errorf("window 3: %w", ErrEmptyProviderResult), CodeEmptyProviderResult},
		{ErrAssemblyInconsistent, CodeAssemblyInconsistent},
		{fmt.Errorf("other"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}
