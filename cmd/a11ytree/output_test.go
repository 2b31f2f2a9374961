// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

func scenarioNodes() []element.ElementSnapshot {
	return []element.ElementSnapshot{
		{WindowID: 5, ElementID: 100, IsRoot: true, ChildIDs: []int64{101, 102}, Attributes: map[string]string{"role": "window", "text": "Settings"}},
		{WindowID: 5, ElementID: 101, Parent: element.RealParent(100)},
		{WindowID: 5, ElementID: 102, Parent: element.RealParent(100), ChildIDs: []int64{200}, ChildWindowID: element.Int32(6)},
		{WindowID: 6, ElementID: 200, Parent: element.RealParent(102), IsRoot: true, ChildIDs: []int64{201}},
		{WindowID: 6, ElementID: 201, Parent: element.RealParent(200), Attributes: map[string]string{"text": "Home"}},
		{WindowID: 9, ElementID: 1},
	}
}

func TestRender_Tree(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, scenarioNodes(), outputPlain))
	assert.Equal(t, `[5:100] window "Settings"
  [5:101]
  [5:102] -> window 6
    [6:200]
      [6:201] "Home"
[9:1]
`, buf.String())
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, scenarioNodes()[:2], outputJSON))

	var got []element.ElementSnapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []int64{100, 101}, element.IDs(got))
}

func TestRenderList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderList(&buf, scenarioNodes()[3:5], outputPlain))
	assert.Equal(t, "[6:200]\n[6:201] \"Home\"\n", buf.String())
}

func TestRender_StyledTree(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, scenarioNodes(), outputStyled))

	out := buf.String()
	for _, label := range []string{
		`[5:100] window "Settings"`,
		"[5:101]",
		"[5:102] -> window 6",
		"[6:200]",
		`[6:201] "Home"`,
		"[9:1]",
	} {
		assert.Contains(t, out, label)
	}
	assert.Contains(t, out, "├──")
	assert.Contains(t, out, "╰──")
	assert.Less(t, strings.Index(out, "[6:201]"), strings.Index(out, "[9:1]"))
}

func TestBuildForest(t *testing.T) {
	forest := buildForest(scenarioNodes())
	require.Len(t, forest, 2)
	assert.Equal(t, int64(100), forest[0].node.ElementID)
	require.Len(t, forest[0].children, 2)
	host := forest[0].children[1]
	require.Len(t, host.children, 1)
	assert.Equal(t, int32(6), host.children[0].node.WindowID)
	assert.Equal(t, int64(1), forest[1].node.ElementID)
}

func TestOutputModeFor(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, outputPlain, outputModeFor(&buf, false))
	assert.Equal(t, outputJSON, outputModeFor(&buf, true))

	f, err := os.CreateTemp(t.TempDir(), "dump")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, outputPlain, outputModeFor(f, false), "regular files are not terminals")
}

func TestRenderWindows(t *testing.T) {
	windows := []element.WindowInfo{
		{WindowID: 5, Type: "application", Layer: 1, Title: "Settings", Active: true, Focused: true},
		{WindowID: 7, DisplayID: 1, AnchorID: element.Int64(11)},
	}

	var buf bytes.Buffer
	require.NoError(t, renderWindows(&buf, windows, outputPlain))
	assert.Equal(t, `window 5 [application] display=0 layer=1 "Settings" active,focused
window 7 display=1 layer=0 anchor=11
`, buf.String())

	buf.Reset()
	require.NoError(t, renderWindows(&buf, windows, outputJSON))
	var got []element.WindowInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, windows, got)
}

func TestParseWindow(t *testing.T) {
	w, err := parseWindow("12")
	require.NoError(t, err)
	assert.Equal(t, int32(12), w)

	for _, bad := range []string{"-1", "x", "99999999999"} {
		_, err := parseWindow(bad)
		assert.ErrorIs(t, err, element.ErrInvalidParam, bad)
	}
}
