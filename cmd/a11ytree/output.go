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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

// outputMode selects how results are printed.
type outputMode int

const (
	// outputPlain prints indented text, for pipes and files.
	outputPlain outputMode = iota
	// outputStyled draws colored trees, for terminals.
	outputStyled
	// outputJSON prints indented JSON.
	outputJSON
)

// outputModeFor picks the mode for w. JSON wins when asked for; otherwise
// only a terminal gets styled output.
func outputModeFor(w io.Writer, asJSON bool) outputMode {
	if asJSON {
		return outputJSON
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return outputStyled
	}
	return outputPlain
}

// Teal palette shared with the rest of the Aleutian tooling.
var (
	colorTealBright = lipgloss.Color("#2CD7C7")
	colorTealDeep   = lipgloss.Color("#16858E")
	colorSlate      = lipgloss.Color("#2C4A54")
	colorWarning    = lipgloss.Color("#F4D03F")
)

// palette holds the styles of one writer. Styles come from a renderer
// bound to the writer so color support is detected per destination.
type palette struct {
	on bool

	id     lipgloss.Style
	role   lipgloss.Style
	text   lipgloss.Style
	link   lipgloss.Style
	branch lipgloss.Style
	flag   lipgloss.Style
}

func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	return palette{
		on:     true,
		id:     r.NewStyle().Foreground(colorSlate),
		role:   r.NewStyle().Bold(true).Foreground(colorTealBright),
		text:   r.NewStyle(),
		link:   r.NewStyle().Italic(true).Foreground(colorWarning),
		branch: r.NewStyle().Foreground(colorTealDeep).PaddingRight(1),
		flag:   r.NewStyle().Foreground(colorTealBright),
	}
}

type nodeKey struct {
	window int32
	id     int64
}

// treeNode is one element with the children found for it in the batch.
type treeNode struct {
	node     element.ElementSnapshot
	children []*treeNode
}

// render prints nodes as a tree, or as a JSON array.
func render(w io.Writer, nodes []element.ElementSnapshot, mode outputMode) error {
	switch mode {
	case outputJSON:
		return writeJSON(w, nodes)
	case outputStyled:
		return renderStyled(w, buildForest(nodes))
	default:
		return renderPlain(w, buildForest(nodes))
	}
}

// renderList prints one node per line without nesting.
func renderList(w io.Writer, nodes []element.ElementSnapshot, mode outputMode) error {
	if mode == outputJSON {
		return writeJSON(w, nodes)
	}
	p := plain
	if mode == outputStyled {
		p = newPalette(w)
	}
	for _, n := range nodes {
		if _, err := fmt.Fprintln(w, p.describe(n)); err != nil {
			return err
		}
	}
	return nil
}

// renderWindows prints one window per line.
func renderWindows(w io.Writer, windows []element.WindowInfo, mode outputMode) error {
	if mode == outputJSON {
		return writeJSON(w, windows)
	}
	p := plain
	if mode == outputStyled {
		p = newPalette(w)
	}
	for _, win := range windows {
		if _, err := fmt.Fprintln(w, p.describeWindow(win)); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// buildForest walks nodes depth first from the first node. A child is
// looked up in its parent's window, then in the window the parent
// continues in. Nodes not reachable that way become further roots.
func buildForest(nodes []element.ElementSnapshot) []*treeNode {
	index := make(map[nodeKey]int, len(nodes))
	for i, n := range nodes {
		index[nodeKey{n.WindowID, n.ElementID}] = i
	}

	visited := make([]bool, len(nodes))
	var walk func(i int) *treeNode
	walk = func(i int) *treeNode {
		visited[i] = true
		n := nodes[i]
		tn := &treeNode{node: n}

		cw, _ := n.Continuation()
		for _, childID := range n.ChildIDs {
			j, ok := index[nodeKey{n.WindowID, childID}]
			if !ok {
				j, ok = index[nodeKey{cw, childID}]
			}
			if ok && !visited[j] {
				tn.children = append(tn.children, walk(j))
			}
		}
		return tn
	}

	var forest []*treeNode
	for i := range nodes {
		if !visited[i] {
			forest = append(forest, walk(i))
		}
	}
	return forest
}

func renderPlain(w io.Writer, forest []*treeNode) error {
	var write func(tn *treeNode, depth int) error
	write = func(tn *treeNode, depth int) error {
		if _, err := fmt.Fprintln(w, strings.Repeat("  ", depth)+describe(tn.node)); err != nil {
			return err
		}
		for _, c := range tn.children {
			if err := write(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range forest {
		if err := write(root, 0); err != nil {
			return err
		}
	}
	return nil
}

func renderStyled(w io.Writer, forest []*treeNode) error {
	p := newPalette(w)
	for _, root := range forest {
		if _, err := fmt.Fprintln(w, p.tree(root).String()); err != nil {
			return err
		}
	}
	return nil
}

func (p palette) tree(tn *treeNode) *tree.Tree {
	t := tree.Root(p.describe(tn.node)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(p.branch)
	for _, c := range tn.children {
		if len(c.children) == 0 {
			t.Child(p.describe(c.node))
			continue
		}
		t.Child(p.tree(c))
	}
	return t
}

// plain is the palette of unstyled output.
var plain palette

func describe(n element.ElementSnapshot) string {
	return plain.describe(n)
}

// paint renders v in st, or returns it unchanged for the plain palette.
func (p palette) paint(st lipgloss.Style, v string) string {
	if !p.on {
		return v
	}
	return st.Render(v)
}

func (p palette) describe(n element.ElementSnapshot) string {
	var b strings.Builder
	b.WriteString(p.paint(p.id, fmt.Sprintf("[%d:%d]", n.WindowID, n.ElementID)))
	if role := n.Attributes["role"]; role != "" {
		b.WriteString(" " + p.paint(p.role, role))
	}
	if text := n.Text(); text != "" {
		b.WriteString(" " + p.paint(p.text, fmt.Sprintf("%q", text)))
	}
	if w, ok := n.ChildWindow(); ok {
		b.WriteString(" " + p.paint(p.link, fmt.Sprintf("-> window %d", w)))
	}
	if t, ok := n.ChildTree(); ok {
		b.WriteString(" " + p.paint(p.link, fmt.Sprintf("-> tree %d", t)))
	}
	return b.String()
}

// describeWindow renders the one-line summary of a window.
func (p palette) describeWindow(win element.WindowInfo) string {
	var b strings.Builder
	b.WriteString(p.paint(p.role, fmt.Sprintf("window %d", win.WindowID)))
	if win.Type != "" {
		fmt.Fprintf(&b, " [%s]", win.Type)
	}
	fmt.Fprintf(&b, " display=%d layer=%d", win.DisplayID, win.Layer)
	if win.Title != "" {
		fmt.Fprintf(&b, " %q", win.Title)
	}
	if anchor, ok := win.Anchor(); ok {
		fmt.Fprintf(&b, " anchor=%d", anchor)
	}
	var flags []string
	if win.Active {
		flags = append(flags, "active")
	}
	if win.Focused {
		flags = append(flags, "focused")
	}
	if win.AccessibilityFocused {
		flags = append(flags, "a11y-focused")
	}
	if len(flags) > 0 {
		b.WriteString(" " + p.paint(p.flag, strings.Join(flags, ",")))
	}
	return b.String()
}
