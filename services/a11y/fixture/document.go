// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fixture serves element trees described in a YAML document. It
// backs the reference provider process and end-to-end tests.
package fixture

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

// ErrInvalidDocument is returned for a document that fails validation.
var ErrInvalidDocument = errors.New("invalid fixture document")

// Document is the YAML description of every window a provider serves.
type Document struct {
	// ActiveWindow is answered by ActiveWindow queries.
	ActiveWindow int32 `yaml:"active_window" validate:"gte=0"`

	// Windows are the served windows.
	Windows []Window `yaml:"windows" validate:"dive"`
}

// Window is one window with its elements.
type Window struct {
	ID int32 `yaml:"id" validate:"gte=0"`

	DisplayID uint64 `yaml:"display_id"`
	Type      string `yaml:"type" validate:"omitempty,oneof=application system floating"`
	Layer     int32  `yaml:"layer"`
	Title     string `yaml:"title"`

	// Anchor is the scene-board element an inner window hangs below.
	Anchor *int64 `yaml:"anchor"`

	// Focus names the focused elements per focus type.
	Focus Focus `yaml:"focus"`

	// TreeParents maps a logical tree id of this window to the element
	// hosting it, for cross-window parent resolution.
	TreeParents map[int32]int64 `yaml:"tree_parents"`

	// Elements in document order. Document order is preorder-independent;
	// children are linked by id.
	Elements []Element `yaml:"elements" validate:"dive"`
}

// Focus holds the focused element per focus type. Zero means none.
type Focus struct {
	Input         int64 `yaml:"input"`
	Accessibility int64 `yaml:"accessibility"`
}

// Element is one element record.
type Element struct {
	ID            int64             `yaml:"id" validate:"gte=0"`
	Parent        *int64            `yaml:"parent"`
	ParentPending bool              `yaml:"parent_pending" validate:"excluded_with=Parent"`
	Children      []int64           `yaml:"children"`
	ChildWindow   *int32            `yaml:"child_window"`
	ChildTree     *int32            `yaml:"child_tree" validate:"omitempty,gte=0,lte=4095"`
	IsRoot        bool              `yaml:"is_root"`
	Attributes    map[string]string `yaml:"attributes"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadFile reads and parses a document from path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return doc, nil
}

// Validate checks field constraints and id uniqueness.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	windows := make(map[int32]bool, len(d.Windows))
	for _, w := range d.Windows {
		if windows[w.ID] {
			return fmt.Errorf("%w: duplicate window %d", ErrInvalidDocument, w.ID)
		}
		windows[w.ID] = true

		ids := make(map[int64]bool, len(w.Elements))
		for _, e := range w.Elements {
			if ids[e.ID] {
				return fmt.Errorf("%w: duplicate element %d in window %d", ErrInvalidDocument, e.ID, w.ID)
			}
			ids[e.ID] = true
		}
	}
	return nil
}

// Info describes the window. active is the document's active window.
func (w Window) Info(active int32) element.WindowInfo {
	info := element.WindowInfo{
		WindowID:             w.ID,
		DisplayID:            w.DisplayID,
		Type:                 w.Type,
		Layer:                w.Layer,
		Title:                w.Title,
		Active:               w.ID == active,
		AccessibilityFocused: w.Focus.Accessibility != 0,
	}
	info.Focused = info.Active && w.Focus.Input != 0
	if w.Anchor != nil {
		info.AnchorID = element.Int64(*w.Anchor)
	}
	return info
}

// sameInfo reports whether two windows describe themselves alike.
func sameInfo(a, b Window) bool {
	return a.DisplayID == b.DisplayID && a.Type == b.Type && a.Layer == b.Layer &&
		a.Title == b.Title && slices.Equal(ptrSlice(a.Anchor), ptrSlice(b.Anchor))
}

func ptrSlice(p *int64) []int64 {
	if p == nil {
		return nil
	}
	return []int64{*p}
}

// Snapshot converts the record to an element snapshot of windowID.
func (e Element) Snapshot(windowID int32) element.ElementSnapshot {
	s := element.ElementSnapshot{
		WindowID:  windowID,
		ElementID: e.ID,
		Parent:    element.NoParent(),
		IsRoot:    e.IsRoot,
	}
	switch {
	case e.Parent != nil:
		s.Parent = element.RealParent(*e.Parent)
	case e.ParentPending:
		s.Parent = element.PendingParent()
	}
	if len(e.Children) > 0 {
		s.ChildIDs = append([]int64(nil), e.Children...)
	}
	if e.ChildWindow != nil {
		s.ChildWindowID = element.Int32(*e.ChildWindow)
	}
	if e.ChildTree != nil {
		s.ChildTreeID = element.Int32(*e.ChildTree)
	}
	if len(e.Attributes) > 0 {
		s.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			s.Attributes[k] = v
		}
	}
	return s
}
