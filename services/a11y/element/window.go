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

// WindowInfo describes one window known to the provider.
type WindowInfo struct {
	WindowID  int32  `json:"window_id" yaml:"window_id"`
	DisplayID uint64 `json:"display_id" yaml:"display_id"`

	// Type is the provider's window category, e.g. "application".
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
	Layer int32  `json:"layer" yaml:"layer"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// AnchorID is the element the window is anchored to. It lives in the
	// window itself or, for an inner window, in the scene board.
	AnchorID *int64 `json:"anchor_id,omitempty" yaml:"anchor_id,omitempty"`

	Active               bool `json:"active" yaml:"active"`
	Focused              bool `json:"focused" yaml:"focused"`
	AccessibilityFocused bool `json:"accessibility_focused" yaml:"accessibility_focused"`
}

// Anchor returns the anchor element id, if any.
func (w WindowInfo) Anchor() (int64, bool) {
	if w.AnchorID == nil {
		return 0, false
	}
	return *w.AnchorID, true
}

// Clone returns a copy that shares no pointers with w.
func (w WindowInfo) Clone() WindowInfo {
	if w.AnchorID != nil {
		id := *w.AnchorID
		w.AnchorID = &id
	}
	return w
}

// Int64 returns a pointer to v, for optional fields.
func Int64(v int64) *int64 { return &v }
