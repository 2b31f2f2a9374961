// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events carries structural-change notifications from the element
// provider to clients over a websocket feed.
package events

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownKind is returned for an event kind this package does not know.
var ErrUnknownKind = errors.New("unknown event kind")

// Kind is the kind of change an event reports.
type Kind string

const (
	// KindContentChanged reports changed element content or attributes.
	KindContentChanged Kind = "content_changed"

	// KindSubtreeChanged reports added, removed or moved elements.
	KindSubtreeChanged Kind = "subtree_changed"

	// KindWindowAdded reports a new window.
	KindWindowAdded Kind = "window_added"

	// KindWindowRemoved reports a closed window.
	KindWindowRemoved Kind = "window_removed"

	// KindWindowUpdated reports window bounds, layer or focus changes.
	KindWindowUpdated Kind = "window_updated"

	// KindFocusChanged reports a focus move. It does not alter the tree.
	KindFocusChanged Kind = "focus_changed"
)

var knownKinds = map[Kind]bool{
	KindContentChanged: true,
	KindSubtreeChanged: true,
	KindWindowAdded:    true,
	KindWindowRemoved:  true,
	KindWindowUpdated:  true,
	KindFocusChanged:   true,
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !knownKinds[k] {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Structural reports whether cached trees of the window are stale after an
// event of this kind.
func (k Kind) Structural() bool {
	return knownKinds[k] && k != KindFocusChanged
}

// Event is one change notification keyed by window.
type Event struct {
	WindowID int32 `json:"window_id"`
	Kind     Kind  `json:"kind"`

	// ElementID is the element the change happened on, when the provider
	// knows it.
	ElementID *int64 `json:"element_id,omitempty"`

	At time.Time `json:"at"`
}

// New creates an event stamped with the current time.
func New(windowID int32, kind Kind) Event {
	return Event{WindowID: windowID, Kind: kind, At: time.Now().UTC()}
}

// WithSource returns a copy of e naming elementID as its source element.
func (e Event) WithSource(elementID int64) Event {
	e.ElementID = &elementID
	return e
}

// Source returns the source element id, if any.
func (e Event) Source() (int64, bool) {
	if e.ElementID == nil {
		return 0, false
	}
	return *e.ElementID, true
}

// Validate checks the event kind.
func (e Event) Validate() error {
	if !knownKinds[e.Kind] {
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(e.Kind))
	}
	return nil
}

// String renders the event for logs.
func (e Event) String() string {
	if id, ok := e.Source(); ok {
		return fmt.Sprintf("%s(window=%d, element=%d)", e.Kind, e.WindowID, id)
	}
	return fmt.Sprintf("%s(window=%d)", e.Kind, e.WindowID)
}
