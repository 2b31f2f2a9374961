// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package channel defines the request/response boundary to the element
// provider and a gRPC transport for it.
//
// The provider holds the live UI tree. Every call is synchronous: it blocks
// until the provider answers or the call fails. An empty successful result
// is distinct from a failure.
package channel

import (
	"context"
	"errors"

	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

// ErrUnavailable indicates the provider connection is gone. The client drops
// its connection when a call fails with it so the next call reconnects.
var ErrUnavailable = errors.New("element provider unavailable")

// Channel is the query surface of the element provider.
type Channel interface {
	// QueryByElementID returns the batch for one element (or the window
	// root when elementID is element.RootElementID) in the given tree. The
	// prefetch mode controls how much surrounding context is included.
	QueryByElementID(ctx context.Context, windowID int32, elementID int64, mode element.PrefetchMode, treeID int32) ([]element.ElementSnapshot, error)

	// QueryByText returns the elements below elementID whose text matches.
	QueryByText(ctx context.Context, windowID int32, elementID int64, text string) ([]element.ElementSnapshot, error)

	// QueryFocused returns the element holding the given focus type.
	QueryFocused(ctx context.Context, windowID int32, elementID int64, focusType element.FocusType) (element.ElementSnapshot, error)

	// FocusMoveSearch returns the next focusable element in a direction.
	FocusMoveSearch(ctx context.Context, windowID int32, elementID int64, direction element.Direction) (element.ElementSnapshot, error)

	// ResolveCrossWindowParent returns the id of the element hosting the
	// given tree of a window.
	ResolveCrossWindowParent(ctx context.Context, windowID int32, treeID int32) (int64, error)

	// ActiveWindow returns the id of the currently active window.
	ActiveWindow(ctx context.Context) (int32, error)

	// QueryWindows returns every window the provider knows, in the
	// provider's order.
	QueryWindows(ctx context.Context) ([]element.WindowInfo, error)
}

// Loader establishes a Channel. Load may block; callers run it in the
// background and bound the wait themselves.
type Loader interface {
	Load(ctx context.Context) (Channel, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Channel, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) (Channel, error) {
	return f(ctx)
}
