// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package client

import (
	"context"
	"fmt"

	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/AleutianAI/a11ysync/services/a11y/events"
)

// GetWindows returns every window the provider reports, in provider order.
// Window lists are never cached.
func (c *Client) GetWindows(ctx context.Context) ([]element.WindowInfo, error) {
	return withSession(ctx, c, func(ctx context.Context, s session) ([]element.WindowInfo, error) {
		return c.windows(ctx, s)
	})
}

// GetWindowsByDisplay returns the windows shown on displayID.
func (c *Client) GetWindowsByDisplay(ctx context.Context, displayID uint64) ([]element.WindowInfo, error) {
	all, err := c.GetWindows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]element.WindowInfo, 0, len(all))
	for _, w := range all {
		if w.DisplayID == displayID {
			out = append(out, w)
		}
	}
	return out, nil
}

// GetWindow returns the description of windowID.
//
// Outputs:
//
//	element.WindowInfo - The window.
//	error - ErrInvalidParam for a negative id, ErrEmptyProviderResult when
//	        the provider does not know the window.
func (c *Client) GetWindow(ctx context.Context, windowID int32) (element.WindowInfo, error) {
	if windowID < 0 {
		return element.WindowInfo{}, fmt.Errorf("window %d: %w", windowID, element.ErrInvalidParam)
	}
	return withSession(ctx, c, func(ctx context.Context, s session) (element.WindowInfo, error) {
		all, err := c.windows(ctx, s)
		if err != nil {
			return element.WindowInfo{}, err
		}
		for _, w := range all {
			if w.WindowID == windowID {
				return w, nil
			}
		}
		return element.WindowInfo{}, fmt.Errorf("window %d: %w", windowID, element.ErrEmptyProviderResult)
	})
}

func (c *Client) windows(ctx context.Context, s session) ([]element.WindowInfo, error) {
	all, err := s.ch.QueryWindows(ctx)
	if err != nil {
		return nil, providerErr("query windows", err)
	}
	out := make([]element.WindowInfo, len(all))
	for i, w := range all {
		out[i] = w.Clone()
	}
	return out, nil
}

// GetAnchor returns the element window is anchored to.
//
// Description:
//
//	A window that names its anchor has it looked up in the window itself
//	and then in the scene board. A window without one falls back to the
//	scene-board index, which learns anchors from assembled scene-board
//	batches.
//
// Outputs:
//
//	element.ElementSnapshot - The anchor element.
//	error - ErrInvalidParam when no anchor is known for the window.
func (c *Client) GetAnchor(ctx context.Context, window element.WindowInfo) (element.ElementSnapshot, error) {
	if window.WindowID < 0 {
		return element.ElementSnapshot{}, fmt.Errorf("window %d: %w", window.WindowID, element.ErrInvalidParam)
	}
	if anchorID, ok := window.Anchor(); ok {
		windows := []int32{window.WindowID}
		if window.WindowID != element.SceneBoardWindowID {
			windows = append(windows, element.SceneBoardWindowID)
		}
		return withSession(ctx, c, func(ctx context.Context, s session) (element.ElementSnapshot, error) {
			return c.elementIn(ctx, s, windows, anchorID)
		})
	}
	anchorID, ok := c.cache.Index().AnchorOf(window.WindowID)
	if !ok {
		return element.ElementSnapshot{}, fmt.Errorf("window %d has no anchor: %w", window.WindowID, element.ErrInvalidParam)
	}
	return withSession(ctx, c, func(ctx context.Context, s session) (element.ElementSnapshot, error) {
		return c.elementIn(ctx, s, []int32{element.SceneBoardWindowID}, anchorID)
	})
}

// GetSource returns the element ev was raised for, or the root of the
// event's window when ev names no element.
func (c *Client) GetSource(ctx context.Context, ev events.Event) (element.ElementSnapshot, error) {
	if err := ev.Validate(); err != nil {
		return element.ElementSnapshot{}, fmt.Errorf("%w: %w", element.ErrInvalidParam, err)
	}
	elementID, ok := ev.Source()
	if !ok {
		elementID = element.RootElementID
	}
	return c.GetByElementID(ctx, ev.WindowID, elementID)
}
