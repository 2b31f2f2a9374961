// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package debug serves a read-mostly HTTP view of an a11ysync client: tree
// queries, cache contents and cache control.
package debug

import (
	"github.com/AleutianAI/a11ysync/services/a11y/cache"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the element error code, e.g. "empty_provider_result".
	Code string `json:"code,omitempty"`

	// RequestID echoes the X-Request-ID header.
	RequestID string `json:"request_id,omitempty"`

	// TraceID names the request trace when tracing is enabled.
	TraceID string `json:"trace_id,omitempty"`
}

// HealthResponse reports connection state.
type HealthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	CacheMode string `json:"cache_mode"`
}

// NodesResponse carries a list of elements.
type NodesResponse struct {
	Count int                       `json:"count"`
	Nodes []element.ElementSnapshot `json:"nodes"`
}

// NodeResponse carries one element.
type NodeResponse struct {
	Node element.ElementSnapshot `json:"node"`
}

// CachedWindow summarizes one cached window, oldest first.
type CachedWindow struct {
	WindowID int32 `json:"window_id"`
	Elements int   `json:"elements"`
}

// CacheResponse describes the window cache.
type CacheResponse struct {
	Stats      cache.CacheStats `json:"stats"`
	HitRate    float64          `json:"hit_rate"`
	Windows    []CachedWindow   `json:"windows"`
	SceneBoard []cache.Pair     `json:"scene_board"`
	Mode       string           `json:"mode"`
}

// ModeRequest is the body of PUT /cache/mode.
type ModeRequest struct {
	Mode *int32 `json:"mode" binding:"required"`
}

// WindowsResponse lists provider windows.
type WindowsResponse struct {
	Count   int                  `json:"count"`
	Windows []element.WindowInfo `json:"windows"`
}

// WindowResponse carries one provider window.
type WindowResponse struct {
	Window element.WindowInfo `json:"window"`
}

// SceneBoardResponse lists scene-board anchors, all of them or the one
// pair a query selected.
type SceneBoardResponse struct {
	Count int          `json:"count"`
	Pairs []cache.Pair `json:"pairs"`
}

// InvalidateResponse lists the windows removed from the cache.
type InvalidateResponse struct {
	Removed []int32 `json:"removed"`
}
