// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"log/slog"
)

// Default configuration values.
const (
	// DefaultMaxWindows is the default number of cached windows.
	DefaultMaxWindows = 5
)

// CacheStats contains statistics about the cache.
type CacheStats struct {
	// WindowCount is the number of cached windows.
	WindowCount int `json:"window_count"`

	// ElementCount is the number of cached elements across all windows.
	ElementCount int `json:"element_count"`

	// Hits is the number of lookups answered from the cache.
	Hits int64 `json:"hits"`

	// Misses is the number of lookups that found nothing.
	Misses int64 `json:"misses"`

	// Evictions is the number of windows dropped because the cache was full.
	Evictions int64 `json:"evictions"`

	// Replacements is the number of wholesale window writes.
	Replacements int64 `json:"replacements"`

	// Invalidations is the number of windows removed by invalidation.
	Invalidations int64 `json:"invalidations"`

	// FailClosed is the number of root rebuilds refused because a batch
	// or a child was missing.
	FailClosed int64 `json:"fail_closed"`

	// StaleWrites is the number of window writes refused because the
	// window was invalidated while its batch was being fetched.
	StaleWrites int64 `json:"stale_writes"`

	// MaxWindows is the configured capacity.
	MaxWindows int `json:"max_windows"`

	// SceneBoardPairs is the number of inner windows the scene-board
	// index maps.
	SceneBoardPairs int `json:"scene_board_pairs"`
}

// HitRate returns the cache hit rate as a percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// CacheOptions configures WindowCache behavior.
type CacheOptions struct {
	// MaxWindows is the maximum number of cached windows.
	MaxWindows int

	// Index is the scene-board index consulted on invalidation and
	// scene-board lookups. A fresh index is created when nil.
	Index *SceneBoardIndex

	// Logger receives eviction and invalidation logs.
	Logger *slog.Logger
}

// DefaultCacheOptions returns sensible defaults.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		MaxWindows: DefaultMaxWindows,
	}
}

// CacheOption is a functional option for configuring WindowCache.
type CacheOption func(*CacheOptions)

// WithMaxWindows sets the maximum number of cached windows.
func WithMaxWindows(n int) CacheOption {
	return func(o *CacheOptions) {
		if n > 0 {
			o.MaxWindows = n
		}
	}
}

// WithSceneBoardIndex shares an existing scene-board index.
func WithSceneBoardIndex(index *SceneBoardIndex) CacheOption {
	return func(o *CacheOptions) {
		o.Index = index
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(o *CacheOptions) {
		o.Logger = logger
	}
}
