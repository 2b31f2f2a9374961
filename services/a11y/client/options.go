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
	"log/slog"

	"github.com/AleutianAI/a11ysync/services/a11y/cache"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

// Options configures a Client.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Cache defaults to a new cache.WindowCache with default capacity.
	Cache *cache.WindowCache

	// CacheMode is the initial prefetch mode. Defaults to
	// DefaultCacheMode.
	CacheMode element.PrefetchMode
}

// DefaultCacheMode asks the provider for whole subtrees so root queries
// can be answered from the cache afterwards.
const DefaultCacheMode = element.PrefetchRecursiveChildren

// Option is a functional option for configuring a Client.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithCache shares an existing window cache.
func WithCache(c *cache.WindowCache) Option {
	return func(o *Options) {
		o.Cache = c
	}
}

// WithCacheMode sets the initial prefetch mode. Unknown bits are dropped.
func WithCacheMode(mode element.PrefetchMode) Option {
	return func(o *Options) {
		o.CacheMode = mode & element.PrefetchMask
	}
}
