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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the window cache.
var (
	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a11y_cache_lookups_total",
		Help: "Total window cache lookups by operation and result",
	}, []string{"op", "result"})

	cacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "a11y_cache_evictions_total",
		Help: "Total windows evicted because the cache was full",
	})

	cacheReplacementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "a11y_cache_replacements_total",
		Help: "Total wholesale window writes",
	})

	cacheInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "a11y_cache_invalidations_total",
		Help: "Total windows removed by invalidation",
	})

	cacheFailClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "a11y_cache_fail_closed_total",
		Help: "Root rebuilds refused because a referenced batch or child was not cached",
	})

	cacheStaleWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "a11y_cache_stale_writes_total",
		Help: "Window writes refused because the window was invalidated during the fetch",
	})

	cacheWindows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "a11y_cache_windows",
		Help: "Number of windows currently cached",
	})

	sceneBoardPairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "a11y_sceneboard_pairs",
		Help: "Number of inner windows mapped by the scene-board index",
	})
)

func recordLookup(op string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(op, result).Inc()
}
