// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assembler

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for assembly.
var (
	tracer = otel.Tracer("a11ysync.assembler")
	meter  = otel.Meter("a11ysync.assembler")
)

// Metrics for assembly.
var (
	channelQueries      metric.Int64Counter
	splicesTotal        metric.Int64Counter
	inconsistentBatches metric.Int64Counter
	assembledNodes      metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		channelQueries, err = meter.Int64Counter(
			"a11y_channel_queries_total",
			metric.WithDescription("Total number of by-id channel queries issued by the assembler"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		splicesTotal, err = meter.Int64Counter(
			"a11y_assembly_splices_total",
			metric.WithDescription("Total number of cross-window or cross-tree subtrees spliced"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		inconsistentBatches, err = meter.Int64Counter(
			"a11y_assembly_inconsistent_total",
			metric.WithDescription("Total number of batches returned unsorted because BFS assembly failed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		assembledNodes, err = meter.Int64Histogram(
			"a11y_assembly_nodes",
			metric.WithDescription("Number of nodes per assembled result"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordChannelQuery(ctx context.Context, failed bool) {
	if err := initMetrics(); err != nil {
		return
	}
	channelQueries.Add(ctx, 1, metric.WithAttributes(attribute.Bool("failed", failed)))
}

func recordSplices(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	splicesTotal.Add(ctx, int64(n))
}

func recordInconsistent(ctx context.Context, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	inconsistentBatches.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func recordAssembled(ctx context.Context, nodes int) {
	if err := initMetrics(); err != nil {
		return
	}
	assembledNodes.Record(ctx, int64(nodes))
}

// startAssembleSpan creates a span for one assembly call.
func startAssembleSpan(ctx context.Context, operation string, req Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Assembler."+operation,
		trace.WithAttributes(
			attribute.Int("a11y.window_id", int(req.WindowID)),
			attribute.Int64("a11y.element_id", req.ElementID),
			attribute.Int("a11y.tree_id", int(req.TreeID)),
			attribute.String("a11y.mode", req.Mode.String()),
		),
	)
}

// endAssembleSpan records the outcome on the span and ends it.
func endAssembleSpan(span trace.Span, res *Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if res != nil {
		span.SetAttributes(
			attribute.Int("a11y.nodes", len(res.Nodes)),
			attribute.Bool("a11y.inconsistent", res.Inconsistent),
			attribute.Int("a11y.windows", len(res.Windows)),
		)
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
