// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/a11ysync/pkg/logging"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/AleutianAI/a11ysync/services/a11y/events"
)

func TestLoggingConfig_LoggerConfig(t *testing.T) {
	lc, err := LoggingConfig{Level: "warn", JSON: true, Dir: "/tmp/a11y"}.LoggerConfig("a11ytree")
	require.NoError(t, err)
	assert.Equal(t, logging.Config{Level: logging.LevelWarn, JSON: true, Dir: "/tmp/a11y", Service: "a11ytree"}, lc)

	_, err = LoggingConfig{Level: "loud"}.LoggerConfig("a11ytree")
	assert.ErrorIs(t, err, logging.ErrUnknownLevel)
}

func TestTelemetryConfig(t *testing.T) {
	tc := TelemetryConfig{ServiceName: "svc", Exporter: "otlp", OTLPEndpoint: "collector:4317", SampleRate: 0.5}.TelemetryConfig()
	assert.Equal(t, "svc", tc.ServiceName)
	assert.Equal(t, "otlp", tc.TraceExporter)
	assert.Equal(t, "prometheus", tc.MetricExporter)
	assert.Equal(t, "collector:4317", tc.OTLPEndpoint)
	assert.InDelta(t, 0.5, tc.SampleRate, 1e-9)
}

func TestConfig_NewClient(t *testing.T) {
	cfg := Default()
	cfg.Cache.MaxWindows = 2
	cfg.Cache.Mode = int32(element.PrefetchChildren)

	cl := cfg.NewClient(nil)
	t.Cleanup(func() { _ = cl.Close() })

	assert.False(t, cl.Connected())
	assert.Equal(t, element.PrefetchChildren, cl.CacheMode())
	assert.Equal(t, 2, cl.CacheStats().MaxWindows)
}

func TestConfig_NewSubscriber(t *testing.T) {
	cfg := Default()
	cl := cfg.NewClient(nil)
	t.Cleanup(func() { _ = cl.Close() })

	assert.Nil(t, cfg.NewSubscriber(cl, nil))

	cfg.Events.URL = "ws://localhost:7444/v1/a11y/events"
	sub := cfg.NewSubscriber(cl, nil)
	require.NotNil(t, sub)
	assert.Equal(t, cfg.Events.URL, sub.URL)
	assert.Equal(t, events.DefaultReconnectDelay, sub.ReconnectDelay)
}
