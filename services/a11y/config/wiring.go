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
	"log/slog"

	"github.com/AleutianAI/a11ysync/pkg/logging"
	"github.com/AleutianAI/a11ysync/services/a11y/cache"
	"github.com/AleutianAI/a11ysync/services/a11y/channel"
	"github.com/AleutianAI/a11ysync/services/a11y/client"
	"github.com/AleutianAI/a11ysync/services/a11y/events"
	"github.com/AleutianAI/a11ysync/services/a11y/telemetry"
)

// LoggerConfig converts the logging section for service.
func (l LoggingConfig) LoggerConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		Dir:     l.Dir,
		Service: service,
		JSON:    l.JSON,
		Quiet:   l.Quiet,
	}, nil
}

// TelemetryConfig converts the telemetry section. Metrics are always
// exported for Prometheus so /metrics has the otel instruments.
func (t TelemetryConfig) TelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = t.ServiceName
	cfg.TraceExporter = t.Exporter
	cfg.OTLPEndpoint = t.OTLPEndpoint
	cfg.SampleRate = t.SampleRate
	return cfg
}

// NewClient builds a client that dials the configured provider over gRPC.
// The connection is established lazily by the first query.
func (c Config) NewClient(logger *slog.Logger) *client.Client {
	if logger == nil {
		logger = slog.Default()
	}
	loader := channel.GRPCLoader{Target: c.Provider.Target, Logger: logger}
	connector := client.NewConnector(loader,
		client.WithConnectTimeout(c.Provider.ConnectTimeout),
		client.WithLoadTimeout(c.Provider.LoadTimeout),
		client.WithRetryInterval(c.Provider.RetryInterval),
		client.WithConnectorLogger(logger),
	)
	wc := cache.NewWindowCache(
		cache.WithMaxWindows(c.Cache.MaxWindows),
		cache.WithLogger(logger),
	)
	return client.New(connector,
		client.WithLogger(logger),
		client.WithCache(wc),
		client.WithCacheMode(c.Cache.PrefetchMode()),
	)
}

// NewSubscriber returns a subscriber feeding c's events into cl, or nil
// when no event URL is configured. Every reconnect drops the cache since
// events published while disconnected are lost.
func (c Config) NewSubscriber(cl *client.Client, logger *slog.Logger) *events.Subscriber {
	if c.Events.URL == "" {
		return nil
	}
	return &events.Subscriber{
		URL:            c.Events.URL,
		Handler:        cl.HandleEvent,
		OnConnect:      func() { cl.Cache().Clear() },
		ReconnectDelay: c.Events.ReconnectDelay,
		Logger:         logger,
	}
}
