// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command a11y-provider serves a YAML element fixture as an element
// provider: the element channel over gRPC and structural-change events
// over a websocket. The fixture is reloaded when the file changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/AleutianAI/a11ysync/pkg/logging"
	"github.com/AleutianAI/a11ysync/services/a11y/channel"
	"github.com/AleutianAI/a11ysync/services/a11y/config"
	"github.com/AleutianAI/a11ysync/services/a11y/events"
	"github.com/AleutianAI/a11ysync/services/a11y/fixture"
	"github.com/AleutianAI/a11ysync/services/a11y/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	fixturePath := flag.String("fixture", "", "Fixture to serve (overrides server.fixture)")
	grpcAddr := flag.String("grpc", "", "gRPC listen address (overrides server.grpc_listen)")
	eventsAddr := flag.String("events", "", "Event feed listen address (overrides server.events_listen)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "a11y-provider:", err)
		os.Exit(2)
	}
	if *fixturePath != "" {
		cfg.Server.Fixture = *fixturePath
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCListen = *grpcAddr
	}
	if *eventsAddr != "" {
		cfg.Server.EventsListen = *eventsAddr
	}
	if *debugMode {
		cfg.Logging.Level = "debug"
	}

	lc, err := cfg.Logging.LoggerConfig("a11y-provider")
	if err != nil {
		fmt.Fprintln(os.Stderr, "a11y-provider:", err)
		os.Exit(2)
	}
	logger := logging.New(lc)
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger.Slog()); err != nil {
		logger.Error("a11y-provider failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("a11y-provider stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Server.Fixture == "" {
		return errors.New("no fixture: set -fixture or server.fixture")
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.TelemetryConfig())
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	doc, err := fixture.LoadFile(cfg.Server.Fixture)
	if err != nil {
		return err
	}
	provider := fixture.NewProvider(doc, logger)
	hub := events.NewHub(events.WithHubLogger(logger), events.WithBufferSize(cfg.Events.BufferSize))
	defer hub.Close()

	watcher, err := fixture.NewWatcher(cfg.Server.Fixture, provider, func(evs []events.Event) {
		for _, ev := range evs {
			hub.Publish(ev)
		}
	}, &fixture.WatcherOptions{Debounce: cfg.Server.Debounce, Logger: logger})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(channel.LoggingInterceptor(logger)),
	)
	channel.RegisterServer(grpcServer, provider)

	lis, err := net.Listen("tcp", cfg.Server.GRPCListen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCListen, err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.GET("/v1/a11y/events", hub.Handler())
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	httpServer := &http.Server{
		Addr:              cfg.Server.EventsListen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("element channel listening",
			slog.String("address", lis.Addr().String()),
			slog.Any("windows", provider.Windows()),
		)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("event feed listening", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("event feed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(sctx)
	})
	return g.Wait()
}
