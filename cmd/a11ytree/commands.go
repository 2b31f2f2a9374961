// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/a11ysync/pkg/logging"
	"github.com/AleutianAI/a11ysync/services/a11y/client"
	"github.com/AleutianAI/a11ysync/services/a11y/config"
	"github.com/AleutianAI/a11ysync/services/a11y/debug"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/AleutianAI/a11ysync/services/a11y/telemetry"
)

var (
	configPath string
	target     string
	logLevel   string
	jsonOutput bool
	searchFrom int64
	displayID  uint64

	cfg    config.Config
	logger *logging.Logger
)

var (
	rootCmd = &cobra.Command{
		Use:   "a11ytree",
		Short: "Inspect accessibility element trees served by an element provider",
		Long: `a11ytree connects to an element provider over gRPC and prints the
assembled element tree of a window, with subtrees hosted by other windows
spliced in.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	dumpCmd = &cobra.Command{
		Use:   "dump [window]",
		Short: "Print the element tree of a window (default: the active window)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDump,
	}

	findCmd = &cobra.Command{
		Use:   "find <window> <text>",
		Short: "Print the elements of a window whose text contains <text>",
		Args:  cobra.ExactArgs(2),
		RunE:  runFind,
	}

	focusCmd = &cobra.Command{
		Use:   "focus [input|accessibility]",
		Short: "Print the focused element",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runFocus,
	}

	windowsCmd = &cobra.Command{
		Use:   "windows",
		Short: "List the windows the provider reports",
		Args:  cobra.NoArgs,
		RunE:  runWindows,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Keep a synced client running and expose it over the debug HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&target, "target", "", "Provider gRPC target (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON instead of a tree")

	findCmd.Flags().Int64Var(&searchFrom, "element", element.RootElementID, "Search below this element")
	windowsCmd.Flags().Uint64Var(&displayID, "display", 0, "Only list windows on this display")

	rootCmd.AddCommand(dumpCmd, findCmd, focusCmd, windowsCmd, serveCmd)
}

// setup loads configuration and builds the logger shared by every command.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if target != "" {
		cfg.Provider.Target = target
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	lc, err := cfg.Logging.LoggerConfig("a11ytree")
	if err != nil {
		return err
	}
	logger = logging.New(lc)
	slog.SetDefault(logger.Slog())
	return nil
}

func newClient() *client.Client {
	return cfg.NewClient(logger.Slog())
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := newClient()
	defer c.Close()

	var (
		nodes []element.ElementSnapshot
		err   error
	)
	if len(args) == 0 {
		nodes, err = c.GetRoot(ctx)
	} else {
		var windowID int32
		if windowID, err = parseWindow(args[0]); err == nil {
			nodes, err = c.GetRootByWindow(ctx, windowID)
		}
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return render(out, nodes, outputModeFor(out, jsonOutput))
}

func runFind(cmd *cobra.Command, args []string) error {
	windowID, err := parseWindow(args[0])
	if err != nil {
		return err
	}
	c := newClient()
	defer c.Close()

	nodes, err := c.GetByContent(cmd.Context(), windowID, searchFrom, args[1])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return renderList(out, nodes, outputModeFor(out, jsonOutput))
}

func runFocus(cmd *cobra.Command, args []string) error {
	focusType := element.FocusTypeInput
	if len(args) == 1 {
		focusType = element.ParseFocusType(args[0])
	}
	c := newClient()
	defer c.Close()

	node, err := c.GetFocus(cmd.Context(), focusType)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return renderList(out, []element.ElementSnapshot{node}, outputModeFor(out, jsonOutput))
}

func runWindows(cmd *cobra.Command, _ []string) error {
	c := newClient()
	defer c.Close()

	var (
		windows []element.WindowInfo
		err     error
	)
	if cmd.Flags().Changed("display") {
		windows, err = c.GetWindowsByDisplay(cmd.Context(), displayID)
	} else {
		windows, err = c.GetWindows(cmd.Context())
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return renderWindows(out, windows, outputModeFor(out, jsonOutput))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.TelemetryConfig())
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	c := newClient()
	defer c.Close()
	if err := c.Connect(ctx); err != nil {
		logger.Warn("provider not reachable yet, queries will retry", "error", err)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.Debug.Listen,
		Handler:           debug.NewRouter(debug.NewHandlers(c, logger.Slog()), cfg.Telemetry.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("debug API listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug API: %w", err)
		}
		return nil
	})
	if sub := cfg.NewSubscriber(c, logger.Slog()); sub != nil {
		g.Go(func() error {
			err := sub.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("a11ytree serve stopped", "cache", c.CacheStats())
	return err
}

func parseWindow(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("window %q: %w", s, element.ErrInvalidParam)
	}
	return int32(v), nil
}
