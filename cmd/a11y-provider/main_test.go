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
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/a11ysync/services/a11y/config"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/AleutianAI/a11ysync/services/a11y/events"
)

const desktop = `
active_window: 5
windows:
  - id: 5
    elements:
      - {id: 100, is_root: true, children: [101, 102]}
      - {id: 101, parent: 100}
      - {id: 102, parent: 100, child_window: 6}
  - id: 6
    elements:
      - {id: 200, is_root: true, parent_pending: true}
`

const desktopMoved = `
active_window: 5
windows:
  - id: 5
    elements:
      - {id: 100, is_root: true, children: [101]}
      - {id: 101, parent: 100}
`

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestRun_ServesFixtureAndEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desktop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(desktop), 0o644))

	cfg := config.Default()
	cfg.Server.Fixture = path
	cfg.Server.GRPCListen = freeAddr(t)
	cfg.Server.EventsListen = freeAddr(t)
	cfg.Server.Debounce = 20 * time.Millisecond
	cfg.Telemetry.Exporter = "none"
	cfg.Provider.Target = cfg.Server.GRPCListen
	cfg.Events.URL = "ws://" + cfg.Server.EventsListen + "/v1/a11y/events"
	cfg.Events.ReconnectDelay = 20 * time.Millisecond
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, nil) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("provider did not stop")
		}
	})

	cl := cfg.NewClient(nil)
	t.Cleanup(func() { _ = cl.Close() })

	var nodes []element.ElementSnapshot
	require.Eventually(t, func() bool {
		var err error
		nodes, err = cl.GetRoot(ctx)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []int64{100, 101, 102, 200}, element.IDs(nodes))
	assert.True(t, cl.Cache().Contains(6))

	var (
		mu       sync.Mutex
		received []events.Event
	)
	connected := make(chan struct{}, 1)
	sub := cfg.NewSubscriber(cl, nil)
	handle := sub.Handler
	sub.Handler = func(ev events.Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
		handle(ev)
	}
	sub.OnConnect = func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	}
	go func() { _ = sub.Run(ctx) }()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not connect")
	}

	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(desktopMoved), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return !cl.Cache().Contains(5) && !cl.Cache().Contains(6)
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		nodes, err := cl.GetRootByWindow(ctx, 5)
		return err == nil && len(nodes) == 2
	}, 2*time.Second, 20*time.Millisecond)
	assert.False(t, cl.Cache().Contains(6))
}

func TestRun_RequiresFixture(t *testing.T) {
	err := run(context.Background(), config.Default(), nil)
	assert.ErrorContains(t, err, "no fixture")
}
