// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	tests := []struct {
		kind       string
		structural bool
	}{
		{"content_changed", true},
		{"subtree_changed", true},
		{"window_added", true},
		{"window_removed", true},
		{"window_updated", true},
		{"focus_changed", false},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			k, err := ParseKind(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.structural, k.Structural())
		})
	}

	_, err := ParseKind("resized")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.False(t, Kind("resized").Structural())
	assert.ErrorIs(t, Event{Kind: "resized"}.Validate(), ErrUnknownKind)
}

// recorder collects events delivered to a subscriber.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func startSubscriber(t *testing.T, url string, rec *recorder, connects *atomic.Int32) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscriber{
		URL:            url,
		Handler:        rec.handle,
		OnConnect:      func() { connects.Add(1) },
		ReconnectDelay: 20 * time.Millisecond,
	}
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Error("subscriber did not stop")
		}
	})
	return cancel
}

func TestHub_DeliversToSubscriber(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	rec := &recorder{}
	var connects atomic.Int32
	startSubscriber(t, wsURL(srv.URL, "/"), rec, &connects)

	require.Eventually(t, func() bool { return hub.Clients() == 1 && connects.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, hub.Publish(New(5, KindSubtreeChanged)))
	assert.Equal(t, 1, hub.Publish(Event{WindowID: 5, Kind: "bogus"}))
	assert.Equal(t, 1, hub.Publish(New(6, KindWindowRemoved)))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := rec.snapshot()
	assert.Equal(t, int32(5), got[0].WindowID)
	assert.Equal(t, KindSubtreeChanged, got[0].Kind)
	assert.Equal(t, KindWindowRemoved, got[1].Kind)
	assert.Equal(t, int64(3), hub.Published())
}

func TestHub_GinHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	router := gin.New()
	router.GET("/v1/a11y/events", hub.Handler())
	srv := httptest.NewServer(router)
	defer srv.Close()
	defer hub.Close()

	rec := &recorder{}
	var connects atomic.Int32
	startSubscriber(t, wsURL(srv.URL, "/v1/a11y/events"), rec, &connects)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(New(7, KindContentChanged))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscriber_ReconnectsAfterDisconnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	rec := &recorder{}
	var connects atomic.Int32
	startSubscriber(t, wsURL(srv.URL, "/"), rec, &connects)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Kick the subscriber without closing the hub.
	hub.mu.RLock()
	for _, conn := range hub.clients {
		conn.close()
	}
	hub.mu.RUnlock()

	require.Eventually(t, func() bool { return connects.Load() >= 2 && hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(New(5, KindWindowUpdated))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Close()
}

func TestSubscriber_RequiresHandler(t *testing.T) {
	err := (&Subscriber{URL: "ws://127.0.0.1:1/"}).Run(context.Background())
	assert.Error(t, err)
}

func TestSubscriber_StopsWhileDisconnected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	sub := &Subscriber{URL: "ws://127.0.0.1:1/", Handler: func(Event) {}, ReconnectDelay: 10 * time.Millisecond}
	err := sub.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
