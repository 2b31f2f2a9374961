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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SubscriberIDHeader identifies a subscriber across reconnects.
const SubscriberIDHeader = "X-Subscriber-ID"

// DefaultReconnectDelay is the pause between reconnect attempts.
const DefaultReconnectDelay = time.Second

// Handler receives decoded events.
type Handler func(Event)

// Subscriber follows an event feed and reconnects until its context ends.
type Subscriber struct {
	// URL is the websocket URL of the feed, e.g. ws://localhost:7444/v1/a11y/events.
	URL string

	// Handler is called for every valid event, in arrival order.
	Handler Handler

	// OnConnect is called after every successful (re)connect. Events
	// published while disconnected are lost, so callers drop caches here.
	OnConnect func()

	// ReconnectDelay defaults to DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	id string
}

// Run consumes the feed until ctx is done.
//
// Outputs:
//
//	error - ctx.Err() once ctx is done. Connection errors are logged and
//	  retried, never returned.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.Handler == nil {
		return errors.New("events: subscriber has no handler")
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	delay := s.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger().Warn("event feed disconnected, reconnecting",
			slog.String("url", s.URL),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Set(SubscriberIDHeader, s.id)
	conn, _, err := dialer.DialContext(ctx, s.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.URL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.logger().Info("event feed connected", slog.String("url", s.URL), slog.String("subscriber_id", s.id))
	if s.OnConnect != nil {
		s.OnConnect()
	}

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		if err := ev.Validate(); err != nil {
			s.logger().Warn("ignoring invalid event", slog.String("error", err.Error()))
			continue
		}
		s.Handler(ev)
	}
}

func (s *Subscriber) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
