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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/a11ysync/services/a11y/channel"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"golang.org/x/time/rate"
)

// Connector defaults.
const (
	// DefaultConnectTimeout bounds how long a caller waits for the provider.
	DefaultConnectTimeout = 3 * time.Second

	// DefaultLoadTimeout bounds one background load attempt.
	DefaultLoadTimeout = 30 * time.Second

	// DefaultRetryInterval is the minimum spacing of load attempts.
	DefaultRetryInterval = 500 * time.Millisecond
)

// errClosed ends the loads and waits cut short by Close.
var errClosed = errors.New("connector closed")

// Dialer hands out the provider channel.
type Dialer interface {
	// Connect returns an established channel or an error wrapping
	// element.ErrNoConnection.
	Connect(ctx context.Context) (channel.Channel, error)

	// Drop forgets ch if it is the current channel so the next Connect
	// loads a new one.
	Drop(ch channel.Channel)

	// Close releases the current channel.
	Close() error
}

// Connector loads the provider channel in the background and lets callers
// wait a bounded time for it.
//
// Description:
//
//	The first Connect starts an asynchronous load and waits on a condition
//	variable that the load signals on completion. A waiter gives up after
//	ConnectTimeout and reports element.ErrNoConnection; the load itself
//	keeps running, so a later Connect may find the channel ready. Load
//	attempts are throttled by a token bucket so a dead provider is not
//	hammered by every query. Close abandons an in-flight load: a channel
//	it delivers afterwards is closed instead of installed.
//
// Thread Safety: Safe for concurrent use.
type Connector struct {
	loader      channel.Loader
	timeout     time.Duration
	loadTimeout time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	ch      channel.Channel
	loading bool
	lastErr error

	// gen advances on Close. A load only installs its channel while the
	// generation it started in is current.
	gen uint64
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithConnectTimeout sets how long Connect waits.
func WithConnectTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLoadTimeout bounds one background load attempt.
func WithLoadTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// WithRetryInterval sets the minimum spacing between load attempts.
// Zero disables throttling.
func WithRetryInterval(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithConnectorLogger sets the logger.
func WithConnectorLogger(logger *slog.Logger) ConnectorOption {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConnector creates a Connector using loader.
func NewConnector(loader channel.Loader, opts ...ConnectorOption) *Connector {
	c := &Connector{
		loader:      loader,
		timeout:     DefaultConnectTimeout,
		loadTimeout: DefaultLoadTimeout,
		limiter:     rate.NewLimiter(rate.Every(DefaultRetryInterval), 1),
		logger:      slog.Default(),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect returns the current channel, loading one if needed.
//
// Description:
//
//	Joins an in-flight load or starts a new one (subject to the retry
//	throttle), then waits until the load completes, ConnectTimeout
//	elapses or ctx is done.
//
// Outputs:
//
//	channel.Channel - The established channel.
//	error - Wraps element.ErrNoConnection on timeout, load failure or
//	  throttling.
func (c *Connector) Connect(ctx context.Context) (channel.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil {
		return c.ch, nil
	}
	if !c.loading {
		if !c.limiter.Allow() {
			return nil, fmt.Errorf("provider reconnect throttled: %w", element.ErrNoConnection)
		}
		c.loading = true
		go c.load(c.gen)
	}

	expired := false
	timer := time.AfterFunc(c.timeout, func() {
		c.mu.Lock()
		expired = true
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for c.ch == nil && c.loading && !expired && ctx.Err() == nil {
		c.cond.Wait()
	}

	switch {
	case c.ch != nil:
		return c.ch, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("wait for provider: %w: %w", element.ErrNoConnection, ctx.Err())
	case !c.loading && c.lastErr != nil:
		return nil, fmt.Errorf("load provider: %w: %w", element.ErrNoConnection, c.lastErr)
	default:
		return nil, fmt.Errorf("provider not ready after %s: %w", c.timeout, element.ErrNoConnection)
	}
}

// load runs one load attempt and wakes every waiter.
func (c *Connector) load(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.loadTimeout)
	defer cancel()

	start := time.Now()
	ch, err := c.loader.Load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		if err == nil {
			c.logger.Debug("discarding element provider loaded after close")
			closeChannel(ch, c.logger)
		}
		return
	}
	c.loading = false
	c.lastErr = err
	if err != nil {
		c.logger.Warn("element provider load failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
	} else {
		c.ch = ch
		c.logger.Info("element provider connected", slog.Duration("elapsed", time.Since(start)))
	}
	c.cond.Broadcast()
}

// Drop implements Dialer.
func (c *Connector) Drop(ch channel.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch == nil || c.ch != ch {
		return
	}
	c.ch = nil
	c.logger.Warn("dropped element provider connection")
	closeChannel(ch, c.logger)
}

// Close implements Dialer. Waiters of an in-flight load are released with
// element.ErrNoConnection; a later Connect starts a new load.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.loading {
		c.loading = false
		c.lastErr = errClosed
		c.cond.Broadcast()
	}
	ch := c.ch
	c.ch = nil
	if ch == nil {
		return nil
	}
	if closer, ok := ch.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func closeChannel(ch channel.Channel, logger *slog.Logger) {
	closer, ok := ch.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Debug("closing element channel", slog.String("error", err.Error()))
	}
}
