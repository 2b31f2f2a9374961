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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/a11ysync/services/a11y/channel"
	"github.com/AleutianAI/a11ysync/services/a11y/channel/channeltest"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnector_WaitersShareOneLoad(t *testing.T) {
	fake := channeltest.New()
	release := make(chan struct{})
	var loads atomic.Int32
	loader := channel.LoaderFunc(func(context.Context) (channel.Channel, error) {
		loads.Add(1)
		<-release
		return fake, nil
	})
	conn := NewConnector(loader, WithConnectTimeout(2*time.Second))

	var wg sync.WaitGroup
	results := make([]channel.Channel, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := conn.Connect(context.Background())
			assert.NoError(t, err)
			results[i] = ch
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, ch := range results {
		assert.Same(t, fake, ch)
	}
}

func TestConnector_ThrottlesRetries(t *testing.T) {
	var loads atomic.Int32
	loader := channel.LoaderFunc(func(context.Context) (channel.Channel, error) {
		loads.Add(1)
		return nil, errors.New("refused")
	})
	conn := NewConnector(loader, WithRetryInterval(time.Hour))

	_, err := conn.Connect(context.Background())
	require.ErrorIs(t, err, element.ErrNoConnection)
	assert.Contains(t, err.Error(), "refused")

	_, err = conn.Connect(context.Background())
	require.ErrorIs(t, err, element.ErrNoConnection)
	assert.Contains(t, err.Error(), "throttled")
	assert.Equal(t, int32(1), loads.Load())
}

func TestConnector_HonorsContext(t *testing.T) {
	loader := channel.LoaderFunc(func(ctx context.Context) (channel.Channel, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	conn := NewConnector(loader, WithConnectTimeout(time.Minute), WithLoadTimeout(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := conn.Connect(ctx)
	assert.ErrorIs(t, err, element.ErrNoConnection)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnector_DropOnlyCurrent(t *testing.T) {
	fake := channeltest.New()
	conn := NewConnector(channel.LoaderFunc(func(context.Context) (channel.Channel, error) {
		return fake, nil
	}), WithRetryInterval(0))

	ch, err := conn.Connect(context.Background())
	require.NoError(t, err)

	conn.Drop(channeltest.New())
	again, err := conn.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, ch, again)

	conn.Drop(ch)
	conn.mu.Lock()
	assert.Nil(t, conn.ch)
	conn.mu.Unlock()
	assert.NoError(t, conn.Close())
}

// closableChannel records Close.
type closableChannel struct {
	*channeltest.Fake
	closed atomic.Bool
}

func (c *closableChannel) Close() error {
	c.closed.Store(true)
	return nil
}

func TestConnector_CloseAbandonsInFlightLoad(t *testing.T) {
	late := &closableChannel{Fake: channeltest.New()}
	release := make(chan struct{})
	var loads atomic.Int32
	loader := channel.LoaderFunc(func(context.Context) (channel.Channel, error) {
		if loads.Add(1) == 1 {
			<-release
		}
		return late, nil
	})
	conn := NewConnector(loader, WithConnectTimeout(time.Minute), WithRetryInterval(0))

	errc := make(chan error, 1)
	go func() {
		_, err := conn.Connect(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return loads.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, element.ErrNoConnection)
		assert.Contains(t, err.Error(), "closed")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by Close")
	}

	close(release)
	require.Eventually(t, late.closed.Load, time.Second, 5*time.Millisecond)
	conn.mu.Lock()
	assert.Nil(t, conn.ch, "a load finishing after Close is not installed")
	conn.mu.Unlock()

	late.closed.Store(false)
	ch, err := conn.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, late, ch)
	assert.Equal(t, int32(2), loads.Load())
}
