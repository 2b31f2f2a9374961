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
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Default hub settings.
const (
	DefaultBufferSize   = 64
	DefaultWriteTimeout = 5 * time.Second
)

// Hub fans events out to websocket subscribers.
//
// Description:
//
//	Every subscriber owns a buffered queue drained by its own writer
//	goroutine, so one slow subscriber never blocks Publish. A subscriber
//	whose queue is full is disconnected; it reconnects and treats its
//	caches as stale.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*hubConn
	closed   bool
	upgrader websocket.Upgrader

	logger       *slog.Logger
	bufferSize   int
	writeTimeout time.Duration

	published atomic.Int64
	dropped   atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithBufferSize sets the per-subscriber queue length.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithWriteTimeout bounds one websocket write.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// NewHub creates a hub with no subscribers.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:      make(map[string]*hubConn),
		logger:       slog.Default(),
		bufferSize:   DefaultBufferSize,
		writeTimeout: DefaultWriteTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// hubConn is one connected subscriber.
type hubConn struct {
	id   string
	ws   *websocket.Conn
	send chan Event
	done chan struct{}
	once sync.Once
}

func (c *hubConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Handler returns a gin handler upgrading the request to a subscriber
// websocket.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ServeHTTP upgrades the request and streams events until either side
// closes the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade event subscriber", slog.String("error", err.Error()))
		return
	}

	id := r.Header.Get(SubscriberIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	conn := &hubConn{
		id:   id,
		ws:   ws,
		send: make(chan Event, h.bufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.close()
		return
	}
	h.clients[id] = conn
	h.mu.Unlock()

	h.logger.Info("event subscriber connected", slog.String("subscriber_id", id))

	go h.writeLoop(conn)
	h.readLoop(conn)
	h.remove(conn)
}

// readLoop discards inbound frames and returns when the peer goes away.
func (h *Hub) readLoop(conn *hubConn) {
	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			h.logger.Debug("event subscriber disconnected",
				slog.String("subscriber_id", conn.id),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

func (h *Hub) writeLoop(conn *hubConn) {
	for {
		select {
		case <-conn.done:
			return
		case ev := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.ws.WriteJSON(ev); err != nil {
				h.logger.Warn("failed to write event",
					slog.String("subscriber_id", conn.id),
					slog.String("error", err.Error()),
				)
				conn.close()
				return
			}
		}
	}
}

func (h *Hub) remove(conn *hubConn) {
	h.mu.Lock()
	if h.clients[conn.id] == conn {
		delete(h.clients, conn.id)
	}
	h.mu.Unlock()
	conn.close()
}

// Publish queues ev for every subscriber and returns how many accepted it.
// Subscribers with a full queue are disconnected.
func (h *Hub) Publish(ev Event) int {
	h.published.Add(1)

	var slow []*hubConn
	delivered := 0

	h.mu.RLock()
	for _, conn := range h.clients {
		select {
		case conn.send <- ev:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		h.dropped.Add(1)
		h.logger.Warn("dropping slow event subscriber",
			slog.String("subscriber_id", conn.id),
			slog.String("event", ev.String()),
		)
		h.remove(conn)
	}
	return delivered
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Published returns the number of Publish calls.
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*hubConn, 0, len(h.clients))
	for id, conn := range h.clients {
		conns = append(conns, conn)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}
