// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package debug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/a11ysync/services/a11y/cache"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/AleutianAI/a11ysync/services/a11y/telemetry"
)

const tracerName = "a11ysync.debug"

// Facade is the part of client.Client the handlers use.
type Facade interface {
	Connected() bool
	GetRoot(ctx context.Context) ([]element.ElementSnapshot, error)
	GetRootByWindow(ctx context.Context, windowID int32) ([]element.ElementSnapshot, error)
	GetByElementID(ctx context.Context, windowID int32, elementID int64) (element.ElementSnapshot, error)
	GetChildren(ctx context.Context, parent element.ElementSnapshot) ([]element.ElementSnapshot, error)
	GetParentElementInfo(ctx context.Context, child element.ElementSnapshot) (element.ElementSnapshot, error)
	GetByContent(ctx context.Context, windowID int32, elementID int64, text string) ([]element.ElementSnapshot, error)
	GetWindows(ctx context.Context) ([]element.WindowInfo, error)
	GetWindowsByDisplay(ctx context.Context, displayID uint64) ([]element.WindowInfo, error)
	GetWindow(ctx context.Context, windowID int32) (element.WindowInfo, error)
	GetAnchor(ctx context.Context, window element.WindowInfo) (element.ElementSnapshot, error)
	SetCacheMode(mode int32)
	CacheMode() element.PrefetchMode
	Invalidate(windowID int32) []int32
	Cache() *cache.WindowCache
}

// Handlers serves the debug API.
//
// Thread Safety: safe for concurrent use; all state lives in the facade.
type Handlers struct {
	client Facade
	logger *slog.Logger
}

// NewHandlers returns handlers over client. A nil logger uses
// slog.Default().
func NewHandlers(client Facade, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{client: client, logger: logger}
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// statusOf maps an element error to an HTTP status.
func statusOf(err error) int {
	switch element.CodeOf(err) {
	case element.CodeInvalidParam:
		return http.StatusBadRequest
	case element.CodeEmptyProviderResult:
		return http.StatusNotFound
	case element.CodeNoConnection:
		return http.StatusServiceUnavailable
	case element.CodeProviderQueryFailed:
		return http.StatusBadGateway
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *gin.Context, requestID string, err error) {
	status := statusOf(err)
	ctx := c.Request.Context()
	logger := telemetry.LoggerWithTrace(ctx, h.logger).With(
		slog.String("request_id", requestID),
		slog.String("path", c.FullPath()),
	)
	if status >= http.StatusInternalServerError {
		logger.Warn("debug query failed", slog.String("error", err.Error()))
	} else {
		logger.Debug("debug query rejected", slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		Code:      element.CodeOf(err).String(),
		RequestID: requestID,
		TraceID:   telemetry.TraceID(ctx),
	})
}

func badParam(name, value string) error {
	return fmt.Errorf("%s %q is not a number: %w", name, value, element.ErrInvalidParam)
}

func windowParam(c *gin.Context) (int32, error) {
	raw := c.Param("window")
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, badParam("window", raw)
	}
	return int32(v), nil
}

func elementParam(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badParam("element", raw)
	}
	return v, nil
}

// HandleHealth handles GET /v1/a11y/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	status := "ok"
	if !h.client.Connected() {
		status = "disconnected"
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:    status,
		Connected: h.client.Connected(),
		CacheMode: h.client.CacheMode().String(),
	})
}

// HandleWindows handles GET /v1/a11y/windows?display=. Without display
// every window is listed.
func (h *Handlers) HandleWindows(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	ctx := c.Request.Context()

	var (
		windows []element.WindowInfo
		err     error
	)
	if raw := c.Query("display"); raw != "" {
		displayID, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil {
			h.fail(c, requestID, badParam("display", raw))
			return
		}
		windows, err = h.client.GetWindowsByDisplay(ctx, displayID)
	} else {
		windows, err = h.client.GetWindows(ctx)
	}
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	if windows == nil {
		windows = []element.WindowInfo{}
	}
	c.JSON(http.StatusOK, WindowsResponse{Count: len(windows), Windows: windows})
}

// HandleWindow handles GET /v1/a11y/windows/:window.
func (h *Handlers) HandleWindow(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	windowID, err := windowParam(c)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	w, err := h.client.GetWindow(c.Request.Context(), windowID)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, WindowResponse{Window: w})
}

// HandleAnchor handles GET /v1/a11y/windows/:window/anchor.
//
// Response:
//
//	200 OK: NodeResponse
//	400 Bad Request: malformed window, or no anchor is known for it
//	404 Not Found: the provider does not know the window or its anchor
func (h *Handlers) HandleAnchor(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	ctx, span := telemetry.StartSpan(c.Request.Context(), tracerName, "debug.Anchor")
	defer span.End()

	windowID, err := windowParam(c)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	w, err := h.client.GetWindow(ctx, windowID)
	if err != nil {
		telemetry.RecordError(span, err)
		h.fail(c, requestID, err)
		return
	}
	anchor, err := h.client.GetAnchor(ctx, w)
	if err != nil {
		telemetry.RecordError(span, err)
		h.fail(c, requestID, err)
		return
	}
	telemetry.SetSpanOK(span)
	c.JSON(http.StatusOK, NodeResponse{Node: anchor})
}

// HandleRoot handles GET /v1/a11y/windows/:window/root.
//
// Description:
//
//	Returns the tree of the window, root first, with cross-window
//	subtrees spliced in. The window "active" selects the provider's
//	active window.
//
// Response:
//
//	200 OK: NodesResponse
//	400 Bad Request: malformed or negative window
//	404 Not Found: the provider has no tree for the window
//	502 Bad Gateway: the provider query failed
//	503 Service Unavailable: no provider connection
func (h *Handlers) HandleRoot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	ctx, span := telemetry.StartSpan(c.Request.Context(), tracerName, "debug.Root")
	defer span.End()

	var (
		nodes []element.ElementSnapshot
		err   error
	)
	if c.Param("window") == "active" {
		nodes, err = h.client.GetRoot(ctx)
	} else {
		var windowID int32
		if windowID, err = windowParam(c); err == nil {
			nodes, err = h.client.GetRootByWindow(ctx, windowID)
		}
	}
	if err != nil {
		telemetry.RecordError(span, err)
		h.fail(c, requestID, err)
		return
	}
	telemetry.SetSpanOK(span)
	c.JSON(http.StatusOK, NodesResponse{Count: len(nodes), Nodes: nodes})
}

// lookup resolves the :window and :element path parameters to a node.
func (h *Handlers) lookup(ctx context.Context, c *gin.Context) (element.ElementSnapshot, error) {
	windowID, err := windowParam(c)
	if err != nil {
		return element.ElementSnapshot{}, err
	}
	elementID, err := elementParam(c.Param("element"))
	if err != nil {
		return element.ElementSnapshot{}, err
	}
	return h.client.GetByElementID(ctx, windowID, elementID)
}

// HandleElement handles GET /v1/a11y/windows/:window/elements/:element.
func (h *Handlers) HandleElement(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	node, err := h.lookup(c.Request.Context(), c)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, NodeResponse{Node: node})
}

// HandleChildren handles GET /v1/a11y/windows/:window/elements/:element/children.
func (h *Handlers) HandleChildren(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	ctx := c.Request.Context()
	node, err := h.lookup(ctx, c)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	children, err := h.client.GetChildren(ctx, node)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, NodesResponse{Count: len(children), Nodes: children})
}

// HandleParent handles GET /v1/a11y/windows/:window/elements/:element/parent.
func (h *Handlers) HandleParent(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	ctx := c.Request.Context()
	node, err := h.lookup(ctx, c)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	parent, err := h.client.GetParentElementInfo(ctx, node)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, NodeResponse{Node: parent})
}

// HandleSearch handles GET /v1/a11y/windows/:window/search?element=&text=.
// A missing element searches the whole window.
func (h *Handlers) HandleSearch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	windowID, err := windowParam(c)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	elementID := element.RootElementID
	if raw := c.Query("element"); raw != "" {
		if elementID, err = elementParam(raw); err != nil {
			h.fail(c, requestID, err)
			return
		}
	}
	nodes, err := h.client.GetByContent(c.Request.Context(), windowID, elementID, c.Query("text"))
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, NodesResponse{Count: len(nodes), Nodes: nodes})
}

// HandleCache handles GET /v1/a11y/cache.
func (h *Handlers) HandleCache(c *gin.Context) {
	wc := h.client.Cache()
	stats := wc.Stats()
	resp := CacheResponse{
		Stats:      stats,
		HitRate:    stats.HitRate(),
		Windows:    []CachedWindow{},
		SceneBoard: wc.Index().Pairs(),
		Mode:       h.client.CacheMode().String(),
	}
	for _, w := range wc.Windows() {
		nodes, _ := wc.Elements(w)
		resp.Windows = append(resp.Windows, CachedWindow{WindowID: w, Elements: len(nodes)})
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSceneBoard handles GET /v1/a11y/sceneboard?window=&anchor=.
// window selects the pair of one inner window, anchor the pair of one
// scene-board element; without either every pair is listed.
func (h *Handlers) HandleSceneBoard(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	index := h.client.Cache().Index()

	var (
		pair  cache.Pair
		found bool
	)
	switch {
	case c.Query("window") != "":
		raw := c.Query("window")
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			h.fail(c, requestID, badParam("window", raw))
			return
		}
		pair.InnerWindowID = int32(v)
		pair.AnchorElementID, found = index.AnchorOf(pair.InnerWindowID)
	case c.Query("anchor") != "":
		v, err := elementParam(c.Query("anchor"))
		if err != nil {
			h.fail(c, requestID, err)
			return
		}
		pair.AnchorElementID = v
		pair.InnerWindowID, found = index.WindowOf(v)
	default:
		pairs := index.Pairs()
		c.JSON(http.StatusOK, SceneBoardResponse{Count: len(pairs), Pairs: pairs})
		return
	}
	if !found {
		h.fail(c, requestID, fmt.Errorf("no scene-board pair for %s: %w", c.Request.URL.RawQuery, element.ErrEmptyProviderResult))
		return
	}
	c.JSON(http.StatusOK, SceneBoardResponse{Count: 1, Pairs: []cache.Pair{pair}})
}

// HandleSetMode handles PUT /v1/a11y/cache/mode. Changing the mode clears
// the cache.
func (h *Handlers) HandleSetMode(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "Invalid request body",
			Code:      element.CodeInvalidParam.String(),
			RequestID: requestID,
		})
		return
	}
	h.client.SetCacheMode(*req.Mode)
	h.logger.Info("cache mode set over debug API",
		slog.String("request_id", requestID),
		slog.String("mode", h.client.CacheMode().String()),
	)
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Connected: h.client.Connected(),
		CacheMode: h.client.CacheMode().String(),
	})
}

// HandleInvalidate handles DELETE /v1/a11y/windows/:window/cache.
func (h *Handlers) HandleInvalidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	windowID, err := windowParam(c)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	removed := h.client.Invalidate(windowID)
	if removed == nil {
		removed = []int32{}
	}
	c.JSON(http.StatusOK, InvalidateResponse{Removed: removed})
}
