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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/a11ysync/services/a11y/cache"
	"github.com/AleutianAI/a11ysync/services/a11y/channel"
	"github.com/AleutianAI/a11ysync/services/a11y/client"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/AleutianAI/a11ysync/services/a11y/fixture"
)

const desktop = `
active_window: 5
windows:
  - id: 5
    title: Settings
    type: application
    elements:
      - {id: 100, is_root: true, children: [101, 102]}
      - {id: 101, parent: 100, attributes: {text: Back}}
      - {id: 102, parent: 100, child_window: 6}
  - id: 6
    tree_parents: {0: 102}
    elements:
      - {id: 200, is_root: true, parent_pending: true}
  - id: 8
    display_id: 1
    type: system
    elements:
      - {id: 800, is_root: true}
`

const sceneBoard = `
active_window: 1
windows:
  - id: 1
    elements:
      - {id: 1, is_root: true, children: [11]}
      - {id: 11, parent: 1, child_window: 7}
  - id: 7
    anchor: 11
    tree_parents: {0: 11}
    elements:
      - {id: 70, is_root: true, parent_pending: true}
`

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, loader channel.Loader) (*gin.Engine, *client.Client) {
	t.Helper()
	c := client.New(client.NewConnector(loader, client.WithRetryInterval(0)))
	t.Cleanup(func() { _ = c.Close() })
	return NewRouter(NewHandlers(c, nil), "a11ysync-test"), c
}

func fixtureLoader(t *testing.T) channel.Loader {
	t.Helper()
	return loaderFor(t, desktop)
}

func loaderFor(t *testing.T, document string) channel.Loader {
	t.Helper()
	doc, err := fixture.Parse([]byte(document))
	require.NoError(t, err)
	p := fixture.NewProvider(doc, nil)
	return channel.LoaderFunc(func(context.Context) (channel.Channel, error) { return p, nil })
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandleRoot(t *testing.T) {
	r, _ := newRouter(t, fixtureLoader(t))

	for _, window := range []string{"5", "active"} {
		t.Run(window, func(t *testing.T) {
			rec := do(t, r, http.MethodGet, "/v1/a11y/windows/"+window+"/root", "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			resp := decode[NodesResponse](t, rec)
			assert.Equal(t, 4, resp.Count)
			assert.Equal(t, []int64{100, 101, 102, 200}, element.IDs(resp.Nodes))
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestHandleRoot_Errors(t *testing.T) {
	r, _ := newRouter(t, fixtureLoader(t))

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/v1/a11y/windows/x/root", http.StatusBadRequest, "invalid_param"},
		{"/v1/a11y/windows/-3/root", http.StatusBadRequest, "invalid_param"},
		{"/v1/a11y/windows/99/root", http.StatusNotFound, "empty_provider_result"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, r, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestHandle_NoConnection(t *testing.T) {
	loader := channel.LoaderFunc(func(context.Context) (channel.Channel, error) {
		return nil, errors.New("provider not running")
	})
	r, _ := newRouter(t, loader)

	rec := do(t, r, http.MethodGet, "/v1/a11y/windows/5/root", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "no_connection", decode[ErrorResponse](t, rec).Code)

	rec = do(t, r, http.MethodGet, "/v1/a11y/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "disconnected", health.Status)
	assert.False(t, health.Connected)
}

func TestHandleElementQueries(t *testing.T) {
	r, _ := newRouter(t, fixtureLoader(t))

	rec := do(t, r, http.MethodGet, "/v1/a11y/windows/5/elements/101", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Back", decode[NodeResponse](t, rec).Node.Text())

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows/5/elements/100/children", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []int64{101, 102}, element.IDs(decode[NodesResponse](t, rec).Nodes))

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows/5/elements/101/parent", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(100), decode[NodeResponse](t, rec).Node.ElementID)

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows/5/elements/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearch(t *testing.T) {
	r, _ := newRouter(t, fixtureLoader(t))

	rec := do(t, r, http.MethodGet, "/v1/a11y/windows/5/search?text=Back", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []int64{101}, element.IDs(decode[NodesResponse](t, rec).Nodes))

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows/5/search?element=zz&text=Back", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	r, c := newRouter(t, fixtureLoader(t))

	rec := do(t, r, http.MethodGet, "/v1/a11y/windows/5/root", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodGet, "/v1/a11y/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CacheResponse](t, rec)
	assert.Equal(t, 2, resp.Stats.WindowCount)
	assert.Len(t, resp.Windows, 2)
	assert.Equal(t, element.PrefetchRecursiveChildren.String(), resp.Mode)

	rec = do(t, r, http.MethodDelete, "/v1/a11y/windows/6/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int32{6}, decode[InvalidateResponse](t, rec).Removed)
	assert.False(t, c.Cache().Contains(6))

	rec = do(t, r, http.MethodPut, "/v1/a11y/cache/mode", `{"mode": 4}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, element.PrefetchChildren, c.CacheMode())
	assert.Empty(t, c.Cache().Windows())

	rec = do(t, r, http.MethodPut, "/v1/a11y/cache/mode", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	r, _ := newRouter(t, fixtureLoader(t))
	rec := do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a11y_cache_windows")
}

func TestHandleWindows(t *testing.T) {
	r, c := newRouter(t, fixtureLoader(t))

	rec := do(t, r, http.MethodGet, "/v1/a11y/windows", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[WindowsResponse](t, rec)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "Settings", resp.Windows[0].Title)
	assert.True(t, resp.Windows[0].Active)

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows?display=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[WindowsResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, int32(8), resp.Windows[0].WindowID)

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows?display=main", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows/8", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "system", decode[WindowResponse](t, rec).Window.Type)

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows/5/anchor", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_param", decode[ErrorResponse](t, rec).Code)

	assert.Empty(t, c.Cache().Windows())
}

func TestHandleSceneBoard(t *testing.T) {
	r, _ := newRouter(t, loaderFor(t, sceneBoard))

	rec := do(t, r, http.MethodGet, "/v1/a11y/sceneboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[SceneBoardResponse](t, rec).Count)

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows/active/root", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []int64{1, 11, 70}, element.IDs(decode[NodesResponse](t, rec).Nodes))

	want := []cache.Pair{{InnerWindowID: 7, AnchorElementID: 11}}
	for _, path := range []string{
		"/v1/a11y/sceneboard",
		"/v1/a11y/sceneboard?window=7",
		"/v1/a11y/sceneboard?anchor=11",
	} {
		rec = do(t, r, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, want, decode[SceneBoardResponse](t, rec).Pairs, path)
	}

	rec = do(t, r, http.MethodGet, "/v1/a11y/sceneboard?anchor=12", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, r, http.MethodGet, "/v1/a11y/sceneboard?window=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/v1/a11y/windows/7/anchor", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	anchor := decode[NodeResponse](t, rec).Node
	assert.Equal(t, int64(11), anchor.ElementID)
	assert.Equal(t, element.SceneBoardWindowID, anchor.WindowID)
}

func TestHandle_ErrorCarriesTraceID(t *testing.T) {
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	r, _ := newRouter(t, fixtureLoader(t))
	rec := do(t, r, http.MethodGet, "/v1/a11y/windows/99/root", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, decode[ErrorResponse](t, rec).TraceID, 32)
}
