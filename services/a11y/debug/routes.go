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
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/a11ysync/services/a11y/telemetry"
)

// RegisterRoutes mounts the debug API under rg.
//
//	GET    /a11y/health
//	GET    /a11y/windows?display=
//	GET    /a11y/windows/:window
//	GET    /a11y/windows/:window/anchor
//	GET    /a11y/windows/:window/root
//	GET    /a11y/windows/:window/elements/:element
//	GET    /a11y/windows/:window/elements/:element/children
//	GET    /a11y/windows/:window/elements/:element/parent
//	GET    /a11y/windows/:window/search?element=&text=
//	DELETE /a11y/windows/:window/cache
//	GET    /a11y/cache
//	GET    /a11y/sceneboard?window=&anchor=
//	PUT    /a11y/cache/mode
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	a11y := rg.Group("/a11y")
	{
		a11y.GET("/health", h.HandleHealth)
		a11y.GET("/windows", h.HandleWindows)

		windows := a11y.Group("/windows/:window")
		{
			windows.GET("", h.HandleWindow)
			windows.GET("/anchor", h.HandleAnchor)
			windows.GET("/root", h.HandleRoot)
			windows.GET("/elements/:element", h.HandleElement)
			windows.GET("/elements/:element/children", h.HandleChildren)
			windows.GET("/elements/:element/parent", h.HandleParent)
			windows.GET("/search", h.HandleSearch)
			windows.DELETE("/cache", h.HandleInvalidate)
		}

		a11y.GET("/cache", h.HandleCache)
		a11y.GET("/sceneboard", h.HandleSceneBoard)
		a11y.PUT("/cache/mode", h.HandleSetMode)
	}
}

// NewRouter returns an engine serving the debug API under /v1 and the
// Prometheus registry at /metrics.
func NewRouter(h *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	RegisterRoutes(router.Group("/v1"), h)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return router
}
