// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all assistant routes with the router.
//
// Description:
//
//	Registers all /v1/assistant/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Session Endpoints:
//
//	POST   /v1/assistant/sessions - Start a conversation
//	GET    /v1/assistant/sessions - List live conversations
//	DELETE /v1/assistant/sessions/:id - End a conversation
//
// Conversation Endpoints:
//
//	POST /v1/assistant/sessions/:id/messages - Submit a user message
//	GET  /v1/assistant/sessions/:id/messages - Rendered transcript
//	GET  /v1/assistant/sessions/:id/history - Raw turn history
//	GET  /v1/assistant/sessions/:id/status - Engine state
//	GET  /v1/assistant/sessions/:id/stream - Transcript updates (websocket)
//
// Discovery Endpoints:
//
//	GET /v1/assistant/tools - Tool catalog as offered to the model
//	GET /v1/assistant/health - Health check
//
// Example:
//
//	handlers := assistant.NewHandlers(manager, registry)
//
//	v1 := router.Group("/v1")
//	assistant.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	a := rg.Group("/assistant")
	{
		a.POST("/sessions", handlers.HandleCreateSession)
		a.GET("/sessions", handlers.HandleListSessions)
		a.DELETE("/sessions/:id", handlers.HandleCloseSession)

		a.POST("/sessions/:id/messages", handlers.HandleSendMessage)
		a.GET("/sessions/:id/messages", handlers.HandleListMessages)
		a.GET("/sessions/:id/history", handlers.HandleHistory)
		a.GET("/sessions/:id/status", handlers.HandleStatus)
		a.GET("/sessions/:id/stream", handlers.HandleStream)

		a.GET("/tools", handlers.HandleTools)
		a.GET("/health", handlers.HandleHealth)
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otel server spans.
	ServiceName string

	// CORSOrigins lists allowed browser origins. Empty allows all.
	CORSOrigins []string

	// Debug enables the gin request logger.
	Debug bool
}

// NewRouter builds the HTTP router: recovery, tracing and CORS middleware,
// Prometheus metrics at /metrics, and the assistant API under /v1.
func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "crm-assistant"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	corsCfg := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", requestIDHeader)
	corsCfg.ExposeHeaders = []string{requestIDHeader}
	corsCfg.AllowWebSockets = true
	router.Use(cors.New(corsCfg))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}
