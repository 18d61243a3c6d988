// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/services/orchestrator/handlers"
	"github.com/ConstellationAI/constellation/services/orchestrator/middleware"
)

// SetupRoutes registers the orchestrator API. /health and /metrics are open;
// everything under /v1 goes through opts.AuthProvider.
func SetupRoutes(router *gin.Engine, svc handlers.JobService, opts extensions.ServiceOptions) {
	opts = opts.Normalize()

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		v1.POST("/execute", handlers.Execute(svc))
		v1.GET("/runs", handlers.ListRuns(svc))
		v1.GET("/runs/:id", handlers.GetRun(svc))
		v1.GET("/runs/:id/stream", handlers.StreamRun(svc))
	}
}
