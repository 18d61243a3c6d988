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
	"github.com/ConstellationAI/constellation/services/api/handlers"
	"github.com/ConstellationAI/constellation/services/api/middleware"
)

// Deps are the services the routes close over. The agent fields are
// optional; without a Planner the /v1/agents group is not mounted.
type Deps struct {
	DB        handlers.Pinger
	Blocks    handlers.BlockService
	Edges     handlers.EdgeService
	Pipelines handlers.PipelineService
	Audit     handlers.AuditService
	Users     handlers.UserService
	APIKeys   handlers.APIKeyService
	Papers    handlers.PaperService

	Planner    handlers.Planner
	Researcher handlers.Researcher
	Sessions   handlers.SessionStore
}

// SetupRoutes registers every API route on router.
//
// # Description
//
// GET /, /health, /metrics, POST /v1/users and POST /v1/users/authenticate
// are public. POST /v1/users still reads a bearer credential when one is
// sent, so an admin can create users with a chosen role. Everything else under /v1 runs behind opts.AuthProvider.
// Deleting users and listing audit logs additionally pass through
// opts.AuthzProvider.
//
// # Inputs
//
//   - router: engine to register on.
//   - deps: services backing the handlers.
//   - opts: auth providers; zero values are replaced by the Nop defaults.
func SetupRoutes(router *gin.Engine, deps Deps, opts extensions.ServiceOptions) {
	opts = opts.Normalize()

	router.GET("/", handlers.Welcome)
	router.GET("/health", handlers.HealthCheck(deps.DB))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/users", middleware.OptionalAuthenticate(opts.AuthProvider, opts.SecurityLogger), handlers.CreateUser(deps.Users))
	v1.POST("/users/authenticate", handlers.Authenticate(deps.Users))

	authed := v1.Group("")
	authed.Use(middleware.Authenticate(opts.AuthProvider, opts.SecurityLogger))

	requireAdmin := func(action, resource string) gin.HandlerFunc {
		return middleware.Authorize(opts.AuthzProvider, opts.SecurityLogger, action, resource)
	}

	blocks := authed.Group("/blocks")
	{
		blocks.POST("", handlers.CreateBlock(deps.Blocks))
		blocks.GET("", handlers.ListBlocks(deps.Blocks))
		blocks.POST("/search", handlers.SearchBlocksByTaxonomy(deps.Blocks))
		blocks.POST("/similarity-search", handlers.SimilaritySearch(deps.Blocks))
		blocks.GET("/:id", handlers.GetBlock(deps.Blocks))
		blocks.PUT("/:id", handlers.UpdateBlock(deps.Blocks))
		blocks.DELETE("/:id", handlers.DeleteBlock(deps.Blocks))
		blocks.POST("/:id/assign-version", handlers.AssignBlockVersion(deps.Blocks))
		blocks.PUT("/:id/vector", handlers.IndexBlockVector(deps.Blocks))
	}

	edges := authed.Group("/edges")
	{
		edges.POST("", handlers.CreateEdge(deps.Edges))
		edges.GET("", handlers.ListEdges(deps.Edges))
		edges.GET("/can-connect", handlers.CanConnect(deps.Edges))
		edges.GET("/:id", handlers.GetEdge(deps.Edges))
		edges.PUT("/:id", handlers.UpdateEdge(deps.Edges))
		edges.DELETE("/:id", handlers.DeleteEdge(deps.Edges))
		edges.POST("/:id/assign-version", handlers.AssignEdgeVersion(deps.Edges))
		edges.POST("/:id/verify", handlers.VerifyEdge(deps.Edges))
	}

	pipelines := authed.Group("/pipelines")
	{
		pipelines.POST("", handlers.CreatePipeline(deps.Pipelines))
		pipelines.GET("", handlers.ListPipelines(deps.Pipelines))
		pipelines.POST("/with-dependencies", handlers.CreatePipelineWithDependencies(deps.Pipelines))
		pipelines.DELETE("/with-dependencies/:id", handlers.DeletePipelineWithDependencies(deps.Pipelines))
		pipelines.POST("/verify/:id", handlers.VerifyPipeline(deps.Pipelines))
		pipelines.POST("/run", handlers.RunInstructions(deps.Pipelines))
		pipelines.PUT("/runs/:run_id/status", handlers.UpdateRunStatus(deps.Pipelines))
		pipelines.GET("/:id", handlers.GetPipeline(deps.Pipelines))
		pipelines.PUT("/:id", handlers.UpdatePipeline(deps.Pipelines))
		pipelines.DELETE("/:id", handlers.DeletePipeline(deps.Pipelines))
		pipelines.POST("/:id/run", handlers.RunPipeline(deps.Pipelines))
	}

	audit := authed.Group("/audit-logs")
	{
		audit.POST("", handlers.CreateAuditLog(deps.Audit))
		audit.GET("", requireAdmin("list", "audit_log"), handlers.ListAuditLogs(deps.Audit))
		audit.GET("/:id", handlers.GetAuditLog(deps.Audit))
		audit.PUT("/:id", handlers.UpdateAuditLog(deps.Audit))
		audit.DELETE("/:id", handlers.DeleteAuditLog(deps.Audit))
	}

	users := authed.Group("/users")
	{
		users.GET("", handlers.ListUsers(deps.Users))
		users.GET("/:id", handlers.GetUser(deps.Users))
		users.PUT("/:id", handlers.UpdateUser(deps.Users))
		users.DELETE("/:id", requireAdmin("delete", "user"), handlers.DeleteUser(deps.Users))
		users.POST("/:id/api-keys", handlers.CreateAPIKey(deps.APIKeys))
		users.GET("/:id/api-keys", handlers.ListAPIKeys(deps.APIKeys))
	}

	apiKeys := authed.Group("/api-keys")
	{
		apiKeys.POST("/:id/revoke", handlers.RevokeAPIKey(deps.APIKeys))
		apiKeys.DELETE("/:id", handlers.DeleteAPIKey(deps.APIKeys))
	}

	papers := authed.Group("/papers")
	{
		papers.POST("", handlers.CreatePaper(deps.Papers))
		papers.GET("", handlers.ListPapers(deps.Papers))
		papers.GET("/:id", handlers.GetPaper(deps.Papers))
		papers.PUT("/:id", handlers.UpdatePaper(deps.Papers))
		papers.DELETE("/:id", handlers.DeletePaper(deps.Papers))
		papers.POST("/:id/blocks/:block_id", handlers.AssociatePaperBlock(deps.Papers))
		papers.DELETE("/:id/blocks/:block_id", handlers.DisassociatePaperBlock(deps.Papers))
	}

	if deps.Planner != nil {
		agents := authed.Group("/agents")
		agents.POST("/plan", handlers.PlanWithAgent(deps.Planner, deps.Blocks, deps.Pipelines, deps.Sessions))
		if deps.Researcher != nil {
			agents.POST("/research", handlers.ResearchWithAgent(deps.Researcher, deps.Sessions))
		}
		if deps.Sessions != nil {
			agents.GET("/sessions/:id", handlers.GetSession(deps.Sessions))
			agents.PUT("/sessions/:id", handlers.UpdateSession(deps.Sessions))
			agents.DELETE("/sessions/:id", handlers.DeleteSession(deps.Sessions))
		}
	}
}
