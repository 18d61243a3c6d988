// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers serves the orchestrator's HTTP API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ConstellationAI/constellation/services/orchestrator/engine"
	"github.com/ConstellationAI/constellation/services/orchestrator/jobs"
	"github.com/ConstellationAI/constellation/services/orchestrator/runs"
)

// JobService is what the handlers need from jobs.Manager.
type JobService interface {
	Submit(ctx context.Context, payload any, callbackURL string) (runs.Run, error)
	Get(ctx context.Context, id string) (runs.Run, error)
	List(ctx context.Context, limit int) ([]runs.Run, error)
	Subscribe(id string) (<-chan engine.Event, func())
}

// ExecuteRequest is the body of POST /v1/execute.
type ExecuteRequest struct {
	Instructions any    `json:"instructions"`
	CallbackURL  string `json:"callback_url,omitempty"`
}

// ExecuteResponse reports acceptance or rejection of a payload.
type ExecuteResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

func failure(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, ExecuteResponse{Status: statusFailure, Error: msg})
}

// Execute validates the instructions and starts a run in the background.
func Execute(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExecuteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			failure(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Instructions == nil {
			failure(c, http.StatusBadRequest, "instructions are required")
			return
		}

		run, err := svc.Submit(c.Request.Context(), req.Instructions, req.CallbackURL)
		if err != nil {
			if jobs.IsRejected(err) {
				failure(c, http.StatusBadRequest, err.Error())
				return
			}
			slog.Error("failed to submit run", "error", err)
			failure(c, http.StatusInternalServerError, "internal server error")
			return
		}
		c.JSON(http.StatusOK, ExecuteResponse{Status: statusSuccess, RunID: run.ID})
	}
}

// GetRun returns one run record.
func GetRun(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := svc.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, runs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		if err != nil {
			slog.Error("failed to load run", "run_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

// ListRuns returns recent runs. ?limit= caps the list (default 50).
func ListRuns(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		list, err := svc.List(c.Request.Context(), limit)
		if err != nil {
			slog.Error("failed to list runs", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if list == nil {
			list = []runs.Run{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": list})
	}
}

// HealthCheck always answers healthy once the server is up.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
