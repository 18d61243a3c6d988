// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/agent"
	"github.com/ConstellationAI/constellation/services/api/core"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/middleware"
)

// planBlockLimit caps how many catalog blocks are put in front of the
// planner when the caller does not name any.
const planBlockLimit = 100

// PlanResponse is the body of POST /v1/agents/plan.
type PlanResponse struct {
	Instructions any                  `json:"instructions"`
	Run          *datatypes.RunResult `json:"run,omitempty"`
	SessionID    string               `json:"session_id,omitempty"`
}

// PlanWithAgent asks the planning crew for pipeline instructions.
//
// # Description
//
// The planner sees either the blocks named in block_ids or the first page
// of the catalog. With execute set, the instructions are submitted through
// the pipeline manager exactly like POST /v1/pipelines/run. When a
// session_id is given the exchange is appended to that session.
//
// # Limitations
//
// A failed session append is logged and does not fail the request.
func PlanWithAgent(planner Planner, blocks BlockService, pipelines PipelineService, sessions SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PlanRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, err)
			return
		}
		ctx := c.Request.Context()
		actor := middleware.ActorID(c)

		catalog, err := planningBlocks(ctx, blocks, actor, req.BlockIDs)
		if err != nil {
			respondError(c, err)
			return
		}
		plan, err := planner.Plan(ctx, req.Query, catalog)
		if err != nil {
			respondError(c, fmt.Errorf("%w: planning: %v", core.ErrUpstream, err))
			return
		}

		resp := PlanResponse{Instructions: plan.Instructions, SessionID: req.SessionID}
		if req.Execute {
			run, err := pipelines.RunInstructions(ctx, actor, &datatypes.PipelineRunRequest{
				Name:         "agent plan: " + truncate(req.Query, 60),
				Instructions: plan.Instructions,
			})
			if err != nil {
				respondError(c, err)
				return
			}
			resp.Run = run
		}

		recordExchange(ctx, sessions, req.SessionID, agent.Exchange{
			Kind:     "plan",
			Query:    req.Query,
			Response: plan.Instructions,
			At:       time.Now().UTC(),
		})
		c.JSON(http.StatusOK, resp)
	}
}

// ResearchWithAgent runs the research crew over the block vector index.
func ResearchWithAgent(researcher Researcher, sessions SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ResearchRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, err)
			return
		}
		res, err := researcher.Research(c.Request.Context(), req.Query, req.TopK)
		if err != nil {
			respondError(c, fmt.Errorf("%w: research: %v", core.ErrUpstream, err))
			return
		}
		recordExchange(c.Request.Context(), sessions, req.SessionID, agent.Exchange{
			Kind:     "research",
			Query:    req.Query,
			Response: res.Answer,
			At:       time.Now().UTC(),
		})
		c.JSON(http.StatusOK, res)
	}
}

func GetSession(sessions SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		s, err := sessions.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// UpdateSession merges the posted keys into the session data, creating the
// session when it does not exist yet.
func UpdateSession(sessions SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.SessionUpdateRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, err)
			return
		}
		s, err := sessions.Update(c.Request.Context(), id, req.Data)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func DeleteSession(sessions SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := sessions.Delete(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func planningBlocks(ctx context.Context, blocks BlockService, actor string, ids []string) ([]datatypes.BlockDetail, error) {
	if len(ids) == 0 {
		list, err := blocks.List(ctx, planBlockLimit, 0)
		if err != nil {
			return nil, err
		}
		out := make([]datatypes.BlockDetail, len(list))
		for i, b := range list {
			out[i] = datatypes.BlockDetail{Block: b}
		}
		return out, nil
	}
	out := make([]datatypes.BlockDetail, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: block id %q", core.ErrInvalidInput, raw)
		}
		b, err := blocks.Get(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

func recordExchange(ctx context.Context, sessions SessionStore, sessionID string, ex agent.Exchange) {
	if sessionID == "" || sessions == nil {
		return
	}
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return
	}
	if err := sessions.Append(ctx, id, ex); err != nil {
		slog.Warn("failed to record agent exchange", "session_id", sessionID, "error", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
