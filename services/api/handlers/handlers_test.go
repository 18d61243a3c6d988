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
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/services/agent"
	"github.com/ConstellationAI/constellation/services/api/core"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

// =============================================================================
// Error mapping
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: name", core.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: name is required", datatypes.ErrValidation), http.StatusBadRequest},
		{extensions.ErrUnauthorized, http.StatusUnauthorized},
		{extensions.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("block: %w", core.ErrNotFound), http.StatusNotFound},
		{agent.ErrSessionNotFound, http.StatusNotFound},
		{core.ErrConflict, http.StatusConflict},
		{core.ErrUpstream, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRespondError_HidesInternalDetail(t *testing.T) {
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { respondError(c, errors.New("pq: password leaked")) })

	w := do(t, r, http.MethodGet, "/x", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode(t, w)["error"])
}

func TestPage(t *testing.T) {
	r := gin.New()
	r.GET("/p", func(c *gin.Context) {
		limit, offset, ok := page(c)
		if ok {
			c.JSON(http.StatusOK, gin.H{"limit": limit, "offset": offset})
		}
	})

	t.Run("defaults", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/p", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"limit": 0.0, "offset": 0.0}, decode(t, w))
	})
	t.Run("explicit", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/p?limit=5&offset=10", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"limit": 5.0, "offset": 10.0}, decode(t, w))
	})
	for _, q := range []string{"limit=-1", "offset=abc"} {
		t.Run(q, func(t *testing.T) {
			w := do(t, r, http.MethodGet, "/p?"+q, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

// =============================================================================
// Pipelines and edges
// =============================================================================

func TestGetPipeline(t *testing.T) {
	id := uuid.New()
	pipelines := &fakePipelines{pipeline: &datatypes.Pipeline{ID: id, Name: "etl", Status: datatypes.PipelineCreated}}
	r := gin.New()
	r.Use(withUser("user-1"))
	r.GET("/pipelines/:id", GetPipeline(pipelines))

	t.Run("found", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/pipelines/"+id.String(), nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "etl", body["name"])
		assert.Equal(t, "user-1", pipelines.gotActor)
	})
	t.Run("bad id", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/pipelines/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("missing", func(t *testing.T) {
		pipelines.err = fmt.Errorf("pipeline %s: %w", id, core.ErrNotFound)
		defer func() { pipelines.err = nil }()
		w := do(t, r, http.MethodGet, "/pipelines/"+id.String(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRunInstructions(t *testing.T) {
	pid := uuid.New()
	pipelines := &fakePipelines{run: &datatypes.RunResult{PipelineID: pid, RunID: "run-9", Status: datatypes.PipelineRunning}}
	r := gin.New()
	r.Use(withUser("user-1"))
	r.POST("/pipelines/run", RunInstructions(pipelines))

	w := do(t, r, http.MethodPost, "/pipelines/run", map[string]any{
		"name":         "adhoc",
		"instructions": map[string]any{"operation": "mock_csv_data", "parameters": map[string]any{}},
	})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "run-9", decode(t, w)["run_id"])
	require.NotNil(t, pipelines.gotRunReq)
	assert.Equal(t, "adhoc", pipelines.gotRunReq.Name)
}

func TestRunInstructions_UpstreamFailure(t *testing.T) {
	pipelines := &fakePipelines{err: fmt.Errorf("%w: orchestrator unreachable", core.ErrUpstream)}
	r := gin.New()
	r.POST("/pipelines/run", RunInstructions(pipelines))

	w := do(t, r, http.MethodPost, "/pipelines/run", map[string]any{"instructions": map[string]any{"operation": "x"}})

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDeletePipelineWithDependencies(t *testing.T) {
	id := uuid.New()
	pipelines := &fakePipelines{}
	r := gin.New()
	r.Use(withUser("user-1"))
	r.DELETE("/pipelines/with-dependencies/:id", DeletePipelineWithDependencies(pipelines))

	t.Run("deleted", func(t *testing.T) {
		w := do(t, r, http.MethodDelete, "/pipelines/with-dependencies/"+id.String(), nil)
		require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
		assert.Equal(t, []uuid.UUID{id}, pipelines.deleted)
		assert.Equal(t, "user-1", pipelines.gotActor)
	})
	t.Run("bad id", func(t *testing.T) {
		w := do(t, r, http.MethodDelete, "/pipelines/with-dependencies/nope", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("missing", func(t *testing.T) {
		pipelines.err = fmt.Errorf("pipeline %s: %w", id, core.ErrNotFound)
		defer func() { pipelines.err = nil }()
		w := do(t, r, http.MethodDelete, "/pipelines/with-dependencies/"+id.String(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUpdateRunStatus_PassesRunID(t *testing.T) {
	pipelines := &fakePipelines{pipeline: &datatypes.Pipeline{Status: datatypes.PipelineSucceeded}}
	r := gin.New()
	r.PUT("/pipelines/runs/:run_id/status", UpdateRunStatus(pipelines))

	w := do(t, r, http.MethodPut, "/pipelines/runs/abc-123/status", map[string]any{"status": "succeeded", "runtime_seconds": 3.5})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", pipelines.gotRunID)
}

func TestCanConnect(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{"allowed", fmt.Sprintf("source=%s&target=%s", a, b), nil, http.StatusOK, map[string]any{"can_connect": true}},
		{
			"would create cycle", fmt.Sprintf("source=%s&target=%s", a, b),
			fmt.Errorf("%w: edge would create a cycle", core.ErrInvalidInput),
			http.StatusOK,
			map[string]any{"can_connect": false, "reason": "invalid input: edge would create a cycle"},
		},
		{"unknown block", fmt.Sprintf("source=%s&target=%s", a, b), core.ErrNotFound, http.StatusNotFound, nil},
		{"bad uuid", "source=x&target=" + b.String(), nil, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/edges/can-connect", CanConnect(&fakeEdges{canConnectErr: tt.err}))

			w := do(t, r, http.MethodGet, "/edges/can-connect?"+tt.query, nil)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != nil {
				assert.Equal(t, tt.wantBody, decode(t, w))
			}
		})
	}
}

// =============================================================================
// Users and API keys
// =============================================================================

func TestCreateAPIKey_OwnerOrAdmin(t *testing.T) {
	owner := uuid.New()
	keys := &fakeAPIKeys{created: &datatypes.APIKeyCreated{Key: "raw-key"}}
	path := "/users/" + owner.String() + "/api-keys"

	tests := []struct {
		name   string
		user   gin.HandlerFunc
		status int
	}{
		{"owner", withUser(owner.String(), extensions.RoleUser), http.StatusCreated},
		{"admin", withUser("someone-else", extensions.RoleAdmin), http.StatusCreated},
		{"other user", withUser("someone-else", extensions.RoleUser), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(tt.user)
			r.POST("/users/:id/api-keys", CreateAPIKey(keys))

			w := do(t, r, http.MethodPost, path, nil)

			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusCreated {
				assert.Equal(t, "raw-key", decode(t, w)["api_key"])
				assert.Equal(t, 0, keys.gotReq.ExpiresInDays)
			}
		})
	}
}

func TestRevokeAndDeleteAPIKey(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name   string
		err    error
		status map[string]int
	}{
		{"allowed", nil, map[string]int{http.MethodPut: http.StatusOK, http.MethodDelete: http.StatusNoContent}},
		{"not the owner", fmt.Errorf("%w: not yours", extensions.ErrForbidden), map[string]int{http.MethodPut: http.StatusForbidden, http.MethodDelete: http.StatusForbidden}},
		{"unknown key", fmt.Errorf("api key %s: %w", id, core.ErrNotFound), map[string]int{http.MethodPut: http.StatusNotFound, http.MethodDelete: http.StatusNotFound}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := &fakeAPIKeys{err: tt.err}
			r := gin.New()
			r.Use(withUser("user-1", extensions.RoleUser))
			r.PUT("/api-keys/:id/revoke", RevokeAPIKey(keys))
			r.DELETE("/api-keys/:id", DeleteAPIKey(keys))

			w := do(t, r, http.MethodPut, "/api-keys/"+id.String()+"/revoke", nil)
			assert.Equal(t, tt.status[http.MethodPut], w.Code, w.Body.String())
			w = do(t, r, http.MethodDelete, "/api-keys/"+id.String(), nil)
			assert.Equal(t, tt.status[http.MethodDelete], w.Code, w.Body.String())
			assert.Equal(t, "user-1", keys.gotActor)
		})
	}
}

// =============================================================================
// Agents
// =============================================================================

func TestPlanWithAgent_NamedBlocksAndExecute(t *testing.T) {
	blockID := uuid.New()
	sessionID := uuid.New()
	instr := map[string]any{"operation": "mock_csv_data", "parameters": map[string]any{}}

	blocks := &fakeBlocks{blocks: map[uuid.UUID]datatypes.BlockDetail{
		blockID: {Block: datatypes.Block{ID: blockID, Name: "mock csv"}},
	}}
	planner := &fakePlanner{result: &agent.PlanResult{Instructions: instr}}
	pipelines := &fakePipelines{run: &datatypes.RunResult{RunID: "run-1", Status: datatypes.PipelineRunning}}
	sessions := newFakeSessions()

	r := gin.New()
	r.Use(withUser("user-1"))
	r.POST("/agents/plan", PlanWithAgent(planner, blocks, pipelines, sessions))

	w := do(t, r, http.MethodPost, "/agents/plan", map[string]any{
		"query":      "make me a csv",
		"block_ids":  []string{blockID.String()},
		"execute":    true,
		"session_id": sessionID.String(),
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, instr, body["instructions"])
	assert.Equal(t, "run-1", body["run"].(map[string]any)["run_id"])

	require.Len(t, planner.gotBlocks, 1)
	assert.Equal(t, "mock csv", planner.gotBlocks[0].Name)
	assert.Equal(t, "make me a csv", planner.gotQuery)
	assert.Equal(t, "agent plan: make me a csv", pipelines.gotRunReq.Name)

	require.Len(t, sessions.appended, 1)
	assert.Equal(t, "plan", sessions.appended[0].Kind)
}

func TestPlanWithAgent_CatalogWithoutExecute(t *testing.T) {
	blocks := &fakeBlocks{list: []datatypes.Block{{Name: "a"}, {Name: "b"}}}
	planner := &fakePlanner{result: &agent.PlanResult{Instructions: []any{}}}

	r := gin.New()
	r.POST("/agents/plan", PlanWithAgent(planner, blocks, &fakePipelines{}, nil))

	w := do(t, r, http.MethodPost, "/agents/plan", map[string]any{"query": "anything"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, planner.gotBlocks, 2)
	_, hasRun := decode(t, w)["run"]
	assert.False(t, hasRun)
}

func TestPlanWithAgent_Errors(t *testing.T) {
	t.Run("missing query", func(t *testing.T) {
		r := gin.New()
		r.POST("/agents/plan", PlanWithAgent(&fakePlanner{}, &fakeBlocks{}, &fakePipelines{}, nil))
		w := do(t, r, http.MethodPost, "/agents/plan", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("llm failure", func(t *testing.T) {
		r := gin.New()
		planner := &fakePlanner{err: context.DeadlineExceeded}
		r.POST("/agents/plan", PlanWithAgent(planner, &fakeBlocks{}, &fakePipelines{}, nil))
		w := do(t, r, http.MethodPost, "/agents/plan", map[string]any{"query": "q"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
	t.Run("unknown block", func(t *testing.T) {
		r := gin.New()
		r.POST("/agents/plan", PlanWithAgent(&fakePlanner{}, &fakeBlocks{}, &fakePipelines{}, nil))
		w := do(t, r, http.MethodPost, "/agents/plan", map[string]any{"query": "q", "block_ids": []string{uuid.NewString()}})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSessions(t *testing.T) {
	sessions := newFakeSessions()
	id := uuid.New()
	r := gin.New()
	r.GET("/sessions/:id", GetSession(sessions))
	r.PUT("/sessions/:id", UpdateSession(sessions))
	r.DELETE("/sessions/:id", DeleteSession(sessions))

	w := do(t, r, http.MethodGet, "/sessions/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPut, "/sessions/"+id.String(), map[string]any{"data": map[string]any{"topic": "vision"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/sessions/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "vision", sessions.sessions[id].Data["topic"])

	w = do(t, r, http.MethodDelete, "/sessions/"+id.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodDelete, "/sessions/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Health
// =============================================================================

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"unhealthy", errors.New("connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", HealthCheck(pingerFunc(func(context.Context) error { return tt.err })))

			w := do(t, r, http.MethodGet, "/health", nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.want, decode(t, w)["status"])
		})
	}
}

func TestWelcome(t *testing.T) {
	r := gin.New()
	r.GET("/", Welcome)

	w := do(t, r, http.MethodGet, "/", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome to the Constellation API!", decode(t, w)["message"])
}
