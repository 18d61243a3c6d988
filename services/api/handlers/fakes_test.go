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
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/services/agent"
	"github.com/ConstellationAI/constellation/services/api/core"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Fakes embed the interface they stand in for; calling a method a test did
// not expect panics on the nil embedded value.

type fakeBlocks struct {
	BlockService
	blocks map[uuid.UUID]datatypes.BlockDetail
	list   []datatypes.Block
	err    error
}

func (f *fakeBlocks) Get(_ context.Context, _ string, id uuid.UUID) (*datatypes.BlockDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.blocks[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &b, nil
}

func (f *fakeBlocks) List(context.Context, int, int) ([]datatypes.Block, error) {
	return f.list, f.err
}

type fakeEdges struct {
	EdgeService
	canConnectErr error
}

func (f *fakeEdges) CanConnect(context.Context, uuid.UUID, uuid.UUID) error {
	return f.canConnectErr
}

type fakePipelines struct {
	PipelineService
	pipeline  *datatypes.Pipeline
	run       *datatypes.RunResult
	err       error
	gotActor  string
	gotRunID  string
	gotRunReq *datatypes.PipelineRunRequest
	deleted   []uuid.UUID
}

func (f *fakePipelines) DeleteWithDependencies(_ context.Context, actor string, id uuid.UUID) error {
	f.gotActor = actor
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakePipelines) Get(_ context.Context, actor string, id uuid.UUID) (*datatypes.PipelineDetail, error) {
	f.gotActor = actor
	if f.err != nil {
		return nil, f.err
	}
	return &datatypes.PipelineDetail{Pipeline: *f.pipeline}, nil
}

func (f *fakePipelines) RunInstructions(_ context.Context, actor string, req *datatypes.PipelineRunRequest) (*datatypes.RunResult, error) {
	f.gotActor = actor
	f.gotRunReq = req
	return f.run, f.err
}

func (f *fakePipelines) UpdateStatusByRunID(_ context.Context, actor, runID string, _ *datatypes.RunStatusUpdateRequest) (*datatypes.Pipeline, error) {
	f.gotActor = actor
	f.gotRunID = runID
	return f.pipeline, f.err
}

type fakeAPIKeys struct {
	APIKeyService
	created  *datatypes.APIKeyCreated
	gotReq   *datatypes.APIKeyCreateRequest
	err      error
	gotActor string
}

func (f *fakeAPIKeys) Revoke(_ context.Context, actor string, _ uuid.UUID) error {
	f.gotActor = actor
	return f.err
}

func (f *fakeAPIKeys) Delete(_ context.Context, actor string, _ uuid.UUID) error {
	f.gotActor = actor
	return f.err
}

func (f *fakeAPIKeys) Create(_ context.Context, _ string, _ uuid.UUID, req *datatypes.APIKeyCreateRequest) (*datatypes.APIKeyCreated, error) {
	f.gotReq = req
	return f.created, nil
}

type fakePlanner struct {
	result    *agent.PlanResult
	err       error
	gotQuery  string
	gotBlocks []datatypes.BlockDetail
}

func (f *fakePlanner) Plan(_ context.Context, query string, blocks []datatypes.BlockDetail) (*agent.PlanResult, error) {
	f.gotQuery = query
	f.gotBlocks = blocks
	return f.result, f.err
}

type fakeSessions struct {
	sessions map[uuid.UUID]*agent.Session
	appended []agent.Exchange
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[uuid.UUID]*agent.Session{}}
}

func (f *fakeSessions) Get(_ context.Context, id uuid.UUID) (*agent.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, agent.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) Update(_ context.Context, id uuid.UUID, data map[string]any) (*agent.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		s = &agent.Session{ID: id, Data: map[string]any{}}
		f.sessions[id] = s
	}
	for k, v := range data {
		s.Data[k] = v
	}
	return s, nil
}

func (f *fakeSessions) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.sessions[id]; !ok {
		return agent.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessions) Append(_ context.Context, _ uuid.UUID, ex agent.Exchange) error {
	f.appended = append(f.appended, ex)
	return nil
}

// =============================================================================
// Request helpers
// =============================================================================

// withUser installs auth info the way middleware.Authenticate would.
func withUser(userID string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetAuthInfo(c, &extensions.AuthInfo{UserID: userID, Roles: roles})
		c.Next()
	}
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
