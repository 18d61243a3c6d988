// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/services/agent"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/handlers"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

// stubUsers records which user operations the routes reached.
type stubUsers struct {
	handlers.UserService
	deleted    bool
	created    *datatypes.UserCreateRequest
	registered *datatypes.UserCreateRequest
	updated    *datatypes.UserUpdateRequest
}

func (s *stubUsers) Delete(context.Context, string, uuid.UUID) error {
	s.deleted = true
	return nil
}

func (s *stubUsers) Create(_ context.Context, _ string, req *datatypes.UserCreateRequest) (*datatypes.User, error) {
	s.created = req
	return &datatypes.User{Username: req.Username, Role: datatypes.Role(req.Role)}, nil
}

func (s *stubUsers) Register(_ context.Context, req *datatypes.UserCreateRequest) (*datatypes.User, error) {
	s.registered = req
	return &datatypes.User{Username: req.Username, Role: datatypes.RoleUser}, nil
}

func (s *stubUsers) Update(_ context.Context, _ string, id uuid.UUID, req *datatypes.UserUpdateRequest) (*datatypes.User, error) {
	s.updated = req
	return &datatypes.User{ID: id}, nil
}

type stubPlanner struct{}

func (stubPlanner) Plan(context.Context, string, []datatypes.BlockDetail) (*agent.PlanResult, error) {
	return &agent.PlanResult{}, nil
}

// tokenProvider maps fixed tokens onto identities.
type tokenProvider map[string]*extensions.AuthInfo

func (p tokenProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	if info, ok := p[token]; ok {
		return info, nil
	}
	return nil, extensions.ErrUnauthorized
}

func testOptions() extensions.ServiceOptions {
	return extensions.DefaultOptions().
		WithAuth(tokenProvider{
			"admin-token": {UserID: "admin-1", Roles: []string{extensions.RoleAdmin}},
			"user-token":  {UserID: "user-1", Roles: []string{extensions.RoleUser}},
		}).
		WithAuthz(extensions.NewRoleAuthzProvider(map[string][]string{
			"delete:user":    {extensions.RoleAdmin},
			"list:audit_log": {extensions.RoleAdmin},
		}))
}

func hasRoute(routes gin.RoutesInfo, method, path string) bool {
	for _, r := range routes {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

// ============================================================================
// Registration
// ============================================================================

func TestSetupRoutes_RegistersAPI(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{DB: okPinger{}}, extensions.DefaultOptions())

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/"},
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/blocks"},
		{"POST", "/v1/blocks/similarity-search"},
		{"PUT", "/v1/blocks/:id/vector"},
		{"GET", "/v1/edges/can-connect"},
		{"POST", "/v1/edges/:id/verify"},
		{"POST", "/v1/pipelines/with-dependencies"},
		{"DELETE", "/v1/pipelines/with-dependencies/:id"},
		{"POST", "/v1/pipelines/verify/:id"},
		{"POST", "/v1/pipelines/run"},
		{"POST", "/v1/pipelines/:id/run"},
		{"PUT", "/v1/pipelines/runs/:run_id/status"},
		{"GET", "/v1/audit-logs"},
		{"POST", "/v1/users"},
		{"POST", "/v1/users/authenticate"},
		{"POST", "/v1/users/:id/api-keys"},
		{"POST", "/v1/api-keys/:id/revoke"},
		{"POST", "/v1/papers/:id/blocks/:block_id"},
		{"DELETE", "/v1/papers/:id/blocks/:block_id"},
	}

	routes := router.Routes()
	for _, e := range expected {
		assert.True(t, hasRoute(routes, e.method, e.path), "missing route %s %s", e.method, e.path)
	}
}

func TestSetupRoutes_AgentsOnlyWithPlanner(t *testing.T) {
	t.Run("without planner", func(t *testing.T) {
		router := gin.New()
		SetupRoutes(router, Deps{DB: okPinger{}}, extensions.DefaultOptions())
		assert.False(t, hasRoute(router.Routes(), "POST", "/v1/agents/plan"))
	})

	t.Run("with planner", func(t *testing.T) {
		router := gin.New()
		SetupRoutes(router, Deps{DB: okPinger{}, Planner: stubPlanner{}}, extensions.DefaultOptions())
		routes := router.Routes()
		assert.True(t, hasRoute(routes, "POST", "/v1/agents/plan"))
		assert.False(t, hasRoute(routes, "POST", "/v1/agents/research"))
		assert.False(t, hasRoute(routes, "GET", "/v1/agents/sessions/:id"))
	})
}

// ============================================================================
// Auth wiring
// ============================================================================

func TestSetupRoutes_PublicAndProtected(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{DB: okPinger{}}, testOptions())

	t.Run("health is public", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("blocks need a token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/blocks", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSetupRoutes_DeleteUserRequiresAdmin(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		status  int
		deleted bool
	}{
		{"admin", "admin-token", http.StatusNoContent, true},
		{"regular user", "user-token", http.StatusForbidden, false},
		{"no token", "", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &stubUsers{}
			router := gin.New()
			SetupRoutes(router, Deps{DB: okPinger{}, Users: users}, testOptions())

			req := httptest.NewRequest(http.MethodDelete, "/v1/users/"+uuid.NewString(), nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.deleted, users.deleted)
		})
	}
}

func TestSetupRoutes_CreateUserRole(t *testing.T) {
	body := `{"username":"eve","email":"eve@example.com","password":"correct-horse","role":"admin"}`
	tests := []struct {
		name       string
		token      string
		status     int
		registered bool
	}{
		{"anonymous sign-up", "", http.StatusCreated, true},
		{"regular user", "user-token", http.StatusCreated, true},
		{"admin picks the role", "admin-token", http.StatusCreated, false},
		{"bad token", "nope", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &stubUsers{}
			router := gin.New()
			SetupRoutes(router, Deps{DB: okPinger{}, Users: users}, testOptions())

			req := httptest.NewRequest(http.MethodPost, "/v1/users", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusCreated {
				assert.Nil(t, users.created)
				assert.Nil(t, users.registered)
				return
			}
			if tt.registered {
				assert.NotNil(t, users.registered)
				assert.Nil(t, users.created, "non-admins never reach Create")
				assert.Contains(t, w.Body.String(), `"role":"user"`)
			} else {
				require.NotNil(t, users.created)
				assert.Equal(t, "admin", users.created.Role)
			}
		})
	}
}

func TestSetupRoutes_UpdateUserRoleRequiresAdmin(t *testing.T) {
	member := uuid.New()
	opts := extensions.DefaultOptions().WithAuth(tokenProvider{
		"member-token": {UserID: member.String(), Roles: []string{extensions.RoleUser}},
		"admin-token":  {UserID: uuid.NewString(), Roles: []string{extensions.RoleAdmin}},
	})

	tests := []struct {
		name   string
		token  string
		body   string
		status int
	}{
		{"self promotion", "member-token", `{"role":"admin"}`, http.StatusForbidden},
		{"self rename", "member-token", `{"username":"ada2"}`, http.StatusOK},
		{"admin promotes", "admin-token", `{"role":"admin"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &stubUsers{}
			router := gin.New()
			SetupRoutes(router, Deps{DB: okPinger{}, Users: users}, opts)

			req := httptest.NewRequest(http.MethodPut, "/v1/users/"+member.String(), strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+tt.token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusForbidden {
				assert.Nil(t, users.updated, "the service is never reached")
			} else {
				assert.NotNil(t, users.updated)
			}
		})
	}
}
