// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/services/orchestrator/runs"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T, token string) (Service, string) {
	t.Helper()
	dir := t.TempDir()
	svc, err := New(Config{
		WorkDir:      filepath.Join(dir, "runs"),
		ExportDir:    filepath.Join(dir, "exports"),
		ServiceToken: token,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		svc.Jobs().Wait()
		svc.Close()
	})
	return svc, dir
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults(t *testing.T) {
	tests := []struct {
		name  string
		input Config
		check func(t *testing.T, c Config)
	}{
		{
			name:  "all defaults",
			input: Config{},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, 8001, c.Port)
				assert.Equal(t, 7*24*time.Hour, c.RunRetention)
				assert.Equal(t, time.Hour, c.CleanupInterval)
				assert.Equal(t, "./runs", c.WorkDir)
				assert.Equal(t, "./exports", c.ExportDir)
				assert.Empty(t, c.OTelEndpoint)
			},
		},
		{
			name:  "custom values preserved",
			input: Config{Port: 9000, WorkDir: "/tmp/w", RunRetention: time.Minute},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, 9000, c.Port)
				assert.Equal(t, "/tmp/w", c.WorkDir)
				assert.Equal(t, time.Minute, c.RunRetention)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, applyConfigDefaults(tt.input))
		})
	}
}

// =============================================================================
// Integration Tests
// =============================================================================

func TestService_ExecuteAndFetchRun(t *testing.T) {
	svc, dir := newTestService(t, "svc-token")
	router := svc.Router()

	body, _ := json.Marshal(map[string]any{"instructions": map[string]any{
		"operation": "write_csv",
		"parameters": map[string]any{"result": map[string]any{
			"operation": "math_block",
			"parameters": map[string]any{
				"data":     map[string]any{"operation": "mock_csv_data"},
				"operand":  "mul",
				"constant": 2,
			},
		}},
	}})

	req := httptest.NewRequest(http.MethodPost, "/v1/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer svc-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Status string `json:"status"`
		RunID  string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	require.NotEmpty(t, resp.RunID)

	svc.Jobs().Wait()

	req = httptest.NewRequest(http.MethodGet, "/v1/runs/"+resp.RunID, nil)
	req.Header.Set("Authorization", "Bearer svc-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var run runs.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, runs.StatusSucceeded, run.Status)

	assert.Contains(t, run.Summary["write_csv (1)"], "output.csv")
	data, err := os.ReadFile(filepath.Join(dir, "runs", resp.RunID, "output.csv"))
	require.NoError(t, err)
	assert.Equal(t, "column1,column2,column3\n2,4,6\n8,10,12\n14,16,18\n", string(data))
}

func TestService_CustomOptions(t *testing.T) {
	opts := extensions.DefaultOptions()
	svc, err := New(Config{WorkDir: t.TempDir()}, &opts)
	require.NoError(t, err)
	defer svc.Close()

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
