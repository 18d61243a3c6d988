// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/ConstellationAI/constellation/pkg/extensions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type failingProvider struct{ err error }

func (f failingProvider) Validate(context.Context, string) (*extensions.AuthInfo, error) {
	return nil, f.err
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"missing", "", ""},
		{"no bearer prefix", "abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"empty bearer", "Bearer ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

func serve(provider extensions.AuthProvider, target string, header string) (*httptest.ResponseRecorder, *extensions.AuthInfo) {
	var seen *extensions.AuthInfo
	r := gin.New()
	r.Use(AuthMiddleware(provider))
	r.GET("/*path", func(c *gin.Context) {
		seen = GetAuthInfo(c)
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, seen
}

func TestAuthMiddleware(t *testing.T) {
	provider := &extensions.StaticTokenProvider{Token: "svc", Caller: "api"}

	w, info := serve(provider, "/v1/execute", "Bearer svc")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "api", info.UserID)

	w, _ = serve(provider, "/v1/runs/1/stream?token=svc", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = serve(provider, "/v1/execute", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
}

func TestAuthMiddleware_ProviderFailure(t *testing.T) {
	w, _ := serve(failingProvider{err: errors.New("backend down")}, "/", "Bearer x")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"authentication failed"}`, w.Body.String())
}

func TestGetAuthInfo_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetAuthInfo(c))
}
