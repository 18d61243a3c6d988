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
	"github.com/stretchr/testify/require"

	"github.com/ConstellationAI/constellation/pkg/extensions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProvider struct {
	info  *extensions.AuthInfo
	err   error
	token string
}

func (p *stubProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	p.token = token
	return p.info, p.err
}

type recordingLogger struct {
	events []extensions.SecurityEvent
}

func (l *recordingLogger) Log(_ context.Context, e extensions.SecurityEvent) error {
	l.events = append(l.events, e)
	return nil
}

func serve(r *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/things/42", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"BEARER  abc123 ", "abc123"},
		{"Basic abc123", ""},
		{"abc123", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(c))
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Run("stores identity", func(t *testing.T) {
		provider := &stubProvider{info: &extensions.AuthInfo{UserID: "user-1", Roles: []string{"user"}}}
		r := gin.New()
		r.Use(Authenticate(provider, &recordingLogger{}))
		r.GET("/things/:id", func(c *gin.Context) {
			c.String(http.StatusOK, ActorID(c))
		})

		w := serve(r, "Bearer k-1")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-1", w.Body.String())
		assert.Equal(t, "k-1", provider.token)
	})

	t.Run("rejects bad key", func(t *testing.T) {
		logger := &recordingLogger{}
		r := gin.New()
		r.Use(Authenticate(&stubProvider{err: extensions.ErrUnauthorized}, logger))
		r.GET("/things/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := serve(r, "Bearer nope")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
		require.Len(t, logger.events, 1)
		assert.Equal(t, "auth.failed", logger.events[0].EventType)
		assert.Equal(t, "/things/:id", logger.events[0].Path)
	})

	t.Run("backend failure is still 401", func(t *testing.T) {
		r := gin.New()
		r.Use(Authenticate(&stubProvider{err: errors.New("db down")}, &recordingLogger{}))
		r.GET("/things/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := serve(r, "Bearer x")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"authentication failed"}`, w.Body.String())
	})

	t.Run("nop provider", func(t *testing.T) {
		r := gin.New()
		r.Use(Authenticate(&extensions.NopAuthProvider{}, &extensions.NopSecurityLogger{}))
		r.GET("/things/:id", func(c *gin.Context) { c.String(http.StatusOK, ActorID(c)) })

		w := serve(r, "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "local-user", w.Body.String())
	})
}

func TestAuthorize(t *testing.T) {
	authz := extensions.NewRoleAuthzProvider(map[string][]string{
		"delete:user": {extensions.RoleAdmin},
	})
	build := func(info *extensions.AuthInfo, logger extensions.SecurityLogger) *gin.Engine {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			if info != nil {
				SetAuthInfo(c, info)
			}
		})
		r.GET("/things/:id", Authorize(authz, logger, "delete", "user"), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		return r
	}

	t.Run("admin allowed", func(t *testing.T) {
		w := serve(build(&extensions.AuthInfo{UserID: "a", Roles: []string{"admin"}}, &recordingLogger{}), "")
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("user forbidden", func(t *testing.T) {
		logger := &recordingLogger{}
		w := serve(build(&extensions.AuthInfo{UserID: "u", Roles: []string{"user"}}, logger), "")

		assert.Equal(t, http.StatusForbidden, w.Code)
		require.Len(t, logger.events, 1)
		assert.Equal(t, "authz.denied", logger.events[0].EventType)
		assert.Equal(t, "u", logger.events[0].UserID)
	})

	t.Run("anonymous", func(t *testing.T) {
		w := serve(build(nil, &recordingLogger{}), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestGetAuthInfo_WrongType(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(authInfoKey, "not an AuthInfo")

	assert.Nil(t, GetAuthInfo(c))
	assert.Empty(t, ActorID(c))
}
