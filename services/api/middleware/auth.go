// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware holds the Constellation API's authentication and
// authorization middleware.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	Authenticate ── "Authorization: Bearer <api key>" ──► AuthProvider.Validate
//	   │
//	   ▼
//	Authorize(action, resource) ──► AuthzProvider.Authorize
//	   │
//	   ▼
//	Handler (ActorID / GetAuthInfo)
//
// Rejected requests are reported to the SecurityLogger before the 401 or 403
// is written.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ConstellationAI/constellation/pkg/extensions"
)

const authInfoKey = "constellation_auth_info"

// SetAuthInfo stores the caller's identity on the request.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the identity stored by Authenticate, or nil.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if v, ok := c.Get(authInfoKey); ok {
		if info, ok := v.(*extensions.AuthInfo); ok {
			return info
		}
	}
	return nil
}

// ActorID is the user id recorded in audit logs for this request. Requests
// that bypassed authentication yield "".
func ActorID(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil {
		return info.UserID
	}
	return ""
}

// Authenticate validates the bearer credential with provider.
//
// # Description
//
// The token is taken from "Authorization: Bearer <token>". A missing or
// malformed header yields an empty token, which the provider decides about
// (NopAuthProvider accepts it, APIKeyManager rejects it). On failure the
// request is aborted with 401 and an "auth.failed" event is logged.
//
// # Inputs
//
//   - provider: Validates the token. Must not be nil.
//   - security: Receives rejected attempts. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware for a route group.
func Authenticate(provider extensions.AuthProvider, security extensions.SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := provider.Validate(c.Request.Context(), bearerToken(c))
		if err != nil {
			reason := "authentication failed"
			if errors.Is(err, extensions.ErrUnauthorized) {
				reason = "unauthorized"
			}
			_ = security.Log(c.Request.Context(), extensions.SecurityEvent{
				EventType: "auth.failed",
				Path:      c.FullPath(),
				Reason:    err.Error(),
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
			return
		}
		SetAuthInfo(c, info)
		c.Next()
	}
}

// OptionalAuthenticate runs Authenticate only when the request carries an
// Authorization header. Anonymous requests continue without AuthInfo.
func OptionalAuthenticate(provider extensions.AuthProvider, security extensions.SecurityLogger) gin.HandlerFunc {
	authenticate := Authenticate(provider, security)
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		authenticate(c)
	}
}

// Authorize asks provider whether the authenticated caller may perform
// action on resourceType. The ":id" path parameter, when present, is passed
// along as the resource id.
func Authorize(provider extensions.AuthzProvider, security extensions.SecurityLogger, action, resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		err := provider.Authorize(c.Request.Context(), extensions.AuthzRequest{
			User:         info,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
		})
		if err == nil {
			c.Next()
			return
		}

		status := http.StatusForbidden
		if errors.Is(err, extensions.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		_ = security.Log(c.Request.Context(), extensions.SecurityEvent{
			EventType:    "authz.denied",
			UserID:       ActorID(c),
			Action:       action,
			ResourceType: resourceType,
			Path:         c.FullPath(),
			Reason:       err.Error(),
		})
		c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
	}
}

// bearerToken returns the token of a "Bearer" Authorization header. The
// scheme is matched case-insensitively.
func bearerToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
