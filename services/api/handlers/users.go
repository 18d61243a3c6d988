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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/middleware"
)

// CreateUser is public. Anonymous and non-admin callers go through
// Register, which always assigns the user role; only an authenticated admin
// may choose the role.
func CreateUser(users UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UserCreateRequest
		if !bindJSON(c, &req) {
			return
		}
		var (
			u   *datatypes.User
			err error
		)
		if isAdmin(c) {
			u, err = users.Create(c.Request.Context(), middleware.ActorID(c), &req)
		} else {
			u, err = users.Register(c.Request.Context(), &req)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, u)
	}
}

func GetUser(users UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		u, err := users.Get(c.Request.Context(), middleware.ActorID(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

func ListUsers(users UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset, ok := page(c)
		if !ok {
			return
		}
		list, err := users.List(c.Request.Context(), middleware.ActorID(c), limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func UpdateUser(users UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok || !selfOrAdmin(c, id) {
			return
		}
		var req datatypes.UserUpdateRequest
		if !bindJSON(c, &req) {
			return
		}
		if req.Role != nil && !isAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "only an admin may change roles"})
			return
		}
		u, err := users.Update(c.Request.Context(), middleware.ActorID(c), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

func DeleteUser(users UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := users.Delete(c.Request.Context(), middleware.ActorID(c), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func Authenticate(users UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AuthenticateRequest
		if !bindJSON(c, &req) {
			return
		}
		u, err := users.Authenticate(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// =============================================================================
// API keys
// =============================================================================

func CreateAPIKey(keys APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := pathID(c, "id")
		if !ok || !selfOrAdmin(c, userID) {
			return
		}
		var req datatypes.APIKeyCreateRequest
		// An empty body means the default lifetime.
		if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
			return
		}
		created, err := keys.Create(c.Request.Context(), middleware.ActorID(c), userID, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

func ListAPIKeys(keys APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := pathID(c, "id")
		if !ok || !selfOrAdmin(c, userID) {
			return
		}
		list, err := keys.ListByUser(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// RevokeAPIKey and DeleteAPIKey leave the owner-or-admin check to the
// service, which knows who owns the key.
func RevokeAPIKey(keys APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := keys.Revoke(c.Request.Context(), middleware.ActorID(c), id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "is_active": false})
	}
}

func DeleteAPIKey(keys APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := keys.Delete(c.Request.Context(), middleware.ActorID(c), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func isAdmin(c *gin.Context) bool {
	info := middleware.GetAuthInfo(c)
	return info != nil && info.HasRole(extensions.RoleAdmin)
}

// selfOrAdmin lets a caller manage their own account; admins may manage any.
func selfOrAdmin(c *gin.Context, userID uuid.UUID) bool {
	info := middleware.GetAuthInfo(c)
	if info != nil && (info.UserID == userID.String() || info.HasRole(extensions.RoleAdmin)) {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "only the account owner or an admin may do this"})
	return false
}
