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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/api/core"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/middleware"
	"github.com/ConstellationAI/constellation/services/api/store"
)

func CreateEdge(edges EdgeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.EdgeCreateRequest
		if !bindJSON(c, &req) {
			return
		}
		edge, err := edges.Create(c.Request.Context(), middleware.ActorID(c), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, edge)
	}
}

func GetEdge(edges EdgeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		edge, err := edges.Get(c.Request.Context(), middleware.ActorID(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, edge)
	}
}

// ListEdges accepts optional source_block_id and target_block_id filters.
func ListEdges(edges EdgeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset, ok := page(c)
		if !ok {
			return
		}
		var filter store.EdgeFilter
		for _, f := range []struct {
			param string
			dst   **uuid.UUID
		}{{"source_block_id", &filter.SourceBlockID}, {"target_block_id", &filter.TargetBlockID}} {
			raw := c.Query(f.param)
			if raw == "" {
				continue
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + f.param})
				return
			}
			*f.dst = &id
		}
		list, err := edges.List(c.Request.Context(), filter, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func UpdateEdge(edges EdgeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.EdgeUpdateRequest
		if !bindJSON(c, &req) {
			return
		}
		edge, err := edges.Update(c.Request.Context(), middleware.ActorID(c), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, edge)
	}
}

func DeleteEdge(edges EdgeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := edges.Delete(c.Request.Context(), middleware.ActorID(c), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func AssignEdgeVersion(edges EdgeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.AssignVersionRequest
		if !bindJSON(c, &req) {
			return
		}
		edge, err := edges.AssignVersion(c.Request.Context(), middleware.ActorID(c), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, edge)
	}
}

func VerifyEdge(edges EdgeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.EdgeVerifyRequest
		if !bindJSON(c, &req) {
			return
		}
		v, err := edges.Verify(c.Request.Context(), middleware.ActorID(c), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

// CanConnect answers GET /v1/edges/can-connect?source=&target=. A rule
// violation (self loop, existing edge, cycle) is a normal answer with a
// reason; unknown blocks are 404.
func CanConnect(edges EdgeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		source, err1 := uuid.Parse(c.Query("source"))
		target, err2 := uuid.Parse(c.Query("target"))
		if err := errors.Join(err1, err2); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source and target must be block UUIDs"})
			return
		}

		err := edges.CanConnect(c.Request.Context(), source, target)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"can_connect": true})
		case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrConflict):
			c.JSON(http.StatusOK, gin.H{"can_connect": false, "reason": err.Error()})
		default:
			respondError(c, err)
		}
	}
}
