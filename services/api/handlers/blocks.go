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

	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/middleware"
)

func CreateBlock(blocks BlockService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.BlockCreateRequest
		if !bindJSON(c, &req) {
			return
		}
		block, err := blocks.Create(c.Request.Context(), middleware.ActorID(c), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, block)
	}
}

func GetBlock(blocks BlockService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		block, err := blocks.Get(c.Request.Context(), middleware.ActorID(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, block)
	}
}

func ListBlocks(blocks BlockService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset, ok := page(c)
		if !ok {
			return
		}
		list, err := blocks.List(c.Request.Context(), limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func UpdateBlock(blocks BlockService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.BlockUpdateRequest
		if !bindJSON(c, &req) {
			return
		}
		block, err := blocks.Update(c.Request.Context(), middleware.ActorID(c), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, block)
	}
}

func DeleteBlock(blocks BlockService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := blocks.Delete(c.Request.Context(), middleware.ActorID(c), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func AssignBlockVersion(blocks BlockService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.AssignVersionRequest
		if !bindJSON(c, &req) {
			return
		}
		block, err := blocks.AssignVersion(c.Request.Context(), middleware.ActorID(c), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, block)
	}
}

// SearchBlocksByTaxonomy answers POST /v1/blocks/search. Every leaf of the
// filter tree must match.
func SearchBlocksByTaxonomy(blocks BlockService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.TaxonomySearchRequest
		if !bindJSON(c, &req) {
			return
		}
		list, err := blocks.SearchByTaxonomy(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func SimilaritySearch(blocks BlockService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SimilaritySearchRequest
		if !bindJSON(c, &req) {
			return
		}
		hits, err := blocks.SimilaritySearch(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": hits})
	}
}

func IndexBlockVector(blocks BlockService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.VectorIndexRequest
		if !bindJSON(c, &req) {
			return
		}
		rep, err := blocks.IndexVector(c.Request.Context(), middleware.ActorID(c), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}
