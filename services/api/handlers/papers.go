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
)

func CreatePaper(papers PaperService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PaperCreateRequest
		if !bindJSON(c, &req) {
			return
		}
		p, err := papers.Create(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

func GetPaper(papers PaperService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		p, err := papers.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func ListPapers(papers PaperService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset, ok := page(c)
		if !ok {
			return
		}
		list, err := papers.List(c.Request.Context(), limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func UpdatePaper(papers PaperService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.PaperUpdateRequest
		if !bindJSON(c, &req) {
			return
		}
		p, err := papers.Update(c.Request.Context(), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func DeletePaper(papers PaperService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := papers.Delete(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func AssociatePaperBlock(papers PaperService) gin.HandlerFunc {
	return func(c *gin.Context) {
		paperID, ok := pathID(c, "id")
		if !ok {
			return
		}
		blockID, ok := pathID(c, "block_id")
		if !ok {
			return
		}
		p, err := papers.AssociateBlock(c.Request.Context(), paperID, blockID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func DisassociatePaperBlock(papers PaperService) gin.HandlerFunc {
	return func(c *gin.Context) {
		paperID, ok := pathID(c, "id")
		if !ok {
			return
		}
		blockID, ok := pathID(c, "block_id")
		if !ok {
			return
		}
		p, err := papers.DisassociateBlock(c.Request.Context(), paperID, blockID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
