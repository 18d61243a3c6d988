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

func CreatePipeline(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PipelineCreateRequest
		if !bindJSON(c, &req) {
			return
		}
		p, err := pipelines.Create(c.Request.Context(), middleware.ActorID(c), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

func GetPipeline(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		p, err := pipelines.Get(c.Request.Context(), middleware.ActorID(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func ListPipelines(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset, ok := page(c)
		if !ok {
			return
		}
		list, err := pipelines.List(c.Request.Context(), limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func UpdatePipeline(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.PipelineUpdateRequest
		if !bindJSON(c, &req) {
			return
		}
		p, err := pipelines.Update(c.Request.Context(), middleware.ActorID(c), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func DeletePipeline(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := pipelines.Delete(c.Request.Context(), middleware.ActorID(c), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func CreatePipelineWithDependencies(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PipelineWithDependenciesRequest
		if !bindJSON(c, &req) {
			return
		}
		detail, err := pipelines.CreateWithDependencies(c.Request.Context(), middleware.ActorID(c), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, detail)
	}
}

func DeletePipelineWithDependencies(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := pipelines.DeleteWithDependencies(c.Request.Context(), middleware.ActorID(c), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// VerifyPipeline always answers 200 for an existing pipeline; validity is in
// the report.
func VerifyPipeline(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		report, err := pipelines.Verify(c.Request.Context(), middleware.ActorID(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func RunPipeline(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		res, err := pipelines.Run(c.Request.Context(), middleware.ActorID(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, res)
	}
}

func RunInstructions(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PipelineRunRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := pipelines.RunInstructions(c.Request.Context(), middleware.ActorID(c), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, res)
	}
}

// UpdateRunStatus is the orchestrator's completion callback.
func UpdateRunStatus(pipelines PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RunStatusUpdateRequest
		if !bindJSON(c, &req) {
			return
		}
		p, err := pipelines.UpdateStatusByRunID(c.Request.Context(), middleware.ActorID(c), c.Param("run_id"), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
