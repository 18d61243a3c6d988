// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers serves the model host's HTTP API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ConstellationAI/constellation/services/modelhost/deploy"
)

// Deployer is what the handlers need from deploy.Manager.
type Deployer interface {
	Deploy(ctx context.Context, modelName, serviceName string) (string, error)
	Delete(ctx context.Context, modelName, serviceName string) (string, error)
	Get(ctx context.Context, id string) (deploy.Deployment, error)
	List(ctx context.Context) ([]deploy.Deployment, error)
	Endpoint(ctx context.Context, modelName string) (string, error)
}

// ModelRequest is the body of /deploy and /delete. model_name may also be
// passed as a query parameter.
type ModelRequest struct {
	ModelName   string `json:"model_name"`
	ServiceName string `json:"service_name"`
}

// MessageResponse carries the outcome of a deploy or delete.
type MessageResponse struct {
	Message string `json:"message"`
}

// SetupRoutes registers the model host API.
func SetupRoutes(router *gin.Engine, d Deployer) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/deploy", Deploy(d))
	router.POST("/delete", Delete(d))
	router.GET("/deployments", ListDeployments(d))
	router.GET("/deployments/:id", GetDeployment(d))
	router.POST("/infer/*model", Infer(d))
}

func bindModel(c *gin.Context) (ModelRequest, bool) {
	var req ModelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return req, false
		}
	}
	if req.ModelName == "" {
		req.ModelName = c.Query("model_name")
	}
	if req.ServiceName == "" {
		req.ServiceName = c.Query("service_name")
	}
	return req, true
}

// Deploy starts a model deployment or reports its progress.
func Deploy(d Deployer) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindModel(c)
		if !ok {
			return
		}
		if req.ModelName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": deploy.ErrMissingModel.Error()})
			return
		}
		msg, err := d.Deploy(c.Request.Context(), req.ModelName, req.ServiceName)
		if err != nil {
			slog.Error("deploy failed", "model", req.ModelName, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error deploying model: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, MessageResponse{Message: msg})
	}
}

// Delete removes a model's service.
func Delete(d Deployer) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindModel(c)
		if !ok {
			return
		}
		msg, err := d.Delete(c.Request.Context(), req.ModelName, req.ServiceName)
		switch {
		case errors.Is(err, deploy.ErrMissingModel):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, deploy.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case err != nil:
			slog.Error("delete failed", "model", req.ModelName, "service", req.ServiceName, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error deleting model: " + err.Error()})
		default:
			c.JSON(http.StatusOK, MessageResponse{Message: msg})
		}
	}
}

func ListDeployments(d Deployer) gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := d.List(c.Request.Context())
		if err != nil {
			slog.Error("list deployments failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if all == nil {
			all = []deploy.Deployment{}
		}
		c.JSON(http.StatusOK, all)
	}
}

func GetDeployment(d Deployer) gin.HandlerFunc {
	return func(c *gin.Context) {
		dep, err := d.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, deploy.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			slog.Error("get deployment failed", "id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(http.StatusOK, dep)
	}
}

// Infer forwards the request body to the running service of the named
// model. The model name may contain slashes.
func Infer(d Deployer) gin.HandlerFunc {
	return func(c *gin.Context) {
		model := strings.TrimPrefix(c.Param("model"), "/")
		if model == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": deploy.ErrMissingModel.Error()})
			return
		}
		endpoint, err := d.Endpoint(c.Request.Context(), model)
		switch {
		case errors.Is(err, deploy.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		case errors.Is(err, deploy.ErrNotServing):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		target, err := url.Parse(endpoint)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "invalid model endpoint"})
			return
		}
		proxy := &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				u := *target
				pr.Out.URL = &u
				pr.Out.Host = u.Host
			},
			ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
				slog.Warn("inference proxy failed", "model", model, "error", err)
				w.WriteHeader(http.StatusBadGateway)
			},
		}
		proxy.ServeHTTP(c.Writer, c.Request)
	}
}
