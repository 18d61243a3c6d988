// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing shared by the
// Constellation servers.
//
// # Description
//
// Metrics cover:
//   - HTTP requests (by service, route, method, status)
//   - Audit log writes (by action and entity)
//   - Pipeline runs submitted to the orchestrator (by outcome)
//   - Orchestrator op executions (by op and status)
//   - Model deployments (by action)
//
// # Integration
//
// Metrics are exposed on /metrics of every server.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "constellation"

// Metrics holds the Prometheus collectors.
//
// # Fields
//
//   - HTTPRequestsTotal: Requests by service, route, method and status code.
//   - HTTPRequestDuration: Request latency by service and route.
//   - AuditWritesTotal: Audit rows written by action and entity type.
//   - PipelineRunsTotal: Run submissions by outcome (submitted, failed).
//   - OpExecutionsTotal: Engine op executions by op and status.
//   - OpDurationSeconds: Engine op latency by op.
//   - DeploymentsTotal: Model host actions by action (deploy, delete).
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	AuditWritesTotal    *prometheus.CounterVec
	PipelineRunsTotal   *prometheus.CounterVec
	OpExecutionsTotal   *prometheus.CounterVec
	OpDurationSeconds   *prometheus.HistogramVec
	DeploymentsTotal    *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered on the default
// Prometheus registry. Safe to call repeatedly.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics creates and registers all collectors on reg.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by service, route, method and status",
			},
			[]string{"service", "route", "method", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"service", "route"},
		),
		AuditWritesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "audit",
				Name:      "writes_total",
				Help:      "Audit log rows written by action and entity type",
			},
			[]string{"action", "entity"},
		),
		PipelineRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Pipeline run submissions by outcome",
			},
			[]string{"outcome"},
		),
		OpExecutionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "engine",
				Name:      "op_executions_total",
				Help:      "Op executions by op name and status",
			},
			[]string{"op", "status"},
		),
		OpDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "engine",
				Name:      "op_duration_seconds",
				Help:      "Op execution time in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"op"},
		),
		DeploymentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "modelhost",
				Name:      "deployments_total",
				Help:      "Model deployment actions by action",
			},
			[]string{"action"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordAudit counts one audit row.
func (m *Metrics) RecordAudit(action, entity string) {
	m.AuditWritesTotal.WithLabelValues(action, entity).Inc()
}

// RecordPipelineRun counts a run submission. outcome is "submitted" or
// "failed".
func (m *Metrics) RecordPipelineRun(outcome string) {
	m.PipelineRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordOp counts one op execution and its latency.
func (m *Metrics) RecordOp(op string, success bool, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.OpExecutionsTotal.WithLabelValues(op, status).Inc()
	m.OpDurationSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordDeployment counts a model host action.
func (m *Metrics) RecordDeployment(action string) {
	m.DeploymentsTotal.WithLabelValues(action).Inc()
}

// GinMiddleware records request counts and latency per matched route.
// Unmatched routes are labelled "unmatched".
func (m *Metrics) GinMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(service, route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(service, route).Observe(time.Since(start).Seconds())
	}
}
