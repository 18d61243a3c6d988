// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestRecordAudit(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordAudit("CREATE", "block")
	m.RecordAudit("CREATE", "block")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuditWritesTotal.WithLabelValues("CREATE", "block")))
}

func TestRecordOp(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordOp("math_block", true, 10*time.Millisecond)
	m.RecordOp("math_block", false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpExecutionsTotal.WithLabelValues("math_block", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpExecutionsTotal.WithLabelValues("math_block", "error")))
}

func TestRecordPipelineRunAndDeployment(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordPipelineRun("submitted")
	m.RecordDeployment("deploy")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeploymentsTotal.WithLabelValues("deploy")))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestMetrics(t)

	router := gin.New()
	router.Use(m.GinMiddleware("api"))
	router.GET("/v1/blocks/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/v1/blocks/1", "/v1/blocks/2", "/nope"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("api", "/v1/blocks/:id", "GET", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("api", "unmatched", "GET", "404")))
}

func TestDefault_Singleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestInitTracer_Stdout(t *testing.T) {
	cleanup, err := InitTracer(context.Background(), "test-service", StdoutEndpoint)

	require.NoError(t, err)
	require.NotNil(t, cleanup)
	cleanup(context.Background())
}
