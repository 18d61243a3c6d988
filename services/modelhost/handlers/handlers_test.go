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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ConstellationAI/constellation/services/modelhost/deploy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDeployer struct {
	gotModel, gotService string
	err                  error
	deployments          map[string]deploy.Deployment
	endpoint             string
	endpointErr          error
}

func (f *fakeDeployer) Deploy(_ context.Context, model, service string) (string, error) {
	f.gotModel, f.gotService = model, service
	if f.err != nil {
		return "", f.err
	}
	return model + " deployment has started", nil
}

func (f *fakeDeployer) Delete(_ context.Context, model, service string) (string, error) {
	f.gotModel, f.gotService = model, service
	if f.err != nil {
		return "", f.err
	}
	return "id-1 service has been deleted", nil
}

func (f *fakeDeployer) Get(_ context.Context, id string) (deploy.Deployment, error) {
	d, ok := f.deployments[id]
	if !ok {
		return deploy.Deployment{}, deploy.ErrNotFound
	}
	return d, nil
}

func (f *fakeDeployer) List(context.Context) ([]deploy.Deployment, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []deploy.Deployment
	for _, d := range f.deployments {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDeployer) Endpoint(_ context.Context, model string) (string, error) {
	f.gotModel = model
	return f.endpoint, f.endpointErr
}

func serve(d Deployer, method, target, body string) *httptest.ResponseRecorder {
	r := gin.New()
	SetupRoutes(r, d)
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(method, target, rdr).WithContext(ctx)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDeploy(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		d := &fakeDeployer{}
		w := serve(d, http.MethodPost, "/deploy", `{"model_name": "resnet-50", "service_name": "resnet-50-service"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"message": "resnet-50 deployment has started"}`, w.Body.String())
		assert.Equal(t, "resnet-50-service", d.gotService)
	})

	t.Run("query parameter", func(t *testing.T) {
		d := &fakeDeployer{}
		w := serve(d, http.MethodPost, "/deploy?model_name=resnet-50", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "resnet-50", d.gotModel)
	})

	t.Run("missing model", func(t *testing.T) {
		w := serve(&fakeDeployer{}, http.MethodPost, "/deploy", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed", func(t *testing.T) {
		w := serve(&fakeDeployer{}, http.MethodPost, "/deploy", `{"model_name":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("failure", func(t *testing.T) {
		w := serve(&fakeDeployer{err: errors.New("bucket gone")}, http.MethodPost, "/deploy", `{"model_name": "m"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "Error deploying model: bucket gone")
	})
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"ok", nil, http.StatusOK},
		{"missing", deploy.ErrMissingModel, http.StatusBadRequest},
		{"unknown", deploy.ErrNotFound, http.StatusNotFound},
		{"builder", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDeployer{err: tt.err}
			w := serve(d, http.MethodPost, "/delete", `{"service_name": "resnet-50-service"}`)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "resnet-50-service", d.gotService)
		})
	}
}

func TestDeployments(t *testing.T) {
	d := &fakeDeployer{deployments: map[string]deploy.Deployment{
		"id-1": {ID: "id-1", ModelName: "resnet-50", Status: deploy.StatusRunning},
	}}

	w := serve(d, http.MethodGet, "/deployments", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"running"`)

	w = serve(d, http.MethodGet, "/deployments/id-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model_name":"resnet-50"`)

	w = serve(d, http.MethodGet, "/deployments/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(&fakeDeployer{}, http.MethodGet, "/deployments", "")
	assert.Equal(t, "[]", w.Body.String())
}

func TestInfer(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "/infer", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"predicted_label": %q}`, string(body))
	}))
	defer backend.Close()

	d := &fakeDeployer{endpoint: backend.URL + "/infer"}
	w := serve(d, http.MethodPost, "/infer/google/vit-base-patch16-224", `"pixels"`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"predicted_label": "\"pixels\""}`, w.Body.String())
	assert.Equal(t, "google/vit-base-patch16-224", d.gotModel)

	w = serve(&fakeDeployer{endpointErr: fmt.Errorf("%w: building", deploy.ErrNotServing)}, http.MethodPost, "/infer/m", `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(&fakeDeployer{endpointErr: deploy.ErrNotFound}, http.MethodPost, "/infer/m", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
