// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ConstellationAI/constellation/pkg/gcs"
	"github.com/ConstellationAI/constellation/pkg/storage/badger"
)

const vit = "google/vit-base-patch16-224"

func TestModelIDAndPort(t *testing.T) {
	tests := []struct {
		name string
		id   string
		port int
	}{
		{vit, "3890d766-60ef-516b-a635-89fa80c5c571", 4396},
		{"resnet-50", "d4bc0f86-45cd-55b3-b71d-a2c9fd2a7586", 51829},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.id, ModelID(tt.name))
			assert.Equal(t, tt.port, Port(tt.id))
		})
	}
}

func TestBuildContext(t *testing.T) {
	id := ModelID(vit)
	archive, err := BuildContext(vit, id)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)

	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[f.Name] = string(body)
	}

	require.Len(t, files, 3)
	assert.Contains(t, files["app.py"], `pipeline("image-classification", model="google/vit-base-patch16-224")`)
	assert.Contains(t, files["app.py"], `return {"predicted_label": output}`)
	assert.Contains(t, files["requirements.txt"], "python-multipart\n")
	assert.Contains(t, files["Dockerfile"], "EXPOSE 4396\n")
	assert.Contains(t, files["Dockerfile"], `"--port", "4396"`)
}

type fakeBuilder struct {
	mu       sync.Mutex
	builds   []BuildRequest
	deleted  []string
	status   BuildStatus
	statErr  error
	buildErr error
	delErr   error
}

func (f *fakeBuilder) Build(_ context.Context, req BuildRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return f.buildErr
	}
	f.builds = append(f.builds, req)
	return nil
}

func (f *fakeBuilder) Status(context.Context, string) (BuildStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statErr
}

func (f *fakeBuilder) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.delErr
}

type countingRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (c *countingRecorder) RecordDeployment(action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, action)
}

func newManager(t *testing.T, b Builder) (*Manager, string, *countingRecorder) {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	dir := t.TempDir()
	rec := &countingRecorder{}
	return NewManager(NewRegistry(db), &gcs.DirUploader{Root: dir}, b, rec), dir, rec
}

func TestManager_DeployLifecycle(t *testing.T) {
	ctx := context.Background()
	b := &fakeBuilder{}
	m, dir, rec := newManager(t, b)
	id := ModelID(vit)

	msg, err := m.Deploy(ctx, vit, "vit-service")
	require.NoError(t, err)
	assert.Equal(t, vit+" deployment has started", msg)

	_, err = os.Stat(filepath.Join(dir, "models", id+".zip"))
	require.NoError(t, err)
	require.Len(t, b.builds, 1)
	assert.Equal(t, BuildRequest{
		ModelID:     id,
		ModelName:   vit,
		ServiceName: "vit-service",
		Source:      b.builds[0].Source,
		Port:        4396,
	}, b.builds[0])
	assert.Contains(t, b.builds[0].Source, "models/"+id+".zip")

	d, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusBuilding, d.Status)

	steps := []struct {
		status  BuildStatus
		want    Status
		message string
	}{
		{BuildStatus{BuildStatus: BuildInProgress}, StatusBuilding, MsgBuildInProgress},
		{BuildStatus{BuildStatus: BuildSucceeded, ServiceStatus: ServiceInProgress}, StatusDeploying, MsgServerInProgress},
		{BuildStatus{BuildStatus: BuildSucceeded, ServiceStatus: ServiceCompleted, Endpoint: "http://10.0.0.5:4396/infer"}, StatusRunning, "Model server deployed on: http://10.0.0.5:4396/infer"},
	}
	for _, s := range steps {
		b.status = s.status
		msg, err := m.Deploy(ctx, vit, "vit-service")
		require.NoError(t, err)
		assert.Equal(t, s.message, msg)
		d, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, s.want, d.Status)
	}
	assert.Len(t, b.builds, 1, "known models are not rebuilt")

	endpoint, err := m.Endpoint(ctx, vit)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:4396/infer", endpoint)

	msg, err = m.Delete(ctx, "", "vit-service")
	require.NoError(t, err)
	assert.Equal(t, id+" service has been deleted", msg)
	assert.Equal(t, []string{id}, b.deleted)

	_, err = m.Endpoint(ctx, vit)
	assert.ErrorIs(t, err, ErrNotServing)

	msg, err = m.Deploy(ctx, vit, "vit-service")
	require.NoError(t, err)
	assert.Equal(t, vit+" deployment has started", msg)
	assert.Len(t, b.builds, 2, "deleted models are rebuilt")

	assert.Equal(t, []string{"deploy", "status", "status", "status", "delete", "deploy"}, rec.actions)
}

func TestManager_RefreshFailures(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		status  BuildStatus
		err     error
		message string
	}{
		{"build failed", BuildStatus{BuildStatus: BuildFailed}, nil, MsgBuildFailed},
		{"server failed", BuildStatus{BuildStatus: BuildSucceeded, ServiceStatus: ServiceFailed}, nil, MsgServerFailed},
		{"build missing", BuildStatus{}, ErrBuildNotFound, MsgBuildNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBuilder{}
			m, _, _ := newManager(t, b)
			_, err := m.Deploy(ctx, "resnet-50", "")
			require.NoError(t, err)
			assert.Equal(t, "resnet-50-service", b.builds[0].ServiceName)

			b.status, b.statErr = tt.status, tt.err
			msg, err := m.Deploy(ctx, "resnet-50", "")
			require.NoError(t, err)
			assert.Equal(t, tt.message, msg)
		})
	}
}

func TestManager_BuildErrorIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	b := &fakeBuilder{buildErr: errors.New("webhook down")}
	m, _, rec := newManager(t, b)

	_, err := m.Deploy(ctx, vit, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook down")

	_, err = m.Get(ctx, ModelID(vit))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"deploy_failed"}, rec.actions)
}

func TestManager_WithoutBuilder(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, nil)

	_, err := m.Deploy(ctx, vit, "")
	require.NoError(t, err)
	msg, err := m.Deploy(ctx, vit, "")
	require.NoError(t, err)
	assert.Equal(t, MsgBuildInProgress, msg)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, vit+"-service", list[0].ServiceName)
}

func TestManager_DeleteErrors(t *testing.T) {
	ctx := context.Background()
	b := &fakeBuilder{}
	m, _, _ := newManager(t, b)

	_, err := m.Delete(ctx, "", "")
	assert.ErrorIs(t, err, ErrMissingModel)
	_, err = m.Delete(ctx, "unknown", "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Deploy(ctx, "", "")
	assert.ErrorIs(t, err, ErrMissingModel)

	_, err = m.Deploy(ctx, "resnet-50", "custom")
	require.NoError(t, err)

	// the conventional service name resolves even when the record uses another
	b.delErr = ErrBuildNotFound
	msg, err := m.Delete(ctx, "", "resnet-50-service")
	require.NoError(t, err)
	assert.Equal(t, ModelID("resnet-50")+" service has been deleted", msg)

	b.delErr = errors.New("builder down")
	_, err = m.Delete(ctx, "resnet-50", "")
	assert.Error(t, err)
}

func TestWebhookBuilder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Method+" "+r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "Bearer hook-token", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/builds":
			var req BuildRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "m1", req.ModelID)
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodGet && r.URL.Path == "/builds/m1":
			_, _ = w.Write([]byte(`{"build_status":"SUCCEEDED","service_status":"COMPLETED","endpoint":"http://x:1/infer"}`))
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("cluster unavailable"))
		}
	}))
	defer srv.Close()

	b := NewWebhookBuilder(srv.URL+"/", "hook-token")
	ctx := context.Background()

	require.NoError(t, b.Build(ctx, BuildRequest{ModelID: "m1"}))

	st, err := b.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, BuildStatus{BuildStatus: BuildSucceeded, ServiceStatus: ServiceCompleted, Endpoint: "http://x:1/infer"}, st)

	_, err = b.Status(ctx, "m2")
	assert.ErrorIs(t, err, ErrBuildNotFound)

	err = b.Delete(ctx, "m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster unavailable")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"POST /builds", "GET /builds/m1", "GET /builds/m2", "DELETE /services/m1"}, got)
}
