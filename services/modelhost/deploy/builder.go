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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBuildNotFound is returned when the builder has no build for a model.
var ErrBuildNotFound = errors.New("model build not found")

// Build and service states reported by the builder.
const (
	BuildInProgress = "IN_PROGRESS"
	BuildSucceeded  = "SUCCEEDED"
	BuildFailed     = "FAILED"

	ServiceInProgress = "IN_PROGRESS"
	ServiceCompleted  = "COMPLETED"
	ServiceFailed     = "FAILED"
)

// BuildRequest asks the builder to build and serve one model image.
type BuildRequest struct {
	ModelID     string `json:"model_id"`
	ModelName   string `json:"model_name"`
	ServiceName string `json:"service_name"`
	Source      string `json:"source"`
	Port        int    `json:"port"`
}

// BuildStatus is the builder's view of a model.
type BuildStatus struct {
	BuildStatus   string `json:"build_status"`
	ServiceStatus string `json:"service_status,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
}

// Builder turns an uploaded build context into a running service.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) error
	Status(ctx context.Context, modelID string) (BuildStatus, error)
	Delete(ctx context.Context, modelID string) error
}

// WebhookBuilder drives an external build system over HTTP:
//
//	POST   <base>/builds            start a build
//	GET    <base>/builds/<id>       build and service status
//	DELETE <base>/services/<id>     stop and remove the service
type WebhookBuilder struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewWebhookBuilder returns a builder with a 30 second client timeout.
func NewWebhookBuilder(baseURL, token string) *WebhookBuilder {
	return &WebhookBuilder{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *WebhookBuilder) Build(ctx context.Context, req BuildRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = w.do(ctx, http.MethodPost, "/builds", body)
	return err
}

func (w *WebhookBuilder) Status(ctx context.Context, modelID string) (BuildStatus, error) {
	raw, err := w.do(ctx, http.MethodGet, "/builds/"+url.PathEscape(modelID), nil)
	if err != nil {
		return BuildStatus{}, err
	}
	var st BuildStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return BuildStatus{}, fmt.Errorf("decode build status: %w", err)
	}
	return st, nil
}

func (w *WebhookBuilder) Delete(ctx context.Context, modelID string) error {
	_, err := w.do(ctx, http.MethodDelete, "/services/"+url.PathEscape(modelID), nil)
	return err
}

func (w *WebhookBuilder) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrBuildNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

var _ Builder = (*WebhookBuilder)(nil)
