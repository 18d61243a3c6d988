// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package client is the typed HTTP client for the orchestrator API.
package client

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

	"github.com/ConstellationAI/constellation/services/orchestrator/handlers"
	"github.com/ConstellationAI/constellation/services/orchestrator/runs"
)

var (
	// ErrRejected means the orchestrator refused the instructions (HTTP 400).
	ErrRejected = errors.New("orchestrator rejected instructions")
	// ErrNotFound means the run id is unknown.
	ErrNotFound = errors.New("run not found")
)

const maxErrorBody = 4 << 10

// Client talks to one orchestrator.
type Client struct {
	baseURL     string
	token       string
	callbackURL string
	http        *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithCallbackURL sets the API base URL the orchestrator reports run status
// to.
func WithCallbackURL(u string) Option {
	return func(c *Client) { c.callbackURL = u }
}

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for baseURL, e.g. "http://orchestrator:8001".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute submits instructions and returns the run id.
//
// # Description
//
// POSTs {instructions, callback_url} to /v1/execute. A 400 reply wraps
// ErrRejected with the orchestrator's error text; any other non-200 reply
// is a plain error.
func (c *Client) Execute(ctx context.Context, instructions any) (string, error) {
	body, err := json.Marshal(handlers.ExecuteRequest{Instructions: instructions, CallbackURL: c.callbackURL})
	if err != nil {
		return "", fmt.Errorf("encode instructions: %w", err)
	}

	var out handlers.ExecuteResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/execute", bytes.NewReader(body), &out)
	if err != nil {
		if status == http.StatusBadRequest {
			return "", fmt.Errorf("%w: %s", ErrRejected, out.Error)
		}
		return "", err
	}
	if out.RunID == "" {
		return "", fmt.Errorf("orchestrator returned no run id")
	}
	return out.RunID, nil
}

// Run fetches a run record.
func (c *Client) Run(ctx context.Context, id string) (*runs.Run, error) {
	var run runs.Run
	status, err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id), nil, &run)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &run, nil
}

// Runs lists the most recent runs.
func (c *Client) Runs(ctx context.Context, limit int) ([]runs.Run, error) {
	var out struct {
		Runs []runs.Run `json:"runs"`
	}
	path := fmt.Sprintf("/v1/runs?limit=%d", limit)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// do sends the request and decodes a JSON reply into out. On a non-2xx
// status it still tries to decode the body into out and returns the
// status with an error.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = json.Unmarshal(data, out)
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
