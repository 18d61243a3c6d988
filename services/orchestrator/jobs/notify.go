// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ConstellationAI/constellation/services/orchestrator/runs"
)

// StatusUpdate is the body of the API's run status callback.
type StatusUpdate struct {
	Status         string  `json:"status"`
	RuntimeSeconds float64 `json:"runtime_seconds"`
}

// ErrCallbackOrigin is returned for a run whose callback URL points at an
// origin the notifier does not trust. Nothing is sent.
var ErrCallbackOrigin = errors.New("callback origin not allowed")

// HTTPNotifier reports finished runs to the API with
// PUT <base>/v1/pipelines/runs/<run_id>/status.
//
// A run may name its own callback URL, but the bearer token only ever goes
// to BaseURL's origin or one of AllowedOrigins. Runs naming any other
// origin fail with ErrCallbackOrigin.
type HTTPNotifier struct {
	// BaseURL is used when the run carries no callback URL. Empty disables
	// callbacks for such runs.
	BaseURL string
	// AllowedOrigins are extra "scheme://host[:port]" origins a run's
	// callback URL may use.
	AllowedOrigins []string
	// Token is sent as a bearer token when set.
	Token  string
	Client *http.Client
}

// NewHTTPNotifier returns a notifier with a 10 second client timeout.
func NewHTTPNotifier(baseURL, token string, allowedOrigins ...string) *HTTPNotifier {
	return &HTTPNotifier{
		BaseURL:        baseURL,
		AllowedOrigins: allowedOrigins,
		Token:          token,
		Client:         &http.Client{Timeout: 10 * time.Second},
	}
}

// Target returns the base URL a run's status goes to, or "" when there is
// none.
func (n *HTTPNotifier) Target(run runs.Run) (string, error) {
	if run.CallbackURL == "" {
		return n.BaseURL, nil
	}
	origin, err := originOf(run.CallbackURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCallbackOrigin, err)
	}
	if base, err := originOf(n.BaseURL); err == nil && base == origin {
		return run.CallbackURL, nil
	}
	for _, allowed := range n.AllowedOrigins {
		if o, err := originOf(allowed); err == nil && o == origin {
			return run.CallbackURL, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrCallbackOrigin, origin)
}

// originOf returns the lower-cased scheme://host[:port] of an http(s) URL.
func originOf(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if !slices.Contains([]string{"http", "https"}, u.Scheme) || u.Host == "" {
		return "", fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// Notify sends the run's outcome. Runs without a target are skipped.
func (n *HTTPNotifier) Notify(ctx context.Context, run runs.Run) error {
	base, err := n.Target(run)
	if err != nil || base == "" {
		return err
	}

	body, err := json.Marshal(StatusUpdate{Status: string(run.Status), RuntimeSeconds: Runtime(run).Seconds()})
	if err != nil {
		return err
	}
	endpoint := strings.TrimSuffix(base, "/") + "/v1/pipelines/runs/" + url.PathEscape(run.ID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("callback %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("callback %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Runtime is the wall time between start and finish, zero when either is
// missing.
func Runtime(run runs.Run) time.Duration {
	if run.StartedAt == nil || run.FinishedAt == nil {
		return 0
	}
	return run.FinishedAt.Sub(*run.StartedAt)
}
