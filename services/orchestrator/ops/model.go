// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ops

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
)

// ErrNoModelEndpoint is returned by the model ops when MODEL_ENDPOINT is unset.
var ErrNoModelEndpoint = errors.New("model endpoint is not configured")

// ServiceName is the service a model is deployed as.
func ServiceName(model string) string {
	return model + "-service"
}

func deployModel(ctx context.Context, oc OpContext, in Inputs) (any, error) {
	model, ok := in["model"].(string)
	if !ok || model == "" {
		return nil, fmt.Errorf("%w: deploy_model model must be a non-empty string", ErrBadInput)
	}
	oc.logger().Info("deploying model", "alias", oc.Alias, "model", model)
	payload := map[string]string{"model_name": model, "service_name": ServiceName(model)}
	return postModelHost(ctx, oc, "/deploy", payload)
}

func deleteModel(ctx context.Context, oc OpContext, in Inputs) (any, error) {
	model, _ := in["model"].(string)
	service, _ := in["service_name"].(string)
	if model == "" && service == "" {
		return nil, fmt.Errorf("%w: delete_model needs model or service_name", ErrMissingInput)
	}
	if service == "" {
		service = ServiceName(model)
	}
	oc.logger().Info("deleting model service", "alias", oc.Alias, "service", service)
	payload := map[string]string{"model_name": model, "service_name": service}
	return postModelHost(ctx, oc, "/delete", payload)
}

func modelInference(ctx context.Context, oc OpContext, in Inputs) (any, error) {
	model, ok := in["model"].(string)
	if !ok || model == "" {
		return nil, fmt.Errorf("%w: model_inference model must be a non-empty string", ErrBadInput)
	}
	var items []any
	switch d := in["data"].(type) {
	case []any:
		items = d
	case [][]byte:
		for _, b := range d {
			items = append(items, b)
		}
	default:
		items = []any{d}
	}

	path := "/infer/" + url.PathEscape(model)
	results := make([]any, 0, len(items))
	for i, item := range items {
		var (
			body        io.Reader
			contentType string
		)
		if raw, ok := item.([]byte); ok {
			body, contentType = bytes.NewReader(raw), "application/octet-stream"
		} else {
			b, err := json.Marshal(item)
			if err != nil {
				return nil, fmt.Errorf("model_inference: encode item %d: %w", i, err)
			}
			body, contentType = bytes.NewReader(b), "application/json"
		}
		res, err := callModelHost(ctx, oc, path, contentType, body)
		if err != nil {
			return nil, fmt.Errorf("model_inference: item %d: %w", i, err)
		}
		results = append(results, res)
	}
	oc.logger().Info("inference complete", "alias", oc.Alias, "model", model, "items", len(results))
	return results, nil
}

func postModelHost(ctx context.Context, oc OpContext, path string, payload any) (any, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return callModelHost(ctx, oc, path, "application/json", bytes.NewReader(b))
}

// callModelHost POSTs body and decodes the JSON answer. A non-JSON answer is
// returned as a string.
func callModelHost(ctx context.Context, oc OpContext, path, contentType string, body io.Reader) (any, error) {
	if oc.ModelEndpoint == "" {
		return nil, ErrNoModelEndpoint
	}
	endpoint := strings.TrimSuffix(oc.ModelEndpoint, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := oc.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("POST %s: read: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw), nil
	}
	return out, nil
}
