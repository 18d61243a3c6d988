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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ConstellationAI/constellation/pkg/gcs"
)

var tracer = otel.Tracer("constellation.modelhost.deploy")

// ErrNotServing is returned when a model has no running endpoint.
var ErrNotServing = errors.New("model is not serving")

// ErrMissingModel is returned when a request names neither a model nor a
// service.
var ErrMissingModel = errors.New("model_name or service_name is required")

// Status messages returned to callers.
const (
	MsgBuildNotFound    = "Model build not found"
	MsgBuildInProgress  = "Model image build and push in progress"
	MsgBuildFailed      = "Model image push failed"
	MsgServerInProgress = "Model server deployment in progress"
	MsgServerFailed     = "Model server deployment failed"
)

// Recorder counts deployment actions. observability.Metrics implements it.
type Recorder interface {
	RecordDeployment(action string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDeployment(string) {}

// Manager deploys and deletes model services.
//
// # Description
//
// A deploy of an unknown (or deleted) model renders the build context,
// uploads it to models/<id>.zip and hands it to the Builder. A deploy of a
// known model refreshes its status from the Builder instead. Without a
// Builder, records stay in the state they were saved with.
//
// # Thread Safety
//
// Safe for concurrent use. Two concurrent first deploys of the same model
// may both upload; the record converges on the last writer.
type Manager struct {
	registry *Registry
	uploader gcs.Uploader
	builder  Builder
	metrics  Recorder
}

// NewManager wires a manager. builder and metrics may be nil.
func NewManager(registry *Registry, uploader gcs.Uploader, builder Builder, metrics Recorder) *Manager {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Manager{registry: registry, uploader: uploader, builder: builder, metrics: metrics}
}

// Deploy starts or checks on the deployment of modelName and returns the
// message shown to the caller.
func (m *Manager) Deploy(ctx context.Context, modelName, serviceName string) (string, error) {
	if modelName == "" {
		return "", ErrMissingModel
	}
	id := ModelID(modelName)
	ctx, span := tracer.Start(ctx, "Manager.Deploy", trace.WithAttributes(
		attribute.String("model.name", modelName),
		attribute.String("model.id", id),
	))
	defer span.End()

	d, err := m.registry.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound) || (err == nil && d.Status == StatusDeleted):
		msg, err := m.start(ctx, modelName, serviceName, id, d)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			m.metrics.RecordDeployment("deploy_failed")
			return "", err
		}
		m.metrics.RecordDeployment("deploy")
		return msg, nil
	case err != nil:
		return "", err
	}

	d, err = m.Refresh(ctx, d)
	if err != nil {
		return "", err
	}
	m.metrics.RecordDeployment("status")
	return d.Message, nil
}

func (m *Manager) start(ctx context.Context, modelName, serviceName, id string, prev Deployment) (string, error) {
	if serviceName == "" {
		serviceName = modelName + "-service"
	}
	archive, err := BuildContext(modelName, id)
	if err != nil {
		return "", err
	}
	source, err := m.uploader.Upload(ctx, ObjectPath(id), "application/zip", bytes.NewReader(archive))
	if err != nil {
		return "", fmt.Errorf("upload build context: %w", err)
	}

	port := Port(id)
	if m.builder != nil {
		err := m.builder.Build(ctx, BuildRequest{
			ModelID:     id,
			ModelName:   modelName,
			ServiceName: serviceName,
			Source:      source,
			Port:        port,
		})
		if err != nil {
			return "", fmt.Errorf("trigger build: %w", err)
		}
	} else {
		slog.Warn("No build webhook configured, build context uploaded only", "model_id", id, "source", source)
	}

	_, err = m.registry.Save(ctx, Deployment{
		ID:          id,
		ModelName:   modelName,
		ServiceName: serviceName,
		Status:      StatusBuilding,
		Message:     MsgBuildInProgress,
		Source:      source,
		Port:        port,
		CreatedAt:   prev.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	slog.Info("model deployment started", "model", modelName, "model_id", id, "port", port)
	return modelName + " deployment has started", nil
}

// Refresh asks the Builder for the current state of d and stores any change.
func (m *Manager) Refresh(ctx context.Context, d Deployment) (Deployment, error) {
	if m.builder == nil || d.Status == StatusDeleted {
		return d, nil
	}
	st, err := m.builder.Status(ctx, d.ID)
	if errors.Is(err, ErrBuildNotFound) {
		d.Message = MsgBuildNotFound
		return d, nil
	}
	if err != nil {
		return d, fmt.Errorf("build status: %w", err)
	}

	next := d
	next.Endpoint = ""
	switch st.BuildStatus {
	case BuildInProgress:
		next.Status, next.Message = StatusBuilding, MsgBuildInProgress
	case BuildSucceeded:
		switch st.ServiceStatus {
		case ServiceCompleted:
			next.Status, next.Endpoint = StatusRunning, st.Endpoint
			next.Message = "Model server deployed on: " + st.Endpoint
		case ServiceFailed:
			next.Status, next.Message = StatusFailed, MsgServerFailed
		default:
			next.Status, next.Message = StatusDeploying, MsgServerInProgress
		}
	default:
		next.Status, next.Message = StatusFailed, MsgBuildFailed
	}

	if next.Status == d.Status && next.Message == d.Message && next.Endpoint == d.Endpoint {
		return d, nil
	}
	return m.registry.Save(ctx, next)
}

// Delete stops the service for a model. The model is resolved from
// modelName, or from serviceName when modelName is empty.
func (m *Manager) Delete(ctx context.Context, modelName, serviceName string) (string, error) {
	ctx, span := tracer.Start(ctx, "Manager.Delete")
	defer span.End()

	d, err := m.resolve(ctx, modelName, serviceName)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("model.id", d.ID))

	if m.builder != nil {
		if err := m.builder.Delete(ctx, d.ID); err != nil && !errors.Is(err, ErrBuildNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("delete service: %w", err)
		}
	}

	d.Status, d.Message, d.Endpoint = StatusDeleted, "Model server deleted", ""
	if _, err := m.registry.Save(ctx, d); err != nil {
		return "", err
	}
	m.metrics.RecordDeployment("delete")
	slog.Info("model service deleted", "model_id", d.ID, "service", d.ServiceName)
	return d.ID + " service has been deleted", nil
}

func (m *Manager) resolve(ctx context.Context, modelName, serviceName string) (Deployment, error) {
	if modelName != "" {
		return m.registry.Get(ctx, ModelID(modelName))
	}
	if serviceName == "" {
		return Deployment{}, ErrMissingModel
	}
	d, err := m.registry.FindByService(ctx, serviceName)
	if errors.Is(err, ErrNotFound) && strings.HasSuffix(serviceName, "-service") {
		return m.registry.Get(ctx, ModelID(strings.TrimSuffix(serviceName, "-service")))
	}
	return d, err
}

// Get returns a deployment by model id.
func (m *Manager) Get(ctx context.Context, id string) (Deployment, error) {
	return m.registry.Get(ctx, id)
}

// List returns all deployments, newest first.
func (m *Manager) List(ctx context.Context) ([]Deployment, error) {
	return m.registry.List(ctx)
}

// Endpoint returns the inference URL of a running model.
func (m *Manager) Endpoint(ctx context.Context, modelName string) (string, error) {
	d, err := m.registry.Get(ctx, ModelID(modelName))
	if err != nil {
		return "", err
	}
	if d.Status != StatusRunning || d.Endpoint == "" {
		return "", fmt.Errorf("%w: %s is %s", ErrNotServing, modelName, d.Status)
	}
	return d.Endpoint, nil
}
