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
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ConstellationAI/constellation/pkg/storage/badger"
)

// ErrNotFound is returned for an unknown deployment.
var ErrNotFound = errors.New("deployment not found")

// Status is the lifecycle state of a deployment.
type Status string

const (
	StatusBuilding  Status = "building"
	StatusDeploying Status = "deploying"
	StatusRunning   Status = "running"
	StatusFailed    Status = "failed"
	StatusDeleted   Status = "deleted"
)

// Deployment is the stored record of one model.
type Deployment struct {
	ID          string    `json:"id"`
	ModelName   string    `json:"model_name"`
	ServiceName string    `json:"service_name"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	Source      string    `json:"source"`
	Port        int       `json:"port"`
	Endpoint    string    `json:"endpoint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Registry stores deployments under the "deployments" prefix.
type Registry struct {
	items *badger.Collection[Deployment]
}

func NewRegistry(db *badger.DB) *Registry {
	return &Registry{items: badger.NewCollection[Deployment](db, "deployments")}
}

func (r *Registry) Get(ctx context.Context, id string) (Deployment, error) {
	d, err := r.items.Get(ctx, id)
	if errors.Is(err, badger.ErrNotFound) {
		return Deployment{}, ErrNotFound
	}
	return d, err
}

// Save writes d, stamping UpdatedAt and CreatedAt when unset.
func (r *Registry) Save(ctx context.Context, d Deployment) (Deployment, error) {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	return d, r.items.Put(ctx, d.ID, d)
}

// List returns every deployment, newest first.
func (r *Registry) List(ctx context.Context) ([]Deployment, error) {
	all, err := r.items.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

// FindByService returns the deployment serving serviceName.
func (r *Registry) FindByService(ctx context.Context, serviceName string) (Deployment, error) {
	all, err := r.items.List(ctx)
	if err != nil {
		return Deployment{}, err
	}
	for _, d := range all {
		if d.ServiceName == serviceName {
			return d, nil
		}
	}
	return Deployment{}, ErrNotFound
}
