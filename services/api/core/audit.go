// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package core

import (
	"context"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/store"
)

// AuditManager exposes the audit log itself as a resource.
type AuditManager struct {
	db *store.Store
	auditor
}

func NewAuditManager(db *store.Store, metrics *observability.Metrics) *AuditManager {
	return &AuditManager{db: db, auditor: auditor{metrics: metrics}}
}

// Create stores an entry supplied by a client. Details defaults to {}.
func (m *AuditManager) Create(ctx context.Context, req *datatypes.AuditLogCreateRequest) (*datatypes.AuditLog, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	action, err := datatypes.ParseActionType(req.ActionType)
	if err != nil {
		return nil, translate(err)
	}
	entity, err := datatypes.ParseEntityType(req.EntityType)
	if err != nil {
		return nil, translate(err)
	}

	entry := &datatypes.AuditLog{
		UserID:     req.UserID,
		ActionType: action,
		EntityType: entity,
		EntityID:   req.EntityID,
		Details:    req.Details,
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	if err := store.CreateAuditLog(ctx, m.db.Q(), entry); err != nil {
		return nil, translate(err)
	}
	if m.metrics != nil {
		m.metrics.RecordAudit(string(action), string(entity))
	}
	return entry, nil
}

func (m *AuditManager) Get(ctx context.Context, id uuid.UUID) (*datatypes.AuditLog, error) {
	entry, err := store.GetAuditLog(ctx, m.db.Q(), id)
	if err != nil {
		return nil, translate(missing(err, "audit log", id))
	}
	return entry, nil
}

// List returns entries newest first. A zero limit means 100.
func (m *AuditManager) List(ctx context.Context, filter *datatypes.AuditLogFilter) ([]datatypes.AuditLog, error) {
	if err := filter.Validate(); err != nil {
		return nil, translate(err)
	}
	logs, err := store.ListAuditLogs(ctx, m.db.Q(), store.AuditFilter{
		UserID:     filter.UserID,
		ActionType: filter.ActionType,
		EntityType: filter.EntityType,
		EntityID:   filter.EntityID,
	}, filter.Limit, filter.Offset)
	return logs, translate(err)
}

// UpdateDetails replaces the details object and returns the updated entry.
func (m *AuditManager) UpdateDetails(ctx context.Context, id uuid.UUID, req *datatypes.AuditLogUpdateRequest) (*datatypes.AuditLog, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	var out *datatypes.AuditLog
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if err := store.UpdateAuditLogDetails(ctx, q, id, req.Details); err != nil {
			return missing(err, "audit log", id)
		}
		entry, err := store.GetAuditLog(ctx, q, id)
		out = entry
		return err
	})
	return out, translate(err)
}

func (m *AuditManager) Delete(ctx context.Context, id uuid.UUID) error {
	err := store.DeleteAuditLog(ctx, m.db.Q(), id)
	return translate(missing(err, "audit log", id))
}
