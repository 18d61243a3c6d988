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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/pkg/graph"
	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/store"
)

type EdgeManager struct {
	db *store.Store
	auditor
}

func NewEdgeManager(db *store.Store, metrics *observability.Metrics) *EdgeManager {
	return &EdgeManager{db: db, auditor: auditor{metrics: metrics}}
}

// CanConnect reports whether a new edge source -> target is allowed. A nil
// error means yes.
func (m *EdgeManager) CanConnect(ctx context.Context, source, target uuid.UUID) error {
	return translate(canConnect(ctx, m.db.Q(), source, target))
}

// canConnect enforces the edge rules:
//
//   - source and target differ
//   - both blocks exist
//   - no edge joins them in either direction
//   - the new edge closes no cycle
func canConnect(ctx context.Context, q store.Querier, source, target uuid.UUID) error {
	if source == target {
		return fmt.Errorf("%w: an edge cannot connect a block to itself", ErrInvalidInput)
	}
	for _, id := range []uuid.UUID{source, target} {
		if _, err := store.GetBlock(ctx, q, id); err != nil {
			return missing(err, "block", id)
		}
	}

	exists, err := store.EdgeExistsBetween(ctx, q, source, target)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: blocks %s and %s are already connected", ErrConflict, source, target)
	}

	all, err := store.ListAllEdges(ctx, q)
	if err != nil {
		return err
	}
	if graph.WouldCreateCycle(toGraphEdges(all), source, target) {
		return fmt.Errorf("%w: edge %s -> %s would create a cycle", ErrInvalidInput, source, target)
	}
	return nil
}

func toGraphEdges(edges []datatypes.Edge) []graph.Edge[uuid.UUID] {
	out := make([]graph.Edge[uuid.UUID], len(edges))
	for i, e := range edges {
		out[i] = graph.Edge[uuid.UUID]{Source: e.SourceBlockID, Target: e.TargetBlockID}
	}
	return out
}

// Create checks CanConnect, then inserts the edge with version 1.
func (m *EdgeManager) Create(ctx context.Context, userID string, req *datatypes.EdgeCreateRequest) (*datatypes.Edge, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	var out *datatypes.Edge
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		edge, err := createEdge(ctx, q, userID, edgeParams{
			name:        req.Name,
			edgeType:    req.EdgeType,
			description: req.Description,
			source:      uuid.MustParse(req.SourceBlockID),
			target:      uuid.MustParse(req.TargetBlockID),
			metadata:    req.Metadata,
		})
		if err != nil {
			return err
		}
		out = edge
		return m.write(ctx, q, userID, datatypes.ActionCreate, datatypes.EntityEdge, edge.ID.String(),
			map[string]any{"source_block_id": edge.SourceBlockID.String(), "target_block_id": edge.TargetBlockID.String()})
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

type edgeParams struct {
	name, edgeType, description string
	source, target              uuid.UUID
	metadata                    map[string]any
}

func createEdge(ctx context.Context, q store.Querier, userID string, p edgeParams) (*datatypes.Edge, error) {
	edgeType, err := datatypes.ParseEdgeType(p.edgeType)
	if err != nil {
		return nil, err
	}
	if err := canConnect(ctx, q, p.source, p.target); err != nil {
		return nil, err
	}
	edge := &datatypes.Edge{
		Name:          p.name,
		EdgeType:      edgeType,
		Description:   p.description,
		SourceBlockID: p.source,
		TargetBlockID: p.target,
	}
	if err := store.CreateEdge(ctx, q, edge); err != nil {
		return nil, err
	}
	if _, err := newEdgeVersion(ctx, q, edge, p.metadata, userID); err != nil {
		return nil, err
	}
	return edge, nil
}

func newEdgeVersion(ctx context.Context, q store.Querier, edge *datatypes.Edge, metadata map[string]any, userID string) (*datatypes.EdgeVersion, error) {
	n, err := store.NextEdgeVersionNumber(ctx, q, edge.ID)
	if err != nil {
		return nil, err
	}
	version := &datatypes.EdgeVersion{
		EdgeID:        edge.ID,
		VersionNumber: n,
		Metadata:      metadata,
		CreatedBy:     userID,
		IsActive:      true,
	}
	if err := store.CreateEdgeVersion(ctx, q, version); err != nil {
		return nil, err
	}
	edge.CurrentVersionID = &version.ID
	if err := store.UpdateEdge(ctx, q, edge); err != nil {
		return nil, err
	}
	return version, nil
}

func (m *EdgeManager) Get(ctx context.Context, userID string, id uuid.UUID) (*datatypes.Edge, error) {
	var out *datatypes.Edge
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		edge, err := store.GetEdge(ctx, q, id)
		if err != nil {
			return missing(err, "edge", id)
		}
		out = edge
		return m.write(ctx, q, userID, datatypes.ActionRead, datatypes.EntityEdge, id.String(), nil)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// Update changes name, type and description. Metadata creates a new version.
func (m *EdgeManager) Update(ctx context.Context, userID string, id uuid.UUID, req *datatypes.EdgeUpdateRequest) (*datatypes.Edge, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	var out *datatypes.Edge
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		edge, err := store.GetEdge(ctx, q, id)
		if err != nil {
			return missing(err, "edge", id)
		}
		if req.Name != nil {
			edge.Name = *req.Name
		}
		if req.EdgeType != nil {
			et, err := datatypes.ParseEdgeType(*req.EdgeType)
			if err != nil {
				return err
			}
			edge.EdgeType = et
		}
		if req.Description != nil {
			edge.Description = *req.Description
		}
		if req.Metadata != nil {
			if _, err := newEdgeVersion(ctx, q, edge, req.Metadata, userID); err != nil {
				return err
			}
		} else if err := store.UpdateEdge(ctx, q, edge); err != nil {
			return err
		}
		out = edge
		return m.write(ctx, q, userID, datatypes.ActionUpdate, datatypes.EntityEdge, id.String(), nil)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (m *EdgeManager) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if err := store.DeleteEdge(ctx, q, id); err != nil {
			return missing(err, "edge", id)
		}
		return m.write(ctx, q, userID, datatypes.ActionDelete, datatypes.EntityEdge, id.String(), nil)
	})
	return translate(err)
}

// List pages through edges, optionally narrowed to one source or target.
func (m *EdgeManager) List(ctx context.Context, filter store.EdgeFilter, limit, offset int) ([]datatypes.Edge, error) {
	edges, err := store.ListEdges(ctx, m.db.Q(), filter, limit, offset)
	return edges, translate(err)
}

func (m *EdgeManager) AssignVersion(ctx context.Context, userID string, edgeID uuid.UUID, req *datatypes.AssignVersionRequest) (*datatypes.Edge, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	versionID := uuid.MustParse(req.VersionID)

	var out *datatypes.Edge
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		edge, err := store.GetEdge(ctx, q, edgeID)
		if err != nil {
			return missing(err, "edge", edgeID)
		}
		version, err := store.GetEdgeVersion(ctx, q, versionID)
		if err != nil {
			return missing(err, "edge version", versionID)
		}
		if version.EdgeID != edge.ID {
			return fmt.Errorf("%w: version %s does not belong to edge %s", ErrInvalidInput, versionID, edgeID)
		}
		edge.CurrentVersionID = &version.ID
		if err := store.UpdateEdge(ctx, q, edge); err != nil {
			return err
		}
		out = edge
		return m.write(ctx, q, userID, datatypes.ActionUpdate, datatypes.EntityEdge, edgeID.String(),
			map[string]any{"current_version_id": versionID.String()})
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// Verify records a verification result against the edge's current version.
func (m *EdgeManager) Verify(ctx context.Context, userID string, edgeID uuid.UUID, req *datatypes.EdgeVerifyRequest) (*datatypes.EdgeVerification, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	status, err := datatypes.ParseVerificationStatus(req.Status)
	if err != nil {
		return nil, translate(err)
	}

	var out *datatypes.EdgeVerification
	err = m.db.WithTx(ctx, func(q store.Querier) error {
		edge, err := store.GetEdge(ctx, q, edgeID)
		if err != nil {
			return missing(err, "edge", edgeID)
		}
		if edge.CurrentVersionID == nil {
			return fmt.Errorf("%w: edge %s has no current version", ErrInvalidInput, edgeID)
		}
		v := &datatypes.EdgeVerification{
			EdgeVersionID:      *edge.CurrentVersionID,
			VerificationStatus: status,
			VerificationLogs:   req.Logs,
			VerifiedAt:         time.Now().UTC(),
			VerifiedBy:         userID,
		}
		if err := store.CreateEdgeVerification(ctx, q, v); err != nil {
			return err
		}
		out = v
		return m.write(ctx, q, userID, datatypes.ActionCreate, datatypes.EntityVerification, v.ID.String(),
			map[string]any{"edge_id": edgeID.String(), "verification_status": string(status)})
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// isMissing reports whether err is a not-found from either layer.
func isMissing(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrNotFound)
}
