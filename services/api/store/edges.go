// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

const edgeColumns = `id, name, edge_type, description, source_block_id, target_block_id, current_version_id, created_at, updated_at`

func scanEdge(s scanner) (datatypes.Edge, error) {
	var e datatypes.Edge
	var edgeType string
	err := s.Scan(&e.ID, &e.Name, &edgeType, &e.Description, &e.SourceBlockID, &e.TargetBlockID,
		&e.CurrentVersionID, &e.CreatedAt, &e.UpdatedAt)
	e.EdgeType = datatypes.EdgeType(edgeType)
	return e, err
}

func CreateEdge(ctx context.Context, q Querier, e *datatypes.Edge) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	_, err := q.Exec(ctx, `INSERT INTO edges (`+edgeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Name, string(e.EdgeType), e.Description, e.SourceBlockID, e.TargetBlockID,
		e.CurrentVersionID, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create edge: %w", err)
	}
	return nil
}

func GetEdge(ctx context.Context, q Querier, id uuid.UUID) (*datatypes.Edge, error) {
	e, err := scanEdge(q.QueryRow(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get edge", err)
	}
	return &e, nil
}

// UpdateEdge writes the mutable columns. Endpoints never change.
func UpdateEdge(ctx context.Context, q Querier, e *datatypes.Edge) error {
	e.UpdatedAt = time.Now().UTC()
	tag, err := q.Exec(ctx, `UPDATE edges
		SET name = $2, edge_type = $3, description = $4, current_version_id = $5, updated_at = $6
		WHERE id = $1`,
		e.ID, e.Name, string(e.EdgeType), e.Description, e.CurrentVersionID, e.UpdatedAt)
	return affected("update edge", tag, err)
}

func DeleteEdge(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM edges WHERE id = $1`, id)
	return affected("delete edge", tag, err)
}

// EdgeFilter narrows ListEdges. Nil fields are ignored.
type EdgeFilter struct {
	SourceBlockID *uuid.UUID
	TargetBlockID *uuid.UUID
}

// ListEdges pages through edges newest first.
func ListEdges(ctx context.Context, q Querier, filter EdgeFilter, limit, offset int) ([]datatypes.Edge, error) {
	limit, offset = pageArgs(limit, offset)

	var where []string
	var args []any
	if filter.SourceBlockID != nil {
		args = append(args, *filter.SourceBlockID)
		where = append(where, fmt.Sprintf("source_block_id = $%d", len(args)))
	}
	if filter.TargetBlockID != nil {
		args = append(args, *filter.TargetBlockID)
		where = append(where, fmt.Sprintf("target_block_id = $%d", len(args)))
	}

	sql := `SELECT ` + edgeColumns + ` FROM edges`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list edges: %w", err)
	}
	return collect(rows, "list edges", scanEdge)
}

// ListAllEdges returns every edge. Used for global cycle checks.
func ListAllEdges(ctx context.Context, q Querier) ([]datatypes.Edge, error) {
	rows, err := q.Query(ctx, `SELECT `+edgeColumns+` FROM edges`)
	if err != nil {
		return nil, fmt.Errorf("store: list all edges: %w", err)
	}
	return collect(rows, "list all edges", scanEdge)
}

// EdgeExistsBetween reports whether any edge joins a and b in either
// direction.
func EdgeExistsBetween(ctx context.Context, q Querier, a, b uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM edges
		WHERE (source_block_id = $1 AND target_block_id = $2)
		   OR (source_block_id = $2 AND target_block_id = $1))`, a, b).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: edge exists: %w", err)
	}
	return exists, nil
}

// =============================================================================
// Edge versions and verifications
// =============================================================================

const edgeVersionColumns = `id, edge_id, version_number, metadata, created_by, is_active, created_at`

func scanEdgeVersion(s scanner) (datatypes.EdgeVersion, error) {
	var v datatypes.EdgeVersion
	var meta []byte
	if err := s.Scan(&v.ID, &v.EdgeID, &v.VersionNumber, &meta, &v.CreatedBy, &v.IsActive, &v.CreatedAt); err != nil {
		return v, err
	}
	m, err := unmarshalJSON(meta)
	v.Metadata = m
	return v, err
}

func NextEdgeVersionNumber(ctx context.Context, q Querier, edgeID uuid.UUID) (int, error) {
	var n int
	if err := q.QueryRow(ctx, `SELECT COALESCE(MAX(version_number), 0) + 1 FROM edge_versions WHERE edge_id = $1`,
		edgeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: next edge version: %w", err)
	}
	return n, nil
}

func CreateEdgeVersion(ctx context.Context, q Querier, v *datatypes.EdgeVersion) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = time.Now().UTC()
	meta, err := marshalJSON(v.Metadata)
	if err != nil {
		return fmt.Errorf("store: create edge version: encode metadata: %w", err)
	}
	_, err = q.Exec(ctx, `INSERT INTO edge_versions (`+edgeVersionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.EdgeID, v.VersionNumber, meta, v.CreatedBy, v.IsActive, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create edge version: %w", err)
	}
	return nil
}

func GetEdgeVersion(ctx context.Context, q Querier, id uuid.UUID) (*datatypes.EdgeVersion, error) {
	v, err := scanEdgeVersion(q.QueryRow(ctx, `SELECT `+edgeVersionColumns+` FROM edge_versions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get edge version", err)
	}
	return &v, nil
}

func CreateEdgeVerification(ctx context.Context, q Querier, v *datatypes.EdgeVerification) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.VerifiedAt.IsZero() {
		v.VerifiedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `INSERT INTO edge_verifications
		(id, edge_version_id, verification_status, verification_logs, verified_at, verified_by)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.EdgeVersionID, string(v.VerificationStatus), v.VerificationLogs, v.VerifiedAt, v.VerifiedBy)
	if err != nil {
		return fmt.Errorf("store: create edge verification: %w", err)
	}
	return nil
}
