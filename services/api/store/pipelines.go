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
	"time"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

const pipelineColumns = `id, name, description, dagster_pipeline_config, created_by, times_run,
	average_runtime, run_id, status, created_at, updated_at`

func scanPipeline(s scanner) (datatypes.Pipeline, error) {
	var p datatypes.Pipeline
	var config []byte
	var status string
	if err := s.Scan(&p.ID, &p.Name, &p.Description, &config, &p.CreatedBy, &p.TimesRun,
		&p.AverageRuntime, &p.RunID, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.Status = datatypes.PipelineStatus(status)
	cfg, err := unmarshalJSON(config)
	p.Config = cfg
	return p, err
}

func CreatePipeline(ctx context.Context, q Querier, p *datatypes.Pipeline) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = datatypes.PipelineCreated
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	config, err := marshalJSON(p.Config)
	if err != nil {
		return fmt.Errorf("store: create pipeline: encode config: %w", err)
	}
	_, err = q.Exec(ctx, `INSERT INTO pipelines (`+pipelineColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Name, p.Description, config, p.CreatedBy, p.TimesRun,
		p.AverageRuntime, p.RunID, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create pipeline: %w", err)
	}
	return nil
}

func GetPipeline(ctx context.Context, q Querier, id uuid.UUID) (*datatypes.Pipeline, error) {
	p, err := scanPipeline(q.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get pipeline", err)
	}
	return &p, nil
}

func GetPipelineByRunID(ctx context.Context, q Querier, runID string) (*datatypes.Pipeline, error) {
	p, err := scanPipeline(q.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE run_id = $1`, runID))
	if err != nil {
		return nil, notFound("get pipeline by run id", err)
	}
	return &p, nil
}

// UpdatePipeline writes every mutable column of p.
func UpdatePipeline(ctx context.Context, q Querier, p *datatypes.Pipeline) error {
	p.UpdatedAt = time.Now().UTC()
	config, err := marshalJSON(p.Config)
	if err != nil {
		return fmt.Errorf("store: update pipeline: encode config: %w", err)
	}
	tag, err := q.Exec(ctx, `UPDATE pipelines
		SET name = $2, description = $3, dagster_pipeline_config = $4, times_run = $5,
		    average_runtime = $6, run_id = $7, status = $8, updated_at = $9
		WHERE id = $1`,
		p.ID, p.Name, p.Description, config, p.TimesRun, p.AverageRuntime, p.RunID, string(p.Status), p.UpdatedAt)
	return affected("update pipeline", tag, err)
}

func UpdatePipelineStatus(ctx context.Context, q Querier, id uuid.UUID, status datatypes.PipelineStatus) error {
	tag, err := q.Exec(ctx, `UPDATE pipelines SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return affected("update pipeline status", tag, err)
}

// RecordPipelineRun marks a run as started: it stores runID, sets status
// running and increments times_run.
func RecordPipelineRun(ctx context.Context, q Querier, id uuid.UUID, runID string) error {
	tag, err := q.Exec(ctx, `UPDATE pipelines
		SET run_id = $2, status = 'running', times_run = times_run + 1, updated_at = NOW()
		WHERE id = $1`, id, runID)
	return affected("record pipeline run", tag, err)
}

func DeletePipeline(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	return affected("delete pipeline", tag, err)
}

func ListPipelines(ctx context.Context, q Querier, limit, offset int) ([]datatypes.Pipeline, error) {
	limit, offset = pageArgs(limit, offset)
	rows, err := q.Query(ctx, `SELECT `+pipelineColumns+` FROM pipelines
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list pipelines: %w", err)
	}
	return collect(rows, "list pipelines", scanPipeline)
}

// =============================================================================
// Pipeline membership
// =============================================================================

// AssignBlockToPipeline is idempotent.
func AssignBlockToPipeline(ctx context.Context, q Querier, pipelineID, blockID uuid.UUID) error {
	_, err := q.Exec(ctx, `INSERT INTO pipeline_blocks (pipeline_id, block_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, pipelineID, blockID)
	if err != nil {
		return fmt.Errorf("store: assign block to pipeline: %w", err)
	}
	return nil
}

func RemoveBlockFromPipeline(ctx context.Context, q Querier, pipelineID, blockID uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM pipeline_blocks WHERE pipeline_id = $1 AND block_id = $2`, pipelineID, blockID)
	return affected("remove block from pipeline", tag, err)
}

// ListPipelineBlocks returns the member blocks in assignment order.
func ListPipelineBlocks(ctx context.Context, q Querier, pipelineID uuid.UUID) ([]datatypes.Block, error) {
	rows, err := q.Query(ctx, `SELECT b.id, b.name, b.block_type, b.description, b.created_by,
		b.current_version_id, b.created_at, b.updated_at
		FROM pipeline_blocks pb JOIN blocks b ON b.id = pb.block_id
		WHERE pb.pipeline_id = $1 ORDER BY pb.created_at ASC`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("store: list pipeline blocks: %w", err)
	}
	return collect(rows, "list pipeline blocks", scanBlock)
}

// AssignEdgeToPipeline is idempotent.
func AssignEdgeToPipeline(ctx context.Context, q Querier, pe datatypes.PipelineEdge) error {
	_, err := q.Exec(ctx, `INSERT INTO pipeline_edges (pipeline_id, edge_id, source_block_id, target_block_id)
		VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		pe.PipelineID, pe.EdgeID, pe.SourceBlockID, pe.TargetBlockID)
	if err != nil {
		return fmt.Errorf("store: assign edge to pipeline: %w", err)
	}
	return nil
}

func RemoveEdgeFromPipeline(ctx context.Context, q Querier, pipelineID, edgeID uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM pipeline_edges WHERE pipeline_id = $1 AND edge_id = $2`, pipelineID, edgeID)
	return affected("remove edge from pipeline", tag, err)
}

func ListPipelineEdges(ctx context.Context, q Querier, pipelineID uuid.UUID) ([]datatypes.Edge, error) {
	rows, err := q.Query(ctx, `SELECT e.id, e.name, e.edge_type, e.description, e.source_block_id,
		e.target_block_id, e.current_version_id, e.created_at, e.updated_at
		FROM pipeline_edges pe JOIN edges e ON e.id = pe.edge_id
		WHERE pe.pipeline_id = $1 ORDER BY pe.created_at ASC`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("store: list pipeline edges: %w", err)
	}
	return collect(rows, "list pipeline edges", scanEdge)
}
