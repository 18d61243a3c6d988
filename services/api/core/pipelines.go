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
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/pkg/graph"
	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/store"
	"github.com/ConstellationAI/constellation/services/api/vectors"
)

// instructionsKey holds a pipeline's raw instructions inside its config.
const instructionsKey = "instructions"

// Runner submits instructions to the workflow engine and returns its run id.
type Runner interface {
	Execute(ctx context.Context, instructions any) (string, error)
}

type PipelineManager struct {
	db     *store.Store
	runner Runner
	index  vectors.Index
	auditor
}

func NewPipelineManager(db *store.Store, runner Runner, metrics *observability.Metrics) *PipelineManager {
	return &PipelineManager{db: db, runner: runner, auditor: auditor{metrics: metrics}}
}

// WithIndex sets the vector index cleaned up by DeleteWithDependencies.
func (m *PipelineManager) WithIndex(index vectors.Index) *PipelineManager {
	m.index = index
	return m
}

func (m *PipelineManager) Create(ctx context.Context, userID string, req *datatypes.PipelineCreateRequest) (*datatypes.Pipeline, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	p := &datatypes.Pipeline{Name: req.Name, Description: req.Description, Config: req.Config, CreatedBy: userID}
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if err := store.CreatePipeline(ctx, q, p); err != nil {
			return err
		}
		return m.write(ctx, q, userID, datatypes.ActionCreate, datatypes.EntityPipeline, p.ID.String(),
			map[string]any{"pipeline_name": p.Name})
	})
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

// Get returns the pipeline with its member blocks and edges.
func (m *PipelineManager) Get(ctx context.Context, userID string, id uuid.UUID) (*datatypes.PipelineDetail, error) {
	var out *datatypes.PipelineDetail
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		d, err := loadPipelineDetail(ctx, q, id)
		if err != nil {
			return err
		}
		out = d
		return m.write(ctx, q, userID, datatypes.ActionRead, datatypes.EntityPipeline, id.String(), nil)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func loadPipelineDetail(ctx context.Context, q store.Querier, id uuid.UUID) (*datatypes.PipelineDetail, error) {
	p, err := store.GetPipeline(ctx, q, id)
	if err != nil {
		return nil, missing(err, "pipeline", id)
	}
	blocks, err := store.ListPipelineBlocks(ctx, q, id)
	if err != nil {
		return nil, err
	}
	edges, err := store.ListPipelineEdges(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &datatypes.PipelineDetail{Pipeline: *p, Blocks: blocks, Edges: edges}, nil
}

func (m *PipelineManager) Update(ctx context.Context, userID string, id uuid.UUID, req *datatypes.PipelineUpdateRequest) (*datatypes.Pipeline, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	var out *datatypes.Pipeline
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		p, err := store.GetPipeline(ctx, q, id)
		if err != nil {
			return missing(err, "pipeline", id)
		}
		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.Description != nil {
			p.Description = *req.Description
		}
		if req.Config != nil {
			p.Config = req.Config
		}
		if req.Status != nil {
			status, err := datatypes.ParsePipelineStatus(*req.Status)
			if err != nil {
				return err
			}
			p.Status = status
		}
		if err := store.UpdatePipeline(ctx, q, p); err != nil {
			return err
		}
		out = p
		return m.write(ctx, q, userID, datatypes.ActionUpdate, datatypes.EntityPipeline, id.String(), nil)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (m *PipelineManager) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if err := store.DeletePipeline(ctx, q, id); err != nil {
			return missing(err, "pipeline", id)
		}
		return m.write(ctx, q, userID, datatypes.ActionDelete, datatypes.EntityPipeline, id.String(), nil)
	})
	return translate(err)
}

func (m *PipelineManager) List(ctx context.Context, limit, offset int) ([]datatypes.Pipeline, error) {
	ps, err := store.ListPipelines(ctx, m.db.Q(), limit, offset)
	return ps, translate(err)
}

// =============================================================================
// Pipelines with dependencies
// =============================================================================

// CreateWithDependencies creates a pipeline together with its blocks and
// edges.
//
// # Description
//
// Blocks are looked up by name and created when missing. Edges connect blocks
// of the same request by name and obey the CanConnect rules. Everything,
// audit row included, is written in one transaction.
func (m *PipelineManager) CreateWithDependencies(ctx context.Context, userID string, req *datatypes.PipelineWithDependenciesRequest) (*datatypes.PipelineDetail, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}

	var out *datatypes.PipelineDetail
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		p := &datatypes.Pipeline{Name: req.Name, Description: req.Description, CreatedBy: userID}
		if err := store.CreatePipeline(ctx, q, p); err != nil {
			return err
		}
		detail := &datatypes.PipelineDetail{Pipeline: *p, Blocks: []datatypes.Block{}, Edges: []datatypes.Edge{}}

		byName := make(map[string]uuid.UUID, len(req.Blocks))
		blockNames := make([]string, 0, len(req.Blocks))
		for _, spec := range req.Blocks {
			block, err := store.GetBlockByName(ctx, q, spec.Name)
			if isMissing(err) {
				created, cerr := insertBlock(ctx, q, userID, blockSpec{
					name:        spec.Name,
					blockType:   spec.BlockType,
					description: spec.Description,
					taxonomy:    spec.Taxonomy,
					metadata:    spec.Metadata,
				})
				if cerr != nil {
					return cerr
				}
				block, err = &created.Block, nil
			}
			if err != nil {
				return err
			}
			if err := store.AssignBlockToPipeline(ctx, q, p.ID, block.ID); err != nil {
				return err
			}
			byName[spec.Name] = block.ID
			blockNames = append(blockNames, spec.Name)
			detail.Blocks = append(detail.Blocks, *block)
		}

		edgeNames := make([]string, 0, len(req.Edges))
		for _, spec := range req.Edges {
			edge, err := createEdge(ctx, q, userID, edgeParams{
				name:        spec.Name,
				edgeType:    spec.EdgeType,
				description: spec.Description,
				source:      byName[spec.Source],
				target:      byName[spec.Target],
			})
			if err != nil {
				return fmt.Errorf("edge %q: %w", spec.Name, err)
			}
			if err := store.AssignEdgeToPipeline(ctx, q, datatypes.PipelineEdge{
				PipelineID:    p.ID,
				EdgeID:        edge.ID,
				SourceBlockID: edge.SourceBlockID,
				TargetBlockID: edge.TargetBlockID,
			}); err != nil {
				return err
			}
			edgeNames = append(edgeNames, spec.Name)
			detail.Edges = append(detail.Edges, *edge)
		}

		out = detail
		return m.write(ctx, q, userID, datatypes.ActionCreate, datatypes.EntityPipeline, p.ID.String(), map[string]any{
			"pipeline_name": p.Name,
			"blocks":        blockNames,
			"edges":         edgeNames,
		})
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// DeleteWithDependencies deletes the pipeline's edges, then its blocks with
// their vector records, then the pipeline itself. Index entries of the
// removed blocks are dropped after commit on a best-effort basis.
func (m *PipelineManager) DeleteWithDependencies(ctx context.Context, userID string, id uuid.UUID) error {
	var removed []uuid.UUID
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		detail, err := loadPipelineDetail(ctx, q, id)
		if err != nil {
			return err
		}
		removed = removed[:0]
		for _, e := range detail.Edges {
			if err := store.RemoveEdgeFromPipeline(ctx, q, id, e.ID); err != nil && !isMissing(err) {
				return err
			}
			if err := store.DeleteEdge(ctx, q, e.ID); err != nil && !isMissing(err) {
				return err
			}
		}
		for _, b := range detail.Blocks {
			if err := store.RemoveBlockFromPipeline(ctx, q, id, b.ID); err != nil && !isMissing(err) {
				return err
			}
			if err := store.RemoveBlockCategories(ctx, q, b.ID); err != nil {
				return err
			}
			if err := store.DeleteBlockVector(ctx, q, b.ID); err != nil {
				return err
			}
			if err := store.DeleteBlock(ctx, q, b.ID); err != nil && !isMissing(err) {
				return err
			}
			removed = append(removed, b.ID)
		}
		if err := store.DeletePipeline(ctx, q, id); err != nil {
			return missing(err, "pipeline", id)
		}
		return m.write(ctx, q, userID, datatypes.ActionDelete, datatypes.EntityPipeline, id.String(), map[string]any{
			"pipeline_name": detail.Name,
			"blocks":        len(detail.Blocks),
			"edges":         len(detail.Edges),
		})
	})
	if err != nil {
		return translate(err)
	}
	if m.index != nil {
		for _, blockID := range removed {
			if err := m.index.Delete(ctx, blockID); err != nil {
				slog.Warn("failed to remove block from vector index", "block_id", blockID, "error", err)
			}
		}
	}
	return nil
}

// =============================================================================
// Verification
// =============================================================================

// Verify checks that the pipeline's edges form an acyclic graph over its
// blocks and that every block is weakly connected to the rest. An invalid
// pipeline is not an error: the report carries the reason.
func (m *PipelineManager) Verify(ctx context.Context, userID string, id uuid.UUID) (*datatypes.VerificationReport, error) {
	var report *datatypes.VerificationReport
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		detail, err := loadPipelineDetail(ctx, q, id)
		if err != nil {
			return err
		}
		report = verifyDetail(detail)
		description := "Pipeline is valid."
		if !report.Valid {
			description = report.Reason
		}
		return m.write(ctx, q, userID, datatypes.ActionRead, datatypes.EntityPipeline, id.String(),
			map[string]any{"description": description})
	})
	if err != nil {
		return nil, translate(err)
	}
	return report, nil
}

func verifyDetail(d *datatypes.PipelineDetail) *datatypes.VerificationReport {
	report := &datatypes.VerificationReport{PipelineID: d.ID}

	nodes := make([]uuid.UUID, len(d.Blocks))
	members := make(map[uuid.UUID]bool, len(d.Blocks))
	for i, b := range d.Blocks {
		nodes[i] = b.ID
		members[b.ID] = true
	}
	if len(nodes) == 0 {
		report.Reason = "Pipeline has no blocks."
		return report
	}
	for _, e := range d.Edges {
		if !members[e.SourceBlockID] || !members[e.TargetBlockID] {
			report.Reason = fmt.Sprintf("Edge %q connects a block outside the pipeline.", e.Name)
			return report
		}
	}

	edges := toGraphEdges(d.Edges)
	if err := graph.Verify(nodes, edges); err != nil {
		switch {
		case errors.Is(err, graph.ErrCycle):
			report.Reason = "Pipeline contains a cycle."
		case errors.Is(err, graph.ErrDisconnected):
			report.Reason = "Pipeline blocks are not all connected."
		default:
			report.Reason = err.Error()
		}
		return report
	}
	order, err := graph.TopologicalOrder(nodes, edges)
	if err != nil {
		report.Reason = err.Error()
		return report
	}
	report.Valid = true
	report.Reason = "Pipeline is valid."
	report.Order = order
	return report
}

// =============================================================================
// Runs
// =============================================================================

// Run submits a stored pipeline's instructions to the orchestrator.
//
// # Description
//
// The instructions are config["instructions"] when present, else the whole
// config. On success the run id is stored, status becomes running and
// times_run is incremented. On failure the pipeline is marked failed.
func (m *PipelineManager) Run(ctx context.Context, userID string, id uuid.UUID) (*datatypes.RunResult, error) {
	p, err := store.GetPipeline(ctx, m.db.Q(), id)
	if err != nil {
		return nil, translate(missing(err, "pipeline", id))
	}
	instructions, ok := p.Config[instructionsKey]
	if !ok {
		instructions = p.Config
	}
	if isEmpty(instructions) {
		return nil, fmt.Errorf("%w: pipeline %s has no instructions", ErrInvalidInput, id)
	}

	runID, err := m.submit(ctx, instructions)
	if err != nil {
		if uerr := store.UpdatePipelineStatus(ctx, m.db.Q(), id, datatypes.PipelineFailed); uerr != nil {
			slog.Error("failed to mark pipeline failed", "pipeline_id", id, "error", uerr)
		}
		return nil, err
	}
	if err := m.recordRun(ctx, userID, id, runID); err != nil {
		return nil, err
	}
	return &datatypes.RunResult{PipelineID: id, RunID: runID, Status: datatypes.PipelineRunning}, nil
}

// RunInstructions stores raw instructions as a new pipeline and runs it. The
// pipeline is removed again when submission fails.
func (m *PipelineManager) RunInstructions(ctx context.Context, userID string, req *datatypes.PipelineRunRequest) (*datatypes.RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	name := req.Name
	if name == "" {
		name = "run-" + time.Now().UTC().Format("20060102-150405")
	}
	p, err := m.Create(ctx, userID, &datatypes.PipelineCreateRequest{
		Name:   name,
		Config: map[string]any{instructionsKey: req.Instructions},
	})
	if err != nil {
		return nil, err
	}

	runID, err := m.submit(ctx, req.Instructions)
	if err != nil {
		if derr := store.DeletePipeline(ctx, m.db.Q(), p.ID); derr != nil {
			slog.Error("failed to remove pipeline after failed run", "pipeline_id", p.ID, "error", derr)
		}
		return nil, err
	}
	if err := m.recordRun(ctx, userID, p.ID, runID); err != nil {
		return nil, err
	}
	return &datatypes.RunResult{PipelineID: p.ID, RunID: runID, Status: datatypes.PipelineRunning}, nil
}

func (m *PipelineManager) submit(ctx context.Context, instructions any) (string, error) {
	if m.runner == nil {
		return "", fmt.Errorf("%w: orchestrator is not configured", ErrUpstream)
	}
	runID, err := m.runner.Execute(ctx, instructions)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordPipelineRun("failed")
		}
		if errors.Is(err, ErrInvalidInput) {
			return "", err
		}
		return "", fmt.Errorf("%w: submit run: %v", ErrUpstream, err)
	}
	if m.metrics != nil {
		m.metrics.RecordPipelineRun("submitted")
	}
	return runID, nil
}

func (m *PipelineManager) recordRun(ctx context.Context, userID string, id uuid.UUID, runID string) error {
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if err := store.RecordPipelineRun(ctx, q, id, runID); err != nil {
			return missing(err, "pipeline", id)
		}
		return m.write(ctx, q, userID, datatypes.ActionUpdate, datatypes.EntityPipeline, id.String(),
			map[string]any{"run_id": runID, "status": string(datatypes.PipelineRunning)})
	})
	return translate(err)
}

// UpdateStatusByRunID applies an orchestrator status report. A terminal
// status folds runtime into the running average over times_run.
func (m *PipelineManager) UpdateStatusByRunID(ctx context.Context, userID, runID string, req *datatypes.RunStatusUpdateRequest) (*datatypes.Pipeline, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	status, err := datatypes.ParsePipelineStatus(req.Status)
	if err != nil {
		return nil, translate(err)
	}

	var out *datatypes.Pipeline
	err = m.db.WithTx(ctx, func(q store.Querier) error {
		p, err := store.GetPipelineByRunID(ctx, q, runID)
		if err != nil {
			return missing(err, "pipeline with run", runID)
		}
		if status.Terminal() {
			p.AverageRuntime = RunningAverage(p.AverageRuntime, req.RuntimeSeconds, p.TimesRun)
		}
		p.Status = status
		if err := store.UpdatePipeline(ctx, q, p); err != nil {
			return err
		}
		out = p
		return m.write(ctx, q, userID, datatypes.ActionUpdate, datatypes.EntityPipeline, p.ID.String(),
			map[string]any{"run_id": runID, "status": string(status), "runtime_seconds": req.RuntimeSeconds})
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// RunningAverage folds sample into avg, where n counts the runs including
// this one. n below 1 is treated as 1.
func RunningAverage(avg, sample float64, n int) float64 {
	return avg + (sample-avg)/math.Max(float64(n), 1)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
