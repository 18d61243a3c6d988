// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine executes job plans.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/ConstellationAI/constellation/pkg/gcs"
	"github.com/ConstellationAI/constellation/pkg/graph"
	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/services/orchestrator/ops"
	"github.com/ConstellationAI/constellation/services/orchestrator/plan"
)

var tracer = otel.Tracer("constellation.orchestrator.engine")

// ErrUnknownOp is returned when a plan names an op the registry lacks.
var ErrUnknownOp = errors.New("op is not registered")

const (
	DefaultOpTimeout  = 5 * time.Minute
	DefaultRunTimeout = 30 * time.Minute
)

// EventKind names a run lifecycle event.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventOpStarted    EventKind = "op_started"
	EventOpSucceeded  EventKind = "op_succeeded"
	EventOpFailed     EventKind = "op_failed"
	EventRunSucceeded EventKind = "run_succeeded"
	EventRunFailed    EventKind = "run_failed"
)

// Event is emitted as a run progresses.
type Event struct {
	RunID      string    `json:"run_id"`
	Kind       EventKind `json:"kind"`
	Alias      string    `json:"alias,omitempty"`
	Op         string    `json:"op,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	At         time.Time `json:"at"`
}

// Terminal reports whether no event follows e.
func (e Event) Terminal() bool {
	return e.Kind == EventRunSucceeded || e.Kind == EventRunFailed
}

// EmitFunc receives events. It is called from op goroutines and must be safe
// for concurrent use.
type EmitFunc func(Event)

// Config tunes an Engine. Zero values take defaults.
type Config struct {
	OpTimeout  time.Duration
	RunTimeout time.Duration
	// MaxParallel caps the ops running at once within a level. Zero means
	// no cap.
	MaxParallel int
	// WorkDir is the parent of the per-run working directories.
	WorkDir       string
	ModelEndpoint string
	DriveURL      string
	HTTPClient    *http.Client
	Uploader      gcs.Uploader
}

// Engine runs plans against an op registry.
type Engine struct {
	reg     *ops.Registry
	cfg     Config
	metrics *observability.Metrics
}

// New creates an Engine. metrics may be nil.
func New(reg *ops.Registry, cfg Config, metrics *observability.Metrics) *Engine {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "runs"
	}
	return &Engine{reg: reg, cfg: cfg, metrics: metrics}
}

// Registry returns the registry plans are resolved against.
func (e *Engine) Registry() *ops.Registry { return e.reg }

// Result is the outcome of a successful run.
type Result struct {
	RunID string
	// Outputs holds every op's output keyed by alias.
	Outputs map[string]any
	// Summary holds a short printable rendering of each output.
	Summary map[string]string
}

// Run executes p.
//
// # Description
//
// Roots run one after another in plan order. Within a root, ops are grouped
// into Kahn levels and the ops of a level run concurrently. The first
// failing op cancels its level and the run stops; later levels and roots do
// not start. Each op's output is handed to its consumers under the
// parameter name that referenced it.
//
// # Inputs
//
//   - ctx: Cancels the whole run. The run is also bounded by RunTimeout.
//   - runID: Used in events, the working directory and export paths.
//   - p: The plan.
//   - emit: Receives events. May be nil.
//
// # Outputs
//
//   - *Result: All outputs, on success.
//   - error: The first op failure, a timeout, or a plan defect.
func (e *Engine) Run(ctx context.Context, runID string, p *plan.Plan, emit EmitFunc) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "Engine.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID), attribute.Int("run.ops", len(p.Nodes)))

	emit(Event{RunID: runID, Kind: EventRunStarted, At: time.Now()})
	started := time.Now()

	r := &run{
		engine:  e,
		id:      runID,
		plan:    p,
		emit:    emit,
		workDir: filepath.Join(e.cfg.WorkDir, runID),
		outputs: make(map[string]any, len(p.Nodes)),
	}

	err := r.execute(ctx)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		emit(Event{RunID: runID, Kind: EventRunFailed, Error: err.Error(), DurationMs: elapsed, At: time.Now()})
		return nil, err
	}
	emit(Event{RunID: runID, Kind: EventRunSucceeded, DurationMs: elapsed, At: time.Now()})

	res := &Result{RunID: runID, Outputs: r.outputs, Summary: make(map[string]string, len(r.outputs))}
	for alias, out := range r.outputs {
		res.Summary[alias] = Summarize(out)
	}
	return res, nil
}

type run struct {
	engine  *Engine
	id      string
	plan    *plan.Plan
	emit    EmitFunc
	workDir string

	mu      sync.Mutex
	outputs map[string]any
}

func (r *run) execute(ctx context.Context) error {
	for _, root := range r.plan.Roots {
		nodes, edges := r.plan.Stage(root)
		levels, err := graph.Levels(nodes, edges)
		if err != nil {
			return fmt.Errorf("stage %s: %w", root, err)
		}
		for _, level := range levels {
			if err := r.runLevel(ctx, level); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) runLevel(ctx context.Context, level []string) error {
	g, gctx := errgroup.WithContext(ctx)
	if r.engine.cfg.MaxParallel > 0 {
		g.SetLimit(r.engine.cfg.MaxParallel)
	}
	for _, alias := range level {
		g.Go(func() error {
			return r.runNode(gctx, alias)
		})
	}
	return g.Wait()
}

func (r *run) runNode(ctx context.Context, alias string) error {
	node := r.plan.Node(alias)
	if node == nil {
		return fmt.Errorf("%w: no node %q", ErrUnknownOp, alias)
	}
	op, ok := r.engine.reg.Get(node.Op)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOp, node.Op)
	}

	in := r.inputs(node)
	if err := op.Check(in); err != nil {
		r.emit(Event{RunID: r.id, Kind: EventOpFailed, Alias: alias, Op: op.Name, Error: err.Error(), At: time.Now()})
		return fmt.Errorf("%s: %w", alias, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.engine.cfg.OpTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "op "+op.Name)
	defer span.End()
	span.SetAttributes(attribute.String("op.alias", alias), attribute.String("run.id", r.id))

	logger := slog.With("run_id", r.id, "alias", alias)
	oc := ops.OpContext{
		RunID:         r.id,
		Alias:         alias,
		WorkDir:       r.workDir,
		ModelEndpoint: r.engine.cfg.ModelEndpoint,
		DriveURL:      r.engine.cfg.DriveURL,
		HTTPClient:    r.engine.cfg.HTTPClient,
		Uploader:      r.engine.cfg.Uploader,
		Logger:        logger,
	}

	r.emit(Event{RunID: r.id, Kind: EventOpStarted, Alias: alias, Op: op.Name, At: time.Now()})
	start := time.Now()
	out, err := op.Execute(ctx, oc, in)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	elapsed := time.Since(start)
	if r.engine.metrics != nil {
		r.engine.metrics.RecordOp(op.Name, err == nil, elapsed)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("op failed", "op", op.Name, "error", err)
		r.emit(Event{RunID: r.id, Kind: EventOpFailed, Alias: alias, Op: op.Name, Error: err.Error(), DurationMs: elapsed.Milliseconds(), At: time.Now()})
		return fmt.Errorf("%s: %w", alias, err)
	}

	r.mu.Lock()
	r.outputs[alias] = out
	r.mu.Unlock()
	logger.Debug("op succeeded", "op", op.Name, "duration_ms", elapsed.Milliseconds())
	r.emit(Event{RunID: r.id, Kind: EventOpSucceeded, Alias: alias, Op: op.Name, DurationMs: elapsed.Milliseconds(), At: time.Now()})
	return nil
}

// inputs merges a node's literals with its upstream outputs. Upstream ops
// always sit in an earlier level, so their outputs are present.
func (r *run) inputs(node *plan.Node) ops.Inputs {
	in := make(ops.Inputs, len(node.Inputs)+len(node.Deps)+len(node.ListDeps))
	for k, v := range node.Inputs {
		in[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, up := range node.Deps {
		in[name] = r.outputs[up]
	}
	for name, ups := range node.ListDeps {
		list := make([]any, 0, len(ups))
		for _, up := range ups {
			list = append(list, r.outputs[up])
		}
		in[name] = list
	}
	return in
}
