// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs accepts instruction payloads, records them as runs and
// executes them in the background.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"golang.org/x/sync/semaphore"

	"github.com/ConstellationAI/constellation/services/orchestrator/engine"
	"github.com/ConstellationAI/constellation/services/orchestrator/instructions"
	"github.com/ConstellationAI/constellation/services/orchestrator/plan"
	"github.com/ConstellationAI/constellation/services/orchestrator/runs"
)

// ErrRejected wraps every validation failure of a submitted payload.
var ErrRejected = errors.New("instructions rejected")

// DefaultMaxRuns caps concurrently executing runs when NewManager gets 0.
const DefaultMaxRuns = 4

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, run runs.Run) error
}

// callbackChecker is implemented by notifiers that can vet a run's callback
// URL before the run is accepted.
type callbackChecker interface {
	Target(run runs.Run) (string, error)
}

// Manager owns background execution.
//
// # Thread Safety
//
// Safe for concurrent use. At most maxRuns runs execute at once; the rest
// stay queued until a slot frees. Shutdown waits for in-flight runs.
type Manager struct {
	engine   *engine.Engine
	store    *runs.Store
	broker   *runs.Broker
	notifier Notifier
	slots    *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager wires a Manager. notifier may be nil. maxRuns <= 0 means
// DefaultMaxRuns.
func NewManager(e *engine.Engine, store *runs.Store, broker *runs.Broker, notifier Notifier, maxRuns int) *Manager {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		engine:   e,
		store:    store,
		broker:   broker,
		notifier: notifier,
		slots:    semaphore.NewWeighted(int64(maxRuns)),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Submit validates payload, stores a queued run and starts it.
//
// # Description
//
// Validation is synchronous: an unparsable payload or an unknown operation
// returns an error wrapping ErrRejected and nothing is stored. The run
// itself happens on a background goroutine that outlives ctx.
//
// # Inputs
//
//   - ctx: Bounds validation and the initial write only.
//   - payload: Envelope, bare instruction or list.
//   - callbackURL: Overrides the notifier target for this run. May be "".
//     A URL the notifier does not trust is rejected.
//
// # Outputs
//
//   - runs.Run: The queued record.
//   - error: ErrRejected or a storage failure.
func (m *Manager) Submit(ctx context.Context, payload any, callbackURL string) (runs.Run, error) {
	p, err := m.engine.Compile(payload)
	if err != nil {
		return runs.Run{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if checker, ok := m.notifier.(callbackChecker); ok && callbackURL != "" {
		if _, err := checker.Target(runs.Run{CallbackURL: callbackURL}); err != nil {
			return runs.Run{}, fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}

	id := uuid.NewString()
	rec, err := m.store.Create(ctx, id, p.RunConfig(), callbackURL)
	if err != nil {
		return runs.Run{}, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(id, p)
	}()
	slog.Info("run submitted", "run_id", id, "ops", len(p.Nodes))
	return rec, nil
}

func (m *Manager) execute(id string, p *plan.Plan) {
	ctx := m.baseCtx
	logger := slog.With("run_id", id)

	var summary map[string]string
	runErr := m.slots.Acquire(ctx, 1)
	if runErr != nil {
		runErr = fmt.Errorf("run not started: %w", runErr)
	} else {
		defer m.slots.Release(1)
		var res *engine.Result
		res, runErr = m.run(ctx, logger, id, p)
		if res != nil {
			summary = res.Summary
		}
	}

	// Fresh context: a cancelled run still records its outcome.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := m.store.Finish(finishCtx, id, summary, runErr)
	if err != nil {
		logger.Error("failed to record run outcome", "error", err)
		return
	}
	if runErr != nil {
		logger.Warn("run failed", "error", runErr)
	} else {
		logger.Info("run succeeded")
	}

	if m.notifier != nil {
		if err := m.notifier.Notify(finishCtx, rec); err != nil {
			logger.Warn("run callback failed", "error", err)
		}
	}
}

func (m *Manager) run(ctx context.Context, logger *slog.Logger, id string, p *plan.Plan) (*engine.Result, error) {
	if err := m.store.Start(ctx, id); err != nil {
		logger.Error("failed to mark run started", "error", err)
	}
	emit := func(e engine.Event) {
		if err := m.store.AppendEvent(ctx, e); err != nil {
			logger.Warn("failed to record event", "kind", e.Kind, "error", err)
		}
		m.broker.Publish(e)
	}
	return m.engine.Run(ctx, id, p, emit)
}

// Execute compiles and runs payload synchronously without recording it.
func (m *Manager) Execute(ctx context.Context, payload any, emit engine.EmitFunc) (*engine.Result, error) {
	p, err := m.engine.Compile(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return m.engine.Run(ctx, uuid.NewString(), p, emit)
}

// Get returns a run record.
func (m *Manager) Get(ctx context.Context, id string) (runs.Run, error) {
	return m.store.Get(ctx, id)
}

// List returns recent runs, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]runs.Run, error) {
	return m.store.List(ctx, limit)
}

// Subscribe streams live events of a run.
func (m *Manager) Subscribe(id string) (<-chan engine.Event, func()) {
	return m.broker.Subscribe(id)
}

// Shutdown cancels in-flight runs and waits for them to record their outcome,
// or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted run has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// IsRejected reports whether err came from payload validation.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected) ||
		errors.Is(err, instructions.ErrInvalid) ||
		errors.Is(err, instructions.ErrMissingOperation) ||
		errors.Is(err, instructions.ErrUnknownOperation)
}
