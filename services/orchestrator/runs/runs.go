// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runs persists orchestrator run records in BadgerDB.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ConstellationAI/constellation/pkg/storage/badger"
	"github.com/ConstellationAI/constellation/services/orchestrator/engine"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Done reports whether s is terminal.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Run is the stored record of one execution.
type Run struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	RunConfig   map[string]any    `json:"run_config"`
	Events      []engine.Event    `json:"events"`
	Summary     map[string]string `json:"summary,omitempty"`
	Error       string            `json:"error,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
}

// Store reads and writes runs.
//
// # Thread Safety
//
// Writes are serialized so concurrent event appends for the same run do not
// conflict in Badger.
type Store struct {
	mu   sync.Mutex
	runs *badger.Collection[Run]
}

// NewStore binds the "runs" prefix of db. ttl expires finished records; zero
// keeps them forever.
func NewStore(db *badger.DB, ttl time.Duration) *Store {
	return &Store{runs: badger.NewCollection[Run](db, "runs").WithTTL(ttl)}
}

// Create stores a new queued run.
func (s *Store) Create(ctx context.Context, id string, runConfig map[string]any, callbackURL string) (Run, error) {
	r := Run{
		ID:          id,
		Status:      StatusQueued,
		RunConfig:   runConfig,
		CallbackURL: callbackURL,
		CreatedAt:   time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.runs.Put(ctx, id, r); err != nil {
		return Run{}, fmt.Errorf("create run %s: %w", id, err)
	}
	return r, nil
}

// Get returns the run or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	r, err := s.runs.Get(ctx, id)
	if errors.Is(err, badger.ErrNotFound) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// List returns runs newest first. A positive limit caps the result.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	all, err := s.runs.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Start marks the run running.
func (s *Store) Start(ctx context.Context, id string) error {
	return s.update(ctx, id, func(r *Run) {
		now := time.Now().UTC()
		r.Status = StatusRunning
		r.StartedAt = &now
	})
}

// AppendEvent records e on its run.
func (s *Store) AppendEvent(ctx context.Context, e engine.Event) error {
	return s.update(ctx, e.RunID, func(r *Run) {
		r.Events = append(r.Events, e)
	})
}

// Finish records the outcome. A nil runErr marks success.
func (s *Store) Finish(ctx context.Context, id string, summary map[string]string, runErr error) (Run, error) {
	var out Run
	err := s.update(ctx, id, func(r *Run) {
		now := time.Now().UTC()
		r.FinishedAt = &now
		r.Summary = summary
		if runErr != nil {
			r.Status = StatusFailed
			r.Error = runErr.Error()
		} else {
			r.Status = StatusSucceeded
		}
		out = *r
	})
	return out, err
}

func (s *Store) update(ctx context.Context, id string, fn func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.runs.Update(ctx, id, func(cur Run, exists bool) (Run, error) {
		if !exists {
			return cur, ErrNotFound
		}
		fn(&cur)
		return cur, nil
	})
	return err
}
