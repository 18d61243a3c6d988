// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl expires old run working directories.
//
// Run records themselves expire through Badger's per-key TTL; this package
// removes the files ops leave behind (output.csv and friends) under the
// engine's work directory.
package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CleanupResult describes one sweep.
type CleanupResult struct {
	StartTime time.Time
	EndTime   time.Time
	Found     int
	Deleted   int
	Errors    []error
}

// DurationMs is the sweep duration in milliseconds.
func (r CleanupResult) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Sweeper deletes run directories older than MaxAge.
type Sweeper struct {
	Root   string
	MaxAge time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Sweep removes every direct subdirectory of Root whose modification time
// is older than MaxAge. A missing Root is not an error.
func (s *Sweeper) Sweep(ctx context.Context) (CleanupResult, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	result := CleanupResult{StartTime: now()}

	entries, err := os.ReadDir(s.Root)
	if os.IsNotExist(err) {
		result.EndTime = now()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("read %s: %w", s.Root, err)
	}

	cutoff := result.StartTime.Add(-s.MaxAge)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		result.Found++
		if err := os.RemoveAll(filepath.Join(s.Root, entry.Name())); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Deleted++
	}
	result.EndTime = now()
	return result, nil
}

// Scheduler runs a Sweeper on an interval.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
	running bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(sweeper *Sweeper, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{sweeper: sweeper, interval: interval}
}

// Start sweeps once immediately and then every interval until Stop or ctx
// ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	slog.Info("run directory cleanup starting", "root", s.sweeper.Root, "interval", s.interval.String(), "max_age", s.sweeper.MaxAge.String())
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop halts the loop and waits for it to exit. Stopping a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.running = false
	stopped := s.stopped
	s.mu.Unlock()
	<-stopped
}

// RunNow performs one sweep synchronously.
func (s *Scheduler) RunNow(ctx context.Context) (CleanupResult, error) {
	return s.sweeper.Sweep(ctx)
}

func (s *Scheduler) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.executeCleanup(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.executeCleanup(ctx)
		}
	}
}

func (s *Scheduler) executeCleanup(ctx context.Context) {
	result, err := s.sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("run directory cleanup failed", "error", err)
		return
	}
	if result.Found > 0 {
		slog.Info("run directory cleanup completed",
			"found", result.Found,
			"deleted", result.Deleted,
			"errors", len(result.Errors),
			"duration_ms", result.DurationMs(),
		)
	}
}
