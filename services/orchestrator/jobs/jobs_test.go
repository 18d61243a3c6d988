// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ConstellationAI/constellation/pkg/storage/badger"
	"github.com/ConstellationAI/constellation/services/orchestrator/engine"
	"github.com/ConstellationAI/constellation/services/orchestrator/instructions"
	"github.com/ConstellationAI/constellation/services/orchestrator/ops"
	"github.com/ConstellationAI/constellation/services/orchestrator/runs"
)

type fakeNotifier struct {
	mu   sync.Mutex
	runs []runs.Run
}

func (f *fakeNotifier) Notify(_ context.Context, r runs.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func newManager(t *testing.T, n Notifier) *Manager {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	e := engine.New(ops.Default(), engine.Config{WorkDir: t.TempDir()}, nil)
	return NewManager(e, runs.NewStore(db, 0), runs.NewBroker(), n, 0)
}

var mathChain = map[string]any{
	"operation": "write_csv",
	"parameters": map[string]any{"result": map[string]any{
		"operation": "math_block",
		"parameters": map[string]any{
			"data":     map[string]any{"operation": "mock_csv_data"},
			"operand":  "truediv",
			"constant": 2.0,
		},
	}},
}

func TestSubmit_Succeeds(t *testing.T) {
	n := &fakeNotifier{}
	m := newManager(t, n)
	ctx := context.Background()

	rec, err := m.Submit(ctx, instructions.Envelope([]any{mathChain}), "")
	require.NoError(t, err)
	assert.Equal(t, runs.StatusQueued, rec.Status)
	assert.Contains(t, rec.RunConfig["ops"], "math_block (2)")
	m.Wait()

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusSucceeded, got.Status)
	assert.Contains(t, got.Summary["write_csv (1)"], "output.csv")
	assert.Equal(t, engine.EventRunStarted, got.Events[0].Kind)
	assert.Equal(t, engine.EventRunSucceeded, got.Events[len(got.Events)-1].Kind)

	require.Len(t, n.runs, 1)
	assert.Equal(t, rec.ID, n.runs[0].ID)
	assert.Equal(t, runs.StatusSucceeded, n.runs[0].Status)
}

func TestSubmit_FailureIsRecorded(t *testing.T) {
	n := &fakeNotifier{}
	m := newManager(t, n)
	failing := map[string]any{"operation": "math_block", "parameters": map[string]any{
		"data":     map[string]any{"operation": "mock_csv_data"},
		"operand":  "truediv",
		"constant": 0.0,
	}}

	rec, err := m.Submit(context.Background(), failing, "http://api.local")
	require.NoError(t, err)
	m.Wait()

	got, err := m.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "division by zero")
	require.Len(t, n.runs, 1)
	assert.Equal(t, "http://api.local", n.runs[0].CallbackURL)
}

func TestSubmit_Rejected(t *testing.T) {
	m := newManager(t, nil)

	for _, payload := range []any{
		map[string]any{"operation": "launch_rocket"},
		map[string]any{"parameters": map[string]any{}},
		[]any{},
		"deploy resnet",
	} {
		_, err := m.Submit(context.Background(), payload, "")
		assert.ErrorIs(t, err, ErrRejected)
		assert.True(t, IsRejected(err))
	}

	all, err := m.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExecute_Synchronous(t *testing.T) {
	m := newManager(t, nil)

	res, err := m.Execute(context.Background(), mathChain, nil)

	require.NoError(t, err)
	assert.Contains(t, res.Outputs, "mock_csv_data (3)")
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	m := newManager(t, nil)
	gate := &ops.Op{Name: "gate", Execute: func(context.Context, ops.OpContext, ops.Inputs) (any, error) {
		return "ok", nil
	}}
	require.NoError(t, m.engine.Registry().Register(gate))

	// Drive the engine directly so the run id is known before it starts.
	p, err := m.engine.Compile(map[string]any{"operation": "gate"})
	require.NoError(t, err)
	ch, cancel := m.Subscribe("run-x")
	defer cancel()
	go func() {
		_, _ = m.engine.Run(context.Background(), "run-x", p, m.broker.Publish)
	}()

	var kinds []engine.EventKind
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				assert.Equal(t, engine.EventRunSucceeded, kinds[len(kinds)-1])
				return
			}
			kinds = append(kinds, e.Kind)
		case <-timeout:
			t.Fatal("no terminal event")
		}
	}
}

func TestShutdown_NoRuns(t *testing.T) {
	m := newManager(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Shutdown(ctx))
}

func TestHTTPNotifier(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody StatusUpdate
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	start := time.Now()
	end := start.Add(1500 * time.Millisecond)
	n := NewHTTPNotifier(srv.URL+"/", "svc-token")

	err := n.Notify(context.Background(), runs.Run{ID: "r-1", Status: runs.StatusSucceeded, StartedAt: &start, FinishedAt: &end})

	require.NoError(t, err)
	assert.Equal(t, "/v1/pipelines/runs/r-1/status", gotPath)
	assert.Equal(t, "Bearer svc-token", gotAuth)
	assert.Equal(t, StatusUpdate{Status: "succeeded", RuntimeSeconds: 1.5}, gotBody)
}

func TestHTTPNotifier_SkipsWithoutTarget(t *testing.T) {
	n := NewHTTPNotifier("", "")
	assert.NoError(t, n.Notify(context.Background(), runs.Run{ID: "r"}))
}

func TestHTTPNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "pipeline not found", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewHTTPNotifier(srv.URL, "").Notify(context.Background(), runs.Run{ID: "r"})

	assert.ErrorContains(t, err, "status 404")
}

func TestHTTPNotifier_ForeignCallbackGetsNothing(t *testing.T) {
	var hits int
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Empty(t, r.Header.Get("Authorization"))
	}))
	defer foreign.Close()

	n := NewHTTPNotifier("http://api.internal:8081", "api-service-secret")
	err := n.Notify(context.Background(), runs.Run{ID: "r-1", Status: runs.StatusSucceeded, CallbackURL: foreign.URL})

	assert.ErrorIs(t, err, ErrCallbackOrigin)
	assert.Zero(t, hits)
}

func TestHTTPNotifier_Target(t *testing.T) {
	n := NewHTTPNotifier("http://api.internal:8081/", "tok", "https://api.example.com")

	tests := []struct {
		name     string
		callback string
		want     string
		wantErr  bool
	}{
		{"no callback uses base", "", "http://api.internal:8081/", false},
		{"same origin as base", "http://API.internal:8081/prefix", "http://API.internal:8081/prefix", false},
		{"allowlisted origin", "https://api.example.com", "https://api.example.com", false},
		{"other port", "http://api.internal:9999", "", true},
		{"other host", "http://attacker.example", "", true},
		{"not http", "file:///etc/passwd", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Target(runs.Run{CallbackURL: tt.callback})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCallbackOrigin)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmit_RejectsUntrustedCallback(t *testing.T) {
	m := newManager(t, NewHTTPNotifier("http://api.internal:8081", "tok"))

	_, err := m.Submit(context.Background(), mathChain, "http://attacker.example")

	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, ErrCallbackOrigin)
	list, err := m.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubmit_WaitsForFreeSlot(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	require.NoError(t, m.slots.Acquire(ctx, DefaultMaxRuns))

	rec, err := m.Submit(ctx, mathChain, "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusQueued, got.Status, "no slot, no start")

	m.slots.Release(DefaultMaxRuns)
	m.Wait()
	got, err = m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusSucceeded, got.Status)
}

func TestShutdown_FailsQueuedRuns(t *testing.T) {
	n := &fakeNotifier{}
	m := newManager(t, n)
	ctx := context.Background()
	require.NoError(t, m.slots.Acquire(ctx, DefaultMaxRuns))
	defer m.slots.Release(DefaultMaxRuns)

	rec, err := m.Submit(ctx, mathChain, "")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "run not started")
	require.Len(t, n.runs, 1)
}

func TestHTTPNotifier_AllowedCallbackGetsToken(t *testing.T) {
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
	}))
	defer srv.Close()

	n := NewHTTPNotifier("http://api.internal:8081", "svc-token", srv.URL)
	err := n.Notify(context.Background(), runs.Run{ID: "r-2", Status: runs.StatusFailed, CallbackURL: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, "Bearer svc-token", auth)
	assert.Equal(t, "/v1/pipelines/runs/r-2/status", path)
}
