// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ops holds the operations a job plan can call.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ConstellationAI/constellation/pkg/gcs"
)

var (
	// ErrMissingInput is returned when a required input was not supplied.
	ErrMissingInput = errors.New("missing required input")
	// ErrBadInput is returned when an input has the wrong shape.
	ErrBadInput = errors.New("bad input")
)

// DefaultDriveURL is the Google Drive direct download endpoint.
const DefaultDriveURL = "https://drive.google.com/uc?export=download"

// Inputs are the resolved inputs of one op call, keyed by parameter name.
// Upstream outputs and literals share the map.
type Inputs map[string]any

// OpContext carries per-run settings into an op.
type OpContext struct {
	RunID   string
	Alias   string
	WorkDir string

	// ModelEndpoint is the model host base URL, e.g. http://localhost:8002.
	ModelEndpoint string
	// DriveURL overrides DefaultDriveURL.
	DriveURL   string
	HTTPClient *http.Client
	Uploader   gcs.Uploader
	Logger     *slog.Logger
}

func (oc OpContext) httpClient() *http.Client {
	if oc.HTTPClient != nil {
		return oc.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (oc OpContext) logger() *slog.Logger {
	if oc.Logger != nil {
		return oc.Logger
	}
	return slog.Default()
}

// ExecuteFunc runs an op.
type ExecuteFunc func(ctx context.Context, oc OpContext, in Inputs) (any, error)

// Input declares one parameter of an op.
type Input struct {
	Name     string
	Required bool
}

// Op is a registered operation.
type Op struct {
	Name        string
	Description string
	Inputs      []Input
	Execute     ExecuteFunc
}

// Check reports the first required input missing from in.
func (o *Op) Check(in Inputs) error {
	for _, decl := range o.Inputs {
		if !decl.Required {
			continue
		}
		if _, ok := in[decl.Name]; !ok {
			return fmt.Errorf("%w: %s needs %q", ErrMissingInput, o.Name, decl.Name)
		}
	}
	return nil
}

// Registry maps op names and aliases to ops. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	ops     map[string]*Op
	aliases map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Op), aliases: make(map[string]string)}
}

// Default returns a registry holding every built-in op.
func Default() *Registry {
	r := NewRegistry()
	for _, op := range builtins() {
		if err := r.Register(op); err != nil {
			panic(err)
		}
	}
	if err := r.Alias("export_to_s3", "export_to_gcs"); err != nil {
		panic(err)
	}
	return r
}

// Register adds op. Names must be unique.
func (r *Registry) Register(op *Op) error {
	if op == nil || op.Name == "" || op.Execute == nil {
		return fmt.Errorf("ops: op needs a name and an execute function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ops[op.Name]; dup {
		return fmt.Errorf("ops: %q already registered", op.Name)
	}
	if _, dup := r.aliases[op.Name]; dup {
		return fmt.Errorf("ops: %q is already an alias", op.Name)
	}
	r.ops[op.Name] = op
	return nil
}

// Alias makes alias resolve to the registered op target.
func (r *Registry) Alias(alias, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[target]; !ok {
		return fmt.Errorf("ops: alias %q targets unknown op %q", alias, target)
	}
	if _, taken := r.ops[alias]; taken {
		return fmt.Errorf("ops: %q is already an op", alias)
	}
	r.aliases[alias] = target
	return nil
}

// Lookup resolves name to its canonical op name.
func (r *Registry) Lookup(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.ops[name]; ok {
		return name, true
	}
	target, ok := r.aliases[name]
	return target, ok
}

// Get returns the op registered as name or one of its aliases.
func (r *Registry) Get(name string) (*Op, bool) {
	canonical, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[canonical]
	return op, ok
}

// Names lists the canonical op names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ops))
	for name := range r.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func builtins() []*Op {
	return []*Op{
		{
			Name:        "mock_csv_data",
			Description: "Produce a 3x3 sample table.",
			Execute:     mockCSVData,
		},
		{
			Name:        "write_csv",
			Description: "Write a table to output.csv in the run directory.",
			Inputs:      []Input{{Name: "result", Required: true}},
			Execute:     writeCSV,
		},
		{
			Name:        "math_block",
			Description: "Apply add, sub, mul or truediv with a constant to every cell.",
			Inputs: []Input{
				{Name: "data", Required: true},
				{Name: "operand", Required: true},
				{Name: "constant", Required: true},
			},
			Execute: mathBlock,
		},
		{
			Name:        "import_from_google_drive",
			Description: "Download a zip from Google Drive and return its files.",
			Inputs:      []Input{{Name: "file_id", Required: true}},
			Execute:     importFromGoogleDrive,
		},
		{
			Name:        "dict_to_list",
			Description: "Return the values of a map ordered by key.",
			Inputs:      []Input{{Name: "data", Required: true}},
			Execute:     dictToList,
		},
		{
			Name:        "deploy_model",
			Description: "Ask the model host to deploy a model.",
			Inputs:      []Input{{Name: "model", Required: true}},
			Execute:     deployModel,
		},
		{
			Name:        "delete_model",
			Description: "Ask the model host to delete a model service.",
			Inputs:      []Input{{Name: "model"}, {Name: "service_name"}},
			Execute:     deleteModel,
		},
		{
			Name:        "model_inference",
			Description: "Send every item to a deployed model and collect the results.",
			Inputs:      []Input{{Name: "model", Required: true}, {Name: "data", Required: true}},
			Execute:     modelInference,
		},
		{
			Name:        "export_to_gcs",
			Description: "Upload inference results as JSON.",
			Inputs:      []Input{{Name: "inference_results", Required: true}},
			Execute:     exportToGCS,
		},
	}
}
