// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ConstellationAI/constellation/pkg/gcs"
	"github.com/ConstellationAI/constellation/services/agent"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/llm"
	"github.com/ConstellationAI/constellation/services/orchestrator/client"
	"github.com/ConstellationAI/constellation/services/orchestrator/engine"
	"github.com/ConstellationAI/constellation/services/orchestrator/ops"
	"github.com/ConstellationAI/constellation/services/orchestrator/runs"
)

// Swapped in tests.
var newLLM = func() (llm.LLMClient, error) { return llm.NewOpenAIClient(openAIConfig()) }

// =============================================================================
// Local runs
// =============================================================================

func runLocal(cmd *cobra.Command, args []string) error {
	var payload any
	if err := readJSON(args[0], &payload); err != nil {
		return err
	}

	eng := engine.New(ops.Default(), engine.Config{
		WorkDir:       cfg.Runs.WorkDir,
		ModelEndpoint: cfg.Runs.ModelEndpoint,
		Uploader:      &gcs.DirUploader{Root: cfg.Runs.ExportDir},
	}, nil)
	p, err := eng.Compile(payload)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	printer.Title("Run " + runID)
	res, err := eng.Run(cmd.Context(), runID, p, printEvent)
	if err != nil {
		return err
	}
	printer.Fields(res.Summary)
	return nil
}

// printEvent reports op progress. It runs on op goroutines, and Printer
// writes are single Write calls.
func printEvent(e engine.Event) {
	switch e.Kind {
	case engine.EventOpStarted:
		printer.Info(fmt.Sprintf("%s (%s) started", e.Alias, e.Op))
	case engine.EventOpSucceeded:
		printer.Success(fmt.Sprintf("%s finished in %dms", e.Alias, e.DurationMs))
	case engine.EventOpFailed:
		printer.Error(fmt.Sprintf("%s failed: %s", e.Alias, e.Error))
	case engine.EventRunSucceeded:
		printer.Success(fmt.Sprintf("run finished in %dms", e.DurationMs))
	}
}

func runOps(*cobra.Command, []string) error {
	reg := ops.Default()
	for _, name := range reg.Names() {
		op, _ := reg.Get(name)
		printer.Info(fmt.Sprintf("%-26s %s", name, op.Description))
	}
	return nil
}

// =============================================================================
// Orchestrator
// =============================================================================

func orchestratorClient() *client.Client {
	return client.New(cfg.Orchestrator.URL, client.WithToken(cfg.Orchestrator.Token))
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var payload any
	if err := readJSON(args[0], &payload); err != nil {
		return err
	}
	oc := orchestratorClient()
	id, err := oc.Execute(cmd.Context(), payload)
	if err != nil {
		return err
	}
	printer.Success("submitted run " + id)
	if !submitWait {
		return nil
	}

	interval := time.Duration(max(submitInterval, 1)) * time.Second
	spin := printer.Spinner("waiting for " + id)
	spin.Start()
	defer spin.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
		}
		run, err := oc.Run(cmd.Context(), id)
		if err != nil {
			return err
		}
		if run.Status == runs.StatusSucceeded || run.Status == runs.StatusFailed {
			spin.Stop()
			printRun(run)
			if run.Status == runs.StatusFailed {
				return fmt.Errorf("run %s failed: %s", id, run.Error)
			}
			return nil
		}
		spin.UpdateMessage(fmt.Sprintf("waiting for %s (%s)", id, run.Status))
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	oc := orchestratorClient()
	if len(args) == 1 {
		run, err := oc.Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printRun(run)
		return nil
	}
	list, err := oc.Runs(cmd.Context(), 20)
	if err != nil {
		return err
	}
	for _, r := range list {
		printer.Info(fmt.Sprintf("%s  %-9s  %s", r.ID, r.Status, r.CreatedAt.Format(time.RFC3339)))
	}
	return nil
}

func printRun(r *runs.Run) {
	fields := map[string]string{
		"id":     r.ID,
		"status": string(r.Status),
		"events": strconv.Itoa(len(r.Events)),
	}
	if r.Error != "" {
		fields["error"] = r.Error
	}
	for alias, s := range r.Summary {
		fields["output."+alias] = s
	}
	printer.Fields(fields)
}

// =============================================================================
// Planning
// =============================================================================

func runPlan(cmd *cobra.Command, _ []string) error {
	var blocks []datatypes.BlockDetail
	if planBlocksFile != "" {
		if err := readJSON(planBlocksFile, &blocks); err != nil {
			return err
		}
	}
	lc, err := newLLM()
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	crew, err := agent.NewPlanningCrew(lc, ops.Default())
	if err != nil {
		return err
	}

	var res *agent.PlanResult
	err = printer.WithSpinner("Planning", func() error {
		var err error
		res, err = crew.Plan(cmd.Context(), planQuery, blocks)
		return err
	})
	if err != nil {
		return err
	}

	if planOut != "" {
		if err := writeJSON(planOut, res.Instructions); err != nil {
			return err
		}
		printer.Success("wrote " + planOut)
		return nil
	}
	data, err := json.MarshalIndent(res.Instructions, "", "  ")
	if err != nil {
		return err
	}
	printer.Box("Instructions", string(data))
	return nil
}
