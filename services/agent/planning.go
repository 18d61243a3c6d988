// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/llm"
	"github.com/ConstellationAI/constellation/services/orchestrator/instructions"
)

// PipelineTemplate is the instruction skeleton the planner fills in: deploy
// a model, run inference over an imported dataset, export the results and
// delete the model.
var PipelineTemplate = instructions.Envelope([]any{
	map[string]any{
		"operation":  "deploy_model",
		"parameters": map[string]any{"model": "{xxx}"},
	},
	map[string]any{
		"operation": "export_to_s3",
		"parameters": map[string]any{
			"inference_results": []any{
				map[string]any{
					"operation": "model_inference",
					"parameters": map[string]any{
						"data": map[string]any{
							"operation": "dict_to_list",
							"parameters": map[string]any{
								"data": map[string]any{
									"operation":  "import_from_google_drive",
									"parameters": map[string]any{"file_id": "{yyy}"},
								},
							},
						},
						"model": "{xxx}",
					},
				},
			},
		},
	},
	map[string]any{
		"operation":  "delete_model",
		"parameters": map[string]any{"model": "{xxx}"},
	},
})

// PlanResult is the planner's answer.
type PlanResult struct {
	// Instructions is the validated instruction list.
	Instructions any `json:"instructions"`
	// Raw is the model's unparsed reply.
	Raw string `json:"raw"`
}

// PlanningCrew turns a natural language request into pipeline instructions.
type PlanningCrew struct {
	llm      llm.LLMClient
	defs     *Definitions
	registry instructions.Registry
}

// NewPlanningCrew builds the crew. reg validates operation names; nil
// checks structure only.
func NewPlanningCrew(client llm.LLMClient, reg instructions.Registry) (*PlanningCrew, error) {
	defs, err := DefaultDefinitions()
	if err != nil {
		return nil, err
	}
	return &PlanningCrew{llm: client, defs: defs, registry: reg}, nil
}

// planBlock is the view of a block shown to the model.
type planBlock struct {
	Name        string `json:"name"`
	BlockType   string `json:"block_type"`
	Description string `json:"description"`
	Filepath    string `json:"filepath,omitempty"`
}

// Plan asks the analyst for instructions matching query over blocks.
//
// # Description
//
// The reply is parsed as JSON (repaired when malformed), unwrapped from the
// job envelope, and parsed as an instruction list so that an invalid plan
// is reported here instead of at submission.
//
// # Outputs
//
//   - *PlanResult: Instructions holds the []any list form.
//   - error: LLM failure, unparseable JSON or invalid instructions.
func (p *PlanningCrew) Plan(ctx context.Context, query string, blocks []datatypes.BlockDetail) (*PlanResult, error) {
	analyst, err := p.defs.Agent("analyst")
	if err != nil {
		return nil, err
	}
	analyst.Params.JSONMode = true
	task, err := p.defs.Task("build_pipeline", analyst)
	if err != nil {
		return nil, err
	}

	blocksJSON, err := json.MarshalIndent(planBlocks(blocks), "", "  ")
	if err != nil {
		return nil, err
	}
	templateJSON, err := json.MarshalIndent(PipelineTemplate, "", "  ")
	if err != nil {
		return nil, err
	}

	crew := &Crew{LLM: p.llm, Tasks: []*Task{task}}
	outputs, err := crew.Kickoff(ctx, map[string]any{
		"query":    query,
		"blocks":   string(blocksJSON),
		"template": string(templateJSON),
	})
	if err != nil {
		return nil, err
	}
	raw := outputs[len(outputs)-1].Raw

	var decoded any
	if err := ParseJSON(raw, &decoded); err != nil {
		return nil, fmt.Errorf("planner output: %w", err)
	}
	list, err := instructions.Unwrap(decoded)
	if err != nil {
		return nil, fmt.Errorf("planner output: %w", err)
	}
	if _, err := instructions.ParseList(list, p.registry); err != nil {
		return nil, fmt.Errorf("planner output: %w", err)
	}
	slog.Debug("planner produced instructions", "query", query, "count", len(list))
	return &PlanResult{Instructions: list, Raw: raw}, nil
}

func planBlocks(blocks []datatypes.BlockDetail) []planBlock {
	out := make([]planBlock, len(blocks))
	for i, b := range blocks {
		out[i] = planBlock{
			Name:        b.Name,
			BlockType:   string(b.BlockType),
			Description: b.Description,
			Filepath:    blockFilepath(b),
		}
	}
	return out
}

func blockFilepath(b datatypes.BlockDetail) string {
	if b.CurrentVersion == nil {
		return ""
	}
	for _, key := range []string{"filepath", "file_path", "file_id"} {
		if v, ok := b.CurrentVersion.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
