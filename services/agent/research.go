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
	"sync"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/llm"
)

// DefaultTopK is the number of hits the research crew asks for.
const DefaultTopK = 5

// BlockSearcher is the vector search the research tools run against.
// core.BlockManager satisfies it.
type BlockSearcher interface {
	SimilaritySearch(ctx context.Context, req *datatypes.SimilaritySearchRequest) ([]datatypes.SimilarityResult, error)
}

// ResearchResult is the research crew's answer.
type ResearchResult struct {
	Query   string                       `json:"query"`
	Answer  string                       `json:"answer"`
	Sources []datatypes.SimilarityResult `json:"sources"`
}

// ResearchCrew finds the catalog entries closest to a query and summarizes
// the best paper.
type ResearchCrew struct {
	llm      llm.LLMClient
	embedder llm.Embedder
	search   BlockSearcher
	defs     *Definitions
	MaxSteps int
}

func NewResearchCrew(client llm.LLMClient, embedder llm.Embedder, search BlockSearcher) (*ResearchCrew, error) {
	defs, err := DefaultDefinitions()
	if err != nil {
		return nil, err
	}
	return &ResearchCrew{llm: client, embedder: embedder, search: search, defs: defs}, nil
}

// Research runs the researcher over query. Sources lists every hit the
// similarity tool returned during the run, deduplicated by block.
func (r *ResearchCrew) Research(ctx context.Context, query string, topK int) (*ResearchResult, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	rec := &sourceRecorder{}
	researcher, err := r.defs.Agent("researcher",
		VectorEmbedTool(r.embedder),
		SimilaritySearchTool(r.search, r.embedder, topK, rec),
	)
	if err != nil {
		return nil, err
	}
	task, err := r.defs.Task("find_similar_papers", researcher)
	if err != nil {
		return nil, err
	}

	crew := &Crew{LLM: r.llm, Tasks: []*Task{task}, MaxSteps: r.MaxSteps}
	outputs, err := crew.Kickoff(ctx, map[string]any{"query": query, "top_k": topK})
	if err != nil {
		return nil, err
	}
	return &ResearchResult{
		Query:   query,
		Answer:  outputs[len(outputs)-1].Raw,
		Sources: rec.list(),
	}, nil
}

// =============================================================================
// Tools
// =============================================================================

// VectorEmbedTool embeds {"query": text} (or a bare JSON string).
func VectorEmbedTool(embedder llm.Embedder) Tool {
	return &FuncTool{
		ToolName:        "VectorEmbedTool",
		ToolDescription: `Embeds the user's query into a vector space. Input: {"query": "<text>"}.`,
		Fn: func(ctx context.Context, input json.RawMessage) (any, error) {
			text, err := queryText(input)
			if err != nil {
				return nil, err
			}
			return embedder.Embed(ctx, text)
		},
	}
}

// similarityInput accepts either a vector or raw query text.
type similarityInput struct {
	Vector []float32 `json:"vector"`
	Query  string    `json:"query"`
	TopK   int       `json:"top_k"`
}

// SimilaritySearchTool searches the block index by vector or query text.
// Hits are also handed to rec when it is non-nil.
func SimilaritySearchTool(search BlockSearcher, embedder llm.Embedder, topK int, rec *sourceRecorder) Tool {
	return &FuncTool{
		ToolName: "SimilaritySearchTool",
		ToolDescription: `Searches for the catalog entries and papers most similar to the user's query. ` +
			`Input: {"vector": [...], "top_k": n} or {"query": "<text>", "top_k": n}.`,
		Fn: func(ctx context.Context, input json.RawMessage) (any, error) {
			var in similarityInput
			if err := ParseJSON(string(input), &in); err != nil {
				return nil, fmt.Errorf("similarity search input: %w", err)
			}
			if len(in.Vector) == 0 && in.Query == "" {
				return nil, fmt.Errorf("similarity search needs a vector or a query")
			}
			if len(in.Vector) == 0 && embedder != nil {
				vec, err := embedder.Embed(ctx, in.Query)
				if err != nil {
					return nil, err
				}
				in.Vector = vec
			}
			if in.TopK <= 0 {
				in.TopK = topK
			}
			hits, err := search.SimilaritySearch(ctx, &datatypes.SimilaritySearchRequest{
				Query:  in.Query,
				Vector: in.Vector,
				TopK:   in.TopK,
			})
			if err != nil {
				return nil, err
			}
			rec.add(hits)
			return hits, nil
		},
	}
}

func queryText(input json.RawMessage) (string, error) {
	var obj struct {
		Query string `json:"query"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(input, &obj); err == nil {
		if obj.Query != "" {
			return obj.Query, nil
		}
		if obj.Text != "" {
			return obj.Text, nil
		}
	}
	var s string
	if err := json.Unmarshal(input, &s); err == nil && s != "" {
		return s, nil
	}
	return "", fmt.Errorf("embed input needs a query")
}

type sourceRecorder struct {
	mu   sync.Mutex
	seen map[string]bool
	hits []datatypes.SimilarityResult
}

func (r *sourceRecorder) add(hits []datatypes.SimilarityResult) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	for _, h := range hits {
		key := h.BlockID.String()
		if r.seen[key] {
			continue
		}
		r.seen[key] = true
		r.hits = append(r.hits, h)
	}
}

func (r *sourceRecorder) list() []datatypes.SimilarityResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]datatypes.SimilarityResult(nil), r.hits...)
}
