// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectors

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

// MemoryIndex is an in-process Index used when Weaviate is not configured.
// Search is a linear cosine scan.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]memoryEntry
}

type memoryEntry struct {
	blockType string
	terms     map[string]bool
	vector    []float32
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[uuid.UUID]memoryEntry)}
}

func (m *MemoryIndex) Index(_ context.Context, block datatypes.Block, tax map[string]any, vector []float32) (string, error) {
	if len(vector) == 0 {
		return "", errors.New("vectors: empty vector")
	}
	terms := make(map[string]bool)
	for _, t := range TaxonomyTerms(tax) {
		terms[t] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[block.ID] = memoryEntry{
		blockType: string(block.BlockType),
		terms:     terms,
		vector:    append([]float32(nil), vector...),
	}
	return string(ObjectID(block.ID)), nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	want := TaxonomyTerms(filter.Taxonomy)

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.entries))
	for id, e := range m.entries {
		if filter.BlockType != "" && e.blockType != filter.BlockType {
			continue
		}
		if !containsAll(e.terms, want) {
			continue
		}
		// Cosine in [-1, 1] mapped to Weaviate's certainty in [0, 1].
		hits = append(hits, Hit{BlockID: id, Certainty: (1 + CosineSimilarity(vector, e.vector)) / 2})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Certainty != hits[j].Certainty {
			return hits[i].Certainty > hits[j].Certainty
		}
		return hits[i].BlockID.String() < hits[j].BlockID.String()
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryIndex) Delete(_ context.Context, blockID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, blockID)
	return nil
}

func containsAll(have map[string]bool, want []string) bool {
	for _, w := range want {
		if !have[w] {
			return false
		}
	}
	return true
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either has zero norm. Extra elements of the longer vector are
// ignored.
func CosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
