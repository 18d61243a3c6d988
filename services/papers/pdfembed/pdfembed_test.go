// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pdfembed

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps text onto two axes: "rock" and "ice".
type keywordEmbedder struct {
	calls atomic.Int32
	fail  string
}

func (k *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	k.calls.Add(1)
	if k.fail != "" && strings.Contains(text, k.fail) {
		return nil, errors.New("embedding backend down")
	}
	return []float32{
		float32(strings.Count(text, "rock")),
		float32(strings.Count(text, "ice")),
	}, nil
}

type batchEmbedder struct {
	keywordEmbedder
	batches int
}

func (b *batchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.batches++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := b.keywordEmbedder.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func TestSplitParagraphs(t *testing.T) {
	text := "Intro line one\nline two\n\n   \n\nSecond paragraph\n \t\nThird"
	assert.Equal(t, []string{"Intro line one\nline two", "Second paragraph", "Third"}, SplitParagraphs(text))
	assert.Empty(t, SplitParagraphs("\n\n  \n"))
}

func TestChunk(t *testing.T) {
	text := strings.Repeat("Glaciers move slowly across the land. ", 100)
	chunks, err := Chunk(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), ChunkSize)
	}
}

func TestEmbedDocument(t *testing.T) {
	text := "rock rock strata\n\nice sheets and ice cores\n\nrock and ice"

	t.Run("per paragraph", func(t *testing.T) {
		e := &keywordEmbedder{}
		paras, err := EmbedDocument(context.Background(), e, text)
		require.NoError(t, err)
		require.Len(t, paras, 3)
		assert.Equal(t, int32(3), e.calls.Load())
		assert.Equal(t, []float32{2, 0}, paras[0].Vector)
		assert.Equal(t, 2, paras[2].Index)
	})

	t.Run("batch", func(t *testing.T) {
		e := &batchEmbedder{}
		paras, err := EmbedDocument(context.Background(), e, text)
		require.NoError(t, err)
		assert.Equal(t, 1, e.batches)
		assert.Equal(t, []float32{0, 2}, paras[1].Vector)
	})

	t.Run("failure", func(t *testing.T) {
		_, err := EmbedDocument(context.Background(), &keywordEmbedder{fail: "sheets"}, text)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "paragraph 1")
	})

	t.Run("empty", func(t *testing.T) {
		paras, err := EmbedDocument(context.Background(), &keywordEmbedder{}, "")
		require.NoError(t, err)
		assert.Empty(t, paras)
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestRank(t *testing.T) {
	paras := []Paragraph{
		{Index: 0, Text: "rock", Vector: []float32{1, 0}},
		{Index: 1, Text: "ice", Vector: []float32{0, 1}},
		{Index: 2, Text: "both", Vector: []float32{1, 1}},
		{Index: 3, Text: "ice again", Vector: []float32{0, 3}},
	}

	got := Rank([]float32{0, 1}, paras, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 3, got[1].Index)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)

	assert.Len(t, Rank([]float32{1, 0}, paras, 0), 4)
}
