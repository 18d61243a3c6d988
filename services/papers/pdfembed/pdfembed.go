// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pdfembed extracts text from papers, splits it into paragraphs or
// chunks, embeds them and ranks them against a query.
package pdfembed

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"

	"github.com/ConstellationAI/constellation/services/api/vectors"
	"github.com/ConstellationAI/constellation/services/llm"
)

const (
	ChunkSize    = 1000
	ChunkOverlap = 100

	// embedParallelism bounds concurrent Embed calls when the embedder has
	// no batch API.
	embedParallelism = 4
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// BatchEmbedder embeds many texts in one call. llm.OpenAIClient
// implements it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Paragraph is an embedded piece of a document.
type Paragraph struct {
	Index  int       `json:"index"`
	Text   string    `json:"text"`
	Vector []float32 `json:"-"`
}

// Match is a ranked paragraph.
type Match struct {
	Paragraph
	Score float64 `json:"score"`
}

// ExtractText returns the text of every page of a PDF, pages separated by
// a blank line.
func ExtractText(ctx context.Context, r io.ReaderAt, size int64) (string, error) {
	docs, err := documentloaders.NewPDF(r, size).Load(ctx)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	pages := make([]string, 0, len(docs))
	for _, d := range docs {
		pages = append(pages, d.PageContent)
	}
	return strings.Join(pages, "\n\n"), nil
}

// SplitParagraphs splits on blank lines and drops empty paragraphs.
func SplitParagraphs(text string) []string {
	parts := paragraphBreak.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Chunk splits text into overlapping chunks for embedding.
func Chunk(text string) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ChunkSize),
		textsplitter.WithChunkOverlap(ChunkOverlap),
	)
	return splitter.SplitText(text)
}

// EmbedDocument embeds every paragraph of text.
func EmbedDocument(ctx context.Context, embedder llm.Embedder, text string) ([]Paragraph, error) {
	return EmbedTexts(ctx, embedder, SplitParagraphs(text))
}

// EmbedTexts embeds texts, in one request when embedder supports batches
// and with bounded concurrency otherwise.
func EmbedTexts(ctx context.Context, embedder llm.Embedder, texts []string) ([]Paragraph, error) {
	out := make([]Paragraph, len(texts))
	for i, t := range texts {
		out[i] = Paragraph{Index: i, Text: t}
	}
	if len(texts) == 0 {
		return out, nil
	}

	if b, ok := embedder.(BatchEmbedder); ok {
		vecs, err := b.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i := range out {
			out[i].Vector = vecs[i]
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)
	for i := range out {
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, out[i].Text)
			if err != nil {
				return fmt.Errorf("paragraph %d: %w", i, err)
			}
			out[i].Vector = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CosineSimilarity is 0 when either vector has zero norm.
func CosineSimilarity(a, b []float32) float64 {
	return vectors.CosineSimilarity(a, b)
}

// Rank orders paragraphs by similarity to query, best first, and keeps at
// most topK (all when topK <= 0). Ties keep document order.
func Rank(query []float32, paragraphs []Paragraph, topK int) []Match {
	matches := make([]Match, len(paragraphs))
	for i, p := range paragraphs {
		matches[i] = Match{Paragraph: p, Score: CosineSimilarity(query, p.Vector)}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}
