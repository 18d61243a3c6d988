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
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ConstellationAI/constellation/services/api/core"
	"github.com/ConstellationAI/constellation/services/llm"
	"github.com/ConstellationAI/constellation/services/papers/arxiv"
	"github.com/ConstellationAI/constellation/services/papers/pdfembed"
)

// Swapped in tests.
var (
	newArxivClient = arxiv.NewClient
	newEmbedder    = func() (llm.Embedder, error) { return llm.NewOpenAIClient(openAIConfig()) }
)

func openAIConfig() llm.OpenAIConfig {
	oc := llm.OpenAIConfigFromEnv()
	if cfg.OpenAI.APIKey != "" {
		oc.APIKey = cfg.OpenAI.APIKey
	}
	if cfg.OpenAI.Model != "" {
		oc.Model = cfg.OpenAI.Model
	}
	if cfg.OpenAI.EmbeddingModel != "" {
		oc.EmbeddingModel = cfg.OpenAI.EmbeddingModel
	}
	if cfg.OpenAI.BaseURL != "" {
		oc.BaseURL = cfg.OpenAI.BaseURL
	}
	return oc
}

func runScrape(cmd *cobra.Command, _ []string) error {
	topics := scrapeTopics
	if len(topics) == 0 {
		topics = cfg.Scrape.Topics
	}
	if len(topics) == 0 {
		return fmt.Errorf("no topics: pass --topic or set scrape.topics")
	}
	opts := arxiv.ScrapeOptions{
		MaxResults: firstPositive(scrapeMaxResults, cfg.Scrape.MaxResults),
		DateRange:  arxiv.DateRange{Start: scrapeStart, End: scrapeEnd},
	}
	outDir := scrapeOutDir
	if outDir == "" {
		outDir = cfg.Scrape.OutputDir
	}

	sinks := []arxiv.Sink{&arxiv.Saver{Dir: outDir}}
	if scrapeCatalog {
		st, closeDB, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()
		sinks = append(sinks, &arxiv.CatalogSink{Papers: core.NewPaperManager(st)})
	}

	printer.Title("Scraping arXiv")
	printer.Info("topics: " + strings.Join(topics, ", "))
	var saved int
	err := printer.WithSpinner("Fetching papers", func() error {
		var err error
		saved, err = newArxivClient().Scrape(cmd.Context(), topics, opts, sinks...)
		return err
	})
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("saved %d papers to %s", saved, outDir))
	return nil
}

type embeddedParagraph struct {
	Index  int       `json:"index"`
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

func runEmbedPDF(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	text, err := pdfembed.ExtractText(ctx, f, info.Size())
	if err != nil {
		return err
	}
	embedder, err := newEmbedder()
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}

	var paragraphs []pdfembed.Paragraph
	err = printer.WithSpinner("Embedding paragraphs", func() error {
		var err error
		paragraphs, err = pdfembed.EmbedDocument(ctx, embedder, text)
		return err
	})
	if err != nil {
		return err
	}
	printer.Info(fmt.Sprintf("%d paragraphs embedded", len(paragraphs)))

	if embedOut != "" {
		out := make([]embeddedParagraph, len(paragraphs))
		for i, p := range paragraphs {
			out[i] = embeddedParagraph{Index: p.Index, Text: p.Text, Vector: p.Vector}
		}
		if err := writeJSON(embedOut, out); err != nil {
			return err
		}
		printer.Success("wrote " + embedOut)
	}

	if embedQuery == "" {
		return nil
	}
	qv, err := embedder.Embed(ctx, embedQuery)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}
	for i, m := range pdfembed.Rank(qv, paragraphs, embedTopK) {
		printer.Box(fmt.Sprintf("#%d  paragraph %d  score %.4f", i+1, m.Index, m.Score), m.Text)
	}
	return nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
