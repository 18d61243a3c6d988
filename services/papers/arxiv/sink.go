// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package arxiv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

const maxTitleChars = 50

// Saver writes each paper as indented JSON into Dir.
type Saver struct {
	Dir string
	// Now defaults to time.Now.
	Now func() time.Time
}

// FileName is "<YYYYMMDD_HHMMSS>_<safe title>.json". The title keeps
// letters, digits, spaces, '-' and '_', truncated to 50 characters.
func FileName(title string, at time.Time) string {
	return fmt.Sprintf("%s_%s.json", at.Format("20060102_150405"), SafeTitle(title))
}

// SafeTitle filters title down to filename-safe characters.
func SafeTitle(title string) string {
	var b strings.Builder
	n := 0
	for _, r := range title {
		if n == maxTitleChars {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
			n++
		}
	}
	return b.String()
}

func (s *Saver) Save(_ context.Context, p Paper) error {
	if err := os.MkdirAll(s.Dir, 0750); err != nil {
		return err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.Dir, FileName(p.Title, now()))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	slog.Debug("saved paper", "path", path)
	return nil
}

// PaperCreator creates paper rows. core.PaperManager satisfies it.
type PaperCreator interface {
	Create(ctx context.Context, req *datatypes.PaperCreateRequest) (*datatypes.Paper, error)
}

// CatalogSink stores scraped papers in the catalog.
type CatalogSink struct {
	Papers PaperCreator
}

func (s *CatalogSink) Save(ctx context.Context, p Paper) error {
	req := &datatypes.PaperCreateRequest{
		Title:    strings.Join(strings.Fields(p.Title), " "),
		Abstract: strings.TrimSpace(p.Abstract),
	}
	if p.PDFURL != nil {
		req.PDFURL = *p.PDFURL
	}
	_, err := s.Papers.Create(ctx, req)
	return err
}
