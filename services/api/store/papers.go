// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

const paperColumns = `id, title, abstract, pdf_url, block_id, created_at, updated_at`

func scanPaper(s scanner) (datatypes.Paper, error) {
	var p datatypes.Paper
	err := s.Scan(&p.ID, &p.Title, &p.Abstract, &p.PDFURL, &p.BlockID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func CreatePaper(ctx context.Context, q Querier, p *datatypes.Paper) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := q.Exec(ctx, `INSERT INTO papers (`+paperColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Title, p.Abstract, p.PDFURL, p.BlockID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create paper: %w", err)
	}
	return nil
}

func GetPaper(ctx context.Context, q Querier, id uuid.UUID) (*datatypes.Paper, error) {
	p, err := scanPaper(q.QueryRow(ctx, `SELECT `+paperColumns+` FROM papers WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get paper", err)
	}
	return &p, nil
}

func UpdatePaper(ctx context.Context, q Querier, p *datatypes.Paper) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := q.Exec(ctx, `UPDATE papers
		SET title = $2, abstract = $3, pdf_url = $4, block_id = $5, updated_at = $6
		WHERE id = $1`, p.ID, p.Title, p.Abstract, p.PDFURL, p.BlockID, p.UpdatedAt)
	return affected("update paper", tag, err)
}

func DeletePaper(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM papers WHERE id = $1`, id)
	return affected("delete paper", tag, err)
}

func ListPapers(ctx context.Context, q Querier, limit, offset int) ([]datatypes.Paper, error) {
	limit, offset = pageArgs(limit, offset)
	rows, err := q.Query(ctx, `SELECT `+paperColumns+` FROM papers
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list papers: %w", err)
	}
	return collect(rows, "list papers", scanPaper)
}

// SetPaperBlock links a paper to blockID, or unlinks it when blockID is nil.
func SetPaperBlock(ctx context.Context, q Querier, paperID uuid.UUID, blockID *uuid.UUID) error {
	tag, err := q.Exec(ctx, `UPDATE papers SET block_id = $2, updated_at = NOW() WHERE id = $1`, paperID, blockID)
	return affected("set paper block", tag, err)
}
