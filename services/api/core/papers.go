// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/store"
)

// PaperManager stores scraped and uploaded papers. Papers are not audited.
type PaperManager struct {
	db *store.Store
}

func NewPaperManager(db *store.Store) *PaperManager {
	return &PaperManager{db: db}
}

func (m *PaperManager) Create(ctx context.Context, req *datatypes.PaperCreateRequest) (*datatypes.Paper, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	p := &datatypes.Paper{Title: req.Title, Abstract: req.Abstract, PDFURL: req.PDFURL}
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if req.BlockID != "" {
			id := uuid.MustParse(req.BlockID)
			if _, err := store.GetBlock(ctx, q, id); err != nil {
				return missing(err, "block", id)
			}
			p.BlockID = &id
		}
		return store.CreatePaper(ctx, q, p)
	})
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

func (m *PaperManager) Get(ctx context.Context, id uuid.UUID) (*datatypes.Paper, error) {
	p, err := store.GetPaper(ctx, m.db.Q(), id)
	if err != nil {
		return nil, translate(missing(err, "paper", id))
	}
	return p, nil
}

func (m *PaperManager) Update(ctx context.Context, id uuid.UUID, req *datatypes.PaperUpdateRequest) (*datatypes.Paper, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	var out *datatypes.Paper
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		p, err := store.GetPaper(ctx, q, id)
		if err != nil {
			return missing(err, "paper", id)
		}
		if req.Title != nil {
			p.Title = *req.Title
		}
		if req.Abstract != nil {
			p.Abstract = *req.Abstract
		}
		if req.PDFURL != nil {
			p.PDFURL = *req.PDFURL
		}
		if err := store.UpdatePaper(ctx, q, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (m *PaperManager) Delete(ctx context.Context, id uuid.UUID) error {
	return translate(missing(store.DeletePaper(ctx, m.db.Q(), id), "paper", id))
}

func (m *PaperManager) List(ctx context.Context, limit, offset int) ([]datatypes.Paper, error) {
	ps, err := store.ListPapers(ctx, m.db.Q(), limit, offset)
	return ps, translate(err)
}

// AssociateBlock links the paper to an existing block.
func (m *PaperManager) AssociateBlock(ctx context.Context, paperID, blockID uuid.UUID) (*datatypes.Paper, error) {
	var out *datatypes.Paper
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if _, err := store.GetBlock(ctx, q, blockID); err != nil {
			return missing(err, "block", blockID)
		}
		if err := store.SetPaperBlock(ctx, q, paperID, &blockID); err != nil {
			return missing(err, "paper", paperID)
		}
		p, err := store.GetPaper(ctx, q, paperID)
		out = p
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// DisassociateBlock clears the link when the paper points at blockID.
func (m *PaperManager) DisassociateBlock(ctx context.Context, paperID, blockID uuid.UUID) (*datatypes.Paper, error) {
	var out *datatypes.Paper
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		p, err := store.GetPaper(ctx, q, paperID)
		if err != nil {
			return missing(err, "paper", paperID)
		}
		if p.BlockID == nil || *p.BlockID != blockID {
			return fmt.Errorf("%w: paper %s is not linked to block %s", ErrInvalidInput, paperID, blockID)
		}
		if err := store.SetPaperBlock(ctx, q, paperID, nil); err != nil {
			return err
		}
		p.BlockID = nil
		out = p
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}
