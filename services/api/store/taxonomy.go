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

const categoryColumns = `id, name, parent_id, created_at, updated_at`

func scanCategory(s scanner) (datatypes.TaxonomyCategory, error) {
	var c datatypes.TaxonomyCategory
	err := s.Scan(&c.ID, &c.Name, &c.ParentID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// FindCategory looks up a category by name under parentID (nil for roots).
func FindCategory(ctx context.Context, q Querier, name string, parentID *uuid.UUID) (*datatypes.TaxonomyCategory, error) {
	c, err := scanCategory(q.QueryRow(ctx, `SELECT `+categoryColumns+` FROM taxonomy_categories
		WHERE name = $1 AND parent_id IS NOT DISTINCT FROM $2`, name, parentID))
	if err != nil {
		return nil, notFound("find category", err)
	}
	return &c, nil
}

func CreateCategory(ctx context.Context, q Querier, c *datatypes.TaxonomyCategory) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := q.Exec(ctx, `INSERT INTO taxonomy_categories (`+categoryColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Name, c.ParentID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create category: %w", err)
	}
	return nil
}

// AssociateBlockCategory links a block to a category. Idempotent.
func AssociateBlockCategory(ctx context.Context, q Querier, blockID, categoryID uuid.UUID) error {
	_, err := q.Exec(ctx, `INSERT INTO block_taxonomies (block_id, category_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, blockID, categoryID)
	if err != nil {
		return fmt.Errorf("store: associate block category: %w", err)
	}
	return nil
}

// RemoveBlockCategories unlinks every category from a block. Categories
// themselves are shared and stay.
func RemoveBlockCategories(ctx context.Context, q Querier, blockID uuid.UUID) error {
	if _, err := q.Exec(ctx, `DELETE FROM block_taxonomies WHERE block_id = $1`, blockID); err != nil {
		return fmt.Errorf("store: remove block categories: %w", err)
	}
	return nil
}

// CategoriesForBlock returns the categories linked to a block.
func CategoriesForBlock(ctx context.Context, q Querier, blockID uuid.UUID) ([]datatypes.TaxonomyCategory, error) {
	rows, err := q.Query(ctx, `SELECT c.id, c.name, c.parent_id, c.created_at, c.updated_at
		FROM block_taxonomies bt JOIN taxonomy_categories c ON c.id = bt.category_id
		WHERE bt.block_id = $1 ORDER BY c.created_at ASC`, blockID)
	if err != nil {
		return nil, fmt.Errorf("store: categories for block: %w", err)
	}
	return collect(rows, "categories for block", scanCategory)
}

// BlockIDsByLeaf returns blocks linked to a category named value whose
// parent is named key.
func BlockIDsByLeaf(ctx context.Context, q Querier, key, value string) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `SELECT DISTINCT bt.block_id
		FROM block_taxonomies bt
		JOIN taxonomy_categories c ON c.id = bt.category_id
		JOIN taxonomy_categories p ON p.id = c.parent_id
		WHERE p.name = $1 AND c.name = $2`, key, value)
	if err != nil {
		return nil, fmt.Errorf("store: block ids by leaf: %w", err)
	}
	return collect(rows, "block ids by leaf", func(s scanner) (uuid.UUID, error) {
		var id uuid.UUID
		err := s.Scan(&id)
		return id, err
	})
}
