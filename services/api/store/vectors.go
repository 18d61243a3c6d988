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

const vectorColumns = `id, block_id, vector_db, vector_key, taxonomy_filter, created_at, updated_at`

func scanVector(s scanner) (datatypes.BlockVectorRepresentation, error) {
	var v datatypes.BlockVectorRepresentation
	var filter []byte
	if err := s.Scan(&v.ID, &v.BlockID, &v.VectorDB, &v.VectorKey, &filter, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return v, err
	}
	f, err := unmarshalJSON(filter)
	v.TaxonomyFilter = f
	return v, err
}

// UpsertBlockVector inserts or replaces the vector record of v.BlockID.
func UpsertBlockVector(ctx context.Context, q Querier, v *datatypes.BlockVectorRepresentation) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	filter, err := marshalJSON(v.TaxonomyFilter)
	if err != nil {
		return fmt.Errorf("store: upsert block vector: encode filter: %w", err)
	}
	_, err = q.Exec(ctx, `INSERT INTO block_vector_representations (`+vectorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (block_id) DO UPDATE
		SET vector_db = EXCLUDED.vector_db, vector_key = EXCLUDED.vector_key,
		    taxonomy_filter = EXCLUDED.taxonomy_filter, updated_at = EXCLUDED.updated_at`,
		v.ID, v.BlockID, v.VectorDB, v.VectorKey, filter, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert block vector: %w", err)
	}
	return nil
}

func GetBlockVector(ctx context.Context, q Querier, blockID uuid.UUID) (*datatypes.BlockVectorRepresentation, error) {
	v, err := scanVector(q.QueryRow(ctx, `SELECT `+vectorColumns+` FROM block_vector_representations
		WHERE block_id = $1`, blockID))
	if err != nil {
		return nil, notFound("get block vector", err)
	}
	return &v, nil
}

// DeleteBlockVector is a no-op when the block has no vector.
func DeleteBlockVector(ctx context.Context, q Querier, blockID uuid.UUID) error {
	if _, err := q.Exec(ctx, `DELETE FROM block_vector_representations WHERE block_id = $1`, blockID); err != nil {
		return fmt.Errorf("store: delete block vector: %w", err)
	}
	return nil
}
