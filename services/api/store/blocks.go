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

const blockColumns = `id, name, block_type, description, created_by, current_version_id, created_at, updated_at`

func scanBlock(s scanner) (datatypes.Block, error) {
	var b datatypes.Block
	var blockType string
	err := s.Scan(&b.ID, &b.Name, &blockType, &b.Description, &b.CreatedBy, &b.CurrentVersionID, &b.CreatedAt, &b.UpdatedAt)
	b.BlockType = datatypes.BlockType(blockType)
	return b, err
}

// CreateBlock inserts b. A zero ID is replaced with a new UUID and the
// timestamps are set to now.
func CreateBlock(ctx context.Context, q Querier, b *datatypes.Block) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now

	_, err := q.Exec(ctx, `INSERT INTO blocks (`+blockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.Name, string(b.BlockType), b.Description, b.CreatedBy, b.CurrentVersionID, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create block: %w", err)
	}
	return nil
}

func GetBlock(ctx context.Context, q Querier, id uuid.UUID) (*datatypes.Block, error) {
	b, err := scanBlock(q.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get block", err)
	}
	return &b, nil
}

// GetBlockByName returns the oldest block with the given name.
func GetBlockByName(ctx context.Context, q Querier, name string) (*datatypes.Block, error) {
	b, err := scanBlock(q.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE name = $1
		ORDER BY created_at ASC LIMIT 1`, name))
	if err != nil {
		return nil, notFound("get block by name", err)
	}
	return &b, nil
}

// UpdateBlock writes name, block_type, description and current_version_id.
func UpdateBlock(ctx context.Context, q Querier, b *datatypes.Block) error {
	b.UpdatedAt = time.Now().UTC()
	tag, err := q.Exec(ctx, `UPDATE blocks
		SET name = $2, block_type = $3, description = $4, current_version_id = $5, updated_at = $6
		WHERE id = $1`,
		b.ID, b.Name, string(b.BlockType), b.Description, b.CurrentVersionID, b.UpdatedAt)
	return affected("update block", tag, err)
}

func DeleteBlock(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM blocks WHERE id = $1`, id)
	return affected("delete block", tag, err)
}

// ListBlocks pages through blocks newest first. limit <= 0 means 100.
func ListBlocks(ctx context.Context, q Querier, limit, offset int) ([]datatypes.Block, error) {
	limit, offset = pageArgs(limit, offset)
	rows, err := q.Query(ctx, `SELECT `+blockColumns+` FROM blocks
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list blocks: %w", err)
	}
	return collect(rows, "list blocks", scanBlock)
}

// ListBlocksByIDs returns the blocks whose ids are in ids, in no particular
// order. Unknown ids are skipped.
func ListBlocksByIDs(ctx context.Context, q Querier, ids []uuid.UUID) ([]datatypes.Block, error) {
	if len(ids) == 0 {
		return []datatypes.Block{}, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	rows, err := q.Query(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = ANY($1::uuid[])`, strs)
	if err != nil {
		return nil, fmt.Errorf("store: list blocks by ids: %w", err)
	}
	return collect(rows, "list blocks by ids", scanBlock)
}

// =============================================================================
// Block versions
// =============================================================================

const blockVersionColumns = `id, block_id, version_number, metadata, created_by, is_active, created_at`

func scanBlockVersion(s scanner) (datatypes.BlockVersion, error) {
	var v datatypes.BlockVersion
	var meta []byte
	if err := s.Scan(&v.ID, &v.BlockID, &v.VersionNumber, &meta, &v.CreatedBy, &v.IsActive, &v.CreatedAt); err != nil {
		return v, err
	}
	m, err := unmarshalJSON(meta)
	v.Metadata = m
	return v, err
}

// NextBlockVersionNumber returns max(version_number)+1, or 1 for a block
// without versions.
func NextBlockVersionNumber(ctx context.Context, q Querier, blockID uuid.UUID) (int, error) {
	var n int
	if err := q.QueryRow(ctx, `SELECT COALESCE(MAX(version_number), 0) + 1 FROM block_versions WHERE block_id = $1`,
		blockID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: next block version: %w", err)
	}
	return n, nil
}

func CreateBlockVersion(ctx context.Context, q Querier, v *datatypes.BlockVersion) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = time.Now().UTC()
	meta, err := marshalJSON(v.Metadata)
	if err != nil {
		return fmt.Errorf("store: create block version: encode metadata: %w", err)
	}
	_, err = q.Exec(ctx, `INSERT INTO block_versions (`+blockVersionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.BlockID, v.VersionNumber, meta, v.CreatedBy, v.IsActive, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create block version: %w", err)
	}
	return nil
}

func GetBlockVersion(ctx context.Context, q Querier, id uuid.UUID) (*datatypes.BlockVersion, error) {
	v, err := scanBlockVersion(q.QueryRow(ctx, `SELECT `+blockVersionColumns+` FROM block_versions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get block version", err)
	}
	return &v, nil
}

func ListBlockVersions(ctx context.Context, q Querier, blockID uuid.UUID) ([]datatypes.BlockVersion, error) {
	rows, err := q.Query(ctx, `SELECT `+blockVersionColumns+` FROM block_versions
		WHERE block_id = $1 ORDER BY version_number ASC`, blockID)
	if err != nil {
		return nil, fmt.Errorf("store: list block versions: %w", err)
	}
	return collect(rows, "list block versions", scanBlockVersion)
}
