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
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/store"
	"github.com/ConstellationAI/constellation/services/api/taxonomy"
	"github.com/ConstellationAI/constellation/services/api/vectors"
)

// DefaultTopK is used by SimilaritySearch when the request has none.
const DefaultTopK = 10

// BlockManager owns blocks, their versions, taxonomy links and vectors.
//
// # Fields
//
//   - index: Vector index (Weaviate or in-memory). Required for vector ops.
//   - embedder: Turns query text into vectors. Optional; without it only
//     raw vectors are accepted.
type BlockManager struct {
	db       *store.Store
	index    vectors.Index
	embedder vectors.Embedder
	auditor
}

func NewBlockManager(db *store.Store, index vectors.Index, embedder vectors.Embedder, metrics *observability.Metrics) *BlockManager {
	return &BlockManager{db: db, index: index, embedder: embedder, auditor: auditor{metrics: metrics}}
}

// Create inserts a block with version 1 and links its taxonomy.
//
// # Description
//
// The block, its first version, the taxonomy categories and the audit row are
// written in one transaction. Taxonomy categories are get-or-create by
// (name, parent), so repeated documents reuse the same rows.
func (m *BlockManager) Create(ctx context.Context, userID string, req *datatypes.BlockCreateRequest) (*datatypes.BlockDetail, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}

	var detail *datatypes.BlockDetail
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		d, err := insertBlock(ctx, q, userID, blockSpec{
			name:        req.Name,
			blockType:   req.BlockType,
			description: req.Description,
			taxonomy:    req.Taxonomy,
			metadata:    req.Metadata,
		})
		if err != nil {
			return err
		}
		detail = d
		return m.write(ctx, q, userID, datatypes.ActionCreate, datatypes.EntityBlock, d.ID.String(),
			map[string]any{"name": d.Name, "block_type": string(d.BlockType)})
	})
	if err != nil {
		return nil, translate(err)
	}
	slog.Info("block created", "block_id", detail.ID, "name", detail.Name)
	return detail, nil
}

// Get returns the block with its current version, taxonomy tree and vector
// record.
func (m *BlockManager) Get(ctx context.Context, userID string, id uuid.UUID) (*datatypes.BlockDetail, error) {
	var detail *datatypes.BlockDetail
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		d, err := loadBlockDetail(ctx, q, id)
		if err != nil {
			return err
		}
		detail = d
		return m.write(ctx, q, userID, datatypes.ActionRead, datatypes.EntityBlock, id.String(), nil)
	})
	if err != nil {
		return nil, translate(err)
	}
	return detail, nil
}

func loadBlockDetail(ctx context.Context, q store.Querier, id uuid.UUID) (*datatypes.BlockDetail, error) {
	block, err := store.GetBlock(ctx, q, id)
	if err != nil {
		return nil, missing(err, "block", id)
	}
	detail := &datatypes.BlockDetail{Block: *block}

	if block.CurrentVersionID != nil {
		version, err := store.GetBlockVersion(ctx, q, *block.CurrentVersionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		detail.CurrentVersion = version
	}

	categories, err := store.CategoriesForBlock(ctx, q, id)
	if err != nil {
		return nil, err
	}
	detail.Taxonomy = taxonomy.BuildTree(categories)

	vec, err := store.GetBlockVector(ctx, q, id)
	switch {
	case err == nil:
		detail.Vector = vec
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return detail, nil
}

// Update applies a partial update. Metadata creates a new current version;
// taxonomy replaces every category link.
func (m *BlockManager) Update(ctx context.Context, userID string, id uuid.UUID, req *datatypes.BlockUpdateRequest) (*datatypes.Block, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}

	var out *datatypes.Block
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		block, err := store.GetBlock(ctx, q, id)
		if err != nil {
			return missing(err, "block", id)
		}
		changed := []string{}
		if req.Name != nil {
			block.Name = *req.Name
			changed = append(changed, "name")
		}
		if req.BlockType != nil {
			bt, err := datatypes.ParseBlockType(*req.BlockType)
			if err != nil {
				return err
			}
			block.BlockType = bt
			changed = append(changed, "block_type")
		}
		if req.Description != nil {
			block.Description = *req.Description
			changed = append(changed, "description")
		}
		if req.Metadata != nil {
			if _, err := newBlockVersion(ctx, q, block, req.Metadata, userID); err != nil {
				return err
			}
			changed = append(changed, "metadata")
		} else if err := store.UpdateBlock(ctx, q, block); err != nil {
			return err
		}
		if req.Taxonomy != nil {
			if err := store.RemoveBlockCategories(ctx, q, id); err != nil {
				return err
			}
			if err := linkTaxonomy(ctx, q, id, req.Taxonomy); err != nil {
				return err
			}
			changed = append(changed, "taxonomy")
		}
		out = block
		return m.write(ctx, q, userID, datatypes.ActionUpdate, datatypes.EntityBlock, id.String(),
			map[string]any{"fields": changed})
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// Delete removes the block, its taxonomy links and its vector record. The
// index entry is removed after commit on a best-effort basis.
func (m *BlockManager) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if err := store.RemoveBlockCategories(ctx, q, id); err != nil {
			return err
		}
		if err := store.DeleteBlockVector(ctx, q, id); err != nil {
			return err
		}
		if err := store.DeleteBlock(ctx, q, id); err != nil {
			return missing(err, "block", id)
		}
		return m.write(ctx, q, userID, datatypes.ActionDelete, datatypes.EntityBlock, id.String(), nil)
	})
	if err != nil {
		return translate(err)
	}
	if m.index != nil {
		if err := m.index.Delete(ctx, id); err != nil {
			slog.Warn("failed to remove block from vector index", "block_id", id, "error", err)
		}
	}
	return nil
}

func (m *BlockManager) List(ctx context.Context, limit, offset int) ([]datatypes.Block, error) {
	blocks, err := store.ListBlocks(ctx, m.db.Q(), limit, offset)
	return blocks, translate(err)
}

// AssignVersion makes versionID the block's current version.
func (m *BlockManager) AssignVersion(ctx context.Context, userID string, blockID uuid.UUID, req *datatypes.AssignVersionRequest) (*datatypes.Block, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	versionID := uuid.MustParse(req.VersionID)

	var out *datatypes.Block
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		block, err := store.GetBlock(ctx, q, blockID)
		if err != nil {
			return missing(err, "block", blockID)
		}
		version, err := store.GetBlockVersion(ctx, q, versionID)
		if err != nil {
			return missing(err, "block version", versionID)
		}
		if version.BlockID != block.ID {
			return fmt.Errorf("%w: version %s does not belong to block %s", ErrInvalidInput, versionID, blockID)
		}
		block.CurrentVersionID = &version.ID
		if err := store.UpdateBlock(ctx, q, block); err != nil {
			return err
		}
		out = block
		return m.write(ctx, q, userID, datatypes.ActionUpdate, datatypes.EntityBlock, blockID.String(),
			map[string]any{"current_version_id": versionID.String()})
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// SearchByTaxonomy returns blocks matching every (key, value) leaf of the
// filter.
func (m *BlockManager) SearchByTaxonomy(ctx context.Context, req *datatypes.TaxonomySearchRequest) ([]datatypes.Block, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	pairs := taxonomy.Leaves(req.Filters)
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: filters have no leaf values", ErrInvalidInput)
	}

	q := m.db.Q()
	var matched map[uuid.UUID]bool
	for _, p := range pairs {
		ids, err := store.BlockIDsByLeaf(ctx, q, p.Key, p.Value)
		if err != nil {
			return nil, translate(err)
		}
		next := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			if matched == nil || matched[id] {
				next[id] = true
			}
		}
		matched = next
		if len(matched) == 0 {
			return []datatypes.Block{}, nil
		}
	}

	ids := make([]uuid.UUID, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	blocks, err := store.ListBlocksByIDs(ctx, q, ids)
	return blocks, translate(err)
}

// SimilaritySearch finds the blocks nearest to a query vector, embedding the
// query text first when no vector is given.
func (m *BlockManager) SimilaritySearch(ctx context.Context, req *datatypes.SimilaritySearchRequest) ([]datatypes.SimilarityResult, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	if m.index == nil {
		return nil, fmt.Errorf("%w: vector index is not configured", ErrUpstream)
	}
	vector, err := m.vectorFor(ctx, req.Vector, req.Query)
	if err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	hits, err := m.index.Search(ctx, vector, topK, vectors.Filter{BlockType: req.BlockType, Taxonomy: req.TaxonomyFilters})
	if err != nil {
		return nil, fmt.Errorf("%w: similarity search: %v", ErrUpstream, err)
	}

	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.BlockID
	}
	blocks, err := store.ListBlocksByIDs(ctx, m.db.Q(), ids)
	if err != nil {
		return nil, translate(err)
	}
	byID := make(map[uuid.UUID]*datatypes.Block, len(blocks))
	for i := range blocks {
		byID[blocks[i].ID] = &blocks[i]
	}

	results := make([]datatypes.SimilarityResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, datatypes.SimilarityResult{BlockID: h.BlockID, Certainty: h.Certainty, Block: byID[h.BlockID]})
	}
	return results, nil
}

// IndexVector stores the block's vector in the index and records where it
// lives. Text is embedded when no vector is given.
func (m *BlockManager) IndexVector(ctx context.Context, userID string, blockID uuid.UUID, req *datatypes.VectorIndexRequest) (*datatypes.BlockVectorRepresentation, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	if m.index == nil {
		return nil, fmt.Errorf("%w: vector index is not configured", ErrUpstream)
	}
	vector, err := m.vectorFor(ctx, req.Vector, req.Text)
	if err != nil {
		return nil, err
	}

	detail, err := loadBlockDetail(ctx, m.db.Q(), blockID)
	if err != nil {
		return nil, translate(err)
	}
	key, err := m.index.Index(ctx, detail.Block, detail.Taxonomy, vector)
	if err != nil {
		return nil, fmt.Errorf("%w: index block %s: %v", ErrUpstream, blockID, err)
	}

	rep := &datatypes.BlockVectorRepresentation{
		BlockID:        blockID,
		VectorDB:       vectors.DBName,
		VectorKey:      key,
		TaxonomyFilter: taxonomyOrEmpty(detail.Taxonomy),
	}
	err = m.db.WithTx(ctx, func(q store.Querier) error {
		if err := store.UpsertBlockVector(ctx, q, rep); err != nil {
			return err
		}
		return m.write(ctx, q, userID, datatypes.ActionUpdate, datatypes.EntityBlock, blockID.String(),
			map[string]any{"vector_key": key})
	})
	if err != nil {
		return nil, translate(err)
	}
	return rep, nil
}

func (m *BlockManager) vectorFor(ctx context.Context, vector []float32, text string) ([]float32, error) {
	if len(vector) > 0 {
		return vector, nil
	}
	if m.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured; send a vector instead of text", ErrInvalidInput)
	}
	v, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", ErrUpstream, err)
	}
	return v, nil
}

// =============================================================================
// Helpers
// =============================================================================

type blockSpec struct {
	name, blockType, description string
	taxonomy, metadata           map[string]any
}

// insertBlock writes a block, its first version and its taxonomy links.
func insertBlock(ctx context.Context, q store.Querier, userID string, spec blockSpec) (*datatypes.BlockDetail, error) {
	blockType, err := datatypes.ParseBlockType(spec.blockType)
	if err != nil {
		return nil, err
	}
	block := &datatypes.Block{
		Name:        spec.name,
		BlockType:   blockType,
		Description: spec.description,
		CreatedBy:   userID,
	}
	if err := store.CreateBlock(ctx, q, block); err != nil {
		return nil, err
	}
	version, err := newBlockVersion(ctx, q, block, spec.metadata, userID)
	if err != nil {
		return nil, err
	}
	if len(spec.taxonomy) > 0 {
		if err := linkTaxonomy(ctx, q, block.ID, spec.taxonomy); err != nil {
			return nil, err
		}
	}
	return &datatypes.BlockDetail{Block: *block, CurrentVersion: version, Taxonomy: taxonomyOrEmpty(spec.taxonomy)}, nil
}

// newBlockVersion creates the next version of block and makes it current.
func newBlockVersion(ctx context.Context, q store.Querier, block *datatypes.Block, metadata map[string]any, userID string) (*datatypes.BlockVersion, error) {
	n, err := store.NextBlockVersionNumber(ctx, q, block.ID)
	if err != nil {
		return nil, err
	}
	version := &datatypes.BlockVersion{
		BlockID:       block.ID,
		VersionNumber: n,
		Metadata:      metadata,
		CreatedBy:     userID,
		IsActive:      true,
	}
	if err := store.CreateBlockVersion(ctx, q, version); err != nil {
		return nil, err
	}
	block.CurrentVersionID = &version.ID
	if err := store.UpdateBlock(ctx, q, block); err != nil {
		return nil, err
	}
	return version, nil
}

// linkTaxonomy resolves the document into categories and links them all to
// the block.
func linkTaxonomy(ctx context.Context, q store.Querier, blockID uuid.UUID, doc map[string]any) error {
	ids, err := taxonomy.Process(ctx, doc, func(ctx context.Context, name string, parentID *uuid.UUID) (uuid.UUID, error) {
		return getOrCreateCategory(ctx, q, name, parentID)
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := store.AssociateBlockCategory(ctx, q, blockID, id); err != nil {
			return err
		}
	}
	return nil
}

func getOrCreateCategory(ctx context.Context, q store.Querier, name string, parentID *uuid.UUID) (uuid.UUID, error) {
	existing, err := store.FindCategory(ctx, q, name, parentID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, err
	}
	c := &datatypes.TaxonomyCategory{Name: name, ParentID: parentID}
	if err := store.CreateCategory(ctx, q, c); err != nil {
		return uuid.Nil, err
	}
	return c.ID, nil
}

func taxonomyOrEmpty(t map[string]any) map[string]any {
	if t == nil {
		return map[string]any{}
	}
	return t
}
