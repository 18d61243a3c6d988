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
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/vectors"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vec, s.err
}

func expectBlockInsert(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("INSERT INTO blocks").WithArgs(anyArgs(8)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version_number\), 0\) \+ 1 FROM block_versions`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectExec("INSERT INTO block_versions").WithArgs(anyArgs(7)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE blocks").WithArgs(anyArgs(6)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func TestBlockManager_Create(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewBlockManager(db, nil, nil, testMetrics())

	mock.ExpectBegin()
	expectBlockInsert(mock)
	expectAudit(mock)
	mock.ExpectCommit()

	detail, err := m.Create(context.Background(), "user-1", &datatypes.BlockCreateRequest{
		Name:      "ERA5",
		BlockType: "dataset",
		Metadata:  map[string]any{"path": "gs://era5"},
	})

	require.NoError(t, err)
	assert.Equal(t, "ERA5", detail.Name)
	assert.Equal(t, datatypes.BlockTypeDataset, detail.BlockType)
	assert.Equal(t, "user-1", detail.CreatedBy)
	require.NotNil(t, detail.CurrentVersion)
	assert.Equal(t, 1, detail.CurrentVersion.VersionNumber)
	require.NotNil(t, detail.CurrentVersionID)
	assert.Equal(t, detail.CurrentVersion.ID, *detail.CurrentVersionID)
	assert.Equal(t, map[string]any{}, detail.Taxonomy)
}

func TestBlockManager_Create_WithTaxonomy(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewBlockManager(db, nil, nil, nil)

	mock.ExpectBegin()
	expectBlockInsert(mock)
	// "domain" is new, "Ocean" is new under it.
	mock.ExpectQuery("FROM taxonomy_categories").WithArgs("domain", pgxmock.AnyArg()).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO taxonomy_categories").WithArgs(anyArgs(5)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM taxonomy_categories").WithArgs("Ocean", pgxmock.AnyArg()).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO taxonomy_categories").WithArgs(anyArgs(5)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO block_taxonomies").WithArgs(anyArgs(2)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO block_taxonomies").WithArgs(anyArgs(2)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectAudit(mock)
	mock.ExpectCommit()

	detail, err := m.Create(context.Background(), "user-1", &datatypes.BlockCreateRequest{
		Name:      "ERA5",
		BlockType: "dataset",
		Taxonomy:  map[string]any{"domain": "Ocean"},
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"domain": "Ocean"}, detail.Taxonomy)
}

func TestBlockManager_Create_Invalid(t *testing.T) {
	db, _ := newMockStore(t)
	m := NewBlockManager(db, nil, nil, nil)

	_, err := m.Create(context.Background(), "user-1", &datatypes.BlockCreateRequest{Name: "x", BlockType: "spreadsheet"})

	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBlockManager_Get_NotFound(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewBlockManager(db, nil, nil, nil)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM blocks WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := m.Get(context.Background(), "user-1", id)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlockManager_Get(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewBlockManager(db, nil, nil, nil)
	id, versionID, domainID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM blocks WHERE id").WithArgs(id).WillReturnRows(blockRow(id, "ERA5", &versionID))
	mock.ExpectQuery("FROM block_versions WHERE id").WithArgs(versionID).
		WillReturnRows(pgxmock.NewRows(versionCols).AddRow(versionID, id, 2, []byte(`{"k":"v"}`), "tester", true, now))
	mock.ExpectQuery("FROM block_taxonomies").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "parent_id", "created_at", "updated_at"}).
			AddRow(domainID, "domain", nil, now, now).
			AddRow(uuid.New(), "Ocean", &domainID, now, now))
	mock.ExpectQuery("FROM block_vector_representations").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	expectAudit(mock)
	mock.ExpectCommit()

	detail, err := m.Get(context.Background(), "user-1", id)

	require.NoError(t, err)
	require.NotNil(t, detail.CurrentVersion)
	assert.Equal(t, 2, detail.CurrentVersion.VersionNumber)
	assert.Equal(t, map[string]any{"k": "v"}, detail.CurrentVersion.Metadata)
	assert.Equal(t, map[string]any{"domain": "Ocean"}, detail.Taxonomy)
	assert.Nil(t, detail.Vector)
}

func TestBlockManager_AssignVersion_ForeignVersion(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewBlockManager(db, nil, nil, nil)
	blockID, versionID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM blocks WHERE id").WithArgs(blockID).WillReturnRows(blockRow(blockID, "a", nil))
	mock.ExpectQuery("FROM block_versions WHERE id").WithArgs(versionID).
		WillReturnRows(pgxmock.NewRows(versionCols).AddRow(versionID, uuid.New(), 1, []byte(`{}`), "tester", true, now))
	mock.ExpectRollback()

	_, err := m.AssignVersion(context.Background(), "user-1", blockID, &datatypes.AssignVersionRequest{VersionID: versionID.String()})

	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBlockManager_SearchByTaxonomy_Intersects(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewBlockManager(db, nil, nil, nil)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT DISTINCT bt.block_id").WithArgs("domain", "Ocean").
		WillReturnRows(pgxmock.NewRows([]string{"block_id"}).AddRow(a).AddRow(b))
	mock.ExpectQuery("SELECT DISTINCT bt.block_id").WithArgs("format", "netcdf").
		WillReturnRows(pgxmock.NewRows([]string{"block_id"}).AddRow(b).AddRow(c))
	mock.ExpectQuery("WHERE id = ANY").WithArgs([]string{b.String()}).WillReturnRows(blockRow(b, "b", nil))

	blocks, err := m.SearchByTaxonomy(context.Background(), &datatypes.TaxonomySearchRequest{
		Filters: map[string]any{"domain": "Ocean", "format": "netcdf"},
	})

	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, b, blocks[0].ID)
}

func TestBlockManager_SearchByTaxonomy_NoMatchShortCircuits(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewBlockManager(db, nil, nil, nil)

	mock.ExpectQuery("SELECT DISTINCT bt.block_id").WithArgs("domain", "Ocean").
		WillReturnRows(pgxmock.NewRows([]string{"block_id"}))

	blocks, err := m.SearchByTaxonomy(context.Background(), &datatypes.TaxonomySearchRequest{
		Filters: map[string]any{"domain": "Ocean", "format": "netcdf"},
	})

	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestBlockManager_SimilaritySearch(t *testing.T) {
	db, mock := newMockStore(t)
	index := vectors.NewMemoryIndex()
	m := NewBlockManager(db, index, stubEmbedder{vec: []float32{1, 0}}, nil)
	near, far := uuid.New(), uuid.New()

	_, err := index.Index(context.Background(), datatypes.Block{ID: near, BlockType: datatypes.BlockTypeModel}, nil, []float32{1, 0.1})
	require.NoError(t, err)
	_, err = index.Index(context.Background(), datatypes.Block{ID: far, BlockType: datatypes.BlockTypeModel}, nil, []float32{0, 1})
	require.NoError(t, err)

	mock.ExpectQuery("WHERE id = ANY").WithArgs(pgxmock.AnyArg()).WillReturnRows(blockRow(near, "near", nil))

	results, err := m.SimilaritySearch(context.Background(), &datatypes.SimilaritySearchRequest{Query: "sea ice", TopK: 1})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, near, results[0].BlockID)
	require.NotNil(t, results[0].Block)
	assert.Equal(t, "near", results[0].Block.Name)
}

func TestBlockManager_SimilaritySearch_TextWithoutEmbedder(t *testing.T) {
	db, _ := newMockStore(t)
	m := NewBlockManager(db, vectors.NewMemoryIndex(), nil, nil)

	_, err := m.SimilaritySearch(context.Background(), &datatypes.SimilaritySearchRequest{Query: "sea ice"})

	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBlockManager_SimilaritySearch_EmbedFailure(t *testing.T) {
	db, _ := newMockStore(t)
	m := NewBlockManager(db, vectors.NewMemoryIndex(), stubEmbedder{err: errors.New("quota")}, nil)

	_, err := m.SimilaritySearch(context.Background(), &datatypes.SimilaritySearchRequest{Query: "sea ice"})

	assert.ErrorIs(t, err, ErrUpstream)
}

func TestBlockManager_Delete(t *testing.T) {
	db, mock := newMockStore(t)
	index := vectors.NewMemoryIndex()
	m := NewBlockManager(db, index, nil, nil)
	id := uuid.New()
	_, err := index.Index(context.Background(), datatypes.Block{ID: id}, nil, []float32{1})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM block_taxonomies").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM block_vector_representations").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM blocks").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	expectAudit(mock)
	mock.ExpectCommit()

	require.NoError(t, m.Delete(context.Background(), "user-1", id))

	hits, err := index.Search(context.Background(), []float32{1}, 10, vectors.Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}
