// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectors stores block embeddings in Weaviate and runs similarity
// search over them.
package vectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/taxonomy"
)

// ClassName is the Weaviate class holding block vectors.
const ClassName = "BlockVector"

// DBName is recorded in BlockVectorRepresentation.VectorDB.
const DBName = "weaviate"

// objectNamespace seeds the deterministic object ids.
var objectNamespace = uuid.MustParse("6f1c9a52-3b7e-4d8e-9a41-7c0b3d2e5f10")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the vector index the block manager writes to and searches.
type Index interface {
	Index(ctx context.Context, block datatypes.Block, tax map[string]any, vector []float32) (string, error)
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error)
	Delete(ctx context.Context, blockID uuid.UUID) error
}

// Filter narrows a similarity search. Zero value matches everything.
type Filter struct {
	BlockType string
	Taxonomy  map[string]any
}

// Hit is one search result.
type Hit struct {
	BlockID   uuid.UUID
	Certainty float64
}

// ObjectID returns the Weaviate object id used for a block.
func ObjectID(blockID uuid.UUID) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, blockID[:]).String())
}

// TaxonomyTerms renders a taxonomy document as "key:value" terms, the form
// stored in the taxonomy property and matched by Filter.Taxonomy.
func TaxonomyTerms(tax map[string]any) []string {
	pairs := taxonomy.Leaves(tax)
	terms := make([]string, 0, len(pairs))
	for _, p := range pairs {
		terms = append(terms, p.Key+":"+p.Value)
	}
	return terms
}

// =============================================================================
// Schema
// =============================================================================

// BlockVectorSchema is the class definition for block vectors.
func BlockVectorSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassName,
		Description: "Embedding of a Constellation block.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "block_id",
				DataType:        []string{"text"},
				Description:     "UUID of the block in Postgres.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "name",
				DataType:    []string{"text"},
				Description: "Block name.",
			},
			{
				Name:            "block_type",
				DataType:        []string{"text"},
				Description:     "dataset, model or paper.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "description",
				DataType:    []string{"text"},
				Description: "Block description.",
			},
			{
				Name:            "taxonomy",
				DataType:        []string{"text[]"},
				Description:     "Taxonomy terms as key:value.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// =============================================================================
// Weaviate index
// =============================================================================

// WeaviateIndex implements Index on a Weaviate client.
type WeaviateIndex struct {
	client *weaviate.Client
}

// NewWeaviateIndex connects to the Weaviate instance at rawURL.
func NewWeaviateIndex(rawURL string) (*WeaviateIndex, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return &WeaviateIndex{client: client}, nil
}

// EnsureSchema creates the BlockVector class when it is missing.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	class := BlockVectorSchema()
	if _, err := w.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}
	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	return nil
}

// Index upserts the vector of block and returns the object id.
func (w *WeaviateIndex) Index(ctx context.Context, block datatypes.Block, tax map[string]any, vector []float32) (string, error) {
	if len(vector) == 0 {
		return "", errors.New("vectors: empty vector")
	}
	obj := &models.Object{
		Class:  ClassName,
		ID:     ObjectID(block.ID),
		Vector: vector,
		Properties: map[string]interface{}{
			"block_id":    block.ID.String(),
			"name":        block.Name,
			"block_type":  string(block.BlockType),
			"description": block.Description,
			"taxonomy":    TaxonomyTerms(tax),
		},
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("vectors: batch import: %w", err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return "", fmt.Errorf("vectors: batch import: %s", item.Result.Errors.Error[0].Message)
		}
	}
	return string(obj.ID), nil
}

// Search runs a nearVector query and returns up to topK hits.
func (w *WeaviateIndex) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	fields := []graphql.Field{
		{Name: "block_id"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}
	query := w.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(fields...).
		WithNearVector(w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(topK)
	if where := BuildWhere(filter); where != nil {
		query = query.WithWhere(where)
	}

	resp, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectors: search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("vectors: search: %s", resp.Errors[0].Message)
	}
	return ParseHits(resp)
}

// Delete removes the block's object. A missing object is not an error.
func (w *WeaviateIndex) Delete(ctx context.Context, blockID uuid.UUID) error {
	err := w.client.Data().Deleter().
		WithClassName(ClassName).
		WithID(string(ObjectID(blockID))).
		Do(ctx)
	var clientErr *fault.WeaviateClientError
	if errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vectors: delete: %w", err)
	}
	return nil
}

// BuildWhere converts a Filter to a Weaviate where clause, or nil when the
// filter is empty.
func BuildWhere(filter Filter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if filter.BlockType != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"block_type"}).
			WithOperator(filters.Equal).
			WithValueText(filter.BlockType))
	}
	if terms := TaxonomyTerms(filter.Taxonomy); len(terms) > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"taxonomy"}).
			WithOperator(filters.ContainsAll).
			WithValueText(terms...))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

// searchResponse is the GraphQL shape of a BlockVector Get query.
type searchResponse struct {
	Get struct {
		BlockVector []struct {
			BlockID    string `json:"block_id"`
			Additional struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"BlockVector"`
	} `json:"Get"`
}

// ParseHits decodes a GraphQL response. Objects whose block_id is not a
// UUID are skipped.
func ParseHits(resp *models.GraphQLResponse) ([]Hit, error) {
	if resp == nil {
		return nil, errors.New("nil GraphQL response")
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search response: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Get.BlockVector))
	for _, obj := range parsed.Get.BlockVector {
		id, err := uuid.Parse(obj.BlockID)
		if err != nil {
			slog.Warn("Skipping vector with invalid block id", "block_id", obj.BlockID)
			continue
		}
		hits = append(hits, Hit{BlockID: id, Certainty: obj.Additional.Certainty})
	}
	return hits, nil
}
