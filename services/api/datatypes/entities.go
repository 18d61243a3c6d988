// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the Constellation API entities and request
// schemas.
//
// Entities mirror the Postgres tables one to one. Request types carry
// go-playground/validator tags and expose Validate.
package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Users and API keys
// =============================================================================

type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// APIKey is a stored credential. Only the hash is persisted.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	KeyHash   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Usable reports whether the key is active and unexpired at now.
func (k APIKey) Usable(now time.Time) bool {
	return k.IsActive && k.ExpiresAt.After(now)
}

// =============================================================================
// Blocks
// =============================================================================

type Block struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	BlockType        BlockType  `json:"block_type"`
	Description      string     `json:"description"`
	CreatedBy        string     `json:"created_by"`
	CurrentVersionID *uuid.UUID `json:"current_version_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type BlockVersion struct {
	ID            uuid.UUID      `json:"id"`
	BlockID       uuid.UUID      `json:"block_id"`
	VersionNumber int            `json:"version_number"`
	Metadata      map[string]any `json:"metadata"`
	CreatedBy     string         `json:"created_by"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TaxonomyCategory is one node of the category tree. Root categories have a
// nil ParentID.
type TaxonomyCategory struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type BlockTaxonomy struct {
	BlockID    uuid.UUID `json:"block_id"`
	CategoryID uuid.UUID `json:"category_id"`
}

// BlockVectorRepresentation records where a block's embedding lives.
type BlockVectorRepresentation struct {
	ID             uuid.UUID      `json:"id"`
	BlockID        uuid.UUID      `json:"block_id"`
	VectorDB       string         `json:"vector_db"`
	VectorKey      string         `json:"vector_key"`
	TaxonomyFilter map[string]any `json:"taxonomy_filter"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// BlockDetail is the read model returned by GET /v1/blocks/:id.
type BlockDetail struct {
	Block
	CurrentVersion *BlockVersion              `json:"current_version,omitempty"`
	Taxonomy       map[string]any             `json:"taxonomy"`
	Vector         *BlockVectorRepresentation `json:"vector_representation,omitempty"`
}

// =============================================================================
// Edges
// =============================================================================

type Edge struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	EdgeType         EdgeType   `json:"edge_type"`
	Description      string     `json:"description"`
	SourceBlockID    uuid.UUID  `json:"source_block_id"`
	TargetBlockID    uuid.UUID  `json:"target_block_id"`
	CurrentVersionID *uuid.UUID `json:"current_version_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type EdgeVersion struct {
	ID            uuid.UUID      `json:"id"`
	EdgeID        uuid.UUID      `json:"edge_id"`
	VersionNumber int            `json:"version_number"`
	Metadata      map[string]any `json:"metadata"`
	CreatedBy     string         `json:"created_by"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
}

type EdgeVerification struct {
	ID                 uuid.UUID          `json:"id"`
	EdgeVersionID      uuid.UUID          `json:"edge_version_id"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerificationLogs   string             `json:"verification_logs"`
	VerifiedAt         time.Time          `json:"verified_at"`
	VerifiedBy         string             `json:"verified_by"`
}

// =============================================================================
// Pipelines
// =============================================================================

type Pipeline struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Config         map[string]any `json:"dagster_pipeline_config"`
	CreatedBy      string         `json:"created_by"`
	TimesRun       int            `json:"times_run"`
	AverageRuntime float64        `json:"average_runtime"`
	RunID          *string        `json:"run_id,omitempty"`
	Status         PipelineStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type PipelineBlock struct {
	PipelineID uuid.UUID `json:"pipeline_id"`
	BlockID    uuid.UUID `json:"block_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type PipelineEdge struct {
	PipelineID    uuid.UUID `json:"pipeline_id"`
	EdgeID        uuid.UUID `json:"edge_id"`
	SourceBlockID uuid.UUID `json:"source_block_id"`
	TargetBlockID uuid.UUID `json:"target_block_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// PipelineDetail is a pipeline with its member blocks and edges.
type PipelineDetail struct {
	Pipeline
	Blocks []Block `json:"blocks"`
	Edges  []Edge  `json:"edges"`
}

// VerificationReport is the result of POST /v1/pipelines/verify/:id.
type VerificationReport struct {
	PipelineID uuid.UUID   `json:"pipeline_id"`
	Valid      bool        `json:"valid"`
	Reason     string      `json:"reason"`
	Order      []uuid.UUID `json:"order,omitempty"`
}

// RunResult is returned by the pipeline run endpoints.
type RunResult struct {
	PipelineID uuid.UUID      `json:"pipeline_id"`
	RunID      string         `json:"run_id"`
	Status     PipelineStatus `json:"status"`
}

// =============================================================================
// Audit and papers
// =============================================================================

type AuditLog struct {
	ID         uuid.UUID      `json:"id"`
	UserID     string         `json:"user_id"`
	ActionType ActionType     `json:"action_type"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details"`
}

type Paper struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Abstract  string     `json:"abstract"`
	PDFURL    string     `json:"pdf_url"`
	BlockID   *uuid.UUID `json:"block_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SimilarityResult is one hit from a vector search.
type SimilarityResult struct {
	BlockID   uuid.UUID `json:"block_id"`
	Certainty float64   `json:"certainty"`
	Block     *Block    `json:"block,omitempty"`
}
