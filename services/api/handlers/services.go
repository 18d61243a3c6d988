// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/agent"
	"github.com/ConstellationAI/constellation/services/api/core"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/store"
)

// =============================================================================
// Manager contracts
// =============================================================================
//
// The core managers satisfy these; tests substitute fakes.

type BlockService interface {
	Create(ctx context.Context, userID string, req *datatypes.BlockCreateRequest) (*datatypes.BlockDetail, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*datatypes.BlockDetail, error)
	Update(ctx context.Context, userID string, id uuid.UUID, req *datatypes.BlockUpdateRequest) (*datatypes.Block, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]datatypes.Block, error)
	AssignVersion(ctx context.Context, userID string, id uuid.UUID, req *datatypes.AssignVersionRequest) (*datatypes.Block, error)
	SearchByTaxonomy(ctx context.Context, req *datatypes.TaxonomySearchRequest) ([]datatypes.Block, error)
	SimilaritySearch(ctx context.Context, req *datatypes.SimilaritySearchRequest) ([]datatypes.SimilarityResult, error)
	IndexVector(ctx context.Context, userID string, id uuid.UUID, req *datatypes.VectorIndexRequest) (*datatypes.BlockVectorRepresentation, error)
}

type EdgeService interface {
	CanConnect(ctx context.Context, source, target uuid.UUID) error
	Create(ctx context.Context, userID string, req *datatypes.EdgeCreateRequest) (*datatypes.Edge, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*datatypes.Edge, error)
	Update(ctx context.Context, userID string, id uuid.UUID, req *datatypes.EdgeUpdateRequest) (*datatypes.Edge, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	List(ctx context.Context, filter store.EdgeFilter, limit, offset int) ([]datatypes.Edge, error)
	AssignVersion(ctx context.Context, userID string, id uuid.UUID, req *datatypes.AssignVersionRequest) (*datatypes.Edge, error)
	Verify(ctx context.Context, userID string, id uuid.UUID, req *datatypes.EdgeVerifyRequest) (*datatypes.EdgeVerification, error)
}

type PipelineService interface {
	Create(ctx context.Context, userID string, req *datatypes.PipelineCreateRequest) (*datatypes.Pipeline, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*datatypes.PipelineDetail, error)
	Update(ctx context.Context, userID string, id uuid.UUID, req *datatypes.PipelineUpdateRequest) (*datatypes.Pipeline, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]datatypes.Pipeline, error)
	CreateWithDependencies(ctx context.Context, userID string, req *datatypes.PipelineWithDependenciesRequest) (*datatypes.PipelineDetail, error)
	DeleteWithDependencies(ctx context.Context, userID string, id uuid.UUID) error
	Verify(ctx context.Context, userID string, id uuid.UUID) (*datatypes.VerificationReport, error)
	Run(ctx context.Context, userID string, id uuid.UUID) (*datatypes.RunResult, error)
	RunInstructions(ctx context.Context, userID string, req *datatypes.PipelineRunRequest) (*datatypes.RunResult, error)
	UpdateStatusByRunID(ctx context.Context, userID, runID string, req *datatypes.RunStatusUpdateRequest) (*datatypes.Pipeline, error)
}

type AuditService interface {
	Create(ctx context.Context, req *datatypes.AuditLogCreateRequest) (*datatypes.AuditLog, error)
	Get(ctx context.Context, id uuid.UUID) (*datatypes.AuditLog, error)
	List(ctx context.Context, filter *datatypes.AuditLogFilter) ([]datatypes.AuditLog, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, req *datatypes.AuditLogUpdateRequest) (*datatypes.AuditLog, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type UserService interface {
	Create(ctx context.Context, actorID string, req *datatypes.UserCreateRequest) (*datatypes.User, error)
	Register(ctx context.Context, req *datatypes.UserCreateRequest) (*datatypes.User, error)
	Get(ctx context.Context, actorID string, id uuid.UUID) (*datatypes.User, error)
	Update(ctx context.Context, actorID string, id uuid.UUID, req *datatypes.UserUpdateRequest) (*datatypes.User, error)
	Delete(ctx context.Context, actorID string, id uuid.UUID) error
	List(ctx context.Context, actorID string, limit, offset int) ([]datatypes.User, error)
	Authenticate(ctx context.Context, req *datatypes.AuthenticateRequest) (*datatypes.User, error)
}

type APIKeyService interface {
	Create(ctx context.Context, actorID string, userID uuid.UUID, req *datatypes.APIKeyCreateRequest) (*datatypes.APIKeyCreated, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]datatypes.APIKey, error)
	Revoke(ctx context.Context, actorID string, id uuid.UUID) error
	Delete(ctx context.Context, actorID string, id uuid.UUID) error
}

type PaperService interface {
	Create(ctx context.Context, req *datatypes.PaperCreateRequest) (*datatypes.Paper, error)
	Get(ctx context.Context, id uuid.UUID) (*datatypes.Paper, error)
	Update(ctx context.Context, id uuid.UUID, req *datatypes.PaperUpdateRequest) (*datatypes.Paper, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]datatypes.Paper, error)
	AssociateBlock(ctx context.Context, paperID, blockID uuid.UUID) (*datatypes.Paper, error)
	DisassociateBlock(ctx context.Context, paperID, blockID uuid.UUID) (*datatypes.Paper, error)
}

// =============================================================================
// Agent contracts
// =============================================================================

type Planner interface {
	Plan(ctx context.Context, query string, blocks []datatypes.BlockDetail) (*agent.PlanResult, error)
}

type Researcher interface {
	Research(ctx context.Context, query string, topK int) (*agent.ResearchResult, error)
}

type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*agent.Session, error)
	Update(ctx context.Context, id uuid.UUID, data map[string]any) (*agent.Session, error)
	Append(ctx context.Context, id uuid.UUID, ex agent.Exchange) error
	Delete(ctx context.Context, id uuid.UUID) error
}

var (
	_ BlockService    = (*core.BlockManager)(nil)
	_ EdgeService     = (*core.EdgeManager)(nil)
	_ PipelineService = (*core.PipelineManager)(nil)
	_ AuditService    = (*core.AuditManager)(nil)
	_ UserService     = (*core.UserManager)(nil)
	_ APIKeyService   = (*core.APIKeyManager)(nil)
	_ PaperService    = (*core.PaperManager)(nil)
)
