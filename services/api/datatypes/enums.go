// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"slices"
)

// BlockType classifies a block.
type BlockType string

const (
	BlockTypeDataset BlockType = "dataset"
	BlockTypeModel   BlockType = "model"
	BlockTypePaper   BlockType = "paper"
)

// BlockTypes lists every valid BlockType.
var BlockTypes = []BlockType{BlockTypeDataset, BlockTypeModel, BlockTypePaper}

// EdgeType ranks how strongly a target depends on its source.
type EdgeType string

const (
	EdgeTypePrimary   EdgeType = "primary"
	EdgeTypeSecondary EdgeType = "secondary"
	EdgeTypeTertiary  EdgeType = "tertiary"
)

var EdgeTypes = []EdgeType{EdgeTypePrimary, EdgeTypeSecondary, EdgeTypeTertiary}

// VerificationStatus is the outcome of an edge verification.
type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationPassed  VerificationStatus = "passed"
	VerificationFailed  VerificationStatus = "failed"
)

var VerificationStatuses = []VerificationStatus{VerificationPending, VerificationPassed, VerificationFailed}

// PipelineStatus tracks a pipeline's most recent run.
type PipelineStatus string

const (
	PipelineCreated   PipelineStatus = "created"
	PipelineRunning   PipelineStatus = "running"
	PipelineSucceeded PipelineStatus = "succeeded"
	PipelineFailed    PipelineStatus = "failed"
)

var PipelineStatuses = []PipelineStatus{PipelineCreated, PipelineRunning, PipelineSucceeded, PipelineFailed}

// Terminal reports whether the status ends a run.
func (s PipelineStatus) Terminal() bool {
	return s == PipelineSucceeded || s == PipelineFailed
}

// ActionType is the verb recorded in an audit log.
type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionRead   ActionType = "READ"
	ActionUpdate ActionType = "UPDATE"
	ActionDelete ActionType = "DELETE"
)

var ActionTypes = []ActionType{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// EntityType is the noun recorded in an audit log.
type EntityType string

const (
	EntityBlock        EntityType = "block"
	EntityEdge         EntityType = "edge"
	EntityPipeline     EntityType = "pipeline"
	EntityTaxonomy     EntityType = "taxonomy"
	EntityMetadata     EntityType = "metadata"
	EntityUser         EntityType = "user"
	EntityAPIKey       EntityType = "api_key"
	EntityCodeRepo     EntityType = "code_repo"
	EntityDockerImage  EntityType = "docker_image"
	EntityVerification EntityType = "verification"
)

var EntityTypes = []EntityType{
	EntityBlock, EntityEdge, EntityPipeline, EntityTaxonomy, EntityMetadata,
	EntityUser, EntityAPIKey, EntityCodeRepo, EntityDockerImage, EntityVerification,
}

// Role is a user's access level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

var Roles = []Role{RoleAdmin, RoleUser}

func parseEnum[T ~string](kind, s string, valid []T) (T, error) {
	v := T(s)
	if slices.Contains(valid, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("%w: unknown %s %q (valid: %v)", ErrInvalidEnum, kind, s, valid)
}

// ParseBlockType validates s as a BlockType.
func ParseBlockType(s string) (BlockType, error) { return parseEnum("block type", s, BlockTypes) }

// ParseEdgeType validates s as an EdgeType.
func ParseEdgeType(s string) (EdgeType, error) { return parseEnum("edge type", s, EdgeTypes) }

// ParseVerificationStatus validates s as a VerificationStatus.
func ParseVerificationStatus(s string) (VerificationStatus, error) {
	return parseEnum("verification status", s, VerificationStatuses)
}

// ParsePipelineStatus validates s as a PipelineStatus.
func ParsePipelineStatus(s string) (PipelineStatus, error) {
	return parseEnum("pipeline status", s, PipelineStatuses)
}

// ParseActionType validates s as an ActionType.
func ParseActionType(s string) (ActionType, error) { return parseEnum("action type", s, ActionTypes) }

// ParseEntityType validates s as an EntityType.
func ParseEntityType(s string) (EntityType, error) { return parseEnum("entity type", s, EntityTypes) }

// ParseRole validates s as a Role.
func ParseRole(s string) (Role, error) { return parseEnum("role", s, Roles) }
