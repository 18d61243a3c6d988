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
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidEnum is wrapped by the Parse* functions.
var ErrInvalidEnum = errors.New("invalid enum value")

// ErrValidation is wrapped by every Validate method.
var ErrValidation = errors.New("validation failed")

// =============================================================================
// Shared Validator Instance
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("nospace", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), " \t\n")
	})
}

// check runs the struct validator and flattens field errors into one
// message such as "validation failed: name is required".
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "email":
		return field + " must be a valid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "nospace":
		return field + " must not contain spaces"
	case "uuid":
		return field + " must be a UUID"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// =============================================================================
// Blocks
// =============================================================================

type BlockCreateRequest struct {
	Name        string         `json:"name" validate:"required,max=255"`
	BlockType   string         `json:"block_type" validate:"required,oneof=dataset model paper"`
	Description string         `json:"description"`
	Taxonomy    map[string]any `json:"taxonomy,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (r *BlockCreateRequest) Validate() error { return check(r) }

// BlockUpdateRequest is a partial update. A non-nil Metadata creates a new
// version. A non-nil Taxonomy replaces the block's categories.
type BlockUpdateRequest struct {
	Name        *string        `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	BlockType   *string        `json:"block_type,omitempty" validate:"omitempty,oneof=dataset model paper"`
	Description *string        `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Taxonomy    map[string]any `json:"taxonomy,omitempty"`
}

func (r *BlockUpdateRequest) Validate() error { return check(r) }

type AssignVersionRequest struct {
	VersionID string `json:"version_id" validate:"required,uuid"`
}

func (r *AssignVersionRequest) Validate() error { return check(r) }

type TaxonomySearchRequest struct {
	Filters map[string]any `json:"filters" validate:"required,min=1"`
}

func (r *TaxonomySearchRequest) Validate() error { return check(r) }

// SimilaritySearchRequest needs Query or Vector. TopK defaults to 10.
type SimilaritySearchRequest struct {
	Query           string         `json:"query"`
	Vector          []float32      `json:"vector,omitempty"`
	TopK            int            `json:"top_k" validate:"gte=0,lte=100"`
	BlockType       string         `json:"block_type,omitempty" validate:"omitempty,oneof=dataset model paper"`
	TaxonomyFilters map[string]any `json:"taxonomy_filters,omitempty"`
}

func (r *SimilaritySearchRequest) Validate() error {
	if err := check(r); err != nil {
		return err
	}
	if strings.TrimSpace(r.Query) == "" && len(r.Vector) == 0 {
		return fmt.Errorf("%w: query or vector is required", ErrValidation)
	}
	return nil
}

// VectorIndexRequest stores a vector for a block. Text is embedded when
// Vector is empty.
type VectorIndexRequest struct {
	Vector []float32 `json:"vector,omitempty"`
	Text   string    `json:"text,omitempty"`
}

func (r *VectorIndexRequest) Validate() error {
	if len(r.Vector) == 0 && strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: vector or text is required", ErrValidation)
	}
	return nil
}

// =============================================================================
// Edges
// =============================================================================

type EdgeCreateRequest struct {
	Name          string         `json:"name" validate:"required,max=255"`
	EdgeType      string         `json:"edge_type" validate:"required,oneof=primary secondary tertiary"`
	Description   string         `json:"description"`
	SourceBlockID string         `json:"source_block_id" validate:"required,uuid"`
	TargetBlockID string         `json:"target_block_id" validate:"required,uuid"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (r *EdgeCreateRequest) Validate() error { return check(r) }

type EdgeUpdateRequest struct {
	Name        *string        `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	EdgeType    *string        `json:"edge_type,omitempty" validate:"omitempty,oneof=primary secondary tertiary"`
	Description *string        `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (r *EdgeUpdateRequest) Validate() error { return check(r) }

type EdgeVerifyRequest struct {
	Status string `json:"verification_status" validate:"required,oneof=pending passed failed"`
	Logs   string `json:"verification_logs"`
}

func (r *EdgeVerifyRequest) Validate() error { return check(r) }

// =============================================================================
// Pipelines
// =============================================================================

type PipelineCreateRequest struct {
	Name        string         `json:"name" validate:"required,max=255"`
	Description string         `json:"description"`
	Config      map[string]any `json:"dagster_pipeline_config,omitempty"`
}

func (r *PipelineCreateRequest) Validate() error { return check(r) }

type PipelineUpdateRequest struct {
	Name        *string        `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string        `json:"description,omitempty"`
	Config      map[string]any `json:"dagster_pipeline_config,omitempty"`
	Status      *string        `json:"status,omitempty" validate:"omitempty,oneof=created running succeeded failed"`
}

func (r *PipelineUpdateRequest) Validate() error { return check(r) }

// PipelineBlockSpec names a block to reuse (by name) or create.
type PipelineBlockSpec struct {
	Name        string         `json:"name" validate:"required,max=255"`
	BlockType   string         `json:"block_type" validate:"required,oneof=dataset model paper"`
	Description string         `json:"description"`
	Taxonomy    map[string]any `json:"taxonomy,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PipelineEdgeSpec connects two blocks of the same request by name.
type PipelineEdgeSpec struct {
	Name        string `json:"name" validate:"required,max=255"`
	EdgeType    string `json:"edge_type" validate:"required,oneof=primary secondary tertiary"`
	Description string `json:"description"`
	Source      string `json:"source" validate:"required"`
	Target      string `json:"target" validate:"required"`
}

type PipelineWithDependenciesRequest struct {
	Name        string              `json:"name" validate:"required,max=255"`
	Description string              `json:"description"`
	Blocks      []PipelineBlockSpec `json:"blocks" validate:"dive"`
	Edges       []PipelineEdgeSpec  `json:"edges" validate:"dive"`
}

// Validate also checks that every edge endpoint names a block in Blocks.
func (r *PipelineWithDependenciesRequest) Validate() error {
	if err := check(r); err != nil {
		return err
	}
	names := make(map[string]struct{}, len(r.Blocks))
	for _, b := range r.Blocks {
		names[b.Name] = struct{}{}
	}
	for _, e := range r.Edges {
		for _, end := range []string{e.Source, e.Target} {
			if _, ok := names[end]; !ok {
				return fmt.Errorf("%w: edge %q references unknown block %q", ErrValidation, e.Name, end)
			}
		}
	}
	return nil
}

// PipelineRunRequest carries raw instructions for POST /v1/pipelines/run.
type PipelineRunRequest struct {
	Name         string `json:"name,omitempty"`
	Instructions any    `json:"instructions" validate:"required"`
}

func (r *PipelineRunRequest) Validate() error { return check(r) }

// RunStatusUpdateRequest is the orchestrator's completion callback.
type RunStatusUpdateRequest struct {
	Status         string  `json:"status" validate:"required,oneof=running succeeded failed"`
	RuntimeSeconds float64 `json:"runtime_seconds" validate:"gte=0"`
}

func (r *RunStatusUpdateRequest) Validate() error { return check(r) }

// =============================================================================
// Audit logs
// =============================================================================

type AuditLogCreateRequest struct {
	UserID     string         `json:"user_id" validate:"required"`
	ActionType string         `json:"action_type" validate:"required,oneof=CREATE READ UPDATE DELETE"`
	EntityType string         `json:"entity_type" validate:"required,oneof=block edge pipeline taxonomy metadata user api_key code_repo docker_image verification"`
	EntityID   string         `json:"entity_id" validate:"required"`
	Details    map[string]any `json:"details,omitempty"`
}

func (r *AuditLogCreateRequest) Validate() error { return check(r) }

// AuditLogFilter is bound from query parameters.
type AuditLogFilter struct {
	UserID     string `form:"user_id"`
	ActionType string `form:"action_type" validate:"omitempty,oneof=CREATE READ UPDATE DELETE"`
	EntityType string `form:"entity_type" validate:"omitempty,oneof=block edge pipeline taxonomy metadata user api_key code_repo docker_image verification"`
	EntityID   string `form:"entity_id"`
	Limit      int    `form:"limit" validate:"gte=0,lte=1000"`
	Offset     int    `form:"offset" validate:"gte=0"`
}

func (r *AuditLogFilter) Validate() error { return check(r) }

type AuditLogUpdateRequest struct {
	Details map[string]any `json:"details" validate:"required"`
}

func (r *AuditLogUpdateRequest) Validate() error { return check(r) }

// =============================================================================
// Users and API keys
// =============================================================================

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,nospace"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=admin user"`
}

func (r *UserCreateRequest) Validate() error { return check(r) }

type UserUpdateRequest struct {
	Username *string `json:"username,omitempty" validate:"omitempty,min=3,max=50,nospace"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=8"`
	Role     *string `json:"role,omitempty" validate:"omitempty,oneof=admin user"`
}

func (r *UserUpdateRequest) Validate() error { return check(r) }

type AuthenticateRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *AuthenticateRequest) Validate() error { return check(r) }

// APIKeyCreateRequest sets the key lifetime in days. Zero means 30.
type APIKeyCreateRequest struct {
	ExpiresInDays int `json:"expires_in_days" validate:"gte=0,lte=3650"`
}

func (r *APIKeyCreateRequest) Validate() error { return check(r) }

// APIKeyCreated is the one response that ever contains the raw key.
type APIKeyCreated struct {
	APIKey
	Key string `json:"api_key"`
}

// =============================================================================
// Papers
// =============================================================================

type PaperCreateRequest struct {
	Title    string `json:"title" validate:"required"`
	Abstract string `json:"abstract"`
	PDFURL   string `json:"pdf_url" validate:"omitempty,url"`
	BlockID  string `json:"block_id,omitempty" validate:"omitempty,uuid"`
}

func (r *PaperCreateRequest) Validate() error { return check(r) }

type PaperUpdateRequest struct {
	Title    *string `json:"title,omitempty" validate:"omitempty,min=1"`
	Abstract *string `json:"abstract,omitempty"`
	PDFURL   *string `json:"pdf_url,omitempty" validate:"omitempty,url"`
}

func (r *PaperUpdateRequest) Validate() error { return check(r) }

// =============================================================================
// Agents
// =============================================================================

// PlanRequest asks the planning crew to turn a query into instructions.
type PlanRequest struct {
	Query     string   `json:"query" validate:"required"`
	SessionID string   `json:"session_id,omitempty" validate:"omitempty,uuid"`
	BlockIDs  []string `json:"block_ids,omitempty" validate:"dive,uuid"`
	Execute   bool     `json:"execute"`
}

func (r *PlanRequest) Validate() error { return check(r) }

type ResearchRequest struct {
	Query     string `json:"query" validate:"required"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,uuid"`
	TopK      int    `json:"top_k" validate:"gte=0,lte=50"`
}

func (r *ResearchRequest) Validate() error { return check(r) }

type SessionUpdateRequest struct {
	Data map[string]any `json:"data" validate:"required"`
}

func (r *SessionUpdateRequest) Validate() error { return check(r) }
