// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package core holds the transactional managers behind the Constellation
// API.
//
// # Description
//
// Each manager method opens one transaction through store.Store.WithTx, does
// its reads and writes with the package-level store functions, and writes an
// audit row in the same transaction. The acting user is passed in explicitly
// by the HTTP layer (taken from extensions.AuthInfo.UserID).
//
// # Errors
//
// Managers return errors wrapping one of ErrNotFound, ErrInvalidInput or
// ErrConflict when the caller is at fault, and extensions.ErrForbidden when
// the acting user lacks the right to the change. Anything else is an
// internal failure.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/store"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	// ErrUpstream marks failures of a downstream service (orchestrator,
	// vector index, LLM).
	ErrUpstream = errors.New("upstream failure")
)

// Postgres SQLSTATE codes the managers translate.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// translate maps lower-layer errors onto the package sentinels. Errors that
// already carry a sentinel pass through.
func translate(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrNotFound, ErrInvalidInput, ErrConflict, ErrUpstream} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, datatypes.ErrValidation), errors.Is(err, datatypes.ErrInvalidEnum):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case pgForeignKeyViolation, pgCheckViolation:
			return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.Message)
		}
	}
	return err
}

// missing rewrites store.ErrNotFound as "<kind> <id> not found".
func missing(err error, kind string, id any) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %v", ErrNotFound, kind, id)
	}
	return err
}

// requireAdmin fails with extensions.ErrForbidden unless actorID is the id
// of a user holding RoleAdmin.
func requireAdmin(ctx context.Context, q store.Querier, actorID string) error {
	if id, err := uuid.Parse(actorID); err == nil {
		u, err := store.GetUser(ctx, q, id)
		switch {
		case err == nil && u.Role == datatypes.RoleAdmin:
			return nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
	}
	return fmt.Errorf("%w: %q is not an admin", extensions.ErrForbidden, actorID)
}

// requireOwnerOrAdmin lets owner act on its own resources and admins act on
// anyone's.
func requireOwnerOrAdmin(ctx context.Context, q store.Querier, actorID string, owner uuid.UUID) error {
	if actorID == owner.String() {
		return nil
	}
	return requireAdmin(ctx, q, actorID)
}

// auditor writes audit rows and counts them.
type auditor struct {
	metrics *observability.Metrics
}

func (a auditor) write(ctx context.Context, q store.Querier, userID string, action datatypes.ActionType,
	entity datatypes.EntityType, entityID string, details map[string]any) error {
	entry := &datatypes.AuditLog{
		UserID:     userID,
		ActionType: action,
		EntityType: entity,
		EntityID:   entityID,
		Details:    details,
	}
	if err := store.CreateAuditLog(ctx, q, entry); err != nil {
		return fmt.Errorf("audit %s %s: %w", action, entity, err)
	}
	if a.metrics != nil {
		a.metrics.RecordAudit(string(action), string(entity))
	}
	return nil
}
