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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

const auditColumns = `id, user_id, action_type, entity_type, entity_id, timestamp, details`

func scanAuditLog(s scanner) (datatypes.AuditLog, error) {
	var a datatypes.AuditLog
	var action, entity string
	var details []byte
	if err := s.Scan(&a.ID, &a.UserID, &action, &entity, &a.EntityID, &a.Timestamp, &details); err != nil {
		return a, err
	}
	a.ActionType = datatypes.ActionType(action)
	a.EntityType = datatypes.EntityType(entity)
	d, err := unmarshalJSON(details)
	a.Details = d
	return a, err
}

func CreateAuditLog(ctx context.Context, q Querier, a *datatypes.AuditLog) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	details, err := marshalJSON(a.Details)
	if err != nil {
		return fmt.Errorf("store: create audit log: encode details: %w", err)
	}
	_, err = q.Exec(ctx, `INSERT INTO audit_logs (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, string(a.ActionType), string(a.EntityType), a.EntityID, a.Timestamp, details)
	if err != nil {
		return fmt.Errorf("store: create audit log: %w", err)
	}
	return nil
}

func GetAuditLog(ctx context.Context, q Querier, id uuid.UUID) (*datatypes.AuditLog, error) {
	a, err := scanAuditLog(q.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get audit log", err)
	}
	return &a, nil
}

// AuditFilter narrows ListAuditLogs. Empty fields are ignored.
type AuditFilter struct {
	UserID     string
	ActionType string
	EntityType string
	EntityID   string
}

// ListAuditLogs returns matching entries, newest first.
func ListAuditLogs(ctx context.Context, q Querier, filter AuditFilter, limit, offset int) ([]datatypes.AuditLog, error) {
	limit, offset = pageArgs(limit, offset)

	var where []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("user_id", filter.UserID)
	add("action_type", filter.ActionType)
	add("entity_type", filter.EntityType)
	add("entity_id", filter.EntityID)

	sql := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	sql += fmt.Sprintf(` ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list audit logs: %w", err)
	}
	return collect(rows, "list audit logs", scanAuditLog)
}

func UpdateAuditLogDetails(ctx context.Context, q Querier, id uuid.UUID, details map[string]any) error {
	data, err := marshalJSON(details)
	if err != nil {
		return fmt.Errorf("store: update audit log: encode details: %w", err)
	}
	tag, err := q.Exec(ctx, `UPDATE audit_logs SET details = $2 WHERE id = $1`, id, data)
	return affected("update audit log", tag, err)
}

func DeleteAuditLog(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM audit_logs WHERE id = $1`, id)
	return affected("delete audit log", tag, err)
}
