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
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

var auditCols = []string{"id", "user_id", "action_type", "entity_type", "entity_id", "timestamp", "details"}

func TestAuditManager_Create(t *testing.T) {
	db, mock := newMockStore(t)
	metrics := testMetrics()
	m := NewAuditManager(db, metrics)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), "user-1", "UPDATE", "block", "b-1", pgxmock.AnyArg(), []byte("{}")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	entry, err := m.Create(context.Background(), &datatypes.AuditLogCreateRequest{
		UserID:     "user-1",
		ActionType: "UPDATE",
		EntityType: "block",
		EntityID:   "b-1",
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, entry.Details)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditWritesTotal.WithLabelValues("UPDATE", "block")))
}

func TestAuditManager_Create_Invalid(t *testing.T) {
	db, _ := newMockStore(t)
	_, err := NewAuditManager(db, nil).Create(context.Background(), &datatypes.AuditLogCreateRequest{
		UserID:     "user-1",
		ActionType: "PATCH",
		EntityType: "block",
		EntityID:   "b-1",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAuditManager_List_Filters(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewAuditManager(db, nil)

	mock.ExpectQuery("FROM audit_logs WHERE user_id = \\$1 AND entity_type = \\$2").
		WithArgs("user-1", "pipeline", 50, 0).
		WillReturnRows(pgxmock.NewRows(auditCols).
			AddRow(uuid.New(), "user-1", "READ", "pipeline", "p-1", now, []byte(`{"description":"ok"}`)))

	logs, err := m.List(context.Background(), &datatypes.AuditLogFilter{UserID: "user-1", EntityType: "pipeline", Limit: 50})

	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, datatypes.ActionRead, logs[0].ActionType)
	assert.Equal(t, "ok", logs[0].Details["description"])
}
