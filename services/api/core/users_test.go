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
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

func userRow(id uuid.UUID, email, hash string) *pgxmock.Rows {
	return pgxmock.NewRows(userCols).AddRow(id, "ada", email, hash, "user", now, now)
}

func TestUserManager_Create(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewUserManager(db, bcrypt.MinCost, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM users WHERE email").WithArgs("ada@example.com").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").WithArgs(anyArgs(7)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectAudit(mock)
	mock.ExpectCommit()

	u, err := m.Create(context.Background(), "", &datatypes.UserCreateRequest{
		Username: "ada",
		Email:    "ada@example.com",
		Password: "correct-horse",
	})

	require.NoError(t, err)
	assert.Equal(t, datatypes.RoleUser, u.Role)
	assert.NotEqual(t, "correct-horse", u.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct-horse")))
}

func TestUserManager_Create_EmailTaken(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewUserManager(db, bcrypt.MinCost, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM users WHERE email").WithArgs("ada@example.com").
		WillReturnRows(userRow(uuid.New(), "ada@example.com", "x"))
	mock.ExpectRollback()

	_, err := m.Create(context.Background(), "admin", &datatypes.UserCreateRequest{
		Username: "ada2",
		Email:    "ada@example.com",
		Password: "correct-horse",
	})

	assert.ErrorIs(t, err, ErrConflict)
}

func TestUserManager_Create_Invalid(t *testing.T) {
	db, _ := newMockStore(t)
	m := NewUserManager(db, bcrypt.MinCost, nil)

	_, err := m.Create(context.Background(), "", &datatypes.UserCreateRequest{
		Username: "has space",
		Email:    "not-an-email",
		Password: "short",
	})

	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUserManager_Authenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	id := uuid.New()

	t.Run("valid credentials", func(t *testing.T) {
		db, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM users WHERE email").WithArgs("ada@example.com").
			WillReturnRows(userRow(id, "ada@example.com", string(hash)))
		expectAudit(mock)
		mock.ExpectCommit()

		u, err := NewUserManager(db, bcrypt.MinCost, nil).Authenticate(context.Background(),
			&datatypes.AuthenticateRequest{Email: "ada@example.com", Password: "correct-horse"})

		require.NoError(t, err)
		assert.Equal(t, id, u.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		db, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM users WHERE email").WithArgs("ada@example.com").
			WillReturnRows(userRow(id, "ada@example.com", string(hash)))
		mock.ExpectRollback()

		_, err := NewUserManager(db, bcrypt.MinCost, nil).Authenticate(context.Background(),
			&datatypes.AuthenticateRequest{Email: "ada@example.com", Password: "wrong"})

		assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	})

	t.Run("unknown email", func(t *testing.T) {
		db, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM users WHERE email").WithArgs("who@example.com").WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		_, err := NewUserManager(db, bcrypt.MinCost, nil).Authenticate(context.Background(),
			&datatypes.AuthenticateRequest{Email: "who@example.com", Password: "whatever"})

		assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	})
}

func TestUserManager_List_AuditsWildcard(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewUserManager(db, bcrypt.MinCost, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM users").WithArgs(100, 0).
		WillReturnRows(pgxmock.NewRows(userCols).AddRow(uuid.New(), "ada", "ada@example.com", "x", "admin", now, now))
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), "admin-1", "READ", "user", "*", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	users, err := m.List(context.Background(), "admin-1", 0, 0)

	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, datatypes.RoleAdmin, users[0].Role)
}

func TestUserManager_Register_ForcesUserRole(t *testing.T) {
	db, mock := newMockStore(t)
	m := NewUserManager(db, bcrypt.MinCost, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM users WHERE email").WithArgs("eve@example.com").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), "eve", "eve@example.com", pgxmock.AnyArg(), "user", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectAudit(mock)
	mock.ExpectCommit()

	req := &datatypes.UserCreateRequest{Username: "eve", Email: "eve@example.com", Password: "correct-horse", Role: "admin"}
	u, err := m.Register(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, datatypes.RoleUser, u.Role)
	assert.Equal(t, "admin", req.Role, "the caller's request is left alone")
}

func TestUserManager_Update_RoleChange(t *testing.T) {
	target, admin := uuid.New(), uuid.New()
	promote := func() *datatypes.UserUpdateRequest {
		role := "admin"
		return &datatypes.UserUpdateRequest{Role: &role}
	}

	t.Run("self promotion is forbidden", func(t *testing.T) {
		db, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM users WHERE id").WithArgs(target).WillReturnRows(userRow(target, "ada@example.com", "x"))
		mock.ExpectQuery("FROM users WHERE id").WithArgs(target).WillReturnRows(userRow(target, "ada@example.com", "x"))
		mock.ExpectRollback()

		_, err := NewUserManager(db, bcrypt.MinCost, nil).Update(context.Background(), target.String(), target, promote())
		assert.ErrorIs(t, err, extensions.ErrForbidden)
	})

	t.Run("non-uuid actor is forbidden", func(t *testing.T) {
		db, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM users WHERE id").WithArgs(target).WillReturnRows(userRow(target, "ada@example.com", "x"))
		mock.ExpectRollback()

		_, err := NewUserManager(db, bcrypt.MinCost, nil).Update(context.Background(), "orchestrator", target, promote())
		assert.ErrorIs(t, err, extensions.ErrForbidden)
	})

	t.Run("admin may promote", func(t *testing.T) {
		db, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM users WHERE id").WithArgs(target).WillReturnRows(userRow(target, "ada@example.com", "x"))
		mock.ExpectQuery("FROM users WHERE id").WithArgs(admin).
			WillReturnRows(pgxmock.NewRows(userCols).AddRow(admin, "root", "root@example.com", "x", "admin", now, now))
		mock.ExpectExec("UPDATE users").
			WithArgs(target, "ada", "ada@example.com", "x", "admin", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		expectAudit(mock)
		mock.ExpectCommit()

		u, err := NewUserManager(db, bcrypt.MinCost, nil).Update(context.Background(), admin.String(), target, promote())
		require.NoError(t, err)
		assert.Equal(t, datatypes.RoleAdmin, u.Role)
	})

	t.Run("unchanged role needs no admin", func(t *testing.T) {
		db, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM users WHERE id").WithArgs(target).WillReturnRows(userRow(target, "ada@example.com", "x"))
		mock.ExpectExec("UPDATE users").WithArgs(anyArgs(6)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		expectAudit(mock)
		mock.ExpectCommit()

		role := "user"
		_, err := NewUserManager(db, bcrypt.MinCost, nil).Update(context.Background(), target.String(), target,
			&datatypes.UserUpdateRequest{Role: &role})
		require.NoError(t, err)
	})
}
