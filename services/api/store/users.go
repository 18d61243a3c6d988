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
	"time"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

const userColumns = `id, username, email, password_hash, role, created_at, updated_at`

func scanUser(s scanner) (datatypes.User, error) {
	var u datatypes.User
	var role string
	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt)
	u.Role = datatypes.Role(role)
	return u, err
}

func CreateUser(ctx context.Context, q Querier, u *datatypes.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := q.Exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

func GetUser(ctx context.Context, q Querier, id uuid.UUID) (*datatypes.User, error) {
	u, err := scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get user", err)
	}
	return &u, nil
}

func GetUserByEmail(ctx context.Context, q Querier, email string) (*datatypes.User, error) {
	u, err := scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, notFound("get user by email", err)
	}
	return &u, nil
}

func UpdateUser(ctx context.Context, q Querier, u *datatypes.User) error {
	u.UpdatedAt = time.Now().UTC()
	tag, err := q.Exec(ctx, `UPDATE users
		SET username = $2, email = $3, password_hash = $4, role = $5, updated_at = $6
		WHERE id = $1`,
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), u.UpdatedAt)
	return affected("update user", tag, err)
}

func DeleteUser(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return affected("delete user", tag, err)
}

func ListUsers(ctx context.Context, q Querier, limit, offset int) ([]datatypes.User, error) {
	limit, offset = pageArgs(limit, offset)
	rows, err := q.Query(ctx, `SELECT `+userColumns+` FROM users
		ORDER BY created_at ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	return collect(rows, "list users", scanUser)
}

// =============================================================================
// API keys
// =============================================================================

const apiKeyColumns = `id, user_id, encrypted_api_key, expires_at, is_active, created_at, updated_at`

func scanAPIKey(s scanner) (datatypes.APIKey, error) {
	var k datatypes.APIKey
	err := s.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.ExpiresAt, &k.IsActive, &k.CreatedAt, &k.UpdatedAt)
	return k, err
}

func CreateAPIKey(ctx context.Context, q Querier, k *datatypes.APIKey) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	now := time.Now().UTC()
	k.CreatedAt, k.UpdatedAt = now, now
	_, err := q.Exec(ctx, `INSERT INTO api_keys (`+apiKeyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.ID, k.UserID, k.KeyHash, k.ExpiresAt, k.IsActive, k.CreatedAt, k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create api key: %w", err)
	}
	return nil
}

func GetAPIKey(ctx context.Context, q Querier, id uuid.UUID) (*datatypes.APIKey, error) {
	k, err := scanAPIKey(q.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get api key", err)
	}
	return &k, nil
}

func ListAPIKeysByUser(ctx context.Context, q Querier, userID uuid.UUID) ([]datatypes.APIKey, error) {
	rows, err := q.Query(ctx, `SELECT `+apiKeyColumns+` FROM api_keys
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list api keys: %w", err)
	}
	return collect(rows, "list api keys", scanAPIKey)
}

func RevokeAPIKey(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `UPDATE api_keys SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return affected("revoke api key", tag, err)
}

func DeleteAPIKey(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	return affected("delete api key", tag, err)
}

// FindActiveAPIKeyByHash returns the active, unexpired key with the given
// hash, or ErrNotFound.
func FindActiveAPIKeyByHash(ctx context.Context, q Querier, hash string, now time.Time) (*datatypes.APIKey, error) {
	k, err := scanAPIKey(q.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys
		WHERE encrypted_api_key = $1 AND is_active AND expires_at > $2`, hash, now))
	if err != nil {
		return nil, notFound("find api key", err)
	}
	return &k, nil
}
