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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/store"
)

const (
	apiKeyBytes        = 32
	defaultKeyLifetime = 30 * 24 * time.Hour
)

// APIKeyManager issues and checks API keys.
//
// # Description
//
// Raw keys are 32 random bytes, URL-safe base64 without padding, and are
// returned exactly once by Create. Only sha256(key + secret) is stored. The
// secret lives in a memguard enclave and is only decrypted while hashing.
//
// APIKeyManager implements extensions.AuthProvider.
type APIKeyManager struct {
	db     *store.Store
	secret *memguard.Enclave
	now    func() time.Time
	auditor
}

// NewAPIKeyManager seals secret into an enclave. The caller's slice is
// wiped.
func NewAPIKeyManager(db *store.Store, secret []byte, metrics *observability.Metrics) *APIKeyManager {
	return &APIKeyManager{
		db:      db,
		secret:  memguard.NewEnclave(secret),
		now:     time.Now,
		auditor: auditor{metrics: metrics},
	}
}

// Generate returns a new random raw key.
func (m *APIKeyManager) Generate() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the hex sha256 of key followed by the secret.
func (m *APIKeyManager) Hash(key string) (string, error) {
	secret, err := m.secret.Open()
	if err != nil {
		return "", fmt.Errorf("open api key secret: %w", err)
	}
	defer secret.Destroy()

	h := sha256.New()
	h.Write([]byte(key))
	h.Write(secret.Bytes())
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Create issues a key for userID. A zero ExpiresInDays means 30 days.
func (m *APIKeyManager) Create(ctx context.Context, actorID string, userID uuid.UUID, req *datatypes.APIKeyCreateRequest) (*datatypes.APIKeyCreated, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	lifetime := defaultKeyLifetime
	if req.ExpiresInDays > 0 {
		lifetime = time.Duration(req.ExpiresInDays) * 24 * time.Hour
	}
	raw, err := m.Generate()
	if err != nil {
		return nil, err
	}
	hash, err := m.Hash(raw)
	if err != nil {
		return nil, err
	}

	key := &datatypes.APIKey{
		UserID:    userID,
		KeyHash:   hash,
		ExpiresAt: m.now().UTC().Add(lifetime),
		IsActive:  true,
	}
	err = m.db.WithTx(ctx, func(q store.Querier) error {
		if _, err := store.GetUser(ctx, q, userID); err != nil {
			return missing(err, "user", userID)
		}
		if err := store.CreateAPIKey(ctx, q, key); err != nil {
			return err
		}
		return m.write(ctx, q, actorID, datatypes.ActionCreate, datatypes.EntityAPIKey, key.ID.String(),
			map[string]any{"user_id": userID.String(), "expires_at": key.ExpiresAt.Format(time.RFC3339)})
	})
	if err != nil {
		return nil, translate(err)
	}
	return &datatypes.APIKeyCreated{APIKey: *key, Key: raw}, nil
}

func (m *APIKeyManager) ListByUser(ctx context.Context, userID uuid.UUID) ([]datatypes.APIKey, error) {
	keys, err := store.ListAPIKeysByUser(ctx, m.db.Q(), userID)
	return keys, translate(err)
}

// ownedKey loads key id and checks that actorID owns it or is an admin.
func ownedKey(ctx context.Context, q store.Querier, actorID string, id uuid.UUID) (*datatypes.APIKey, error) {
	key, err := store.GetAPIKey(ctx, q, id)
	if err != nil {
		return nil, missing(err, "api key", id)
	}
	if err := requireOwnerOrAdmin(ctx, q, actorID, key.UserID); err != nil {
		return nil, err
	}
	return key, nil
}

// Revoke deactivates a key. The row is kept. Only the key's owner or an
// admin may revoke it.
func (m *APIKeyManager) Revoke(ctx context.Context, actorID string, id uuid.UUID) error {
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if _, err := ownedKey(ctx, q, actorID, id); err != nil {
			return err
		}
		if err := store.RevokeAPIKey(ctx, q, id); err != nil {
			return missing(err, "api key", id)
		}
		return m.write(ctx, q, actorID, datatypes.ActionUpdate, datatypes.EntityAPIKey, id.String(),
			map[string]any{"is_active": false})
	})
	return translate(err)
}

// Delete removes a key. Only the key's owner or an admin may delete it.
func (m *APIKeyManager) Delete(ctx context.Context, actorID string, id uuid.UUID) error {
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if _, err := ownedKey(ctx, q, actorID, id); err != nil {
			return err
		}
		if err := store.DeleteAPIKey(ctx, q, id); err != nil {
			return missing(err, "api key", id)
		}
		return m.write(ctx, q, actorID, datatypes.ActionDelete, datatypes.EntityAPIKey, id.String(), nil)
	})
	return translate(err)
}

// Lookup returns the active, unexpired key matching raw.
func (m *APIKeyManager) Lookup(ctx context.Context, raw string) (*datatypes.APIKey, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: missing api key", extensions.ErrUnauthorized)
	}
	hash, err := m.Hash(raw)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	key, err := store.FindActiveAPIKeyByHash(ctx, m.db.Q(), hash, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid or expired api key", extensions.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !key.Usable(now) {
		return nil, fmt.Errorf("%w: invalid or expired api key", extensions.ErrUnauthorized)
	}
	return key, nil
}

// Validate implements extensions.AuthProvider for bearer API keys.
func (m *APIKeyManager) Validate(ctx context.Context, token string) (*extensions.AuthInfo, error) {
	key, err := m.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := store.GetUser(ctx, m.db.Q(), key.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: key owner no longer exists", extensions.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	return &extensions.AuthInfo{
		UserID: user.ID.String(),
		Email:  user.Email,
		Roles:  []string{string(user.Role)},
		Metadata: map[string]any{
			"api_key_id": key.ID.String(),
			"username":   user.Username,
		},
	}, nil
}

var _ extensions.AuthProvider = (*APIKeyManager)(nil)
