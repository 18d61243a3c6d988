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
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/store"
)

// UserManager owns user accounts. Passwords are stored as bcrypt hashes.
type UserManager struct {
	db   *store.Store
	cost int
	auditor
}

// NewUserManager uses bcrypt.DefaultCost when cost is 0.
func NewUserManager(db *store.Store, cost int, metrics *observability.Metrics) *UserManager {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &UserManager{db: db, cost: cost, auditor: auditor{metrics: metrics}}
}

// Create registers a user with the requested role. Callers must have checked
// that the actor may grant it; see Register for anonymous sign-up. The acting
// user for the audit row is the new user unless actorID is set.
func (m *UserManager) Create(ctx context.Context, actorID string, req *datatypes.UserCreateRequest) (*datatypes.User, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	role := datatypes.RoleUser
	if req.Role != "" {
		r, err := datatypes.ParseRole(req.Role)
		if err != nil {
			return nil, translate(err)
		}
		role = r
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), m.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &datatypes.User{Username: req.Username, Email: req.Email, PasswordHash: string(hash), Role: role}
	err = m.db.WithTx(ctx, func(q store.Querier) error {
		if err := ensureEmailFree(ctx, q, req.Email, uuid.Nil); err != nil {
			return err
		}
		if err := store.CreateUser(ctx, q, u); err != nil {
			return err
		}
		actor := actorID
		if actor == "" {
			actor = u.ID.String()
		}
		return m.write(ctx, q, actor, datatypes.ActionCreate, datatypes.EntityUser, u.ID.String(),
			map[string]any{"username": u.Username})
	})
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

// Register is self-service sign-up: the account always gets RoleUser and is
// recorded as its own actor.
func (m *UserManager) Register(ctx context.Context, req *datatypes.UserCreateRequest) (*datatypes.User, error) {
	r := *req
	r.Role = string(datatypes.RoleUser)
	return m.Create(ctx, "", &r)
}

// ensureEmailFree fails with ErrConflict when another user owns email.
func ensureEmailFree(ctx context.Context, q store.Querier, email string, self uuid.UUID) error {
	existing, err := store.GetUserByEmail(ctx, q, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != self:
		return fmt.Errorf("%w: email %s is already registered", ErrConflict, email)
	}
	return nil
}

func (m *UserManager) Get(ctx context.Context, actorID string, id uuid.UUID) (*datatypes.User, error) {
	var out *datatypes.User
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		u, err := store.GetUser(ctx, q, id)
		if err != nil {
			return missing(err, "user", id)
		}
		out = u
		return m.write(ctx, q, actorID, datatypes.ActionRead, datatypes.EntityUser, id.String(), nil)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// Update applies a partial update. A new password is re-hashed. Changing the
// role requires actorID to be an admin.
func (m *UserManager) Update(ctx context.Context, actorID string, id uuid.UUID, req *datatypes.UserUpdateRequest) (*datatypes.User, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	var hash []byte
	if req.Password != nil {
		h, err := bcrypt.GenerateFromPassword([]byte(*req.Password), m.cost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = h
	}

	var out *datatypes.User
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		u, err := store.GetUser(ctx, q, id)
		if err != nil {
			return missing(err, "user", id)
		}
		changed := []string{}
		if req.Username != nil {
			u.Username = *req.Username
			changed = append(changed, "username")
		}
		if req.Email != nil && *req.Email != u.Email {
			if err := ensureEmailFree(ctx, q, *req.Email, u.ID); err != nil {
				return err
			}
			u.Email = *req.Email
			changed = append(changed, "email")
		}
		if hash != nil {
			u.PasswordHash = string(hash)
			changed = append(changed, "password")
		}
		if req.Role != nil {
			r, err := datatypes.ParseRole(*req.Role)
			if err != nil {
				return err
			}
			if r != u.Role {
				if err := requireAdmin(ctx, q, actorID); err != nil {
					return err
				}
				u.Role = r
				changed = append(changed, "role")
			}
		}
		if err := store.UpdateUser(ctx, q, u); err != nil {
			return err
		}
		out = u
		return m.write(ctx, q, actorID, datatypes.ActionUpdate, datatypes.EntityUser, id.String(),
			map[string]any{"fields": changed})
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (m *UserManager) Delete(ctx context.Context, actorID string, id uuid.UUID) error {
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		if err := store.DeleteUser(ctx, q, id); err != nil {
			return missing(err, "user", id)
		}
		return m.write(ctx, q, actorID, datatypes.ActionDelete, datatypes.EntityUser, id.String(), nil)
	})
	return translate(err)
}

func (m *UserManager) List(ctx context.Context, actorID string, limit, offset int) ([]datatypes.User, error) {
	var out []datatypes.User
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		users, err := store.ListUsers(ctx, q, limit, offset)
		if err != nil {
			return err
		}
		out = users
		return m.write(ctx, q, actorID, datatypes.ActionRead, datatypes.EntityUser, "*",
			map[string]any{"count": len(users)})
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// Authenticate checks email and password. Any mismatch, unknown email
// included, is extensions.ErrUnauthorized.
func (m *UserManager) Authenticate(ctx context.Context, req *datatypes.AuthenticateRequest) (*datatypes.User, error) {
	if err := req.Validate(); err != nil {
		return nil, translate(err)
	}
	var out *datatypes.User
	err := m.db.WithTx(ctx, func(q store.Querier) error {
		u, err := store.GetUserByEmail(ctx, q, req.Email)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: invalid email or password", extensions.ErrUnauthorized)
		}
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
			return fmt.Errorf("%w: invalid email or password", extensions.ErrUnauthorized)
		}
		out = u
		return m.write(ctx, q, u.ID.String(), datatypes.ActionRead, datatypes.EntityUser, u.ID.String(),
			map[string]any{"event": "authenticate"})
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}
