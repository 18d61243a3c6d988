// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
)

// ErrUnauthorized is returned by AuthProvider.Validate when the token is
// missing, unknown, revoked, or expired.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned by AuthzProvider.Authorize when the user is
// authenticated but lacks the role required for the action.
var ErrForbidden = errors.New("forbidden")

// Well-known roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// AuthInfo describes an authenticated caller.
//
// UserID is the id recorded as the acting user in audit logs.
type AuthInfo struct {
	UserID   string
	Email    string
	Roles    []string
	Metadata map[string]any
}

// HasRole reports whether the caller holds role.
func (a *AuthInfo) HasRole(role string) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Roles, role)
}

// AuthProvider validates a bearer credential.
//
// # Description
//
// Implementations resolve the token into an AuthInfo. The API server uses
// core.APIKeyManager, which hashes the raw key and looks up an active,
// unexpired api_keys row.
//
// # Outputs
//
//   - *AuthInfo: Caller identity on success.
//   - error: ErrUnauthorized (possibly wrapped) for bad credentials, any other
//     error for backend failures.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest is an authorization question: may User perform Action on
// ResourceType/ResourceID?
type AuthzRequest struct {
	User         *AuthInfo
	Action       string
	ResourceType string
	ResourceID   string
}

// AuthzProvider decides whether an authenticated caller may act.
type AuthzProvider interface {
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider accepts every token as a local administrator. Used when the
// server runs without a database, and in tests.
type NopAuthProvider struct{}

// Validate always succeeds.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{RoleAdmin},
	}, nil
}

// RoleService marks internal callers such as the orchestrator.
const RoleService = "service"

// StaticTokenProvider authenticates service-to-service calls with one shared
// token. An empty Token accepts every caller.
type StaticTokenProvider struct {
	Token  string
	Caller string
}

// Validate compares token in constant time.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if p.Token != "" && subtle.ConstantTimeCompare([]byte(p.Token), []byte(token)) != 1 {
		return nil, ErrUnauthorized
	}
	caller := p.Caller
	if caller == "" {
		caller = "service"
	}
	return &AuthInfo{UserID: caller, Roles: []string{RoleService}}, nil
}

// ChainAuthProvider tries each provider in order and returns the first
// success. Backend errors stop the chain; ErrUnauthorized moves on.
type ChainAuthProvider []AuthProvider

func (c ChainAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	for _, p := range c {
		info, err := p.Validate(ctx, token)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
	}
	return nil, ErrUnauthorized
}

// NopAuthzProvider allows everything.
type NopAuthzProvider struct{}

// Authorize always returns nil.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// RoleAuthzProvider grants actions by role.
//
// # Description
//
// Rules maps "<action>:<resource_type>" to the roles allowed to perform it.
// Pairs without a rule are allowed for any authenticated caller. A rule with
// the resource type "*" matches every resource type for that action.
//
// # Examples
//
//	authz := extensions.NewRoleAuthzProvider(map[string][]string{
//	    "delete:user":    {extensions.RoleAdmin},
//	    "list:audit_log": {extensions.RoleAdmin},
//	})
//
// # Thread Safety
//
// Read-only after construction.
type RoleAuthzProvider struct {
	rules map[string][]string
}

// NewRoleAuthzProvider copies rules into a new provider.
func NewRoleAuthzProvider(rules map[string][]string) *RoleAuthzProvider {
	copied := make(map[string][]string, len(rules))
	for k, v := range rules {
		copied[k] = slices.Clone(v)
	}
	return &RoleAuthzProvider{rules: copied}
}

// Authorize returns ErrUnauthorized without a user, ErrForbidden when no
// allowed role is held, nil otherwise.
func (p *RoleAuthzProvider) Authorize(_ context.Context, req AuthzRequest) error {
	if req.User == nil {
		return ErrUnauthorized
	}

	allowed, ok := p.rules[req.Action+":"+req.ResourceType]
	if !ok {
		allowed, ok = p.rules[req.Action+":*"]
	}
	if !ok {
		return nil
	}

	for _, role := range allowed {
		if req.User.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s requires one of %v", ErrForbidden, req.Action, req.ResourceType, allowed)
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthProvider  = ChainAuthProvider(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
	_ AuthzProvider = (*RoleAuthzProvider)(nil)
)
