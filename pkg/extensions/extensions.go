// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable security seams of the
// Constellation servers.
//
// # Extension Points
//
//   - auth.go: AuthProvider (who is calling) and AuthzProvider (may they)
//   - audit.go: SecurityLogger (rejected tokens, denied actions)
//
// # Usage
//
// Local and test setups use the no-op defaults:
//
//	opts := extensions.DefaultOptions()
//	svc, err := api.New(cfg, &opts)
//
// The API server wires real implementations:
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(apiKeys).
//	    WithAuthz(extensions.NewRoleAuthzProvider(rules)).
//	    WithSecurityLogger(&extensions.SlogSecurityLogger{})
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points passed to service constructors.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens. Default: NopAuthProvider.
	AuthProvider AuthProvider

	// AuthzProvider checks role rules. Default: NopAuthzProvider.
	AuthzProvider AuthzProvider

	// SecurityLogger records auth failures. Default: NopSecurityLogger.
	SecurityLogger SecurityLogger
}

// DefaultOptions returns ServiceOptions with no-op implementations.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:   &NopAuthProvider{},
		AuthzProvider:  &NopAuthzProvider{},
		SecurityLogger: &NopSecurityLogger{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy of opts with the given AuthzProvider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

// WithSecurityLogger returns a copy of opts with the given SecurityLogger.
func (opts ServiceOptions) WithSecurityLogger(logger SecurityLogger) ServiceOptions {
	opts.SecurityLogger = logger
	return opts
}

// Normalize replaces nil fields with their no-op defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = &NopAuthzProvider{}
	}
	if opts.SecurityLogger == nil {
		opts.SecurityLogger = &NopSecurityLogger{}
	}
	return opts
}
