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
	"log/slog"
	"time"
)

// SecurityEvent is an authentication or authorization outcome.
//
// Entity audit logs (block, edge, pipeline, user changes) are written to the
// audit_logs table by the core managers inside their transactions. A
// SecurityEvent covers what happens before a request reaches them: rejected
// tokens and denied actions.
//
// EventType format is "category.outcome", e.g. "auth.failed" or
// "authz.denied".
type SecurityEvent struct {
	EventType    string
	Timestamp    time.Time
	UserID       string
	Action       string
	ResourceType string
	Path         string
	Reason       string
}

// SecurityLogger records SecurityEvents.
type SecurityLogger interface {
	Log(ctx context.Context, event SecurityEvent) error
}

// NopSecurityLogger discards events.
type NopSecurityLogger struct{}

// Log returns nil.
func (l *NopSecurityLogger) Log(context.Context, SecurityEvent) error { return nil }

// SlogSecurityLogger writes events as warnings through slog.
type SlogSecurityLogger struct {
	Logger *slog.Logger
}

// Log stamps a zero Timestamp with the current UTC time and emits the event.
func (l *SlogSecurityLogger) Log(ctx context.Context, event SecurityEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "security event",
		"event_type", event.EventType,
		"user_id", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"path", event.Path,
		"reason", event.Reason,
		"timestamp", event.Timestamp,
	)
	return nil
}

var (
	_ SecurityLogger = (*NopSecurityLogger)(nil)
	_ SecurityLogger = (*SlogSecurityLogger)(nil)
)
