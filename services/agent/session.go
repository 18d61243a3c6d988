// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/pkg/storage/badger"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// MaxHistory caps the exchanges kept per session; older ones are dropped.
const MaxHistory = 100

// Exchange is one agent call recorded in a session.
type Exchange struct {
	Kind     string    `json:"kind"`
	Query    string    `json:"query"`
	Response any       `json:"response"`
	At       time.Time `json:"at"`
}

// Session is free-form agent state keyed by a UUID.
type Session struct {
	ID        uuid.UUID      `json:"id"`
	Data      map[string]any `json:"data"`
	History   []Exchange     `json:"history"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SessionStore keeps sessions in Badger.
type SessionStore struct {
	sessions *badger.Collection[Session]
	now      func() time.Time
}

// NewSessionStore binds the store to db. ttl > 0 expires idle sessions.
func NewSessionStore(db *badger.DB, ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: badger.NewCollection[Session](db, "sessions").WithTTL(ttl),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.sessions.Get(ctx, id.String())
	if errors.Is(err, badger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Update merges data into the session, creating it when absent. Keys with a
// nil value are removed.
func (s *SessionStore) Update(ctx context.Context, id uuid.UUID, data map[string]any) (*Session, error) {
	sess, err := s.sessions.Update(ctx, id.String(), func(cur Session, exists bool) (Session, error) {
		cur = s.init(cur, id, exists)
		for k, v := range data {
			if v == nil {
				delete(cur.Data, k)
				continue
			}
			cur.Data[k] = v
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Append records an exchange, creating the session when absent.
func (s *SessionStore) Append(ctx context.Context, id uuid.UUID, ex Exchange) error {
	_, err := s.sessions.Update(ctx, id.String(), func(cur Session, exists bool) (Session, error) {
		cur = s.init(cur, id, exists)
		if ex.At.IsZero() {
			ex.At = cur.UpdatedAt
		}
		cur.History = append(cur.History, ex)
		if n := len(cur.History); n > MaxHistory {
			cur.History = append([]Exchange(nil), cur.History[n-MaxHistory:]...)
		}
		return cur, nil
	})
	return err
}

func (s *SessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.sessions.Delete(ctx, id.String())
	if errors.Is(err, badger.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return err
}

func (s *SessionStore) init(cur Session, id uuid.UUID, exists bool) Session {
	now := s.now()
	if !exists {
		cur = Session{ID: id, CreatedAt: now}
	}
	if cur.Data == nil {
		cur.Data = make(map[string]any)
	}
	cur.UpdatedAt = now
	return cur
}
