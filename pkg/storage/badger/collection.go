// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("badger: record not found")

// Collection stores JSON-encoded values of type T under "<prefix>/<id>".
//
// # Examples
//
//	runs := badger.NewCollection[Run](db, "runs")
//	err := runs.Put(ctx, run.ID, run)
//	got, err := runs.Get(ctx, run.ID)
//
// # Limitations
//
// List loads every record under the prefix. Collections are expected to hold
// thousands of records, not millions.
type Collection[T any] struct {
	db     *DB
	prefix string
	ttl    time.Duration
}

// NewCollection binds a key prefix to db.
func NewCollection[T any](db *DB, prefix string) *Collection[T] {
	return &Collection[T]{db: db, prefix: prefix + "/"}
}

// WithTTL returns a copy whose Puts expire after ttl. Zero means never.
func (c *Collection[T]) WithTTL(ttl time.Duration) *Collection[T] {
	cp := *c
	cp.ttl = ttl
	return &cp
}

func (c *Collection[T]) key(id string) []byte {
	return []byte(c.prefix + id)
}

// Put writes value under id, replacing any previous value.
func (c *Collection[T]) Put(ctx context.Context, id string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("badger: encode %s%s: %w", c.prefix, id, err)
	}
	return c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		entry := badger.NewEntry(c.key(id), data)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get reads the value for id or returns ErrNotFound.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	err := c.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	return out, err
}

// Update applies fn to the current value (zero value when absent) and writes
// the result in the same transaction.
func (c *Collection[T]) Update(ctx context.Context, id string, fn func(current T, exists bool) (T, error)) (T, error) {
	var result T
	err := c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var current T
		exists := true
		item, err := txn.Get(c.key(id))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			exists = false
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return err
			}
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("badger: encode %s%s: %w", c.prefix, id, err)
		}
		entry := badger.NewEntry(c.key(id), data)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		result = next
		return nil
	})
	return result, err
}

// Delete removes id. Deleting a missing id returns ErrNotFound.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(c.key(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(c.key(id))
	})
}

// List returns every value in the collection in key order.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	var out []T
	err := c.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(c.prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("badger: decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}
