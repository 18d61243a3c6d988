// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mkRunDir(t *testing.T, root, name string, age time.Duration) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output.csv"), []byte("a\n"), 0600))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, old, old))
}

func TestSweeper_RemovesOldRunDirs(t *testing.T) {
	root := t.TempDir()
	mkRunDir(t, root, "old-run", 48*time.Hour)
	mkRunDir(t, root, "fresh-run", time.Minute)
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), nil, 0600))

	s := &Sweeper{Root: root, MaxAge: 24 * time.Hour}
	res, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Found)
	assert.Equal(t, 1, res.Deleted)
	assert.NoDirExists(t, filepath.Join(root, "old-run"))
	assert.DirExists(t, filepath.Join(root, "fresh-run"))
	assert.FileExists(t, filepath.Join(root, "stray.txt"))
}

func TestSweeper_MissingRoot(t *testing.T) {
	s := &Sweeper{Root: filepath.Join(t.TempDir(), "never-created"), MaxAge: time.Hour}
	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Found)
}

func TestScheduler_StartStop(t *testing.T) {
	root := t.TempDir()
	mkRunDir(t, root, "old-run", 48*time.Hour)
	s := NewScheduler(&Sweeper{Root: root, MaxAge: time.Hour}, time.Hour)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(root, "old-run"))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestScheduler_RunNow(t *testing.T) {
	root := t.TempDir()
	mkRunDir(t, root, "a", 2*time.Hour)
	s := NewScheduler(&Sweeper{Root: root, MaxAge: time.Hour}, 0)

	res, err := s.RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
}
