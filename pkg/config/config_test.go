// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	t.Setenv("CONSTELLATION_TEST_STR", "  value ")
	assert.Equal(t, "value", String("CONSTELLATION_TEST_STR", "def"))
	assert.Equal(t, "def", String("CONSTELLATION_TEST_UNSET", "def"))
}

func TestInt(t *testing.T) {
	t.Setenv("CONSTELLATION_TEST_INT", "8081")
	assert.Equal(t, 8081, Int("CONSTELLATION_TEST_INT", 1))

	t.Setenv("CONSTELLATION_TEST_INT", "eighty")
	assert.Equal(t, 1, Int("CONSTELLATION_TEST_INT", 1))
}

func TestFloatAndBool(t *testing.T) {
	t.Setenv("CONSTELLATION_TEST_F", "0.25")
	t.Setenv("CONSTELLATION_TEST_B", "true")
	assert.InDelta(t, 0.25, Float("CONSTELLATION_TEST_F", 0), 1e-9)
	assert.True(t, Bool("CONSTELLATION_TEST_B", false))

	t.Setenv("CONSTELLATION_TEST_B", "maybe")
	assert.False(t, Bool("CONSTELLATION_TEST_B", false))
}

func TestDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"30", 30 * time.Second},
		{"1m30s", 90 * time.Second},
		{"soon", 5 * time.Second},
		{"", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("CONSTELLATION_TEST_DUR", tt.value)
			assert.Equal(t, tt.want, Duration("CONSTELLATION_TEST_DUR", 5*time.Second))
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CONSTELLATION_DOTENV_KEY=from-file\n"), 0600))
	t.Setenv("CONSTELLATION_DOTENV_KEY", "")
	require.NoError(t, os.Unsetenv("CONSTELLATION_DOTENV_KEY"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("CONSTELLATION_DOTENV_KEY"))
}

func TestSecret_PrefersEnv(t *testing.T) {
	t.Setenv("CONSTELLATION_TEST_SECRET", "env-secret")
	assert.Equal(t, "env-secret", Secret("CONSTELLATION_TEST_SECRET", "does_not_exist", "def"))
	assert.Equal(t, "def", Secret("CONSTELLATION_TEST_SECRET_UNSET", "does_not_exist", "def"))
}
