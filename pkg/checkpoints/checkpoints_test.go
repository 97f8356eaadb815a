// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "checkpoint-epoch-001.h5", FileName(1))
	assert.Equal(t, "checkpoint-epoch-042.h5", FileName(42))
	assert.Equal(t, "checkpoint-epoch-123.h5", FileName(123))
	assert.Equal(t, "checkpoint-epoch-1000.h5", FileName(1000))
}

func TestParseEpoch(t *testing.T) {
	for name, want := range map[string]int{
		"checkpoint-epoch-001.h5":  1,
		"checkpoint-epoch-010.h5":  10,
		"checkpoint-epoch-123.h5":  123,
		"checkpoint-epoch-1000.h5": 1000,
	} {
		got, err := ParseEpoch(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	for _, name := range []string{
		"checkpoint-epoch-.h5",
		"checkpoint-epoch-abc.h5",
		"checkpoint-epoch-01.h5.bak",
		"training_metrics.csv",
		"checkpoint-epoch-99999999999999999999999.h5",
	} {
		_, err := ParseEpoch(name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrMalformedName), name)
	}
}

func TestResume(t *testing.T) {
	dir := t.TempDir()

	// Empty: training from scratch.
	state, err := Resume(dir)
	require.NoError(t, err)
	assert.False(t, state.Found)
	assert.Equal(t, 0, state.InitialEpoch)

	// Only non-checkpoint files.
	touch(t, dir, "training_metrics.csv", "run.json")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "checkpoint-epoch-999.h5.d"), 0755))
	state, err = Resume(dir)
	require.NoError(t, err)
	assert.False(t, state.Found)

	// Lexicographically maximal checkpoint.
	touch(t, dir, FileName(3), FileName(12), FileName(7))
	names, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{FileName(3), FileName(7), FileName(12)}, names)
	state, err = Resume(dir)
	require.NoError(t, err)
	assert.True(t, state.Found)
	assert.Equal(t, filepath.Join(dir, FileName(12)), state.Path)
	assert.Equal(t, 12, state.InitialEpoch)

	// Epochs beyond 99 are parsed in full.
	touch(t, dir, FileName(105))
	state, err = Resume(dir)
	require.NoError(t, err)
	assert.Equal(t, 105, state.InitialEpoch)

	// A malformed latest checkpoint is reported.
	touch(t, dir, "checkpoint-epoch-final.h5")
	_, err = Resume(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedName))

	// Missing directory.
	_, err = Resume(filepath.Join(dir, "missing"))
	require.Error(t, err)
}
