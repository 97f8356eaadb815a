// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/oslandia/deeposlandia/pkg/models"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestCheckpoint(t *testing.T) string {
	ctx := context.New()
	ctx.In("model").VariableWithValue("w", [][]float32{{1, 2}, {3, 4}})
	ctx.In("model").In("000_conv").VariableWithValue("b", []float32{1, 2, 3})
	ctx.In("models_extra").VariableWithValue("x", float32(1))
	ctx.In(optimizers.Scope).VariableWithValue(optimizers.GlobalStepVariableName, int64(42))
	ctx.In(optimizers.Scope).In("adam").VariableWithValue("m", []float32{0, 0})
	path := filepath.Join(t.TempDir(), "checkpoint-epoch-003.h5")
	require.NoError(t, models.SaveVariables(ctx, path))
	return path
}

func TestInScope(t *testing.T) {
	assert.True(t, inScope("/model", "/model"))
	assert.True(t, inScope("/model", "/model/000_conv"))
	assert.False(t, inScope("/model", "/models_extra"))
	assert.True(t, inScope("/", "/optimizers"))
	assert.True(t, inScope("", "/optimizers"))
}

func TestStatsOf(t *testing.T) {
	values, err := models.ReadVariables(createTestCheckpoint(t))
	require.NoError(t, err)
	stats := statsOf(values, "/model")
	assert.Equal(t, 2, stats.numVars)
	assert.Equal(t, 7, stats.numParams)
	assert.Equal(t, uintptr(7*4), stats.memory)
	assert.True(t, stats.hasGlobalStep)
	assert.Equal(t, int64(42), stats.globalStep)

	assert.Equal(t, 5, statsOf(values, "/").numVars)

	rootStep := map[string]*tensors.Tensor{
		context.VariableParameterNameFromScopeAndName(context.RootScope, optimizers.GlobalStepVariableName): tensors.FromValue(int64(7)),
	}
	stats = statsOf(rootStep, "/model")
	assert.True(t, stats.hasGlobalStep)
	assert.Equal(t, int64(7), stats.globalStep)
	assert.Zero(t, stats.numVars)
}

func TestDeleteVars(t *testing.T) {
	path := createTestCheckpoint(t)
	numDeleted, err := DeleteVars(path, "/optimizers/adam", "/models_extra")
	require.NoError(t, err)
	assert.Equal(t, 2, numDeleted)
	values, err := models.ReadVariables(path)
	require.NoError(t, err)
	assert.Len(t, values, 3)

	numDeleted, err = DeleteVars(path, "/unknown", "")
	require.NoError(t, err)
	assert.Zero(t, numDeleted)

	_, err = DeleteVars(filepath.Join(t.TempDir(), "missing.h5"), "/model")
	require.Error(t, err)
}

func TestFilterHistory(t *testing.T) {
	history := &training.History{}
	history.Append(0, training.Logs{"loss": 1, "acc": 0.5, "val_loss": 2})
	history.Append(1, training.Logs{"loss": 0.5, "acc": 0.7})
	assert.Same(t, history, filterHistory(history, nil))

	filtered := filterHistory(history, []string{"val_loss", "loss"})
	assert.Equal(t, []int{0, 1}, filtered.Epochs)
	assert.Equal(t, []string{"loss", "val_loss"}, filtered.Keys())
	assert.Equal(t, training.Logs{"loss": 0.5}, filtered.Logs[1])
}
