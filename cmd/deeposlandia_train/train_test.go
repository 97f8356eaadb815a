// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oslandia/deeposlandia/pkg/checkpoints"
	"github.com/oslandia/deeposlandia/pkg/config"
	"github.com/oslandia/deeposlandia/pkg/datasets"
	"github.com/oslandia/deeposlandia/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLabelConfig = `{"labels": [
	{"id": 0, "name": "background", "category": "void", "color": [0, 0, 0], "is_evaluate": false},
	{"id": 1, "name": "square", "category": "shape", "color": [50, 50, 50], "is_evaluate": true}
]}`

// newTestConfig returns a small configuration of the "shapes" dataset under a temporary datapath.
func newTestConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Dataset = "shapes"
	cfg.Datapath = t.TempDir()
	cfg.ImageSize = 16
	cfg.BatchSize = 2
	cfg.NumTraining = 4
	cfg.NumValidation = 2
	cfg.NumTesting = 2
	cfg.NumEpochs = 1
	cfg.Seed = 1
	return cfg
}

// writeConfigs writes the label configuration files of the given roles.
func writeConfigs(t *testing.T, cfg *config.Config, roles ...datasets.Role) {
	folders, err := datasets.PrepareFolders(cfg.Datapath, cfg.Dataset, cfg.ImageSize, cfg.Aggregation())
	require.NoError(t, err)
	for _, role := range roles {
		require.NoError(t, os.WriteFile(folders.Config(role), []byte(testLabelConfig), 0644))
	}
}

// requireExit checks that err is an anticipated fatal condition, which makes the program exit with code 1.
func requireExit(t *testing.T, err error) {
	var exitErr *exitError
	require.Error(t, err)
	require.True(t, errors.As(err, &exitErr), "expected an exit error, got %+v", err)
}

func TestTrainMissingConfigs(t *testing.T) {
	cfg := newTestConfig(t)
	for _, role := range datasets.Roles {
		err := train(cfg)
		requireExit(t, err)
		var missing *datasets.MissingConfigError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, role, missing.Role)
		writeConfigs(t, cfg, role)
	}
}

func TestTrainUnknownModel(t *testing.T) {
	cfg := newTestConfig(t)
	writeConfigs(t, cfg, datasets.Roles...)
	cfg.Model = "bogus"
	err := train(cfg)
	requireExit(t, err)
	assert.True(t, errors.Is(err, models.ErrUnknownModel))
}

func TestTrainUnknownArchitecture(t *testing.T) {
	cfg := newTestConfig(t)
	writeConfigs(t, cfg, datasets.Roles...)
	cfg.Network = "resnet"
	requireExit(t, train(cfg))
}

func TestTrainZeroSteps(t *testing.T) {
	cfg := newTestConfig(t)
	writeConfigs(t, cfg, datasets.Roles...)
	cfg.NumTraining = 1
	requireExit(t, train(cfg))

	cfg = newTestConfig(t)
	writeConfigs(t, cfg, datasets.Roles...)
	cfg.NumValidation = 0
	requireExit(t, train(cfg))
}

func TestTrainSettings(t *testing.T) {
	for _, settings := range []string{
		"network=vgg", "keep_probability=0.3", "learning_rate=0.5", "learning_rate_decay=0",
		"/model/network=vgg", "unknown=1", "conv_depth=wide",
	} {
		cfg := newTestConfig(t)
		writeConfigs(t, cfg, datasets.Roles...)
		cfg.Settings = settings
		requireExit(t, train(cfg))
	}
}

func TestTrainMalformedCheckpoint(t *testing.T) {
	cfg := newTestConfig(t)
	writeConfigs(t, cfg, datasets.Roles...)
	outputDir, err := datasets.PrepareOutputFolder(cfg.Datapath, cfg.Dataset, cfg.Model, cfg.RunIdentity())
	require.NoError(t, err)
	for _, name := range []string{checkpoints.FileName(3), "checkpoint-epoch-final.h5"} {
		require.NoError(t, os.WriteFile(filepath.Join(outputDir, name), nil, 0644))
	}
	err = train(cfg)
	requireExit(t, err)
	assert.True(t, errors.Is(err, checkpoints.ErrMalformedName))
}

func TestTrainNetworkSizesInRunIdentity(t *testing.T) {
	cfg := newTestConfig(t)
	writeConfigs(t, cfg, datasets.Roles...)
	cfg.Settings = "conv_depth=8"

	// There are no images: the generators fail after the output folder is created.
	err := train(cfg)
	require.Error(t, err)
	var exitErr *exitError
	assert.False(t, errors.As(err, &exitErr))
	outputRoot := filepath.Join(cfg.Datapath, cfg.Dataset, "output", cfg.Model, "checkpoints")
	assert.DirExists(t, filepath.Join(outputRoot, cfg.RunIdentity()+"_conv_depth-8"))
	assert.NoDirExists(t, filepath.Join(outputRoot, cfg.RunIdentity()))
}
