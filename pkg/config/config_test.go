// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"flag"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFloat(t *testing.T) {
	for _, tc := range []struct {
		value float64
		want  string
	}{
		{1.0, "1.0"},
		{0.5, "0.5"},
		{0.001, "0.001"},
		{0.0001, "0.0001"},
		{1e-05, "1e-05"},
		{2.5e-07, "2.5e-07"},
		{0, "0.0"},
		{123456, "123456.0"},
		{1e16, "1e+16"},
		{-0.75, "-0.75"},
		{math.NaN(), "nan"},
		{math.Inf(1), "inf"},
	} {
		assert.Equal(t, tc.want, FormatFloat(tc.value), "FormatFloat(%g)", tc.value)
	}
}

func TestRunIdentity(t *testing.T) {
	c := Default()
	c.Dataset = "shapes"
	assert.Equal(t, "cnn_256_simple_50_full_1.0_0.001_0.0001", c.RunIdentity())

	c.AggregateLabel = true
	c.Network = "vgg"
	c.Dropout = 0.75
	c.LearningRateDecay = 1e-05
	c.ImageSize = 224
	c.BatchSize = 20
	c.Name = "mapi"
	assert.Equal(t, "mapi_224_vgg_20_aggregated_0.75_0.001_1e-05", c.RunIdentity())

	// Deterministic in its inputs only: the dataset, epochs and image counts do not matter.
	other := *c
	other.Dataset = "aerial"
	other.NumEpochs = 100
	other.NumTraining = 10
	other.Seed = 42
	assert.Equal(t, c.RunIdentity(), other.RunIdentity())

	// But any of the eight inputs change it.
	other.LearningRate = 0.01
	assert.NotEqual(t, c.RunIdentity(), other.RunIdentity())
}

func TestParse(t *testing.T) {
	c, err := Parse("train", []string{"-D", "shapes", "-ii", "100", "--nb-training-image=200",
		"-iv", "50", "-a", "-s", "64", "-L", "0.01", "--network", "vgg"})
	require.NoError(t, err)
	assert.Equal(t, "shapes", c.Dataset)
	assert.Equal(t, 100, c.NumTesting)
	assert.Equal(t, 200, c.NumTraining)
	assert.Equal(t, 50, c.NumValidation)
	assert.True(t, c.AggregateLabel)
	assert.Equal(t, AggregationAggregated, c.Aggregation())
	assert.Equal(t, 64, c.ImageSize)
	assert.Equal(t, 0.01, c.LearningRate)
	assert.Equal(t, "vgg", c.Network)

	// Untouched values keep their defaults.
	assert.Equal(t, DefaultModel, c.Model)
	assert.Equal(t, DefaultBatchSize, c.BatchSize)
	assert.Equal(t, DefaultDropout, c.Dropout)
	assert.Equal(t, DefaultLearningRateDecay, c.LearningRateDecay)
	assert.Equal(t, DefaultDatapath, c.Datapath)

	_, err = Parse("train", []string{"-M", "semantic_segmentation"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDataset))

	_, err = Parse("train", []string{"-D", "shapes", "-b", "not-a-number"})
	require.Error(t, err)

	// Extra flags registered by the caller.
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	verbosity := fs.Int("v", 0, "verbosity")
	c, err = ParseFlagSet(fs, []string{"-v", "2", "-D", "aerial", "-set", "conv_depth=64;dense_size=256", "--evaluate"})
	require.NoError(t, err)
	assert.Equal(t, 2, *verbosity)
	assert.Equal(t, "aerial", c.Dataset)
	assert.Equal(t, "conv_depth=64;dense_size=256", c.Settings)
	assert.True(t, c.Evaluate)
}

func TestSteps(t *testing.T) {
	c := Default()
	train, validation, test, err := c.Steps()
	require.NoError(t, err)
	assert.Equal(t, 360, train)
	assert.Equal(t, 40, validation)
	assert.Equal(t, 100, test)

	c.BatchSize = 7
	c.NumTraining = 20
	train, _, _, err = c.Steps()
	require.NoError(t, err)
	assert.Equal(t, 2, train)

	c.BatchSize = 0
	_, _, _, err = c.Steps()
	require.Error(t, err)
}
