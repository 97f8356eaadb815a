// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config assembles the command-line configuration of a training run.
//
// Flags are grouped the same way they are used: Instance describes which dataset, model and
// network are trained and where the data lives, Hyperparameters drive the optimization and the
// run identity, and Training holds the dataset sizes used to derive per-epoch step counts.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Aggregation values, used in folder names and in the run identity.
const (
	AggregationFull       = "full"
	AggregationAggregated = "aggregated"
)

// Default values, matching the command-line defaults.
const (
	DefaultModel             = "feature_detection"
	DefaultName              = "cnn"
	DefaultNetwork           = "simple"
	DefaultDatapath          = "./data"
	DefaultBatchSize         = 50
	DefaultDropout           = 1.0
	DefaultNumEpochs         = 0
	DefaultLearningRate      = 0.001
	DefaultLearningRateDecay = 0.0001
	DefaultImageSize         = 256
	DefaultNumTesting        = 5000
	DefaultNumTraining       = 18000
	DefaultNumValidation     = 2000
)

// Instance groups the flags describing what is trained and where.
type Instance struct {
	// Dataset type: "mapillary", "aerial" or "shapes".
	Dataset string

	// Model type: "feature_detection" or "semantic_segmentation".
	Model string

	// Name is the model name, the first component of the run identity.
	Name string

	// Network architecture, e.g. "simple" or "vgg".
	Network string

	// Datapath is the root of the data directory.
	Datapath string

	// AggregateLabel selects the aggregated (coarser) label set.
	AggregateLabel bool
}

// Hyperparameters groups the optimization parameters.
type Hyperparameters struct {
	BatchSize int

	// Dropout is the fraction of neurons kept during training, 1.0 disables dropout.
	Dropout float64

	NumEpochs         int
	LearningRate      float64
	LearningRateDecay float64

	// ImageSize is the width (and height) of preprocessed images.
	ImageSize int
}

// Training groups the number of images used per dataset role.
type Training struct {
	NumTesting    int
	NumTraining   int
	NumValidation int
}

// Config is the full configuration of a training run.
type Config struct {
	Instance
	Hyperparameters
	Training

	// Seed for the data generators shuffling. If 0, it is derived from the current time.
	Seed int64

	// Evaluate the trained model on the testing set at the end of training.
	Evaluate bool

	// Plots enables writing a PNG file with the metrics curves.
	Plots bool

	// Backend configuration passed to GoMLX. Empty selects the default backend.
	Backend string

	// Settings of extra model hyperparameters, "param=value" entries separated by ";".
	Settings string
}

// Default returns a configuration with all default values and no dataset.
func Default() *Config {
	return &Config{
		Instance: Instance{
			Model:    DefaultModel,
			Name:     DefaultName,
			Network:  DefaultNetwork,
			Datapath: DefaultDatapath,
		},
		Hyperparameters: Hyperparameters{
			BatchSize:         DefaultBatchSize,
			Dropout:           DefaultDropout,
			NumEpochs:         DefaultNumEpochs,
			LearningRate:      DefaultLearningRate,
			LearningRateDecay: DefaultLearningRateDecay,
			ImageSize:         DefaultImageSize,
		},
		Training: Training{
			NumTesting:    DefaultNumTesting,
			NumTraining:   DefaultNumTraining,
			NumValidation: DefaultNumValidation,
		},
	}
}

// Aggregation returns the label aggregation value: AggregationAggregated if labels are aggregated,
// AggregationFull otherwise.
func (c *Config) Aggregation() string {
	if c.AggregateLabel {
		return AggregationAggregated
	}
	return AggregationFull
}

// RunIdentity returns the string that namespaces the outputs of the run.
//
// It joins with "_" the model name, image size, network, batch size, aggregation, dropout,
// learning rate and learning rate decay. Floats are formatted with FormatFloat.
func (c *Config) RunIdentity() string {
	parts := []string{
		c.Name,
		strconv.Itoa(c.ImageSize),
		c.Network,
		strconv.Itoa(c.BatchSize),
		c.Aggregation(),
		FormatFloat(c.Dropout),
		FormatFloat(c.LearningRate),
		FormatFloat(c.LearningRateDecay),
	}
	return strings.Join(parts, "_")
}

// Steps returns the number of steps per epoch for training, validation and testing: the number of
// images of each role integer-divided by the batch size.
func (c *Config) Steps() (train, validation, test int, err error) {
	if c.BatchSize <= 0 {
		err = errors.Errorf("invalid batch size %d, it must be > 0", c.BatchSize)
		return
	}
	train = c.NumTraining / c.BatchSize
	validation = c.NumValidation / c.BatchSize
	test = c.NumTesting / c.BatchSize
	return
}

// FormatFloat formats v using the shortest representation that round-trips, always with a
// decimal point for integral values ("1.0") and with a two-digit exponent for values
// below 1e-4 or from 1e16 up ("1e-05").
//
// Run directories created by earlier versions of the tool use this format, so it must not change.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case v == 0:
		if math.Signbit(v) {
			return "-0.0"
		}
		return "0.0"
	}
	sci := strconv.FormatFloat(v, 'e', -1, 64)
	expIdx := strings.IndexByte(sci, 'e')
	exp, err := strconv.Atoi(sci[expIdx+1:])
	if err != nil {
		// strconv always writes a valid exponent.
		panic(errors.Wrapf(err, "unexpected float format %q", sci))
	}
	if exp < -4 || exp >= 16 {
		return sci
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// String implements fmt.Stringer.
func (c *Config) String() string {
	return fmt.Sprintf("dataset=%q, model=%q, run=%q", c.Dataset, c.Model, c.RunIdentity())
}
