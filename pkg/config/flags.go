// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"flag"

	"github.com/pkg/errors"
)

// ErrMissingDataset is returned by Parse when no dataset was given.
var ErrMissingDataset = errors.New("the dataset flag (-D/--dataset) is required")

// RegisterFlags registers the configuration flags into fs, both with their long and short names.
// Parsed values are written to c, whose current values are used as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	// Instance.
	stringVar(fs, &c.Dataset, "D", "dataset", c.Dataset,
		"Dataset type (either mapillary, shapes or aerial)")
	stringVar(fs, &c.Model, "M", "model", c.Model,
		"Type of model to train, either 'feature_detection' or 'semantic_segmentation'")
	stringVar(fs, &c.Name, "n", "name", c.Name,
		"Model name that will be used for results, checkpoints and graph storage on file system")
	stringVar(fs, &c.Network, "N", "network", c.Network,
		"Neural network size, either 'simple' (3 conv/pool blocks and 1 fully-connected layer) or 'vgg'")
	stringVar(fs, &c.Datapath, "p", "datapath", c.Datapath,
		"Relative path towards data directory")
	boolVar(fs, &c.AggregateLabel, "a", "aggregate-label", c.AggregateLabel,
		"Aggregate labels with respect to their categories")

	// Hyperparameters.
	intVar(fs, &c.BatchSize, "b", "batch-size", c.BatchSize,
		"Number of images that must be contained into a single batch")
	float64Var(fs, &c.Dropout, "d", "dropout", c.Dropout,
		"Percentage of kept neurons during training")
	intVar(fs, &c.NumEpochs, "e", "nb-epochs", c.NumEpochs,
		"Number of training epochs (one epoch means scanning each training image once)")
	float64Var(fs, &c.LearningRate, "L", "learning-rate", c.LearningRate,
		"Starting learning rate")
	float64Var(fs, &c.LearningRateDecay, "l", "learning-rate-decay", c.LearningRateDecay,
		"Learning rate decay")
	intVar(fs, &c.ImageSize, "s", "image-size", c.ImageSize,
		"Desired size of images (width = height)")

	// Training.
	intVar(fs, &c.NumTesting, "ii", "nb-testing-image", c.NumTesting,
		"Number of testing images")
	intVar(fs, &c.NumTraining, "it", "nb-training-image", c.NumTraining,
		"Number of training images")
	intVar(fs, &c.NumValidation, "iv", "nb-validation-image", c.NumValidation,
		"Number of validation images")

	// Run options.
	fs.Int64Var(&c.Seed, "seed", c.Seed,
		"Seed used to shuffle the datasets. If 0 it is taken from the current time.")
	fs.BoolVar(&c.Evaluate, "evaluate", c.Evaluate,
		"Evaluate the model on the testing set after training")
	fs.BoolVar(&c.Plots, "plots", c.Plots,
		"Save a plot of the training metrics next to the checkpoints")
	fs.StringVar(&c.Backend, "backend", c.Backend,
		"GoMLX backend configuration, e.g. \"xla:cuda\". Empty uses the default backend.")
	fs.StringVar(&c.Settings, "set", c.Settings,
		"Extra model hyperparameters as a list of \"param=value\" separated by \";\", e.g. \"conv_depth=64;dense_size=256\"")
}

// Parse registers the flags into a new FlagSet named after program, parses args and
// checks the dataset was given.
func Parse(program string, args []string) (*Config, error) {
	return ParseFlagSet(flag.NewFlagSet(program, flag.ContinueOnError), args)
}

// ParseFlagSet registers the flags into fs, which may already hold other flags (e.g. klog's),
// parses args and checks the dataset was given.
func ParseFlagSet(fs *flag.FlagSet, args []string) (*Config, error) {
	c := Default()
	c.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if c.Dataset == "" {
		return nil, ErrMissingDataset
	}
	return c, nil
}

func stringVar(fs *flag.FlagSet, p *string, short, long, value, usage string) {
	fs.StringVar(p, long, value, usage)
	fs.StringVar(p, short, value, "Shorthand for --"+long)
}

func boolVar(fs *flag.FlagSet, p *bool, short, long string, value bool, usage string) {
	fs.BoolVar(p, long, value, usage)
	fs.BoolVar(p, short, value, "Shorthand for --"+long)
}

func intVar(fs *flag.FlagSet, p *int, short, long string, value int, usage string) {
	fs.IntVar(p, long, value, usage)
	fs.IntVar(p, short, value, "Shorthand for --"+long)
}

func float64Var(fs *flag.FlagSet, p *float64, short, long string, value float64, usage string) {
	fs.Float64Var(p, long, value, usage)
	fs.Float64Var(p, short, value, "Shorthand for --"+long)
}
