// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package callbacks

import (
	"math"

	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EarlyStopping stops training when a monitored metric has stopped improving for a number
// of epochs (the patience).
type EarlyStopping struct {
	monitor  string
	minDelta float64
	patience int
	mode     Mode
	verbose  bool

	best float64
	wait int

	// StoppedEpoch is the 0-based epoch at which training was stopped, or -1.
	StoppedEpoch int
}

// EarlyStoppingConfig configures an EarlyStopping. Create it with NewEarlyStopping.
type EarlyStoppingConfig struct {
	es *EarlyStopping
}

// NewEarlyStopping creates a configuration for an EarlyStopping monitoring "val_loss"
// with no minimum delta and no patience.
func NewEarlyStopping() *EarlyStoppingConfig {
	return &EarlyStoppingConfig{es: &EarlyStopping{
		monitor:      training.ValidationPrefix + training.LossKey,
		mode:         ModeAuto,
		StoppedEpoch: -1,
	}}
}

// Monitor sets the metric monitored.
func (c *EarlyStoppingConfig) Monitor(metric string) *EarlyStoppingConfig {
	c.es.monitor = metric
	return c
}

// MinDelta sets the minimum change of the monitored metric to qualify as an improvement.
// The sign is ignored.
func (c *EarlyStoppingConfig) MinDelta(minDelta float64) *EarlyStoppingConfig {
	c.es.minDelta = math.Abs(minDelta)
	return c
}

// Patience sets the number of epochs without improvement after which training is stopped.
func (c *EarlyStoppingConfig) Patience(patience int) *EarlyStoppingConfig {
	c.es.patience = patience
	return c
}

// Mode sets whether the monitored metric improves by decreasing or increasing.
func (c *EarlyStoppingConfig) Mode(mode Mode) *EarlyStoppingConfig {
	c.es.mode = mode
	return c
}

// Verbose logs when training is stopped.
func (c *EarlyStoppingConfig) Verbose(verbose bool) *EarlyStoppingConfig {
	c.es.verbose = verbose
	return c
}

// Done returns the configured EarlyStopping.
func (c *EarlyStoppingConfig) Done() (*EarlyStopping, error) {
	es := c.es
	if es.patience < 0 {
		return nil, errors.Errorf("EarlyStopping: patience must be >= 0, got %d", es.patience)
	}
	if es.monitor == "" {
		return nil, errors.New("EarlyStopping: no metric to monitor")
	}
	es.mode = es.mode.resolve(es.monitor)
	return es, nil
}

// Attach the EarlyStopping to the loop.
func (es *EarlyStopping) Attach(loop *training.Loop) {
	loop.OnTrainBegin("EarlyStopping", PriorityEarlyStopping, es.onTrainBegin)
	loop.OnEpochEnd("EarlyStopping", PriorityEarlyStopping, es.onEpochEnd)
	loop.OnTrainEnd("EarlyStopping", PriorityEarlyStopping, es.onTrainEnd)
}

func (es *EarlyStopping) onTrainBegin(_ *training.Loop) error {
	es.wait = 0
	es.StoppedEpoch = -1
	es.best = es.mode.worst()
	return nil
}

func (es *EarlyStopping) onEpochEnd(loop *training.Loop, epoch int, logs training.Logs) error {
	current, found := logs.Get(es.monitor)
	if !found {
		klog.Warningf("Early stopping conditioned on metric %q which is not available, available metrics are: %v",
			es.monitor, logs.Keys())
		return nil
	}
	if es.mode.improved(current, es.best, es.minDelta) {
		es.best = current
		es.wait = 0
		return nil
	}
	es.wait++
	if es.wait >= es.patience {
		es.StoppedEpoch = epoch
		loop.StopTraining = true
	}
	return nil
}

func (es *EarlyStopping) onTrainEnd(_ *training.Loop, _ *training.History) error {
	if es.StoppedEpoch >= 0 && es.verbose {
		klog.Infof("Epoch %05d: early stopping", es.StoppedEpoch+1)
	}
	return nil
}
