// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package callbacks

import (
	"math"
	"path/filepath"

	"github.com/oslandia/deeposlandia/pkg/checkpoints"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelCheckpoint saves the model weights to "checkpoint-epoch-XXX.h5" in a directory at the end
// of epochs, where XXX is the 1-based epoch number.
type ModelCheckpoint struct {
	dir          string
	monitor      string
	mode         Mode
	saveBestOnly bool
	period       int
	verbose      bool

	best                float64
	epochsSinceLastSave int

	// Saved lists the paths of the checkpoints saved.
	Saved []string
}

// ModelCheckpointConfig configures a ModelCheckpoint. Create it with NewModelCheckpoint.
type ModelCheckpointConfig struct {
	mc      *ModelCheckpoint
	hasBest bool
	best    float64
}

// NewModelCheckpoint creates a configuration for a ModelCheckpoint saving into dir.
// By default it monitors "val_loss" in ModeAuto, saves every epoch (period 1), and saves
// all checkpoints (not only the best).
func NewModelCheckpoint(dir string) *ModelCheckpointConfig {
	return &ModelCheckpointConfig{mc: &ModelCheckpoint{
		dir:     dir,
		monitor: training.ValidationPrefix + training.LossKey,
		mode:    ModeAuto,
		period:  1,
	}}
}

// Monitor sets the metric used to decide which checkpoint is the best.
func (c *ModelCheckpointConfig) Monitor(metric string) *ModelCheckpointConfig {
	c.mc.monitor = metric
	return c
}

// Mode sets whether the monitored metric improves by decreasing or increasing.
func (c *ModelCheckpointConfig) Mode(mode Mode) *ModelCheckpointConfig {
	c.mc.mode = mode
	return c
}

// SaveBestOnly only saves a checkpoint when the monitored metric improves.
func (c *ModelCheckpointConfig) SaveBestOnly(saveBestOnly bool) *ModelCheckpointConfig {
	c.mc.saveBestOnly = saveBestOnly
	return c
}

// Period sets the number of epochs between checkpoints.
func (c *ModelCheckpointConfig) Period(period int) *ModelCheckpointConfig {
	c.mc.period = period
	return c
}

// Verbose logs every checkpoint decision.
func (c *ModelCheckpointConfig) Verbose(verbose bool) *ModelCheckpointConfig {
	c.mc.verbose = verbose
	return c
}

// InitialBest sets the best value of the monitored metric seen so far, typically recovered from the
// metrics log of previous runs when resuming training. NaN values are ignored.
func (c *ModelCheckpointConfig) InitialBest(best float64) *ModelCheckpointConfig {
	if !math.IsNaN(best) {
		c.hasBest = true
		c.best = best
	}
	return c
}

// Done returns the configured ModelCheckpoint.
func (c *ModelCheckpointConfig) Done() (*ModelCheckpoint, error) {
	mc := c.mc
	if mc.period < 1 {
		return nil, errors.Errorf("ModelCheckpoint: period must be >= 1, got %d", mc.period)
	}
	if mc.monitor == "" {
		return nil, errors.New("ModelCheckpoint: no metric to monitor")
	}
	mc.mode = mc.mode.resolve(mc.monitor)
	mc.best = mc.mode.worst()
	if c.hasBest {
		mc.best = c.best
	}
	return mc, nil
}

// Best returns the best value of the monitored metric so far.
func (mc *ModelCheckpoint) Best() float64 { return mc.best }

// Attach the ModelCheckpoint to the loop.
func (mc *ModelCheckpoint) Attach(loop *training.Loop) {
	loop.OnEpochEnd("ModelCheckpoint", PriorityModelCheckpoint, mc.onEpochEnd)
}

func (mc *ModelCheckpoint) onEpochEnd(loop *training.Loop, epoch int, logs training.Logs) error {
	mc.epochsSinceLastSave++
	if mc.epochsSinceLastSave < mc.period {
		return nil
	}
	mc.epochsSinceLastSave = 0
	path := filepath.Join(mc.dir, checkpoints.FileName(epoch+1))
	if mc.saveBestOnly {
		current, found := logs.Get(mc.monitor)
		if !found {
			klog.Warningf("Can save best model only with %s available, skipping.", mc.monitor)
			return nil
		}
		if !mc.mode.improved(current, mc.best, 0) {
			if mc.verbose {
				klog.Infof("Epoch %05d: %s did not improve from %.5f", epoch+1, mc.monitor, mc.best)
			}
			return nil
		}
		if mc.verbose {
			klog.Infof("Epoch %05d: %s improved from %.5f to %.5f, saving model to %s",
				epoch+1, mc.monitor, mc.best, current, path)
		}
		mc.best = current
	} else if mc.verbose {
		klog.Infof("Epoch %05d: saving model to %s", epoch+1, path)
	}
	if err := loop.Model.SaveWeights(path); err != nil {
		return errors.WithMessagef(err, "saving checkpoint for epoch %d", epoch+1)
	}
	mc.Saved = append(mc.Saved, path)
	return nil
}
