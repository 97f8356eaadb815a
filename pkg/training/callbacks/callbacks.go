// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package callbacks implements the monitoring tools attached to a training.Loop:
// best model checkpointing, termination on NaN loss, early stopping and CSV metrics logging.
//
// Each tool is configured with a builder, and attached with Attach:
//
//	checkpoint := callbacks.NewModelCheckpoint(outputDir).Monitor("val_loss").SaveBestOnly(true).Done()
//	checkpoint.Attach(loop)
package callbacks

import (
	"math"
	"strings"

	"github.com/oslandia/deeposlandia/pkg/training"
)

// Mode defines whether a monitored metric improves when it decreases or increases.
type Mode int

const (
	// ModeAuto infers the mode from the metric name: ModeMax for accuracy metrics, ModeMin otherwise.
	ModeAuto Mode = iota
	ModeMin
	ModeMax
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeMin:
		return "min"
	case ModeMax:
		return "max"
	}
	return "auto"
}

// resolve returns ModeMin or ModeMax for the given metric.
func (m Mode) resolve(monitor string) Mode {
	if m != ModeAuto {
		return m
	}
	if strings.Contains(monitor, training.AccuracyKey) || strings.HasPrefix(monitor, "fmeasure") {
		return ModeMax
	}
	return ModeMin
}

// worst returns the initial "best" value for the mode.
func (m Mode) worst() float64 {
	if m == ModeMax {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

// improved returns whether current improves over best by more than minDelta (>= 0).
func (m Mode) improved(current, best, minDelta float64) bool {
	if m == ModeMax {
		return current-minDelta > best
	}
	return current+minDelta < best
}

// Priorities used when attaching the tools to the loop. Stopping conditions are evaluated
// before checkpointing and logging.
const (
	PriorityTerminateOnNaN  training.Priority = -10
	PriorityEarlyStopping   training.Priority = -5
	PriorityModelCheckpoint training.Priority = 0
	PriorityCSVLogger       training.Priority = 10
)
