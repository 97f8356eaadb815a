// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

// ValidationPrefix is prepended to the names of metrics evaluated on the validation dataset.
const ValidationPrefix = "val_"

// Metric names reported by models.
const (
	LossKey     = "loss"
	AccuracyKey = "acc"
	IoUKey      = "iou"
	DiceKey     = "dice_coef"
)

// Logs maps metric names to their values, for a batch or an epoch.
type Logs map[string]float64

// Keys returns the sorted metric names.
func (l Logs) Keys() []string {
	return slices.Sorted(maps.Keys(l))
}

// Get returns the value of a metric, and whether it is present.
func (l Logs) Get(key string) (value float64, found bool) {
	value, found = l[key]
	return
}

// Clone returns a copy of the logs.
func (l Logs) Clone() Logs {
	return maps.Clone(l)
}

// WithPrefix returns a copy of the logs with prefix prepended to each metric name.
func (l Logs) WithPrefix(prefix string) Logs {
	prefixed := make(Logs, len(l))
	for key, value := range l {
		prefixed[prefix+key] = value
	}
	return prefixed
}

// String implements fmt.Stringer, listing metrics in sorted order.
func (l Logs) String() string {
	parts := make([]string, 0, len(l))
	for _, key := range l.Keys() {
		parts = append(parts, fmt.Sprintf("%s: %.4f", key, l[key]))
	}
	return strings.Join(parts, " - ")
}

// runningMean accumulates batch logs into their mean over an epoch.
type runningMean struct {
	sums  map[string]float64
	count map[string]int
}

func newRunningMean() *runningMean {
	return &runningMean{sums: make(map[string]float64), count: make(map[string]int)}
}

func (m *runningMean) add(logs Logs) {
	for key, value := range logs {
		m.sums[key] += value
		m.count[key]++
	}
}

func (m *runningMean) mean() Logs {
	logs := make(Logs, len(m.sums))
	for key, sum := range m.sums {
		if m.count[key] == 0 {
			logs[key] = math.NaN()
			continue
		}
		logs[key] = sum / float64(m.count[key])
	}
	return logs
}
