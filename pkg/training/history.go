// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"maps"
	"math"
	"slices"
)

// Params records how a Loop was run.
type Params struct {
	InitialEpoch    int
	Epochs          int
	StepsPerEpoch   int
	ValidationSteps int
}

// History of a training: the logs of each epoch run.
type History struct {
	Params Params

	// Epochs run, 0-based.
	Epochs []int

	// Logs of each epoch, including validation metrics.
	Logs []Logs
}

// Append the logs of an epoch.
func (h *History) Append(epoch int, logs Logs) {
	h.Epochs = append(h.Epochs, epoch)
	h.Logs = append(h.Logs, logs.Clone())
}

// Len returns the number of epochs recorded.
func (h *History) Len() int { return len(h.Epochs) }

// Keys returns the sorted names of all metrics recorded.
func (h *History) Keys() []string {
	keys := make(map[string]struct{})
	for _, logs := range h.Logs {
		for key := range logs {
			keys[key] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(keys))
}

// Metric returns the values of a metric for each recorded epoch, NaN where it is missing.
func (h *History) Metric(key string) []float64 {
	values := make([]float64, len(h.Logs))
	for ii, logs := range h.Logs {
		value, found := logs[key]
		if !found {
			value = math.NaN()
		}
		values[ii] = value
	}
	return values
}

// AsMap returns the metrics as a map of metric name to per-epoch values.
func (h *History) AsMap() map[string][]float64 {
	m := make(map[string][]float64)
	for _, key := range h.Keys() {
		m[key] = h.Metric(key)
	}
	return m
}
