// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestHistory() *training.History {
	history := &training.History{}
	history.Append(2, training.Logs{"loss": 0.5, "val_loss": 0.6, "acc": 0.8, "val_acc": 0.7})
	history.Append(0, training.Logs{"loss": 0.9, "val_loss": math.NaN(), "acc": 0.5})
	history.Append(1, training.Logs{"loss": 0.7, "val_loss": 0.8, "acc": 0.6, "val_acc": 0.6})
	return history
}

func TestPoints(t *testing.T) {
	points := NewPoints(createTestHistory())
	assert.Equal(t, []string{"loss", "val_loss"}, points.MetricsNames(LossMetricType))
	assert.Equal(t, []string{"acc", "val_acc"}, points.MetricsNames(ScoreMetricType))

	// Sorted by epoch.
	xys := points.XYs("loss")
	require.Len(t, xys, 3)
	assert.Equal(t, []float64{0, 1, 2}, []float64{xys[0].X, xys[1].X, xys[2].X})
	assert.Equal(t, 0.9, xys[0].Y)

	// NaN skipped.
	assert.Len(t, points.XYs("val_loss"), 2)
	assert.Equal(t, LossMetricType, MetricType("val_loss"))
	assert.Equal(t, ScoreMetricType, MetricType("dice_coef"))
}

func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), TrainingPlotFileName)
	require.NoError(t, SavePNG(createTestHistory(), path))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Greater(t, cfg.Height, cfg.Width/2)

	// Nothing to plot.
	emptyPath := filepath.Join(t.TempDir(), "empty.png")
	require.NoError(t, SavePNG(&training.History{}, emptyPath))
	assert.NoFileExists(t, emptyPath)
}
