// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots draws the metrics collected during training.
package plots

import (
	"math"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"k8s.io/klog/v2"
)

// TrainingPlotFileName is the default file name, within the output directory of a run, of the
// plot of the training metrics.
const TrainingPlotFileName = "training_metrics.png"

// Metric types: metrics of the same type are drawn in the same plot.
const (
	LossMetricType  = "loss"
	ScoreMetricType = "score"
)

// MetricType returns the type of the metric with the given log key.
func MetricType(key string) string {
	if strings.HasSuffix(key, training.LossKey) {
		return LossMetricType
	}
	return ScoreMetricType
}

// Point represents a metric value at an epoch.
type Point struct {
	// MetricName is the log key of the metric, e.g. "val_loss".
	MetricName string

	// MetricType is either LossMetricType or ScoreMetricType.
	MetricType string

	// Epoch (0-based) the metric was measured.
	Epoch int

	// Value is the metric captured.
	Value float64
}

// Points is a collection of Point objects organized by their metric name.
// It's a `map[string][]Point` with several utility methods.
type Points map[string][]Point

// NewPoints creates the Points of the history. NaN and infinite values are skipped.
func NewPoints(history *training.History) Points {
	points := make(Points)
	for ii, epoch := range history.Epochs {
		for key, value := range history.Logs[ii] {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				continue
			}
			points[key] = append(points[key], Point{
				MetricName: key,
				MetricType: MetricType(key),
				Epoch:      epoch,
				Value:      value,
			})
		}
	}
	for _, metricPoints := range points {
		slices.SortStableFunc(metricPoints, func(a, b Point) int { return a.Epoch - b.Epoch })
	}
	return points
}

// MetricsNames returns the sorted names of the metrics of the given type.
func (points Points) MetricsNames(metricType string) []string {
	var names []string
	for _, name := range xslices.SortedKeys(points) {
		if MetricType(name) == metricType {
			names = append(names, name)
		}
	}
	return names
}

// XYs returns the (epoch, value) pairs of a metric.
func (points Points) XYs(name string) plotter.XYs {
	metricPoints := points[name]
	xys := make(plotter.XYs, len(metricPoints))
	for ii, p := range metricPoints {
		xys[ii].X = float64(p.Epoch)
		xys[ii].Y = p.Value
	}
	return xys
}

// newPlot creates a plot with one line per metric of the given type, or nil if there is none.
func (points Points) newPlot(metricType string) (*plot.Plot, error) {
	names := points.MetricsNames(metricType)
	if len(names) == 0 {
		return nil, nil
	}
	p := plot.New()
	p.Title.Text = strings.ToUpper(metricType[:1]) + metricType[1:]
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = metricType
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	for ii, name := range names {
		line, scatter, err := plotter.NewLinePoints(points.XYs(name))
		if err != nil {
			return nil, errors.Wrapf(err, "plotting metric %q", name)
		}
		line.Color = plotutil.Color(ii)
		line.Dashes = plotutil.Dashes(ii)
		scatter.Color = plotutil.Color(ii)
		scatter.Shape = plotutil.Shape(ii)
		p.Add(line, scatter)
		p.Legend.Add(name, line, scatter)
	}
	return p, nil
}

// Width of the saved image, and height of each of its plots.
var (
	Width      = 8 * vg.Inch
	PlotHeight = 4 * vg.Inch
)

// SavePNG draws the losses and the scores of the history, one plot above the other, and saves
// them as a PNG image at path. It does nothing if the history has no metrics.
func SavePNG(history *training.History, path string) error {
	points := NewPoints(history)
	var plots [][]*plot.Plot
	for _, metricType := range []string{LossMetricType, ScoreMetricType} {
		p, err := points.newPlot(metricType)
		if err != nil {
			return err
		}
		if p != nil {
			plots = append(plots, []*plot.Plot{p})
		}
	}
	if len(plots) == 0 {
		klog.Warningf("no metrics to plot, %q not written", path)
		return nil
	}

	img := vgimg.New(Width, PlotHeight*vg.Length(len(plots)))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: len(plots),
		Cols: 1,
		PadX: vg.Millimeter,
		PadY: 3 * vg.Millimeter,
	}
	canvases := plot.Align(plots, tiles, dc)
	for row := range plots {
		plots[row][0].Draw(canvases[row][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating plot file %q", path)
	}
	_, err = vgimg.PngCanvas{Canvas: img}.WriteTo(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrapf(err, "writing plot file %q", path)
	}
	klog.V(1).Infof("training metrics plotted in %q", path)
	return nil
}
