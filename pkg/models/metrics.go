// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/oslandia/deeposlandia/pkg/training"
)

// Smoothing added to the numerator and denominator of the IoU and Dice coefficients, so they are
// defined (and equal to 1) when both labels and predictions are empty.
const Smoothing = 1.0

// probabilities converts logits to probabilities: independent sigmoids for feature detection,
// and a softmax over the labels of each pixel for semantic segmentation.
func probabilities(kind Kind, logits *graph.Node) *graph.Node {
	if kind == SemanticSegmentation {
		return graph.Softmax(logits, -1)
	}
	return graph.Sigmoid(logits)
}

// overlap returns the sum of labels times predicted probabilities (the soft intersection), and the
// sums of labels and of probabilities.
func overlap(kind Kind, labels, logits []*graph.Node) (intersection, labelsSum, probsSum *graph.Node) {
	probs := probabilities(kind, logits[0])
	labels0 := graph.ConvertDType(labels[0], probs.DType())
	if !labels0.Shape().Equal(probs.Shape()) {
		labels0 = graph.Reshape(labels0, probs.Shape().Dimensions...)
	}
	intersection = graph.ReduceAllSum(graph.Mul(labels0, probs))
	labelsSum = graph.ReduceAllSum(labels0)
	probsSum = graph.ReduceAllSum(probs)
	return
}

// IoUGraph returns a metric graph function computing the soft Jaccard index (intersection over union)
// of the labels and the predicted probabilities.
func IoUGraph(kind Kind) metrics.BaseMetricGraph {
	return func(_ *context.Context, labels, logits []*graph.Node) *graph.Node {
		intersection, labelsSum, probsSum := overlap(kind, labels, logits)
		union := graph.Sub(graph.Add(labelsSum, probsSum), intersection)
		return graph.Div(graph.AddScalar(intersection, Smoothing), graph.AddScalar(union, Smoothing))
	}
}

// DiceGraph returns a metric graph function computing the soft Dice coefficient of the labels and
// the predicted probabilities.
func DiceGraph(kind Kind) metrics.BaseMetricGraph {
	return func(_ *context.Context, labels, logits []*graph.Node) *graph.Node {
		intersection, labelsSum, probsSum := overlap(kind, labels, logits)
		numerator := graph.AddScalar(graph.MulScalar(intersection, 2), Smoothing)
		return graph.Div(numerator, graph.AddScalar(graph.Add(labelsSum, probsSum), Smoothing))
	}
}

// CategoricalAccuracyGraph is the fraction of pixels whose most likely label is the labeled one.
// Labels are one-hot encoded on the last axis.
func CategoricalAccuracyGraph(_ *context.Context, labels, logits []*graph.Node) *graph.Node {
	logits0 := logits[0]
	predicted := graph.ArgMax(logits0, -1)
	expected := graph.ArgMax(labels[0], -1)
	return graph.ReduceAllMean(graph.ConvertDType(graph.Equal(predicted, expected), logits0.DType()))
}

// AccuracyGraph returns the accuracy metric graph function for the kind of model.
func AccuracyGraph(kind Kind) metrics.BaseMetricGraph {
	if kind == SemanticSegmentation {
		return CategoricalAccuracyGraph
	}
	return metrics.BinaryLogitsAccuracyGraph
}

// LossFn returns the loss function of the selected model.
func LossFn(sel Selection) func(labels, logits []*graph.Node) *graph.Node {
	if sel.Kind == SemanticSegmentation {
		return losses.CategoricalCrossEntropyLogits
	}
	return losses.BinaryCrossentropyLogits
}

// metricDef defines one of the metrics reported in the training logs.
type metricDef struct {
	key, name, metricType string
	fn                    metrics.BaseMetricGraph
}

func metricDefs(kind Kind) []metricDef {
	return []metricDef{
		{training.AccuracyKey, "Accuracy", metrics.AccuracyMetricType, AccuracyGraph(kind)},
		{training.IoUKey, "IoU", metrics.AccuracyMetricType, IoUGraph(kind)},
		{training.DiceKey, "Dice Coefficient", metrics.AccuracyMetricType, DiceGraph(kind)},
	}
}

// Metrics returns the metrics to be computed during training (on each batch) and evaluation (mean over
// the dataset). Their short names are the keys used in the training logs.
func Metrics(kind Kind) (trainMetrics, evalMetrics []metrics.Interface) {
	for _, def := range metricDefs(kind) {
		trainMetrics = append(trainMetrics, metrics.NewBaseMetric("Batch "+def.name, def.key, def.metricType, def.fn, nil))
		evalMetrics = append(evalMetrics, metrics.NewMeanMetric("Mean "+def.name, def.key, def.metricType, def.fn, nil))
	}
	return
}
