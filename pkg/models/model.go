// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Model is a network trained with a GoMLX train.Trainer (Adam optimizer), reporting its metrics as
// training.Logs. It implements training.Model.
type Model struct {
	Selection Selection
	NumLabels int

	ctx     *context.Context
	trainer *train.Trainer

	// Log keys of the trainer metrics, aligned with TrainMetrics() and EvalMetrics().
	// Empty keys are not reported.
	trainKeys, evalKeys []string
}

var _ training.Model = (*Model)(nil)

// NewContext creates a context holding the model hyperparameters.
func NewContext(architecture string, keepProbability, learningRate, learningRateDecay float64) *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamArchitecture:            architecture,
		ParamKeepProbability:         keepProbability,
		ParamConvDepth:               DefaultConvDepth,
		ParamDenseSize:               DefaultDenseSize,
		optimizers.ParamLearningRate: learningRate,
		ParamLearningRateDecay:       learningRateDecay,
	})
	return ctx
}

// IdentityParams are the hyperparameters that are part of the run identity. They are set by
// NewContext only.
var IdentityParams = []string{
	ParamArchitecture, ParamKeepProbability, optimizers.ParamLearningRate, ParamLearningRateDecay,
}

// IdentitySuffix returns what to append to the run identity for the network sizes in ctx that
// differ from their defaults, e.g. "_conv_depth-64". It is empty for the default sizes.
func IdentitySuffix(ctx *context.Context) string {
	ctx = ctx.In(ModelScope)
	var sb strings.Builder
	for _, size := range []struct {
		param        string
		defaultValue int
	}{{ParamConvDepth, DefaultConvDepth}, {ParamDenseSize, DefaultDenseSize}} {
		if value := context.GetParamOr(ctx, size.param, size.defaultValue); value != size.defaultValue {
			_, _ = fmt.Fprintf(&sb, "_%s-%d", size.param, value)
		}
	}
	return sb.String()
}

// New creates the model for the selection with numLabels outputs. The hyperparameters (network
// architecture, keep probability, learning rate and decay) are read from ctx.
func New(backend backends.Backend, ctx *context.Context, sel Selection, numLabels int) (*Model, error) {
	if numLabels <= 0 {
		return nil, errors.Errorf("model requires at least one label, got %d", numLabels)
	}
	if err := CheckArchitecture(context.GetParamOr(ctx.In(ModelScope), ParamArchitecture, SimpleArchitecture)); err != nil {
		return nil, err
	}
	learningRate := context.GetParamOr(ctx, optimizers.ParamLearningRate, optimizers.AdamDefaultLearningRate)
	optimizer := optimizers.Adam().LearningRate(learningRate).Done()
	trainMetrics, evalMetrics := Metrics(sel.Kind)
	trainer := train.NewTrainer(backend, ctx, ModelGraph(sel, numLabels), LossFn(sel), optimizer,
		trainMetrics, evalMetrics)
	return &Model{
		Selection: sel,
		NumLabels: numLabels,
		ctx:       ctx,
		trainer:   trainer,
		trainKeys: metricKeys(trainer.TrainMetrics(), trainMetrics),
		evalKeys:  metricKeys(trainer.EvalMetrics(), evalMetrics),
	}, nil
}

// metricKeys returns the log keys of the trainer metrics: the first one is always the loss, and the
// metrics created by Metrics are keyed by their short names.
func metricKeys(all, ours []metrics.Interface) []string {
	keys := make([]string, len(all))
	for ii, metric := range all {
		switch {
		case ii == 0:
			keys[ii] = training.LossKey
		case slices.Contains(ours, metric):
			keys[ii] = metric.ShortName()
		}
	}
	return keys
}

func logsFromMetrics(keys []string, values []*tensors.Tensor) training.Logs {
	logs := make(training.Logs, len(keys))
	for ii, key := range keys {
		if key == "" || ii >= len(values) {
			continue
		}
		logs[key] = shapes.ConvertTo[float64](values[ii].Value())
	}
	return logs
}

// Context of the model, holding its hyperparameters and variables.
func (m *Model) Context() *context.Context { return m.ctx }

// Trainer used by the model.
func (m *Model) Trainer() *train.Trainer { return m.trainer }

// TrainStep implements training.Model. The loss reported is the loss of the batch.
func (m *Model) TrainStep(spec any, inputs, labels []*tensors.Tensor) (training.Logs, error) {
	var results []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		var stepErr error
		results, stepErr = m.trainer.TrainStep(spec, inputs, labels)
		if stepErr != nil {
			panic(stepErr)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "model train step")
	}
	return logsFromMetrics(m.trainKeys, results), nil
}

// Evaluate implements training.Model: it returns the mean loss and metrics over ds.
func (m *Model) Evaluate(ds train.Dataset) (training.Logs, error) {
	var results []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		var evalErr error
		results, evalErr = m.trainer.Eval(ds)
		if evalErr != nil {
			panic(evalErr)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "evaluating model on %q", ds.Name())
	}
	return logsFromMetrics(m.evalKeys, results), nil
}

// SaveWeights implements training.Model, see SaveVariables for the format.
func (m *Model) SaveWeights(path string) error {
	return SaveVariables(m.ctx, path)
}

// LoadWeights loads the weights saved at path: they are used when the model graph is first built.
// If the weights include the optimizer global step, the trainer is switched to reuse the variables,
// so a mismatch between the saved weights and the network is reported as an error.
func (m *Model) LoadWeights(path string) error {
	loader, err := LoadVariables(m.ctx, path)
	if err != nil {
		return err
	}
	numVariables := loader.Pending()
	globalStep := optimizers.GetGlobalStep(m.ctx)
	if globalStep > 0 {
		m.trainer.SetContext(m.ctx.Reuse())
	}
	klog.Infof("resuming from %q: %d variables, global step %d", path, numVariables, globalStep)
	return nil
}

// GlobalStep returns the number of training steps taken, including those of previous runs when
// resuming from saved weights.
func (m *Model) GlobalStep() int64 {
	return optimizers.GetGlobalStep(m.ctx)
}
