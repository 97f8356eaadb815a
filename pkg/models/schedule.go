// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
)

const (
	// ParamLearningRateDecay is the inverse-time decay of the learning rate. 0 disables the decay.
	ParamLearningRateDecay = "learning_rate_decay"

	// DecayScope is the scope, under the optimizers scope, of the step counter of the decay schedule.
	DecayScope = "inverse_time_decay"
)

// InverseTimeDecayGraph updates the optimizer learning rate to
//
//	learning_rate / (1 + decay * iterations)
//
// where iterations is the number of training steps already taken, counted by the schedule itself.
// The initial learning rate and the decay are read from the context parameters
// optimizers.ParamLearningRate and ParamLearningRateDecay.
//
// It must be called with the root context of the model, and it is a no-op when not training or
// if the decay is 0.
func InverseTimeDecayGraph(ctx *context.Context, g *graph.Graph, dtype dtypes.DType) {
	ctx = ctx.Checked(false)
	decay := context.GetParamOr(ctx, ParamLearningRateDecay, 0.0)
	if !ctx.IsTraining(g) || decay == 0 {
		return
	}
	if decay < 0 {
		exceptions.Panicf("invalid learning rate decay %g, it must be >= 0", decay)
	}
	lrValue := context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0)
	if lrValue <= 0 {
		exceptions.Panicf("learning rate not set in the context as parameter %q", optimizers.ParamLearningRate)
	}

	// The counter starts at 1.
	iterations := graph.MinusOne(optimizers.IncrementGlobalStepGraph(ctx.In(optimizers.Scope).In(DecayScope), g, dtype))
	lr := graph.Div(graph.Scalar(g, dtype, lrValue), graph.OnePlus(graph.MulScalar(iterations, decay)))

	lrVar := optimizers.LearningRateVarWithValue(ctx, dtype, lrValue)
	lrVar.SetValueGraph(lr)
}
