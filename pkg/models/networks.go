// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
)

// Hyperparameters read from the context by the model graphs.
const (
	// ParamArchitecture is the network architecture, one of Architectures.
	ParamArchitecture = "network"

	// ParamKeepProbability is the probability of keeping a unit in the dropout layers.
	// A value of 1.0 disables dropout.
	ParamKeepProbability = "keep_probability"

	// ParamConvDepth is the number of channels of the first convolution block. It doubles at each block.
	ParamConvDepth = "conv_depth"

	// ParamDenseSize is the number of hidden units of the dense layer of the feature detection readout.
	ParamDenseSize = "dense_size"
)

// Defaults of the hyperparameters.
const (
	DefaultConvDepth = 32
	DefaultDenseSize = 128
	KernelSize       = 3
	PoolSize         = 2
)

// ModelScope is the context scope of the network variables.
const ModelScope = "model"

// ModelGraph returns a train.ModelFn for the selected kind of model and numLabels outputs.
//
// The input is a batch of images shaped `[batch_size, size, size, 3]`. The output logits are
// shaped `[batch_size, numLabels]` for feature detection, and `[batch_size, size, size, numLabels]`
// for semantic segmentation.
func ModelGraph(sel Selection, numLabels int) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
		images := inputs[0]
		// Learning rate schedule is configured in the root scope, where the optimizer finds it.
		InverseTimeDecayGraph(ctx, images.Graph(), images.DType())
		ctx = ctx.In(ModelScope)

		architecture := context.GetParamOr(ctx, ParamArchitecture, SimpleArchitecture)
		if err := CheckArchitecture(architecture); err != nil {
			exceptions.Panicf("%v", err)
		}
		keep := context.GetParamOr(ctx, ParamKeepProbability, 1.0)
		if keep <= 0 || keep > 1 {
			exceptions.Panicf("invalid keep probability %g for dropout, it must be in (0, 1]", keep)
		}
		net := &network{
			ctx:         ctx,
			dropoutRate: 1 - keep,
			convDepth:   context.GetParamOr(ctx, ParamConvDepth, DefaultConvDepth),
		}

		var features *graph.Node
		switch architecture {
		case VGGArchitecture:
			features = net.vggEncoder(images)
		default:
			features = net.simpleEncoder(images)
		}

		var logits *graph.Node
		switch sel.Kind {
		case SemanticSegmentation:
			logits = net.segmentationHead(features, images.Shape().Dimensions[1:3], numLabels)
		default:
			logits = net.detectionHead(features, numLabels, context.GetParamOr(ctx, ParamDenseSize, DefaultDenseSize))
		}
		return []*graph.Node{logits}
	}
}

// network builds the layers of a model, each one in its own numbered scope.
type network struct {
	ctx         *context.Context
	layerIdx    int
	dropoutRate float64
	convDepth   int
}

func (n *network) nextCtx(name string) *context.Context {
	newCtx := n.ctx.Inf("%03d_%s", n.layerIdx, name)
	n.layerIdx++
	return newCtx
}

func (n *network) conv(x *graph.Node, channels int) *graph.Node {
	x = layers.Convolution(n.nextCtx("conv"), x).Channels(channels).KernelSize(KernelSize).PadSame().Done()
	return activations.Relu(x)
}

func (n *network) dropout(x *graph.Node) *graph.Node {
	if n.dropoutRate <= 0 {
		return x
	}
	g := x.Graph()
	return layers.DropoutNormalize(n.nextCtx("dropout"), x, graph.Scalar(g, x.DType(), n.dropoutRate), true)
}

// simpleEncoder has 3 blocks of one convolution followed by max-pooling.
func (n *network) simpleEncoder(x *graph.Node) *graph.Node {
	depth := n.convDepth
	for range 3 {
		x = n.conv(x, depth)
		x = graph.MaxPool(x).Window(PoolSize).Done()
		depth *= 2
	}
	return x
}

// vggEncoder has 4 blocks of two convolutions followed by max-pooling and dropout.
func (n *network) vggEncoder(x *graph.Node) *graph.Node {
	depth := n.convDepth
	for range 4 {
		x = n.conv(x, depth)
		x = n.conv(x, depth)
		x = graph.MaxPool(x).Window(PoolSize).Done()
		x = n.dropout(x)
		depth *= 2
	}
	return x
}

// detectionHead flattens the features and outputs one logit per label.
func (n *network) detectionHead(features *graph.Node, numLabels, denseSize int) *graph.Node {
	batchSize := features.Shape().Dimensions[0]
	x := graph.Reshape(features, batchSize, -1)
	logits := fnn.New(n.nextCtx("readout"), x, numLabels).
		NumHiddenLayers(1, denseSize).
		Activation(activations.TypeRelu).
		Dropout(n.dropoutRate).
		Done()
	logits.AssertDims(batchSize, numLabels)
	return logits
}

// segmentationHead projects the features to one channel per label with a 1x1 convolution, and
// upsamples them back to the input spatial dimensions.
func (n *network) segmentationHead(features *graph.Node, spatial []int, numLabels int) *graph.Node {
	batchSize := features.Shape().Dimensions[0]
	x := n.dropout(features)
	x = layers.Convolution(n.nextCtx("conv"), x).Channels(numLabels).KernelSize(1).PadSame().Done()
	logits := graph.Interpolate(x, graph.NoInterpolation, spatial[0], spatial[1], graph.NoInterpolation).
		Bilinear().Done()
	logits.AssertDims(batchSize, spatial[0], spatial[1], numLabels)
	return logits
}
