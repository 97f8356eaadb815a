// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models selects and builds the convolutional networks trained on the preprocessed tiles:
// a multi-label classifier ("feature_detection") or a per-pixel classifier ("semantic_segmentation").
//
// It also defines the metrics reported during training, the learning rate schedule and the
// persistence of the model weights.
package models

import (
	"fmt"
	"slices"

	"github.com/oslandia/deeposlandia/pkg/datasets"
	"github.com/pkg/errors"
)

// Kind of model trained.
type Kind int

const (
	FeatureDetection Kind = iota
	SemanticSegmentation
)

// Names of the model kinds, as given in the command line.
const (
	FeatureDetectionName     = "feature_detection"
	SemanticSegmentationName = "semantic_segmentation"
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case FeatureDetection:
		return FeatureDetectionName
	case SemanticSegmentation:
		return SemanticSegmentationName
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Loss function names.
const (
	BinaryCrossEntropy      = "binary_crossentropy"
	CategoricalCrossEntropy = "categorical_crossentropy"
)

// ErrUnknownModel is returned by Select for model names other than FeatureDetectionName
// and SemanticSegmentationName.
var ErrUnknownModel = errors.New("unknown model")

// Selection holds the model kind chosen from the command line, and what derives from it.
type Selection struct {
	Kind Kind

	// LossName is the name of the loss function for the model kind.
	LossName string

	// Encoding of the labels yielded by the datasets for this kind of model.
	Encoding datasets.LabelEncoding
}

// Select the model kind by name.
func Select(model string) (Selection, error) {
	switch model {
	case FeatureDetectionName:
		return Selection{Kind: FeatureDetection, LossName: BinaryCrossEntropy, Encoding: datasets.MultiHot}, nil
	case SemanticSegmentationName:
		return Selection{Kind: SemanticSegmentation, LossName: CategoricalCrossEntropy, Encoding: datasets.OneHot}, nil
	}
	return Selection{}, errors.Wrapf(ErrUnknownModel, "%q (valid values are %q and %q)",
		model, FeatureDetectionName, SemanticSegmentationName)
}

// Architectures of the networks.
const (
	SimpleArchitecture = "simple"
	VGGArchitecture    = "vgg"
)

// Architectures lists the network architectures that can be built.
var Architectures = []string{SimpleArchitecture, VGGArchitecture}

// CheckArchitecture returns an error if architecture is not one of Architectures.
func CheckArchitecture(architecture string) error {
	if !slices.Contains(Architectures, architecture) {
		return errors.Errorf("unknown network architecture %q, valid values are %q", architecture, Architectures)
	}
	return nil
}
