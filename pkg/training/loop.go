// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package training runs epochs of training on a Model, calling hooks (callbacks) at the
// beginning and end of training, after each batch and after each epoch.
package training

import (
	"io"
	"iter"
	"slices"
	"sort"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Model trained by the Loop.
type Model interface {
	// TrainStep runs one training step on a batch and returns the batch metrics. It must include LossKey.
	TrainStep(spec any, inputs, labels []*tensors.Tensor) (Logs, error)

	// Evaluate returns the mean of the metrics over the whole dataset, until it returns io.EOF.
	Evaluate(ds train.Dataset) (Logs, error)

	// SaveWeights saves the model weights to the given file.
	SaveWeights(path string) error
}

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnTrainBeginFn is the type of OnTrainBegin hooks.
type OnTrainBeginFn func(loop *Loop) error

// OnEpochBeginFn is the type of OnEpochBegin hooks. The epoch is 0-based.
type OnEpochBeginFn func(loop *Loop, epoch int) error

// OnBatchEndFn is the type of OnBatchEnd hooks, called with the batch metrics.
type OnBatchEndFn func(loop *Loop, batch int, logs Logs) error

// OnEpochEndFn is the type of OnEpochEnd hooks, called with the epoch metrics, including
// validation metrics.
type OnEpochEndFn func(loop *Loop, epoch int, logs Logs) error

// OnTrainEndFn is the type of OnTrainEnd hooks.
type OnTrainEndFn func(loop *Loop, history *History) error

// Loop runs epochs of training, evaluates the model on the validation dataset after each
// epoch, and calls the registered hooks.
//
// Hooks may request training to stop by setting StopTraining: the loop checks it after
// each batch and after each epoch.
//
// The public attributes other than StopTraining are meant for reading only.
type Loop struct {
	Model Model

	// InitialEpoch is the first epoch run (0-based). Epochs before it were already trained.
	InitialEpoch int

	// Epochs is one-past the last epoch to run.
	Epochs int

	// StepsPerEpoch is the number of training batches in an epoch.
	StepsPerEpoch int

	// ValidationSteps is the number of validation batches evaluated after each epoch.
	ValidationSteps int

	// Epoch currently running.
	Epoch int

	// Batch currently running within the epoch.
	Batch int

	// StopTraining can be set by hooks to interrupt training.
	StopTraining bool

	// History of the epochs run.
	History *History

	// SharedData allows for cross-tools to publish and consume information.
	SharedData map[string]any

	// TrainStepDurations collected during training.
	TrainStepDurations []time.Duration

	onTrainBegin *priorityHooks[*hookWithName[OnTrainBeginFn]]
	onEpochBegin *priorityHooks[*hookWithName[OnEpochBeginFn]]
	onBatchEnd   *priorityHooks[*hookWithName[OnBatchEndFn]]
	onEpochEnd   *priorityHooks[*hookWithName[OnEpochEndFn]]
	onTrainEnd   *priorityHooks[*hookWithName[OnTrainEndFn]]
}

// NewLoop creates a loop that trains model from initialEpoch up to epochs, with stepsPerEpoch
// training batches per epoch and validationSteps validation batches.
func NewLoop(model Model, initialEpoch, epochs, stepsPerEpoch, validationSteps int) *Loop {
	return &Loop{
		Model:           model,
		InitialEpoch:    initialEpoch,
		Epochs:          epochs,
		StepsPerEpoch:   stepsPerEpoch,
		ValidationSteps: validationSteps,
		SharedData:      make(map[string]any),
		onTrainBegin:    newPriorityHooks[*hookWithName[OnTrainBeginFn]](),
		onEpochBegin:    newPriorityHooks[*hookWithName[OnEpochBeginFn]](),
		onBatchEnd:      newPriorityHooks[*hookWithName[OnBatchEndFn]](),
		onEpochEnd:      newPriorityHooks[*hookWithName[OnEpochEndFn]](),
		onTrainEnd:      newPriorityHooks[*hookWithName[OnTrainEndFn]](),
	}
}

// Fit runs the training epochs on trainDS, which must yield at least StepsPerEpoch batches per epoch
// (it is never reset), and evaluates validationDS after each epoch. The validation dataset must
// return io.EOF after ValidationSteps batches, and is reset before and after each evaluation.
// If validationDS is nil, no validation happens.
//
// It returns the History of the epochs run. If InitialEpoch >= Epochs nothing is trained.
func (loop *Loop) Fit(trainDS, validationDS train.Dataset) (*History, error) {
	if loop.StepsPerEpoch <= 0 {
		return nil, errors.Errorf("training requires at least one step per epoch, got %d", loop.StepsPerEpoch)
	}
	if validationDS != nil && loop.ValidationSteps <= 0 {
		return nil, errors.Errorf("validation requires at least one step, got %d", loop.ValidationSteps)
	}
	loop.History = &History{Params: Params{
		InitialEpoch:    loop.InitialEpoch,
		Epochs:          loop.Epochs,
		StepsPerEpoch:   loop.StepsPerEpoch,
		ValidationSteps: loop.ValidationSteps,
	}}
	loop.StopTraining = false
	loop.TrainStepDurations = nil

	for hook := range loop.onTrainBegin.All() {
		if err := hook.fn(loop); err != nil {
			return nil, errors.WithMessagef(err, "OnTrainBegin(hook %q)", hook.name)
		}
	}
	for loop.Epoch = loop.InitialEpoch; loop.Epoch < loop.Epochs; loop.Epoch++ {
		logs, err := loop.runEpoch(trainDS, validationDS)
		if err != nil {
			return nil, err
		}
		loop.History.Append(loop.Epoch, logs)
		for hook := range loop.onEpochEnd.All() {
			if err := hook.fn(loop, loop.Epoch, logs); err != nil {
				return nil, errors.WithMessagef(err, "OnEpochEnd(hook %q, epoch %d)", hook.name, loop.Epoch)
			}
		}
		if loop.StopTraining {
			break
		}
	}
	for hook := range loop.onTrainEnd.All() {
		if err := hook.fn(loop, loop.History); err != nil {
			return nil, errors.WithMessagef(err, "OnTrainEnd(hook %q)", hook.name)
		}
	}
	return loop.History, nil
}

// runEpoch runs the training steps of one epoch and the validation, and returns the epoch logs.
// If training is stopped during the epoch, validation is skipped.
func (loop *Loop) runEpoch(trainDS, validationDS train.Dataset) (Logs, error) {
	for hook := range loop.onEpochBegin.All() {
		if err := hook.fn(loop, loop.Epoch); err != nil {
			return nil, errors.WithMessagef(err, "OnEpochBegin(hook %q, epoch %d)", hook.name, loop.Epoch)
		}
	}
	mean := newRunningMean()
	for loop.Batch = 0; loop.Batch < loop.StepsPerEpoch; loop.Batch++ {
		spec, inputs, labels, err := trainDS.Yield()
		if err != nil {
			if err == io.EOF {
				return nil, errors.Errorf(
					"reached end of dataset %q after %d steps of epoch %d (requested %d steps per epoch): "+
						"the training dataset must loop", trainDS.Name(), loop.Batch, loop.Epoch, loop.StepsPerEpoch)
			}
			return nil, errors.WithMessagef(err, "epoch %d: failed reading from dataset %q", loop.Epoch, trainDS.Name())
		}
		logs, err := loop.step(spec, inputs, labels)
		if err != nil {
			return nil, errors.WithMessagef(err, "epoch %d: failed TrainStep(batch=%d)", loop.Epoch, loop.Batch)
		}
		mean.add(logs)
		for hook := range loop.onBatchEnd.All() {
			if err := hook.fn(loop, loop.Batch, logs); err != nil {
				return nil, errors.WithMessagef(err, "OnBatchEnd(hook %q, batch %d)", hook.name, loop.Batch)
			}
		}
		if loop.StopTraining {
			return mean.mean(), nil
		}
	}
	logs := mean.mean()
	if validationDS == nil {
		return logs, nil
	}
	validationLogs, err := loop.validate(validationDS)
	if err != nil {
		return nil, errors.WithMessagef(err, "epoch %d: failed validation on %q", loop.Epoch, validationDS.Name())
	}
	for key, value := range validationLogs.WithPrefix(ValidationPrefix) {
		logs[key] = value
	}
	return logs, nil
}

// step executes one training step and frees the yielded tensors.
func (loop *Loop) step(spec any, inputs, labels []*tensors.Tensor) (Logs, error) {
	startTime := time.Now()
	defer func() {
		loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(startTime))
	}()
	logs, err := loop.Model.TrainStep(spec, inputs, labels)
	if err != nil {
		return nil, err
	}
	for _, slice := range [][]*tensors.Tensor{inputs, labels} {
		for _, t := range slice {
			if err := t.FinalizeAll(); err != nil {
				return nil, errors.WithMessagef(err, "finalizing yielded tensor after train step")
			}
		}
	}
	if _, found := logs[LossKey]; !found {
		return nil, errors.Errorf("model TrainStep didn't report %q", LossKey)
	}
	return logs, nil
}

// validate evaluates the model on ds.
func (loop *Loop) validate(ds train.Dataset) (Logs, error) {
	ds.Reset()
	logs, err := loop.Model.Evaluate(ds)
	ds.Reset()
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("epoch %d validation: %s", loop.Epoch, logs)
	return logs, nil
}

// MedianTrainStepDuration returns the median duration of each training step. It returns 1 millisecond
// if no training step was recorded.
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.TrainStepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnTrainBegin adds a hook with given priority and name (for error reporting) to the start of training.
func (loop *Loop) OnTrainBegin(name string, priority Priority, fn OnTrainBeginFn) {
	loop.onTrainBegin.Add(priority, &hookWithName[OnTrainBeginFn]{name: name, fn: fn})
}

// OnEpochBegin adds a hook with given priority and name to the start of each epoch.
func (loop *Loop) OnEpochBegin(name string, priority Priority, fn OnEpochBeginFn) {
	loop.onEpochBegin.Add(priority, &hookWithName[OnEpochBeginFn]{name: name, fn: fn})
}

// OnBatchEnd adds a hook with given priority and name called after each training step.
func (loop *Loop) OnBatchEnd(name string, priority Priority, fn OnBatchEndFn) {
	loop.onBatchEnd.Add(priority, &hookWithName[OnBatchEndFn]{name: name, fn: fn})
}

// OnEpochEnd adds a hook with given priority and name called after each epoch, after validation.
func (loop *Loop) OnEpochEnd(name string, priority Priority, fn OnEpochEndFn) {
	loop.onEpochEnd.Add(priority, &hookWithName[OnEpochEndFn]{name: name, fn: fn})
}

// OnTrainEnd adds a hook with given priority and name called at the end of training, also when
// training was stopped by a hook.
func (loop *Loop) OnTrainEnd(name string, priority Priority, fn OnTrainEndFn) {
	loop.onTrainEnd.Add(priority, &hookWithName[OnTrainEndFn]{name: name, fn: fn})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All returns an iterator over all registered hooks in priority order. Hooks with the same
// priority are returned in the order they were added.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return keys[i] < keys[j]
		})
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
