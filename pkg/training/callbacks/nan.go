// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package callbacks

import (
	"math"

	"github.com/oslandia/deeposlandia/pkg/training"
	"k8s.io/klog/v2"
)

// TerminateOnNaN stops training as soon as a batch loss is NaN or infinite.
type TerminateOnNaN struct {
	// Terminated is set once training was stopped.
	Terminated bool
}

// NewTerminateOnNaN creates a TerminateOnNaN tool.
func NewTerminateOnNaN() *TerminateOnNaN {
	return &TerminateOnNaN{}
}

// Attach the TerminateOnNaN to the loop.
func (tn *TerminateOnNaN) Attach(loop *training.Loop) {
	loop.OnBatchEnd("TerminateOnNaN", PriorityTerminateOnNaN, tn.onBatchEnd)
}

func (tn *TerminateOnNaN) onBatchEnd(loop *training.Loop, batch int, logs training.Logs) error {
	loss, found := logs.Get(training.LossKey)
	if !found || !(math.IsNaN(loss) || math.IsInf(loss, 0)) {
		return nil
	}
	klog.Errorf("Batch %d: invalid loss (%g), terminating training", batch, loss)
	tn.Terminated = true
	loop.StopTraining = true
	return nil
}
