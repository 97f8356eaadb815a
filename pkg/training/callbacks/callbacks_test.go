// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package callbacks

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/oslandia/deeposlandia/pkg/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopingDataset yields scalar tensors forever, or returns io.EOF after limit yields until Reset.
type loopingDataset struct {
	limit, numYields int
}

func (ds *loopingDataset) Name() string { return "looping" }
func (ds *loopingDataset) Reset()       { ds.numYields = 0 }
func (ds *loopingDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.limit > 0 && ds.numYields >= ds.limit {
		return nil, nil, nil, io.EOF
	}
	ds.numYields++
	return nil, []*tensors.Tensor{tensors.FromScalar(float32(0))}, []*tensors.Tensor{tensors.FromScalar(float32(1))}, nil
}

var _ train.Dataset = (*loopingDataset)(nil)

// scriptedModel reports the training losses in order, one per step, and the validation
// metrics in order, one per evaluation.
type scriptedModel struct {
	losses           []float64
	validationLosses []float64
	validationAcc    []float64
	steps, evals     int
	saved            []string
}

func (m *scriptedModel) TrainStep(_ any, _, _ []*tensors.Tensor) (training.Logs, error) {
	loss := 1.0
	if m.steps < len(m.losses) {
		loss = m.losses[m.steps]
	}
	m.steps++
	return training.Logs{training.LossKey: loss, training.AccuracyKey: 0.5}, nil
}

func (m *scriptedModel) Evaluate(ds train.Dataset) (training.Logs, error) {
	for {
		if _, _, _, err := ds.Yield(); err != nil {
			break
		}
	}
	logs := training.Logs{training.LossKey: 1, training.AccuracyKey: 0.5}
	if m.evals < len(m.validationLosses) {
		logs[training.LossKey] = m.validationLosses[m.evals]
	}
	if m.evals < len(m.validationAcc) {
		logs[training.AccuracyKey] = m.validationAcc[m.evals]
	}
	m.evals++
	return logs, nil
}

func (m *scriptedModel) SaveWeights(path string) error {
	m.saved = append(m.saved, path)
	return os.WriteFile(path, []byte("weights"), 0644)
}

func fit(t *testing.T, model *scriptedModel, initialEpoch, epochs int, attach ...func(loop *training.Loop)) *training.History {
	loop := training.NewLoop(model, initialEpoch, epochs, 1, 1)
	for _, fn := range attach {
		fn(loop)
	}
	history, err := loop.Fit(&loopingDataset{}, &loopingDataset{limit: 1})
	require.NoError(t, err)
	return history
}

func TestMode(t *testing.T) {
	assert.Equal(t, ModeMin, ModeAuto.resolve("val_loss"))
	assert.Equal(t, ModeMax, ModeAuto.resolve("val_acc"))
	assert.Equal(t, ModeMin, ModeMin.resolve("val_acc"))
	assert.True(t, ModeMax.improved(0.5, 0.4, 0.001))
	assert.False(t, ModeMax.improved(0.4005, 0.4, 0.001))
	assert.True(t, ModeMin.improved(0.3, 0.4, 0))
	assert.False(t, ModeMin.improved(0.4, 0.4, 0))
	assert.Equal(t, "max", ModeMax.String())
}

func TestModelCheckpoint(t *testing.T) {
	dir := t.TempDir()
	mc, err := NewModelCheckpoint(dir).SaveBestOnly(true).Verbose(true).Done()
	require.NoError(t, err)
	model := &scriptedModel{validationLosses: []float64{0.9, 0.7, 0.8, 0.6, 0.6}}
	fit(t, model, 0, 5, mc.Attach)

	assert.Equal(t, []string{
		filepath.Join(dir, "checkpoint-epoch-001.h5"),
		filepath.Join(dir, "checkpoint-epoch-002.h5"),
		filepath.Join(dir, "checkpoint-epoch-004.h5"),
	}, model.saved)
	assert.Equal(t, model.saved, mc.Saved)
	assert.Equal(t, 0.6, mc.Best())

	// Resuming with the best value from previous runs.
	mc, err = NewModelCheckpoint(dir).SaveBestOnly(true).InitialBest(0.5).Done()
	require.NoError(t, err)
	model = &scriptedModel{validationLosses: []float64{0.6, 0.4}}
	fit(t, model, 5, 7, mc.Attach)
	assert.Equal(t, []string{filepath.Join(dir, "checkpoint-epoch-007.h5")}, model.saved)

	// Missing monitored metric: nothing is saved.
	mc, err = NewModelCheckpoint(dir).Monitor("val_iou").SaveBestOnly(true).Done()
	require.NoError(t, err)
	model = &scriptedModel{}
	fit(t, model, 0, 2, mc.Attach)
	assert.Empty(t, model.saved)

	// Save every other epoch, best or not.
	mc, err = NewModelCheckpoint(dir).Period(2).Done()
	require.NoError(t, err)
	model = &scriptedModel{}
	fit(t, model, 0, 4, mc.Attach)
	assert.Equal(t, []string{
		filepath.Join(dir, "checkpoint-epoch-002.h5"),
		filepath.Join(dir, "checkpoint-epoch-004.h5"),
	}, model.saved)

	_, err = NewModelCheckpoint(dir).Period(0).Done()
	require.Error(t, err)
}

func TestTerminateOnNaN(t *testing.T) {
	tn := NewTerminateOnNaN()
	model := &scriptedModel{losses: []float64{1, 0.5, math.Inf(1), 0.1}}
	history := fit(t, model, 0, 10, tn.Attach)
	assert.True(t, tn.Terminated)
	assert.Equal(t, 3, model.steps)
	assert.Equal(t, 3, history.Len())

	tn = NewTerminateOnNaN()
	model = &scriptedModel{}
	fit(t, model, 0, 3, tn.Attach)
	assert.False(t, tn.Terminated)
	assert.Equal(t, 3, model.steps)
}

func TestEarlyStopping(t *testing.T) {
	es, err := NewEarlyStopping().Monitor("val_acc").MinDelta(0.001).Patience(2).Mode(ModeMax).Verbose(true).Done()
	require.NoError(t, err)
	// Improvements smaller than min_delta don't count.
	model := &scriptedModel{validationAcc: []float64{0.5, 0.6, 0.6005, 0.59, 0.9}}
	history := fit(t, model, 0, 10, es.Attach)
	assert.Equal(t, []int{0, 1, 2, 3}, history.Epochs)
	assert.Equal(t, 3, es.StoppedEpoch)

	// Never stops if it keeps improving.
	es, err = NewEarlyStopping().Monitor("val_acc").Patience(1).Done()
	require.NoError(t, err)
	model = &scriptedModel{validationAcc: []float64{0.1, 0.2, 0.3}}
	history = fit(t, model, 0, 3, es.Attach)
	assert.Equal(t, 3, history.Len())
	assert.Equal(t, -1, es.StoppedEpoch)

	_, err = NewEarlyStopping().Patience(-1).Done()
	require.Error(t, err)
}

func TestCSVLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "training_metrics.csv")
	logger := NewCSVLogger(path)
	model := &scriptedModel{validationLosses: []float64{0.9, 0.7, 0.8}}
	fit(t, model, 0, 3, logger.Attach)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "epoch,acc,loss,val_acc,val_loss", lines[0])
	assert.Equal(t, "0,0.5,1,0.5,0.9", lines[1])
	assert.Equal(t, "2,0.5,1,0.5,0.8", lines[3])

	best, err := BestFromCSV(path, "val_loss", ModeAuto, 3, ',')
	require.NoError(t, err)
	assert.Equal(t, 0.7, best)
	best, err = BestFromCSV(path, "val_loss", ModeAuto, 1, ',')
	require.NoError(t, err)
	assert.Equal(t, 0.9, best)
	best, err = BestFromCSV(path, "val_iou", ModeAuto, 3, ',')
	require.NoError(t, err)
	assert.True(t, math.IsNaN(best))

	// Resume from epoch 2: epochs 0 and 1 are kept, epoch 2 is replaced.
	logger = NewCSVLogger(path)
	model = &scriptedModel{validationLosses: []float64{0.3, 0.2}}
	fit(t, model, 2, 4, logger.Attach)
	assert.Equal(t, 2, logger.RowsKept)
	contents, err = os.ReadFile(path)
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(string(contents)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "epoch,acc,loss,val_acc,val_loss", lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "1,"))
	assert.Equal(t, "2,0.5,1,0.5,0.3", lines[3])
	assert.Equal(t, "3,0.5,1,0.5,0.2", lines[4])

	history, err := ReadHistory(path, ',')
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, history.Epochs)
	assert.Equal(t, []float64{0.9, 0.7, 0.3, 0.2}, history.Metric("val_loss"))
	assert.Equal(t, 1.0, history.Logs[3]["loss"])
}

func TestCSVLoggerMissingMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	logger := NewCSVLogger(path).WithSeparator(';')
	loop := training.NewLoop(&scriptedModel{}, 0, 2, 1, 0)
	logger.Attach(loop)
	// Without validation, only training metrics are logged.
	_, err := loop.Fit(&loopingDataset{}, nil)
	require.NoError(t, err)
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "epoch;acc;loss\n0;0.5;1\n1;0.5;1\n", string(contents))

	// Nothing to resume from.
	rows, err := ReadPreviousRows(filepath.Join(t.TempDir(), "missing.csv"), 3, ',')
	require.NoError(t, err)
	assert.Nil(t, rows)
	history, err := ReadHistory(filepath.Join(t.TempDir(), "missing.csv"), ',')
	require.NoError(t, err)
	assert.Zero(t, history.Len())
}
